/**
 * @description
 * This file contains the webhook reconciliation logic for provider-initiated
 * callbacks. The `Reconciler` verifies each inbound payload against the
 * event family's own signing secret, filters by event type, fetches whatever
 * expanded provider state the event needs, and publishes exactly one
 * normalized CRM record per real-world event.
 *
 * Key behaviors:
 * - Signature verification is a hard gate. An unauthenticated payload is
 *   never classified and never produces a queued event.
 * - Donor identity always comes from the expanded subscription's customer
 *   record, never from the webhook payload itself.
 * - Non-matching event types and charges outside a subscription are
 *   acknowledged as no-ops; providers send overlapping event subscriptions.
 *
 * @dependencies
 * - internal/domain, pkg/basketqueue, pkg/stripeclient: Models, queue, gateway.
 */

package app

import (
	"context"
	"fmt"
	"log"

	"github.com/enterstudio/donation-service/internal/domain"
	"github.com/enterstudio/donation-service/pkg/basketqueue"
	"github.com/enterstudio/donation-service/pkg/stripeclient"
)

// WebhookSecrets holds one signing secret per provider event family. Each
// webhook endpoint is registered separately with the provider and carries its
// own secret.
type WebhookSecrets struct {
	ChargeSucceeded string
	ChargeFailed    string
	ChargeRefunded  string
	Dispute         string
}

// defaultRefundReason stands in for dashboard-initiated refunds, which carry
// no reason of their own.
const defaultRefundReason = "requested_by_customer"

// Reconciler applies the reconciliation policy to provider webhook events.
type Reconciler struct {
	stripe    StripeGateway
	queue     basketqueue.Publisher
	campaigns domain.Campaigns
	secrets   WebhookSecrets
}

// NewReconciler creates a new webhook reconciler instance.
func NewReconciler(stripe StripeGateway, queue basketqueue.Publisher, campaigns domain.Campaigns, secrets WebhookSecrets) *Reconciler {
	return &Reconciler{
		stripe:    stripe,
		queue:     queue,
		campaigns: campaigns,
		secrets:   secrets,
	}
}

// HandleChargeSucceeded reconciles a successful recurring charge: it follows
// the charge to its subscription, publishes the recurring donation record,
// and stamps the charge description for downstream bookkeeping.
func (r *Reconciler) HandleChargeSucceeded(ctx context.Context, payload []byte, sigHeader string) (string, error) {
	event, err := stripeclient.ConstructEvent(payload, sigHeader, r.secrets.ChargeSucceeded)
	if err != nil {
		return "", err
	}
	if event.Type != "charge.succeeded" {
		return "Event type is not charge.succeeded", nil
	}

	eventCharge, err := event.Charge()
	if err != nil {
		return "", err
	}

	// The webhook payload does not expand the invoice, so the charge is
	// refetched with the subscription linkage attached.
	charge, err := r.stripe.RetrieveCharge(ctx, eventCharge.ID)
	if err != nil {
		return "", fmt.Errorf("stripe charge retrieve failed: %w", err)
	}
	if charge.Invoice == nil || charge.Invoice.Subscription == "" {
		return "Charge not part of a subscription", nil
	}

	subscription, err := r.stripe.RetrieveSubscription(ctx, charge.Invoice.Customer, charge.Invoice.Subscription)
	if err != nil {
		return "", fmt.Errorf("stripe subscription retrieve failed: %w", err)
	}

	project := r.campaigns.Resolve(subscription.Metadata["campaign"])
	r.queue.Queue(domain.BasketMessage{
		EventType:      domain.EventTypeDonation,
		LastName:       subscription.Customer.Name(),
		Email:          subscription.Customer.Email,
		DonationAmount: basketqueue.ZeroDecimalCurrencyFix(charge.Amount, charge.Currency),
		Currency:       charge.Currency,
		Created:        charge.Created,
		Recurring:      true,
		Frequency:      domain.FrequencyMonthly,
		Service:        domain.ServiceStripe,
		TransactionID:  charge.ID,
		SubscriptionID: subscription.ID,
		Project:        project,
	})

	description := "Thank you for your support of " + project
	if _, err := r.stripe.UpdateCharge(ctx, charge.ID, description, map[string]string{"thank_you_attempt": "1"}); err != nil {
		// The CRM record is already out; a failed stamp means the provider
		// state no longer matches what we just reported.
		return "", fmt.Errorf("%w: charge description update failed: %v", ErrInconsistentProviderState, err)
	}

	log.Printf("level=info component=webhook event=charge.succeeded msg=\"recurring charge reconciled\" charge_id=%s subscription_id=%s", charge.ID, subscription.ID)
	return "Charge reconciled", nil
}

// HandleChargeFailed reconciles a failed recurring charge so the CRM can mark
// the donor as a lost opportunity immediately instead of waiting for a
// timeout.
func (r *Reconciler) HandleChargeFailed(ctx context.Context, payload []byte, sigHeader string) (string, error) {
	event, err := stripeclient.ConstructEvent(payload, sigHeader, r.secrets.ChargeFailed)
	if err != nil {
		return "", err
	}
	if event.Type != "charge.failed" {
		return "This hook only processes recurring charges that fail", nil
	}

	eventCharge, err := event.Charge()
	if err != nil {
		return "", err
	}

	charge, err := r.stripe.RetrieveCharge(ctx, eventCharge.ID)
	if err != nil {
		return "", fmt.Errorf("stripe charge retrieve failed: %w", err)
	}
	if charge.Invoice == nil || charge.Invoice.Subscription == "" {
		return "This charge is not part of a subscription", nil
	}

	subscription, err := r.stripe.RetrieveSubscription(ctx, charge.Invoice.Customer, charge.Invoice.Subscription)
	if err != nil {
		return "", fmt.Errorf("stripe subscription retrieve failed: %w", err)
	}

	project := r.campaigns.Resolve(subscription.Metadata["campaign"])
	r.queue.Queue(domain.BasketMessage{
		EventType:      domain.EventTypeChargeFailed,
		LastName:       subscription.Customer.Name(),
		Email:          subscription.Customer.Email,
		DonationAmount: basketqueue.ZeroDecimalCurrencyFix(charge.Amount, charge.Currency),
		Currency:       charge.Currency,
		Created:        charge.Created,
		Recurring:      true,
		Frequency:      domain.FrequencyMonthly,
		Service:        domain.ServiceStripe,
		TransactionID:  charge.ID,
		SubscriptionID: subscription.ID,
		FailureCode:    charge.FailureCode,
		Project:        project,
	})

	log.Printf("level=info component=webhook event=charge.failed msg=\"failed recurring charge reconciled\" charge_id=%s failure_code=%s", charge.ID, charge.FailureCode)
	return "Charge failure reconciled", nil
}

// HandleChargeRefunded reconciles a refunded charge. The record is minimal:
// the full donor record was already published at charge time, so no PII
// travels here.
func (r *Reconciler) HandleChargeRefunded(ctx context.Context, payload []byte, sigHeader string) (string, error) {
	event, err := stripeclient.ConstructEvent(payload, sigHeader, r.secrets.ChargeRefunded)
	if err != nil {
		return "", err
	}
	if event.Type != "charge.refunded" {
		return "Event type is not charge.refunded", nil
	}

	charge, err := event.Charge()
	if err != nil {
		return "", err
	}
	if len(charge.Refunds.Data) == 0 {
		return "Charge carries no refund record", nil
	}

	refund := charge.Refunds.Data[0]
	reason := refund.Reason
	if reason == "" {
		reason = defaultRefundReason
	}

	r.queue.Queue(domain.BasketMessage{
		EventType:     domain.EventTypeChargeRefunded,
		TransactionID: charge.ID,
		Reason:        reason,
		Status:        refund.Status,
	})

	log.Printf("level=info component=webhook event=charge.refunded msg=\"refund reconciled\" charge_id=%s reason=%s", charge.ID, reason)
	return "Refund reconciled", nil
}

// HandleDispute auto-closes cardholder disputes. Donations are not worth a
// chargeback fight, so every dispute that is not already lost is conceded,
// then reported to the CRM regardless of the close outcome.
func (r *Reconciler) HandleDispute(ctx context.Context, payload []byte, sigHeader string) (string, error) {
	event, err := stripeclient.ConstructEvent(payload, sigHeader, r.secrets.Dispute)
	if err != nil {
		return "", err
	}

	switch event.Type {
	case "charge.dispute.created", "charge.dispute.updated", "charge.dispute.closed":
	default:
		return "Event type is not a dispute event", nil
	}

	dispute, err := event.Dispute()
	if err != nil {
		return "", err
	}

	if dispute.Status != "lost" {
		if _, err := r.stripe.CloseDispute(ctx, dispute.ID); err != nil {
			if !stripeclient.IsDisputeAlreadyClosed(err) {
				return "", fmt.Errorf("stripe dispute close failed: %w", err)
			}
			log.Printf("level=warn component=webhook event=%s msg=\"dispute already closed\" dispute_id=%s", event.Type, dispute.ID)
		}
	}

	r.queue.Queue(domain.BasketMessage{
		EventType:     event.Type,
		TransactionID: dispute.Charge,
		Reason:        dispute.Reason,
		Status:        dispute.Status,
	})

	log.Printf("level=info component=webhook event=%s msg=\"dispute reconciled\" dispute_id=%s status=%s", event.Type, dispute.ID, dispute.Status)
	return "Dispute reconciled", nil
}
