/**
 * @description
 * This file contains the core business logic for donor-initiated flows. The
 * `Service` struct orchestrates the one-time charge, the recurring
 * subscription creation, the upgrade-from-cookie flow, and the wallet
 * provider's two-step checkout, coordinating between the payment gateways,
 * the session token codec, and the CRM basket queue.
 *
 * Key behaviors:
 * - Every flow runs as one straight-line request: any gateway failure aborts
 *   it and nothing after the failure executes, so no partial state is queued.
 * - Monthly donations queue nothing at creation time. The first successful
 *   charge webhook publishes the CRM record; queuing here would double-count
 *   donations that never clear.
 * - The newsletter signup is a side call dispatched off the response-critical
 *   path. Its failure is logged, never surfaced.
 *
 * @dependencies
 * - internal/currency, internal/domain, internal/session: Amount conversion, models, cookie codec.
 * - pkg/basketqueue, pkg/newsletter, pkg/paypalclient, pkg/stripeclient: External collaborators.
 */

package app

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/enterstudio/donation-service/internal/currency"
	"github.com/enterstudio/donation-service/internal/domain"
	"github.com/enterstudio/donation-service/internal/session"
	"github.com/enterstudio/donation-service/pkg/basketqueue"
	"github.com/enterstudio/donation-service/pkg/newsletter"
	"github.com/enterstudio/donation-service/pkg/paypalclient"
	"github.com/enterstudio/donation-service/pkg/stripeclient"
)

const signupTimeout = 15 * time.Second

// Service provides the core business logic for donor-initiated donations.
type Service struct {
	stripe    StripeGateway
	paypal    PayPalGateway
	queue     basketqueue.Publisher
	codec     *session.Codec
	signup    SignupClient
	campaigns domain.Campaigns
	trialDays int
}

// NewService creates a new donation service instance.
func NewService(stripe StripeGateway, paypal PayPalGateway, queue basketqueue.Publisher, codec *session.Codec, signup SignupClient, campaigns domain.Campaigns, trialDays int) *Service {
	return &Service{
		stripe:    stripe,
		paypal:    paypal,
		queue:     queue,
		codec:     codec,
		signup:    signup,
		campaigns: campaigns,
		trialDays: trialDays,
	}
}

// DonationResult is the outcome of a card donation flow, echoed back to the
// donor. Amount is in provider minor units, matching what was charged.
type DonationResult struct {
	Frequency    string
	Amount       int64
	Currency     string
	ID           string
	Quantity     int64
	SessionToken string
}

// CreateDonation drives the one-time charge or recurring subscription flow,
// branching on the requested frequency.
func (s *Service) CreateDonation(ctx context.Context, req domain.DonationRequest) (*DonationResult, error) {
	amountMinor, err := currency.ToMinorUnits(req.Amount, req.Currency)
	if err != nil {
		return nil, err
	}

	project := s.campaigns.Resolve(req.Campaign)
	metadata := map[string]string{
		"email":    req.Email,
		"locale":   req.Locale,
		"campaign": project,
	}

	customer, err := s.stripe.CreateCustomer(ctx, stripeclient.CustomerParams{
		Email:    req.Email,
		Source:   req.StripeToken,
		Metadata: metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("stripe customer create failed: %w", err)
	}
	log.Printf("level=info component=donation flow=%s msg=\"customer resolved\" customer_id=%s", req.Frequency, customer.ID)

	if req.Frequency != domain.FrequencyMonthly {
		return s.createOneTime(ctx, req, amountMinor, project, metadata, customer)
	}
	return s.createMonthly(ctx, req, amountMinor, project, metadata, customer)
}

// createOneTime charges the customer once, fires the signup side call, queues
// the CRM record, and seals the customer id into a session token so the donor
// can later upgrade to monthly without re-entering card details.
func (s *Service) createOneTime(ctx context.Context, req domain.DonationRequest, amountMinor int64, project string, metadata map[string]string, customer *stripeclient.Customer) (*DonationResult, error) {
	charge, err := s.stripe.CreateCharge(ctx, stripeclient.ChargeParams{
		Amount:      amountMinor,
		Currency:    req.Currency,
		Customer:    customer.ID,
		Description: req.Description,
		Metadata:    metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("stripe charge create failed: %w", err)
	}
	log.Printf("level=info component=donation flow=one-time msg=\"charge created\" charge_id=%s amount=%d currency=%s", charge.ID, charge.Amount, charge.Currency)

	if req.Signup {
		s.signupBestEffort(req.Email, req.Locale, req.Country)
	}

	s.queue.Queue(domain.BasketMessage{
		EventType:      domain.EventTypeDonation,
		LastName:       charge.Source.Name,
		Email:          charge.Metadata["email"],
		DonationAmount: basketqueue.ZeroDecimalCurrencyFix(charge.Amount, charge.Currency),
		Currency:       charge.Currency,
		Created:        charge.Created,
		Recurring:      false,
		Service:        domain.ServiceStripe,
		TransactionID:  charge.ID,
		Project:        project,
	})

	result := &DonationResult{
		Frequency: domain.FrequencyOneTime,
		Amount:    charge.Amount,
		Currency:  charge.Currency,
		ID:        charge.ID,
	}

	token, err := s.codec.Encode(session.Payload{StripeCustomerID: customer.ID})
	if err != nil {
		// The donation already succeeded; losing the upgrade credential is
		// not worth failing the response over.
		log.Printf("level=error component=donation flow=one-time msg=\"session token encode failed\" customer_id=%s err=%v", customer.ID, err)
		return result, nil
	}
	result.SessionToken = token
	return result, nil
}

// createMonthly subscribes the customer. The custom amount is encoded as the
// quantity of a 1-minor-unit plan keyed by currency; the provider only
// supports fixed-price plans.
func (s *Service) createMonthly(ctx context.Context, req domain.DonationRequest, amountMinor int64, project string, metadata map[string]string, customer *stripeclient.Customer) (*DonationResult, error) {
	subscription, err := s.stripe.CreateSubscription(ctx, stripeclient.SubscriptionParams{
		Customer:     customer.ID,
		PlanCurrency: req.Currency,
		Quantity:     amountMinor,
		Metadata:     metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("stripe subscription create failed: %w", err)
	}
	log.Printf("level=info component=donation flow=monthly msg=\"subscription created\" subscription_id=%s quantity=%d", subscription.ID, subscription.Quantity)

	if req.Signup {
		s.signupBestEffort(req.Email, req.Locale, req.Country)
	}

	// No CRM record yet. The charge.succeeded webhook publishes it once the
	// first payment actually clears.
	return &DonationResult{
		Frequency: domain.FrequencyMonthly,
		Currency:  subscription.Plan.Currency,
		Quantity:  subscription.Quantity,
		ID:        subscription.ID,
	}, nil
}

// UpgradeToMonthly converts a previous one-time donor into a monthly
// subscriber, recovering their provider customer id from the session token.
// The subscription starts with a trial so the donor who just paid once is not
// immediately charged again.
func (s *Service) UpgradeToMonthly(ctx context.Context, token string, req domain.UpgradeRequest) (*DonationResult, error) {
	if token == "" {
		return nil, ErrMissingCredential
	}

	payload, err := s.codec.Decode(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if payload.StripeCustomerID == "" {
		return nil, fmt.Errorf("%w: customer id missing from session", ErrInvalidCredential)
	}

	amountMinor, err := currency.ToMinorUnits(req.Amount, req.Currency)
	if err != nil {
		return nil, err
	}

	customer, err := s.stripe.RetrieveCustomer(ctx, payload.StripeCustomerID)
	if err != nil {
		return nil, fmt.Errorf("stripe customer retrieve failed: %w", err)
	}

	project := s.campaigns.Resolve(req.Campaign)
	subscription, err := s.stripe.CreateSubscription(ctx, stripeclient.SubscriptionParams{
		Customer:        customer.ID,
		PlanCurrency:    req.Currency,
		Quantity:        amountMinor,
		Metadata:        map[string]string{"locale": req.Locale, "campaign": project},
		TrialPeriodDays: s.trialDays,
	})
	if err != nil {
		return nil, fmt.Errorf("stripe subscription create failed: %w", err)
	}
	log.Printf("level=info component=donation flow=upgrade msg=\"subscription created\" customer_id=%s subscription_id=%s trial_days=%d", customer.ID, subscription.ID, s.trialDays)

	return &DonationResult{
		Frequency: domain.FrequencyMonthly,
		Currency:  subscription.Plan.Currency,
		Quantity:  subscription.Quantity,
		ID:        subscription.ID,
	}, nil
}

// PayPalCheckout is the setup response for a wallet donation: the donor is
// redirected to the provider to approve it.
type PayPalCheckout struct {
	Token       string
	RedirectURL string
}

// SetupPayPalCheckout starts a wallet checkout and returns the redirect
// target for the donor's browser.
func (s *Service) SetupPayPalCheckout(ctx context.Context, req domain.DonationRequest, returnURL, cancelURL string) (*PayPalCheckout, error) {
	amount, err := currency.FormatAmount(req.Amount, req.Currency)
	if err != nil {
		return nil, err
	}

	token, err := s.paypal.SetupCheckout(ctx, paypalclient.CheckoutParams{
		Amount:      amount,
		Currency:    req.Currency,
		Description: req.Description,
		Locale:      req.Locale,
		Recurring:   req.Frequency == domain.FrequencyMonthly,
		ReturnURL:   returnURL,
		CancelURL:   cancelURL,
	})
	if err != nil {
		return nil, fmt.Errorf("paypal checkout setup failed: %w", err)
	}

	return &PayPalCheckout{Token: token, RedirectURL: s.paypal.CheckoutURL(token)}, nil
}

// PayPalCompletion carries the thank-you redirect parameters for a finalized
// wallet donation.
type PayPalCompletion struct {
	Frequency     string
	TransactionID string
	Amount        string
	Currency      string
}

// CompletePayPalCheckout finalizes an approved wallet checkout and queues the
// CRM record exactly once per completed checkout.
func (s *Service) CompletePayPalCheckout(ctx context.Context, token, frequency, campaign string) (*PayPalCompletion, error) {
	details, err := s.paypal.GetCheckoutDetails(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("paypal checkout details failed: %w", err)
	}

	project := s.campaigns.Resolve(campaign)

	if frequency != domain.FrequencyMonthly {
		sale, err := s.paypal.CompleteSale(ctx, details)
		if err != nil {
			return nil, fmt.Errorf("paypal checkout payment failed: %w", err)
		}

		s.queue.Queue(domain.BasketMessage{
			EventType:      domain.EventTypeDonation,
			FirstName:      details.FirstName,
			LastName:       details.LastName,
			Email:          details.Email,
			DonationAmount: parseDecimalAmount(sale.Amount),
			Currency:       sale.Currency,
			Created:        sale.OrderTime.Unix(),
			Recurring:      false,
			Service:        domain.ServicePayPal,
			TransactionID:  sale.TransactionID,
			Project:        project,
		})

		return &PayPalCompletion{
			Frequency:     domain.FrequencyOneTime,
			TransactionID: sale.TransactionID,
			Amount:        sale.Amount,
			Currency:      sale.Currency,
		}, nil
	}

	profile, err := s.paypal.CreateRecurringProfile(ctx, details, "Monthly donation - "+project)
	if err != nil {
		return nil, fmt.Errorf("paypal recurring profile failed: %w", err)
	}

	// The provider issues no per-charge transaction id when the profile is
	// created, so one is synthesized from the payer id and the current time.
	// Best-effort uniqueness only; the CRM side deduplicates.
	transactionID := details.PayerID + strconv.FormatInt(time.Now().UnixMilli()/100, 10)

	s.queue.Queue(domain.BasketMessage{
		EventType:      domain.EventTypeDonation,
		FirstName:      details.FirstName,
		LastName:       details.LastName,
		Email:          details.Email,
		DonationAmount: parseDecimalAmount(profile.Amount),
		Currency:       profile.Currency,
		Created:        profile.Timestamp.Unix(),
		Recurring:      true,
		Frequency:      domain.FrequencyMonthly,
		Service:        domain.ServicePayPal,
		TransactionID:  transactionID,
		SubscriptionID: profile.ProfileID,
		Project:        project,
	})

	return &PayPalCompletion{
		Frequency:     domain.FrequencyMonthly,
		TransactionID: transactionID,
		Amount:        profile.Amount,
		Currency:      profile.Currency,
	}, nil
}

// signupBestEffort dispatches the mailing-list signup without awaiting it on
// the response-critical path. The outcome is still captured and logged.
func (s *Service) signupBestEffort(email, locale, country string) {
	if s.signup == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), signupTimeout)
		defer cancel()

		start := time.Now()
		if err := s.signup.Signup(ctx, newsletter.SignupRequest{Email: email, Locale: locale, Country: country}); err != nil {
			log.Printf("level=error component=signup msg=\"newsletter signup failed\" service_ms=%d err=%v", time.Since(start).Milliseconds(), err)
			return
		}
		log.Printf("level=info component=signup msg=\"newsletter signup complete\" service_ms=%d", time.Since(start).Milliseconds())
	}()
}

func parseDecimalAmount(amount string) float64 {
	value, err := strconv.ParseFloat(amount, 64)
	if err != nil {
		log.Printf("level=warn component=donation msg=\"unparsable provider amount\" amount=%q err=%v", amount, err)
		return 0
	}
	return value
}
