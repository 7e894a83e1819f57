/**
 * @description
 * This file defines the core domain models for the donation-service.
 * These structs represent the donor-submitted transaction request, the
 * normalized message published to the basket (CRM) queue, and the campaign
 * tagging vocabulary shared across the orchestration and webhook layers.
 *
 * @notes
 * - Provider-side amounts are carried as `int64` minor units (cents) to avoid
 *   floating-point inaccuracies; basket messages carry the donor-facing decimal
 *   amount, corrected at the queue boundary.
 * - Using distinct types for API requests and outbound queue messages keeps the
 *   web layer and the CRM contract decoupled.
 */

package domain

// Donation frequencies accepted by the service.
const (
	FrequencyOneTime = "one-time"
	FrequencyMonthly = "monthly"
)

// Payment services reported to the CRM.
const (
	ServiceStripe = "stripe"
	ServicePayPal = "paypal"
)

// Basket event types.
const (
	EventTypeDonation       = "donation"
	EventTypeChargeFailed   = "charge.failed"
	EventTypeChargeRefunded = "charge.refunded"
)

// DonationRequest is the DTO for incoming donation API requests. It is
// ephemeral: it exists only for the duration of one request.
type DonationRequest struct {
	Amount      float64 `json:"amount"` // donor-facing decimal units
	Currency    string  `json:"currency"`
	Email       string  `json:"email"`
	Locale      string  `json:"locale"`
	Description string  `json:"description"`
	StripeToken string  `json:"stripeToken,omitempty"`
	Frequency   string  `json:"frequency"`
	Signup      bool    `json:"signup"`
	Country     string  `json:"country"`
	Campaign    string  `json:"campaign,omitempty"`
}

// UpgradeRequest is the DTO for upgrading a previous one-time donor to a
// monthly subscription. The donor's provider customer id travels separately
// in the encrypted session cookie, never in the body.
type UpgradeRequest struct {
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency"`
	Locale      string  `json:"locale"`
	Description string  `json:"description"`
	Campaign    string  `json:"campaign,omitempty"`
}

// BasketMessage is the normalized donation/dispute record handed to the CRM
// ingestion queue. Lifecycle: built once per reconciled real-world event,
// queued, then discarded; the service keeps no local copy.
//
// Invariant: DonationAmount is always expressed in decimal donor-facing
// units, never minor units.
type BasketMessage struct {
	MessageID      string  `json:"message_id"`
	EventType      string  `json:"event_type"`
	TransactionID  string  `json:"transaction_id"`
	FirstName      string  `json:"first_name,omitempty"`
	LastName       string  `json:"last_name,omitempty"`
	Email          string  `json:"email,omitempty"`
	DonationAmount float64 `json:"donation_amount,omitempty"`
	Currency       string  `json:"currency,omitempty"`
	Created        int64   `json:"created,omitempty"` // epoch seconds
	Recurring      bool    `json:"recurring"`
	Frequency      string  `json:"frequency,omitempty"`
	Service        string  `json:"service,omitempty"`
	Project        string  `json:"project,omitempty"`
	SubscriptionID string  `json:"subscription_id,omitempty"`
	FailureCode    string  `json:"failure_code,omitempty"`
	Reason         string  `json:"reason,omitempty"`
	Status         string  `json:"status,omitempty"`
}

// Campaigns maps an explicit campaign tag from the request onto the tag set
// the CRM understands. The tag travels with the request from the start; we no
// longer infer it from free-text descriptions.
type Campaigns struct {
	Default string
	Allowed map[string]struct{}
}

// NewCampaigns builds the campaign vocabulary from configuration.
func NewCampaigns(defaultTag string, allowed []string) Campaigns {
	set := make(map[string]struct{}, len(allowed))
	for _, tag := range allowed {
		if tag != "" {
			set[tag] = struct{}{}
		}
	}
	return Campaigns{Default: defaultTag, Allowed: set}
}

// Resolve returns the campaign tag for a request value, falling back to the
// default tag when the value is empty or not in the allowlist.
func (c Campaigns) Resolve(requested string) string {
	if _, ok := c.Allowed[requested]; ok {
		return requested
	}
	return c.Default
}
