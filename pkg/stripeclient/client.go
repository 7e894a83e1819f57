/**
 * @description
 * This package provides a client for the card payment provider's REST API.
 * It encapsulates authenticated form-encoded requests for the handful of
 * operations the donation flows orchestrate: customer, charge and subscription
 * CRUD plus dispute closing. It is an explicitly constructed gateway holding
 * its own credentials and timeout; there is no ambient SDK singleton.
 *
 * @dependencies
 * - context, net/http, net/url, encoding/json, strings, time: Standard Go libraries.
 */
package stripeclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a client for the card provider API.
type Client struct {
	BaseURL    string
	SecretKey  string
	HTTPClient *http.Client
}

// NewClient creates a new card provider API client. The 25s timeout bounds
// every gateway call; a timed-out call is a failure, never retried here.
func NewClient(baseURL, secretKey string) *Client {
	return &Client{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		SecretKey: secretKey,
		HTTPClient: &http.Client{
			Timeout: 25 * time.Second,
		},
	}
}

// Customer is a provider-side donor record. The service holds only the id.
type Customer struct {
	ID      string            `json:"id"`
	Email   string            `json:"email"`
	Sources SourceList        `json:"sources"`
	Meta    map[string]string `json:"metadata"`
}

// SourceList wraps the customer's payment sources.
type SourceList struct {
	Data []Source `json:"data"`
}

// Source is a tokenized payment instrument attached to a customer.
type Source struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Name returns the cardholder name on the customer's first payment source, or
// an empty string when none is attached.
func (c *Customer) Name() string {
	if c == nil || len(c.Sources.Data) == 0 {
		return ""
	}
	return c.Sources.Data[0].Name
}

// Charge is a single payment event.
type Charge struct {
	ID          string            `json:"id"`
	Amount      int64             `json:"amount"` // minor units
	Currency    string            `json:"currency"`
	Status      string            `json:"status"`
	Created     int64             `json:"created"`
	Description string            `json:"description"`
	FailureCode string            `json:"failure_code"`
	Metadata    map[string]string `json:"metadata"`
	Source      Source            `json:"source"`
	Invoice     *Invoice          `json:"invoice"`
	Refunds     RefundList        `json:"refunds"`
}

// Invoice links a charge back to the subscription that generated it. The
// provider serializes it as a bare id string on webhook payloads and as a full
// object when expanded, so unmarshalling accepts both.
type Invoice struct {
	ID           string `json:"id"`
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
}

func (i *Invoice) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &i.ID)
	}
	type alias Invoice
	return json.Unmarshal(data, (*alias)(i))
}

// RefundList wraps the refunds attached to a charge.
type RefundList struct {
	Data []Refund `json:"data"`
}

// Refund is a single refund record. Reason is empty for dashboard-initiated
// refunds.
type Refund struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
	Status string `json:"status"`
}

// Subscription is a recurring plan instance. Custom donation amounts are
// encoded as the quantity of a 1-minor-unit plan keyed by currency.
type Subscription struct {
	ID       string            `json:"id"`
	Quantity int64             `json:"quantity"`
	Status   string            `json:"status"`
	Metadata map[string]string `json:"metadata"`
	Plan     Plan              `json:"plan"`
	Customer *Customer         `json:"customer"`
}

func (s *Subscription) UnmarshalJSON(data []byte) error {
	type alias struct {
		ID       string            `json:"id"`
		Quantity int64             `json:"quantity"`
		Status   string            `json:"status"`
		Metadata map[string]string `json:"metadata"`
		Plan     Plan              `json:"plan"`
		Customer json.RawMessage   `json:"customer"`
	}
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	s.ID, s.Quantity, s.Status, s.Metadata, s.Plan = a.ID, a.Quantity, a.Status, a.Metadata, a.Plan
	if len(a.Customer) == 0 || string(a.Customer) == "null" {
		return nil
	}
	// Customer is a bare id unless expanded.
	if a.Customer[0] == '"' {
		var id string
		if err := json.Unmarshal(a.Customer, &id); err != nil {
			return err
		}
		s.Customer = &Customer{ID: id}
		return nil
	}
	s.Customer = &Customer{}
	return json.Unmarshal(a.Customer, s.Customer)
}

// Plan is the fixed-price plan a subscription is built on.
type Plan struct {
	ID       string `json:"id"`
	Currency string `json:"currency"`
}

// Dispute is a cardholder chargeback challenge against a charge.
type Dispute struct {
	ID     string `json:"id"`
	Charge string `json:"charge"`
	Reason string `json:"reason"`
	Status string `json:"status"`
}

// APIError represents an error response from the provider API. The code and
// type are surfaced to donors for diagnostics; the message stays server-side.
type APIError struct {
	StatusCode int    `json:"-"`
	Type       string `json:"type"`
	Code       string `json:"code"`
	Param      string `json:"param"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("stripe api error: type=%s code=%s message=%s", e.Type, e.Code, e.Message)
}

// IsDisputeAlreadyClosed reports whether the error is the provider telling us
// the dispute was closed before we got to it, which callers treat as benign.
func IsDisputeAlreadyClosed(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && strings.Contains(apiErr.Message, "already closed")
}

// CustomerParams are the inputs for creating a provider customer.
type CustomerParams struct {
	Email    string
	Source   string // card token from the donation form
	Metadata map[string]string
}

// CreateCustomer creates a provider-side customer holding the tokenized card.
func (c *Client) CreateCustomer(ctx context.Context, params CustomerParams) (*Customer, error) {
	form := url.Values{}
	form.Set("email", params.Email)
	form.Set("source", params.Source)
	encodeMetadata(form, params.Metadata)

	var customer Customer
	if err := c.do(ctx, http.MethodPost, "/v1/customers", form, &customer); err != nil {
		return nil, err
	}
	return &customer, nil
}

// RetrieveCustomer fetches an existing customer by id.
func (c *Client) RetrieveCustomer(ctx context.Context, customerID string) (*Customer, error) {
	var customer Customer
	if err := c.do(ctx, http.MethodGet, "/v1/customers/"+customerID, nil, &customer); err != nil {
		return nil, err
	}
	return &customer, nil
}

// ChargeParams are the inputs for a one-time charge.
type ChargeParams struct {
	Amount      int64 // minor units
	Currency    string
	Customer    string
	Description string
	Metadata    map[string]string
}

// CreateCharge charges the customer's stored source once.
func (c *Client) CreateCharge(ctx context.Context, params ChargeParams) (*Charge, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(params.Amount, 10))
	form.Set("currency", strings.ToLower(params.Currency))
	form.Set("customer", params.Customer)
	form.Set("description", params.Description)
	encodeMetadata(form, params.Metadata)

	var charge Charge
	if err := c.do(ctx, http.MethodPost, "/v1/charges", form, &charge); err != nil {
		return nil, err
	}
	return &charge, nil
}

// RetrieveCharge fetches a charge with its invoice expanded, so the caller can
// follow the linkage to the subscription that generated it.
func (c *Client) RetrieveCharge(ctx context.Context, chargeID string) (*Charge, error) {
	form := url.Values{}
	form.Add("expand[]", "invoice")

	var charge Charge
	if err := c.do(ctx, http.MethodGet, "/v1/charges/"+chargeID+"?"+form.Encode(), nil, &charge); err != nil {
		return nil, err
	}
	return &charge, nil
}

// UpdateCharge sets the description and metadata on an existing charge for
// downstream bookkeeping.
func (c *Client) UpdateCharge(ctx context.Context, chargeID, description string, metadata map[string]string) (*Charge, error) {
	form := url.Values{}
	form.Set("description", description)
	encodeMetadata(form, metadata)

	var charge Charge
	if err := c.do(ctx, http.MethodPost, "/v1/charges/"+chargeID, form, &charge); err != nil {
		return nil, err
	}
	return &charge, nil
}

// SubscriptionParams are the inputs for creating a recurring subscription.
// The provider only supports fixed-price plans, so the custom donation amount
// travels as the quantity of a 1-minor-unit plan named after the currency.
type SubscriptionParams struct {
	Customer        string
	PlanCurrency    string
	Quantity        int64 // minor units
	Metadata        map[string]string
	TrialPeriodDays int
}

// CreateSubscription subscribes the customer to the per-currency donation plan.
func (c *Client) CreateSubscription(ctx context.Context, params SubscriptionParams) (*Subscription, error) {
	form := url.Values{}
	form.Set("plan", strings.ToLower(params.PlanCurrency))
	form.Set("quantity", strconv.FormatInt(params.Quantity, 10))
	encodeMetadata(form, params.Metadata)
	if params.TrialPeriodDays > 0 {
		form.Set("trial_period_days", strconv.Itoa(params.TrialPeriodDays))
	}

	var subscription Subscription
	path := "/v1/customers/" + params.Customer + "/subscriptions"
	if err := c.do(ctx, http.MethodPost, path, form, &subscription); err != nil {
		return nil, err
	}
	return &subscription, nil
}

// RetrieveSubscription fetches a subscription with its customer expanded.
// Donor identity for webhook reconciliation comes from here, never from the
// webhook payload itself.
func (c *Client) RetrieveSubscription(ctx context.Context, customerID, subscriptionID string) (*Subscription, error) {
	form := url.Values{}
	form.Add("expand[]", "customer")

	var subscription Subscription
	path := "/v1/customers/" + customerID + "/subscriptions/" + subscriptionID + "?" + form.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &subscription); err != nil {
		return nil, err
	}
	return &subscription, nil
}

// CloseDispute concedes a dispute. Donations are not worth fighting
// chargebacks over, so disputes are auto-closed unless already lost.
func (c *Client) CloseDispute(ctx context.Context, disputeID string) (*Dispute, error) {
	var dispute Dispute
	if err := c.do(ctx, http.MethodPost, "/v1/disputes/"+disputeID+"/close", url.Values{}, &dispute); err != nil {
		return nil, err
	}
	return &dispute, nil
}

// do executes a form-encoded API request and decodes the response into out.
func (c *Client) do(ctx context.Context, method, path string, form url.Values, out interface{}) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create stripe request: %w", err)
	}
	req.SetBasicAuth(c.SecretKey, "")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute stripe request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read stripe response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var wrapper struct {
			Error APIError `json:"error"`
		}
		if err := json.Unmarshal(respBody, &wrapper); err != nil {
			log.Printf("level=warn component=stripe_client path=%s status=%d msg=\"non-2xx response (unparsable error body)\"", path, resp.StatusCode)
			return fmt.Errorf("failed to decode stripe error response (status %d)", resp.StatusCode)
		}
		apiErr := wrapper.Error
		apiErr.StatusCode = resp.StatusCode
		log.Printf("level=warn component=stripe_client path=%s status=%d type=%q code=%q", path, resp.StatusCode, apiErr.Type, apiErr.Code)
		return &apiErr
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode stripe response: %w", err)
		}
	}
	return nil
}

func encodeMetadata(form url.Values, metadata map[string]string) {
	for key, value := range metadata {
		form.Set("metadata["+key+"]", value)
	}
}
