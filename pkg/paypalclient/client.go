/**
 * @description
 * This package provides a client for the wallet provider's checkout API,
 * an NVP (name-value pair) protocol: the donor is redirected to the provider
 * with a checkout token, approves the payment there, and is bounced back to
 * us to finalize it. Monthly donations finalize into a recurring payments
 * profile instead of a single sale.
 *
 * @dependencies
 * - context, net/http, net/url, strings, time: Standard Go libraries.
 */
package paypalclient

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const apiVersion = "204"

// Client is a client for the wallet provider NVP API.
type Client struct {
	BaseURL     string // NVP API endpoint
	RedirectURL string // browser-facing checkout URL the donor is sent to
	User        string
	Password    string
	Signature   string
	HTTPClient  *http.Client
}

// NewClient creates a new wallet provider API client.
func NewClient(baseURL, redirectURL, user, password, signature string) *Client {
	return &Client{
		BaseURL:     baseURL,
		RedirectURL: redirectURL,
		User:        user,
		Password:    password,
		Signature:   signature,
		HTTPClient: &http.Client{
			Timeout: 25 * time.Second,
		},
	}
}

// APIError represents a failed NVP call.
type APIError struct {
	Ack          string
	ErrorCode    string
	ShortMessage string
	LongMessage  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("paypal api error: ack=%s code=%s message=%s", e.Ack, e.ErrorCode, e.ShortMessage)
}

// CheckoutParams describe the checkout to set up.
type CheckoutParams struct {
	Amount      string // decimal donor-facing units, pre-formatted
	Currency    string
	Description string
	Locale      string
	Recurring   bool
	ReturnURL   string
	CancelURL   string
}

// CheckoutDetails is the donor/payment state fetched after provider approval.
type CheckoutDetails struct {
	Token     string
	PayerID   string
	FirstName string
	LastName  string
	Email     string
	Amount    string
	Currency  string
}

// CompletedSale is a finalized one-time wallet payment.
type CompletedSale struct {
	TransactionID string
	Amount        string
	Currency      string
	OrderTime     time.Time
}

// RecurringProfile is a finalized monthly wallet donation profile. The
// provider issues no per-charge transaction id at creation time.
type RecurringProfile struct {
	ProfileID string
	Amount    string
	Currency  string
	Timestamp time.Time
}

// SetupCheckout starts an express checkout and returns the redirect token.
func (c *Client) SetupCheckout(ctx context.Context, params CheckoutParams) (string, error) {
	form := url.Values{}
	form.Set("METHOD", "SetExpressCheckout")
	form.Set("PAYMENTREQUEST_0_AMT", params.Amount)
	form.Set("PAYMENTREQUEST_0_CURRENCYCODE", strings.ToUpper(params.Currency))
	form.Set("PAYMENTREQUEST_0_DESC", params.Description)
	form.Set("LOCALECODE", params.Locale)
	form.Set("RETURNURL", params.ReturnURL)
	form.Set("CANCELURL", params.CancelURL)
	form.Set("NOSHIPPING", "1")
	if params.Recurring {
		form.Set("PAYMENTREQUEST_0_PAYMENTACTION", "Authorization")
		form.Set("L_BILLINGTYPE0", "RecurringPayments")
		form.Set("L_BILLINGAGREEMENTDESCRIPTION0", params.Description)
	} else {
		form.Set("PAYMENTREQUEST_0_PAYMENTACTION", "Sale")
	}

	fields, err := c.call(ctx, form)
	if err != nil {
		return "", err
	}
	token := fields.Get("TOKEN")
	if token == "" {
		return "", fmt.Errorf("paypal checkout setup returned no token")
	}
	return token, nil
}

// CheckoutURL returns the browser URL the donor must approve the checkout at.
func (c *Client) CheckoutURL(token string) string {
	return c.RedirectURL + "?cmd=_express-checkout&token=" + url.QueryEscape(token)
}

// GetCheckoutDetails fetches payer identity and payment details for an
// approved checkout token.
func (c *Client) GetCheckoutDetails(ctx context.Context, token string) (*CheckoutDetails, error) {
	form := url.Values{}
	form.Set("METHOD", "GetExpressCheckoutDetails")
	form.Set("TOKEN", token)

	fields, err := c.call(ctx, form)
	if err != nil {
		return nil, err
	}
	return &CheckoutDetails{
		Token:     fields.Get("TOKEN"),
		PayerID:   fields.Get("PAYERID"),
		FirstName: fields.Get("FIRSTNAME"),
		LastName:  fields.Get("LASTNAME"),
		Email:     fields.Get("EMAIL"),
		Amount:    fields.Get("PAYMENTREQUEST_0_AMT"),
		Currency:  fields.Get("PAYMENTREQUEST_0_CURRENCYCODE"),
	}, nil
}

// CompleteSale finalizes a one-time checkout into a payment.
func (c *Client) CompleteSale(ctx context.Context, details *CheckoutDetails) (*CompletedSale, error) {
	form := url.Values{}
	form.Set("METHOD", "DoExpressCheckoutPayment")
	form.Set("TOKEN", details.Token)
	form.Set("PAYERID", details.PayerID)
	form.Set("PAYMENTREQUEST_0_AMT", details.Amount)
	form.Set("PAYMENTREQUEST_0_CURRENCYCODE", details.Currency)
	form.Set("PAYMENTREQUEST_0_PAYMENTACTION", "Sale")

	fields, err := c.call(ctx, form)
	if err != nil {
		return nil, err
	}

	orderTime, parseErr := time.Parse(time.RFC3339, fields.Get("PAYMENTINFO_0_ORDERTIME"))
	if parseErr != nil {
		orderTime = time.Now().UTC()
	}

	return &CompletedSale{
		TransactionID: fields.Get("PAYMENTINFO_0_TRANSACTIONID"),
		Amount:        fields.Get("PAYMENTREQUEST_0_AMT"),
		Currency:      fields.Get("PAYMENTREQUEST_0_CURRENCYCODE"),
		OrderTime:     orderTime,
	}, nil
}

// CreateRecurringProfile finalizes a monthly checkout into a recurring
// payments profile billed every month starting now.
func (c *Client) CreateRecurringProfile(ctx context.Context, details *CheckoutDetails, description string) (*RecurringProfile, error) {
	now := time.Now().UTC()

	form := url.Values{}
	form.Set("METHOD", "CreateRecurringPaymentsProfile")
	form.Set("TOKEN", details.Token)
	form.Set("PAYERID", details.PayerID)
	form.Set("PROFILESTARTDATE", now.Format(time.RFC3339))
	form.Set("DESC", description)
	form.Set("BILLINGPERIOD", "Month")
	form.Set("BILLINGFREQUENCY", "1")
	form.Set("AMT", details.Amount)
	form.Set("CURRENCYCODE", details.Currency)

	fields, err := c.call(ctx, form)
	if err != nil {
		return nil, err
	}

	timestamp, parseErr := time.Parse(time.RFC3339, fields.Get("TIMESTAMP"))
	if parseErr != nil {
		timestamp = now
	}

	return &RecurringProfile{
		ProfileID: fields.Get("PROFILEID"),
		Amount:    details.Amount,
		Currency:  details.Currency,
		Timestamp: timestamp,
	}, nil
}

// call executes an NVP request with the client credentials attached and
// parses the url-encoded response.
func (c *Client) call(ctx context.Context, form url.Values) (url.Values, error) {
	form.Set("VERSION", apiVersion)
	form.Set("USER", c.User)
	form.Set("PWD", c.Password)
	form.Set("SIGNATURE", c.Signature)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create paypal request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute paypal request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read paypal response: %w", err)
	}

	fields, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse paypal response: %w", err)
	}

	ack := fields.Get("ACK")
	if ack != "Success" && ack != "SuccessWithWarning" {
		apiErr := &APIError{
			Ack:          ack,
			ErrorCode:    fields.Get("L_ERRORCODE0"),
			ShortMessage: fields.Get("L_SHORTMESSAGE0"),
			LongMessage:  fields.Get("L_LONGMESSAGE0"),
		}
		log.Printf("level=warn component=paypal_client method=%s ack=%s code=%q msg=%q", form.Get("METHOD"), ack, apiErr.ErrorCode, apiErr.ShortMessage)
		return nil, apiErr
	}
	return fields, nil
}
