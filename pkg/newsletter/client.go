/**
 * @description
 * This package handles mailing-list signups. Two backends exist: the
 * foundation's own signup service (used as a best-effort side call after a
 * successful donation) and the Mailchimp list API (exposed on its own
 * endpoint). Neither call sits on a payment-critical path; failures are
 * reported to the caller and logged, never escalated.
 *
 * @dependencies
 * - bytes, context, encoding/json, net/http, strings, time: Standard Go libraries.
 */
package newsletter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// SignupRequest is the donor data forwarded to a mailing list.
type SignupRequest struct {
	Email   string
	Locale  string
	Country string
}

// Client posts signups to the foundation's signup service.
type Client struct {
	SignupURL  string
	SourceURL  string
	Newsletter string
	HTTPClient *http.Client
}

// NewClient creates a signup client. sourceURL tags where the signup came
// from; newsletter names the list to subscribe to.
func NewClient(signupURL, sourceURL, newsletter string) *Client {
	return &Client{
		SignupURL:  signupURL,
		SourceURL:  sourceURL,
		Newsletter: newsletter,
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Signup subscribes the donor to the configured newsletter. The welcome email
// is suppressed; the donation receipt already lands in their inbox.
func (c *Client) Signup(ctx context.Context, req SignupRequest) error {
	if c.SignupURL == "" {
		log.Printf("level=warn component=newsletter msg=\"signup url not configured; skipping\"")
		return nil
	}

	payload := map[string]string{
		"format":          "html",
		"lang":            req.Locale,
		"newsletters":     c.Newsletter,
		"trigger_welcome": "N",
		"source_url":      c.SourceURL,
		"email":           req.Email,
		"country":         req.Country,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal signup payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.SignupURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create signup request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to execute signup request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("signup service returned status %d", resp.StatusCode)
	}
	return nil
}

// MailchimpClient subscribes donors to a Mailchimp list.
type MailchimpClient struct {
	APIKey     string
	ListID     string
	HTTPClient *http.Client
}

// NewMailchimpClient creates a Mailchimp client. The datacenter is embedded in
// the API key after the dash.
func NewMailchimpClient(apiKey, listID string) *MailchimpClient {
	return &MailchimpClient{
		APIKey: apiKey,
		ListID: listID,
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Subscribe adds the donor to the list with pending status, so Mailchimp sends
// the double-opt-in confirmation.
func (c *MailchimpClient) Subscribe(ctx context.Context, req SignupRequest) error {
	if c.APIKey == "" {
		log.Printf("level=warn component=mailchimp msg=\"missing mailchimp API key; skipping signup\"")
		return nil
	}

	parts := strings.SplitN(c.APIKey, "-", 2)
	if len(parts) != 2 || parts[1] == "" {
		return fmt.Errorf("mailchimp API key has no datacenter suffix")
	}
	endpoint := fmt.Sprintf("https://%s.api.mailchimp.com/3.0/lists/%s/members/", parts[1], c.ListID)

	payload := map[string]interface{}{
		"email_address": req.Email,
		"status":        "pending",
		"language":      req.Locale,
		"merge_fields": map[string]string{
			"COUNTRY": req.Country,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal mailchimp payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create mailchimp request: %w", err)
	}
	httpReq.SetBasicAuth("donation-service", c.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to execute mailchimp request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		var detail struct {
			Title string `json:"title"`
		}
		_ = json.Unmarshal(respBody, &detail)
		return fmt.Errorf("mailchimp returned status %d: %s", resp.StatusCode, detail.Title)
	}
	return nil
}
