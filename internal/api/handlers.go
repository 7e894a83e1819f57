/**
 * @description
 * This file contains the HTTP handlers for the donor-facing API endpoints.
 * Handlers parse incoming requests, call the appropriate methods on the
 * application service, and write the HTTP response. They own the session
 * cookie lifecycle: issued on a one-time card donation, consumed and cleared
 * by the monthly upgrade.
 *
 * @dependencies
 * - encoding/json, errors, log, net/http, net/url: Standard Go libraries.
 * - internal/app, internal/currency, internal/domain: Service logic, amounts, models.
 * - pkg/newsletter, pkg/paypalclient, pkg/stripeclient: Provider error types and side calls.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"

	"github.com/enterstudio/donation-service/internal/app"
	"github.com/enterstudio/donation-service/internal/currency"
	"github.com/enterstudio/donation-service/internal/domain"
	"github.com/enterstudio/donation-service/pkg/newsletter"
	"github.com/enterstudio/donation-service/pkg/stripeclient"
)

// sessionCookieName carries the encrypted upgrade credential. The cookie
// value is opaque to the browser; only the server can decode it.
const sessionCookieName = "session"

// sessionCookieMaxAge keeps the upgrade window open for 30 days, matching
// the trial period a converted donor receives.
const sessionCookieMaxAge = 30 * 24 * 60 * 60

// DonationHandlers holds the collaborators the donor-facing handlers use.
type DonationHandlers struct {
	service     *app.Service
	signup      app.SignupClient
	mailchimp   *newsletter.MailchimpClient
	thankYouURL string
}

// NewDonationHandlers creates a new instance of DonationHandlers.
func NewDonationHandlers(service *app.Service, signup app.SignupClient, mailchimp *newsletter.MailchimpClient, thankYouURL string) *DonationHandlers {
	return &DonationHandlers{
		service:     service,
		signup:      signup,
		mailchimp:   mailchimp,
		thankYouURL: thankYouURL,
	}
}

// donationResponse is echoed back to the donation form after a card flow.
// signup, country and email mirror the request so the form can populate the
// thank-you state without keeping its own copy.
type donationResponse struct {
	Frequency string `json:"frequency"`
	Amount    int64  `json:"amount,omitempty"`
	Quantity  int64  `json:"quantity,omitempty"`
	Currency  string `json:"currency"`
	ID        string `json:"id"`
	Signup    bool   `json:"signup"`
	Country   string `json:"country"`
	Email     string `json:"email"`
}

func buildDonationResponse(result *app.DonationResult) donationResponse {
	return donationResponse{
		Frequency: result.Frequency,
		Amount:    result.Amount,
		Quantity:  result.Quantity,
		Currency:  result.Currency,
		ID:        result.ID,
	}
}

// StripeDonationHandler handles card donations, both one-time and monthly.
func (h *DonationHandlers) StripeDonationHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.DonationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=stripe outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.StripeToken == "" {
		h.writeError(w, http.StatusBadRequest, "Missing card token")
		return
	}

	result, err := h.service.CreateDonation(r.Context(), req)
	if err != nil {
		h.writeDonationError(w, "stripe", err)
		return
	}

	if result.SessionToken != "" {
		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookieName,
			Value:    result.SessionToken,
			Path:     "/",
			MaxAge:   sessionCookieMaxAge,
			HttpOnly: true,
			Secure:   true,
			SameSite: http.SameSiteLaxMode,
		})
	}

	log.Printf("level=info component=api endpoint=stripe outcome=accepted frequency=%s id=%s", result.Frequency, result.ID)
	resp := buildDonationResponse(result)
	resp.Signup = req.Signup
	resp.Country = req.Country
	resp.Email = req.Email
	h.writeJSON(w, http.StatusOK, resp)
}

// StripeMonthlyUpgradeHandler converts a previous one-time donor into a
// monthly subscriber using the session cookie issued at donation time. The
// cookie is cleared on success and kept on failure so the donor may retry.
func (h *DonationHandlers) StripeMonthlyUpgradeHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.UpgradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=monthly_upgrade outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	var token string
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		token = cookie.Value
	}

	result, err := h.service.UpgradeToMonthly(r.Context(), token, req)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrMissingCredential):
			h.writeError(w, http.StatusBadRequest, "An existing donation is required to upgrade")
		case errors.Is(err, app.ErrInvalidCredential):
			h.writeError(w, http.StatusBadRequest, "Session is no longer valid; please donate again")
		default:
			h.writeDonationError(w, "monthly_upgrade", err)
		}
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})

	log.Printf("level=info component=api endpoint=monthly_upgrade outcome=accepted subscription_id=%s", result.ID)
	h.writeJSON(w, http.StatusOK, buildDonationResponse(result))
}

// paypalSetupResponse carries the provider redirect for the donor's browser.
type paypalSetupResponse struct {
	RedirectURL string `json:"redirect_url"`
	Token       string `json:"token"`
}

// PayPalSetupHandler starts a wallet checkout. The donor is sent to the
// provider to approve it and comes back on the redirect endpoint.
func (h *DonationHandlers) PayPalSetupHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.DonationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=paypal outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	base := requestBaseURL(r)
	returnURL := base + "/paypal-redirect?" + url.Values{
		"frequency": {req.Frequency},
		"campaign":  {req.Campaign},
	}.Encode()

	checkout, err := h.service.SetupPayPalCheckout(r.Context(), req, returnURL, base+"/")
	if err != nil {
		h.writeDonationError(w, "paypal", err)
		return
	}

	log.Printf("level=info component=api endpoint=paypal outcome=accepted token=%s", checkout.Token)
	h.writeJSON(w, http.StatusOK, paypalSetupResponse{RedirectURL: checkout.RedirectURL, Token: checkout.Token})
}

// PayPalRedirectHandler finalizes an approved wallet checkout when the
// provider redirects the donor back, then forwards them to the thank-you
// page with the transaction summary in the query string.
func (h *DonationHandlers) PayPalRedirectHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	token := query.Get("token")
	if token == "" {
		h.writeError(w, http.StatusBadRequest, "Missing checkout token")
		return
	}

	completion, err := h.service.CompletePayPalCheckout(r.Context(), token, query.Get("frequency"), query.Get("campaign"))
	if err != nil {
		log.Printf("level=error component=api endpoint=paypal_redirect outcome=error token=%s err=%v", token, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to complete the donation")
		return
	}

	target := h.thankYouURL + "?" + url.Values{
		"frequency": {completion.Frequency},
		"tx":        {completion.TransactionID},
		"amt":       {completion.Amount},
		"cc":        {completion.Currency},
	}.Encode()

	log.Printf("level=info component=api endpoint=paypal_redirect outcome=accepted frequency=%s tx=%s", completion.Frequency, completion.TransactionID)
	http.Redirect(w, r, target, http.StatusFound)
}

// SignupHandler subscribes an email to the newsletter without a donation.
func (h *DonationHandlers) SignupHandler(w http.ResponseWriter, r *http.Request) {
	var req newsletter.SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Email == "" {
		h.writeError(w, http.StatusBadRequest, "Missing email")
		return
	}

	if h.signup == nil {
		h.writeError(w, http.StatusServiceUnavailable, "Signup is not configured")
		return
	}
	if err := h.signup.Signup(r.Context(), req); err != nil {
		log.Printf("level=error component=api endpoint=signup outcome=error err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Signup failed")
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]string{"status": "subscribed"})
}

// MailchimpHandler subscribes an email to the fundraising list directly.
func (h *DonationHandlers) MailchimpHandler(w http.ResponseWriter, r *http.Request) {
	var req newsletter.SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Email == "" {
		h.writeError(w, http.StatusBadRequest, "Missing email")
		return
	}

	if h.mailchimp == nil {
		h.writeError(w, http.StatusServiceUnavailable, "Mailing list is not configured")
		return
	}
	if err := h.mailchimp.Subscribe(r.Context(), req); err != nil {
		log.Printf("level=error component=api endpoint=mailchimp outcome=error err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Subscription failed")
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]string{"status": "pending"})
}

// writeDonationError maps a service error to the donor-facing response. The
// provider's diagnostic code and type are surfaced; the secret key and the
// internal stack never are.
func (h *DonationHandlers) writeDonationError(w http.ResponseWriter, endpoint string, err error) {
	if errors.Is(err, currency.ErrInvalidAmount) {
		h.writeError(w, http.StatusBadRequest, "Invalid donation amount")
		return
	}

	var apiErr *stripeclient.APIError
	if errors.As(err, &apiErr) {
		log.Printf("level=warn component=api endpoint=%s outcome=charge_failed code=%q type=%q", endpoint, apiErr.Code, apiErr.Type)
		h.writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error": "Charge failed",
			"stripe": map[string]string{
				"code":     apiErr.Code,
				"raw_type": apiErr.Type,
			},
		})
		return
	}

	log.Printf("level=error component=api endpoint=%s outcome=error err=%v", endpoint, err)
	h.writeError(w, http.StatusInternalServerError, "Donation failed")
}

// requestBaseURL reconstructs the externally visible base URL for callbacks,
// honoring the proxy protocol header when present.
func requestBaseURL(r *http.Request) string {
	scheme := "https"
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	} else if r.TLS == nil {
		scheme = "http"
	}
	return scheme + "://" + r.Host
}

// writeJSON is a helper for writing JSON responses.
func (h *DonationHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *DonationHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
