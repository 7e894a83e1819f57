package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/enterstudio/donation-service/internal/app"
	"github.com/enterstudio/donation-service/internal/domain"
	"github.com/enterstudio/donation-service/internal/session"
	"github.com/enterstudio/donation-service/pkg/paypalclient"
	"github.com/enterstudio/donation-service/pkg/stripeclient"
)

type fakeStripe struct {
	createCustomerFn     func(ctx context.Context, params stripeclient.CustomerParams) (*stripeclient.Customer, error)
	retrieveCustomerFn   func(ctx context.Context, customerID string) (*stripeclient.Customer, error)
	createChargeFn       func(ctx context.Context, params stripeclient.ChargeParams) (*stripeclient.Charge, error)
	retrieveChargeFn     func(ctx context.Context, chargeID string) (*stripeclient.Charge, error)
	createSubscriptionFn func(ctx context.Context, params stripeclient.SubscriptionParams) (*stripeclient.Subscription, error)
}

func (f *fakeStripe) CreateCustomer(ctx context.Context, params stripeclient.CustomerParams) (*stripeclient.Customer, error) {
	return f.createCustomerFn(ctx, params)
}

func (f *fakeStripe) RetrieveCustomer(ctx context.Context, customerID string) (*stripeclient.Customer, error) {
	return f.retrieveCustomerFn(ctx, customerID)
}

func (f *fakeStripe) CreateCharge(ctx context.Context, params stripeclient.ChargeParams) (*stripeclient.Charge, error) {
	return f.createChargeFn(ctx, params)
}

func (f *fakeStripe) RetrieveCharge(ctx context.Context, chargeID string) (*stripeclient.Charge, error) {
	return f.retrieveChargeFn(ctx, chargeID)
}

func (f *fakeStripe) UpdateCharge(ctx context.Context, chargeID, description string, metadata map[string]string) (*stripeclient.Charge, error) {
	panic("unexpected UpdateCharge")
}

func (f *fakeStripe) CreateSubscription(ctx context.Context, params stripeclient.SubscriptionParams) (*stripeclient.Subscription, error) {
	return f.createSubscriptionFn(ctx, params)
}

func (f *fakeStripe) RetrieveSubscription(ctx context.Context, customerID, subscriptionID string) (*stripeclient.Subscription, error) {
	panic("unexpected RetrieveSubscription")
}

func (f *fakeStripe) CloseDispute(ctx context.Context, disputeID string) (*stripeclient.Dispute, error) {
	panic("unexpected CloseDispute")
}

type fakePayPal struct {
	getCheckoutDetailsFn func(ctx context.Context, token string) (*paypalclient.CheckoutDetails, error)
	completeSaleFn       func(ctx context.Context, details *paypalclient.CheckoutDetails) (*paypalclient.CompletedSale, error)
}

func (f *fakePayPal) SetupCheckout(ctx context.Context, params paypalclient.CheckoutParams) (string, error) {
	return "EC-TEST", nil
}

func (f *fakePayPal) CheckoutURL(token string) string {
	return "https://wallet.example/checkout?token=" + token
}

func (f *fakePayPal) GetCheckoutDetails(ctx context.Context, token string) (*paypalclient.CheckoutDetails, error) {
	return f.getCheckoutDetailsFn(ctx, token)
}

func (f *fakePayPal) CompleteSale(ctx context.Context, details *paypalclient.CheckoutDetails) (*paypalclient.CompletedSale, error) {
	return f.completeSaleFn(ctx, details)
}

func (f *fakePayPal) CreateRecurringProfile(ctx context.Context, details *paypalclient.CheckoutDetails, description string) (*paypalclient.RecurringProfile, error) {
	panic("unexpected CreateRecurringProfile")
}

type nopQueue struct{}

func (nopQueue) Queue(msg domain.BasketMessage) {}
func (nopQueue) Close()                         {}

func newTestHandlers(t *testing.T, stripe *fakeStripe, paypal *fakePayPal) (*DonationHandlers, *session.Codec) {
	t.Helper()
	codec, err := session.NewCodec("handler-test-secret")
	if err != nil {
		t.Fatalf("expected codec, got %v", err)
	}
	campaigns := domain.NewCampaigns("foundation", []string{"thunderbird"})
	service := app.NewService(stripe, paypal, nopQueue{}, codec, nil, campaigns, 30)
	return NewDonationHandlers(service, nil, nil, "/thank-you/"), codec
}

func postJSON(t *testing.T, handler http.HandlerFunc, path string, body interface{}, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	encoded, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("expected marshalable body, got %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(encoded))
	req.Header.Set("Content-Type", "application/json")
	for _, cookie := range cookies {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestStripeDonationHandlerOneTimeSetsSessionCookie(t *testing.T) {
	stripe := &fakeStripe{
		createCustomerFn: func(ctx context.Context, params stripeclient.CustomerParams) (*stripeclient.Customer, error) {
			return &stripeclient.Customer{ID: "cus_h"}, nil
		},
		createChargeFn: func(ctx context.Context, params stripeclient.ChargeParams) (*stripeclient.Charge, error) {
			return &stripeclient.Charge{ID: "ch_h", Amount: params.Amount, Currency: "usd", Metadata: params.Metadata}, nil
		},
	}
	handlers, codec := newTestHandlers(t, stripe, &fakePayPal{})

	rec := postJSON(t, handlers.StripeDonationHandler, "/stripe", domain.DonationRequest{
		Amount:      25,
		Currency:    "USD",
		Email:       "donor@example.com",
		Country:     "US",
		Signup:      true,
		StripeToken: "tok_visa",
		Frequency:   domain.FrequencyOneTime,
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp donationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("expected JSON response, got %v", err)
	}
	if resp.Frequency != domain.FrequencyOneTime || resp.ID != "ch_h" || resp.Amount != 2500 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if !resp.Signup || resp.Country != "US" || resp.Email != "donor@example.com" {
		t.Fatalf("expected signup, country and email echoed from the request, got %+v", resp)
	}

	cookies := rec.Result().Cookies()
	var found *http.Cookie
	for _, cookie := range cookies {
		if cookie.Name == sessionCookieName {
			found = cookie
		}
	}
	if found == nil {
		t.Fatal("expected a session cookie on one-time success")
	}
	if !found.HttpOnly || !found.Secure {
		t.Fatalf("expected an HttpOnly Secure cookie, got %+v", found)
	}
	if payload, err := codec.Decode(found.Value); err != nil || payload.StripeCustomerID != "cus_h" {
		t.Fatalf("expected decodable cookie holding cus_h, got payload=%+v err=%v", payload, err)
	}
}

func TestStripeDonationHandlerMonthlyEchoesDonorFields(t *testing.T) {
	stripe := &fakeStripe{
		createCustomerFn: func(ctx context.Context, params stripeclient.CustomerParams) (*stripeclient.Customer, error) {
			return &stripeclient.Customer{ID: "cus_m"}, nil
		},
		createSubscriptionFn: func(ctx context.Context, params stripeclient.SubscriptionParams) (*stripeclient.Subscription, error) {
			return &stripeclient.Subscription{ID: "sub_m", Quantity: params.Quantity, Plan: stripeclient.Plan{Currency: "usd"}}, nil
		},
	}
	handlers, _ := newTestHandlers(t, stripe, &fakePayPal{})

	rec := postJSON(t, handlers.StripeDonationHandler, "/stripe", domain.DonationRequest{
		Amount:      10,
		Currency:    "USD",
		Email:       "donor@example.com",
		Country:     "DE",
		StripeToken: "tok_visa",
		Frequency:   domain.FrequencyMonthly,
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp donationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("expected JSON response, got %v", err)
	}
	if resp.Frequency != domain.FrequencyMonthly || resp.ID != "sub_m" || resp.Quantity != 1000 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Signup || resp.Country != "DE" || resp.Email != "donor@example.com" {
		t.Fatalf("expected donor fields echoed from the request, got %+v", resp)
	}
}

func TestStripeDonationHandlerRejectsMissingToken(t *testing.T) {
	handlers, _ := newTestHandlers(t, &fakeStripe{}, &fakePayPal{})

	rec := postJSON(t, handlers.StripeDonationHandler, "/stripe", domain.DonationRequest{
		Amount:    25,
		Currency:  "USD",
		Frequency: domain.FrequencyOneTime,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestStripeDonationHandlerSurfacesDeclineCode(t *testing.T) {
	stripe := &fakeStripe{
		createCustomerFn: func(ctx context.Context, params stripeclient.CustomerParams) (*stripeclient.Customer, error) {
			return &stripeclient.Customer{ID: "cus_d"}, nil
		},
		createChargeFn: func(ctx context.Context, params stripeclient.ChargeParams) (*stripeclient.Charge, error) {
			return nil, &stripeclient.APIError{StatusCode: 402, Type: "card_error", Code: "card_declined"}
		},
	}
	handlers, _ := newTestHandlers(t, stripe, &fakePayPal{})

	rec := postJSON(t, handlers.StripeDonationHandler, "/stripe", domain.DonationRequest{
		Amount:      25,
		Currency:    "USD",
		Email:       "donor@example.com",
		StripeToken: "tok_visa",
		Frequency:   domain.FrequencyOneTime,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	var resp struct {
		Error  string `json:"error"`
		Stripe struct {
			Code    string `json:"code"`
			RawType string `json:"raw_type"`
		} `json:"stripe"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("expected JSON error body, got %v", err)
	}
	if resp.Stripe.Code != "card_declined" || resp.Stripe.RawType != "card_error" {
		t.Fatalf("expected provider diagnostics, got %+v", resp)
	}
}

func TestMonthlyUpgradeWithoutCookie(t *testing.T) {
	handlers, _ := newTestHandlers(t, &fakeStripe{}, &fakePayPal{})

	rec := postJSON(t, handlers.StripeMonthlyUpgradeHandler, "/stripe/monthly-upgrade", domain.UpgradeRequest{
		Amount:   10,
		Currency: "USD",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without a session cookie, got %d", rec.Code)
	}
}

func TestMonthlyUpgradeClearsCookieOnSuccess(t *testing.T) {
	stripe := &fakeStripe{
		retrieveCustomerFn: func(ctx context.Context, customerID string) (*stripeclient.Customer, error) {
			return &stripeclient.Customer{ID: customerID}, nil
		},
		createSubscriptionFn: func(ctx context.Context, params stripeclient.SubscriptionParams) (*stripeclient.Subscription, error) {
			return &stripeclient.Subscription{ID: "sub_h", Quantity: params.Quantity, Plan: stripeclient.Plan{Currency: "usd"}}, nil
		},
	}
	handlers, codec := newTestHandlers(t, stripe, &fakePayPal{})

	token, err := codec.Encode(session.Payload{StripeCustomerID: "cus_up"})
	if err != nil {
		t.Fatalf("expected token, got %v", err)
	}

	rec := postJSON(t, handlers.StripeMonthlyUpgradeHandler, "/stripe/monthly-upgrade", domain.UpgradeRequest{
		Amount:   10,
		Currency: "USD",
	}, &http.Cookie{Name: sessionCookieName, Value: token})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var cleared bool
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == sessionCookieName && cookie.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Fatal("expected the session cookie to be cleared after a successful upgrade")
	}
}

func TestMonthlyUpgradeKeepsCookieOnGatewayFailure(t *testing.T) {
	stripe := &fakeStripe{
		retrieveCustomerFn: func(ctx context.Context, customerID string) (*stripeclient.Customer, error) {
			return &stripeclient.Customer{ID: customerID}, nil
		},
		createSubscriptionFn: func(ctx context.Context, params stripeclient.SubscriptionParams) (*stripeclient.Subscription, error) {
			return nil, &stripeclient.APIError{StatusCode: 402, Type: "card_error", Code: "card_declined"}
		},
	}
	handlers, codec := newTestHandlers(t, stripe, &fakePayPal{})

	token, err := codec.Encode(session.Payload{StripeCustomerID: "cus_up"})
	if err != nil {
		t.Fatalf("expected token, got %v", err)
	}

	rec := postJSON(t, handlers.StripeMonthlyUpgradeHandler, "/stripe/monthly-upgrade", domain.UpgradeRequest{
		Amount:   10,
		Currency: "USD",
	}, &http.Cookie{Name: sessionCookieName, Value: token})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == sessionCookieName {
			t.Fatal("expected the session cookie to be kept so the donor can retry")
		}
	}
}

func TestPayPalRedirectHandler(t *testing.T) {
	paypal := &fakePayPal{
		getCheckoutDetailsFn: func(ctx context.Context, token string) (*paypalclient.CheckoutDetails, error) {
			return &paypalclient.CheckoutDetails{Token: token, PayerID: "PAYER1", Amount: "25.00", Currency: "USD"}, nil
		},
		completeSaleFn: func(ctx context.Context, details *paypalclient.CheckoutDetails) (*paypalclient.CompletedSale, error) {
			return &paypalclient.CompletedSale{TransactionID: "TX9", Amount: "25.00", Currency: "USD", OrderTime: time.Now()}, nil
		},
	}
	handlers, _ := newTestHandlers(t, &fakeStripe{}, paypal)

	req := httptest.NewRequest(http.MethodGet, "/paypal-redirect?token=EC-9&frequency=one-time", nil)
	rec := httptest.NewRecorder()
	handlers.PayPalRedirectHandler(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d: %s", rec.Code, rec.Body.String())
	}

	location, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("expected parsable Location, got %v", err)
	}
	if !strings.HasPrefix(location.Path, "/thank-you/") {
		t.Fatalf("expected redirect to the thank-you page, got %q", location.Path)
	}
	query := location.Query()
	if query.Get("frequency") != domain.FrequencyOneTime || query.Get("tx") != "TX9" {
		t.Fatalf("unexpected redirect query: %v", query)
	}
	if query.Get("amt") != "25.00" || query.Get("cc") != "USD" {
		t.Fatalf("unexpected amount parameters: %v", query)
	}
}

func TestPayPalRedirectHandlerMissingToken(t *testing.T) {
	handlers, _ := newTestHandlers(t, &fakeStripe{}, &fakePayPal{})

	req := httptest.NewRequest(http.MethodGet, "/paypal-redirect", nil)
	rec := httptest.NewRecorder()
	handlers.PayPalRedirectHandler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

type fakeLimiter struct {
	count int
	err   error
}

func (f *fakeLimiter) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	return f.count, 30, f.err
}

func TestRateLimitMiddleware(t *testing.T) {
	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	t.Run("over the limit is rejected", func(t *testing.T) {
		mw := RateLimitMiddleware(&fakeLimiter{count: 21}, "donate", 20, time.Minute)
		req := httptest.NewRequest(http.MethodPost, "/stripe", nil)
		rec := httptest.NewRecorder()
		mw(okHandler).ServeHTTP(rec, req)

		if rec.Code != http.StatusTooManyRequests {
			t.Fatalf("expected 429, got %d", rec.Code)
		}
		if rec.Header().Get("Retry-After") != "30" {
			t.Fatalf("expected Retry-After header, got %q", rec.Header().Get("Retry-After"))
		}
	})

	t.Run("limiter failure degrades open", func(t *testing.T) {
		mw := RateLimitMiddleware(&fakeLimiter{err: context.DeadlineExceeded}, "donate", 20, time.Minute)
		req := httptest.NewRequest(http.MethodPost, "/stripe", nil)
		rec := httptest.NewRecorder()
		mw(okHandler).ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected the request to pass when the limiter is down, got %d", rec.Code)
		}
	})

	t.Run("nil limiter disables enforcement", func(t *testing.T) {
		mw := RateLimitMiddleware(nil, "donate", 20, time.Minute)
		req := httptest.NewRequest(http.MethodPost, "/stripe", nil)
		rec := httptest.NewRecorder()
		mw(okHandler).ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
	})
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name      string
		forwarded string
		remote    string
		want      string
	}{
		{name: "forwarded header wins", forwarded: "203.0.113.7, 10.0.0.1", remote: "10.0.0.2:1234", want: "203.0.113.7"},
		{name: "remote addr fallback", remote: "198.51.100.3:5678", want: "198.51.100.3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if got := clientIP(req); got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
