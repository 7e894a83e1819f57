package paypalclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(server.URL, "https://wallet.example/cgi-bin/webscr", "api-user", "api-pwd", "api-sig")
}

func TestSetupCheckout(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("expected parsable form, got %v", err)
		}
		if r.Form.Get("METHOD") != "SetExpressCheckout" {
			t.Fatalf("unexpected method: %q", r.Form.Get("METHOD"))
		}
		if r.Form.Get("USER") != "api-user" || r.Form.Get("SIGNATURE") != "api-sig" {
			t.Fatal("expected credentials on every call")
		}
		if r.Form.Get("L_BILLINGTYPE0") != "RecurringPayments" {
			t.Fatalf("expected recurring billing type, got %q", r.Form.Get("L_BILLINGTYPE0"))
		}
		w.Write([]byte("ACK=Success&TOKEN=EC-42"))
	})

	token, err := client.SetupCheckout(context.Background(), CheckoutParams{
		Amount:    "10.00",
		Currency:  "usd",
		Recurring: true,
		ReturnURL: "https://donate.example/return",
		CancelURL: "https://donate.example/cancel",
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if token != "EC-42" {
		t.Fatalf("expected token EC-42, got %q", token)
	}
}

func TestGetCheckoutDetails(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		response := url.Values{}
		response.Set("ACK", "SuccessWithWarning")
		response.Set("TOKEN", "EC-42")
		response.Set("PAYERID", "PAYER1")
		response.Set("FIRSTNAME", "Jane")
		response.Set("LASTNAME", "Donor")
		response.Set("EMAIL", "donor@example.com")
		response.Set("PAYMENTREQUEST_0_AMT", "10.00")
		response.Set("PAYMENTREQUEST_0_CURRENCYCODE", "USD")
		w.Write([]byte(response.Encode()))
	})

	details, err := client.GetCheckoutDetails(context.Background(), "EC-42")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if details.PayerID != "PAYER1" || details.Email != "donor@example.com" {
		t.Fatalf("unexpected details: %+v", details)
	}
	if details.Amount != "10.00" || details.Currency != "USD" {
		t.Fatalf("unexpected payment fields: %+v", details)
	}
}

func TestFailureAckSurfacesAPIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ACK=Failure&L_ERRORCODE0=10417&L_SHORTMESSAGE0=Transaction+cannot+complete"))
	})

	_, err := client.GetCheckoutDetails(context.Background(), "EC-42")
	if err == nil {
		t.Fatal("expected failure ack to surface")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.ErrorCode != "10417" || apiErr.Ack != "Failure" {
		t.Fatalf("unexpected error fields: %+v", apiErr)
	}
}

func TestCheckoutURL(t *testing.T) {
	client := NewClient("https://api.example", "https://wallet.example/cgi-bin/webscr", "u", "p", "s")
	got := client.CheckoutURL("EC-4 2")
	want := "https://wallet.example/cgi-bin/webscr?cmd=_express-checkout&token=EC-4+2"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
