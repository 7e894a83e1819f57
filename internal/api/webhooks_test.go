package api

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/enterstudio/donation-service/internal/app"
	"github.com/enterstudio/donation-service/internal/domain"
	"github.com/enterstudio/donation-service/pkg/stripeclient"
)

const webhookTestSecret = "whsec_handler_test"

func newWebhookHandlers(stripe *fakeStripe) *WebhookHandlers {
	campaigns := domain.NewCampaigns("foundation", nil)
	secrets := app.WebhookSecrets{
		ChargeSucceeded: webhookTestSecret,
		ChargeFailed:    webhookTestSecret,
		ChargeRefunded:  webhookTestSecret,
		Dispute:         webhookTestSecret,
	}
	return NewWebhookHandlers(app.NewReconciler(stripe, nopQueue{}, campaigns, secrets))
}

func signedRequest(t *testing.T, path string, payload []byte, secret string) *http.Request {
	t.Helper()
	ts := time.Now().Unix()
	sig := stripeclient.ComputeSignature(payload, secret, ts)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set(stripeclient.SignatureHeader, fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(sig)))
	return req
}

func TestChargeRefundedWebhook(t *testing.T) {
	handlers := newWebhookHandlers(&fakeStripe{})

	payload := []byte(`{"id":"evt_1","type":"charge.refunded","data":{"object":{"id":"ch_ref","refunds":{"data":[{"id":"re_1","reason":"","status":"succeeded"}]}}}}`)
	rec := httptest.NewRecorder()
	handlers.ChargeRefundedHandler(rec, signedRequest(t, "/stripe-webhook/charge-refunded", payload, webhookTestSecret))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	handlers := newWebhookHandlers(&fakeStripe{})

	payload := []byte(`{"id":"evt_1","type":"charge.refunded","data":{"object":{"id":"ch_ref"}}}`)
	rec := httptest.NewRecorder()
	handlers.ChargeRefundedHandler(rec, signedRequest(t, "/stripe-webhook/charge-refunded", payload, "whsec_wrong"))

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestWebhookMissingSignatureHeader(t *testing.T) {
	handlers := newWebhookHandlers(&fakeStripe{})

	payload := []byte(`{"id":"evt_1","type":"charge.refunded","data":{"object":{"id":"ch_ref"}}}`)
	req := httptest.NewRequest(http.MethodPost, "/stripe-webhook/charge-refunded", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	handlers.ChargeRefundedHandler(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestWebhookProcessingFailureIsServerError(t *testing.T) {
	stripe := &fakeStripe{
		retrieveChargeFn: func(ctx context.Context, chargeID string) (*stripeclient.Charge, error) {
			return nil, &stripeclient.APIError{StatusCode: 500, Type: "api_error"}
		},
	}
	handlers := newWebhookHandlers(stripe)

	payload := []byte(`{"id":"evt_1","type":"charge.succeeded","data":{"object":{"id":"ch_1"}}}`)
	rec := httptest.NewRecorder()
	handlers.ChargeSucceededHandler(rec, signedRequest(t, "/stripe-webhook/charge-succeeded", payload, webhookTestSecret))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestWebhookIgnoresOtherEventTypes(t *testing.T) {
	handlers := newWebhookHandlers(&fakeStripe{})

	payload := []byte(`{"id":"evt_1","type":"invoice.created","data":{"object":{"id":"in_1"}}}`)
	rec := httptest.NewRecorder()
	handlers.ChargeRefundedHandler(rec, signedRequest(t, "/stripe-webhook/charge-refunded", payload, webhookTestSecret))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected a no-op 200, got %d", rec.Code)
	}
}
