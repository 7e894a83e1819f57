/**
 * @description
 * This file contains the HTTP handlers for the provider webhook endpoints.
 * Each event family has its own endpoint and its own signing secret; the
 * handlers read the raw body, hand it with the signature header to the
 * reconciler, and translate the outcome into a status code. The caller is an
 * automated system, so processing failures surface as server errors rather
 * than client errors.
 *
 * @dependencies
 * - errors, io, log, net/http: Standard Go libraries.
 * - internal/app, pkg/stripeclient: Reconciliation logic and signature errors.
 */

package api

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/enterstudio/donation-service/internal/app"
	"github.com/enterstudio/donation-service/pkg/stripeclient"
)

// maxWebhookBody bounds how much of a webhook payload is read. Provider
// events are small; anything larger is not a legitimate event.
const maxWebhookBody = 1 << 18

// WebhookHandlers holds the reconciler the webhook endpoints drive.
type WebhookHandlers struct {
	reconciler *app.Reconciler
}

// NewWebhookHandlers creates a new instance of WebhookHandlers.
func NewWebhookHandlers(reconciler *app.Reconciler) *WebhookHandlers {
	return &WebhookHandlers{reconciler: reconciler}
}

// ChargeSucceededHandler processes charge succeeded events.
func (h *WebhookHandlers) ChargeSucceededHandler(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, "charge_succeeded", h.reconciler.HandleChargeSucceeded)
}

// ChargeFailedHandler processes charge failed events.
func (h *WebhookHandlers) ChargeFailedHandler(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, "charge_failed", h.reconciler.HandleChargeFailed)
}

// ChargeRefundedHandler processes charge refunded events.
func (h *WebhookHandlers) ChargeRefundedHandler(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, "charge_refunded", h.reconciler.HandleChargeRefunded)
}

// DisputeHandler processes dispute lifecycle events.
func (h *WebhookHandlers) DisputeHandler(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, "dispute", h.reconciler.HandleDispute)
}

func (h *WebhookHandlers) handle(w http.ResponseWriter, r *http.Request, endpoint string, reconcile func(ctx context.Context, payload []byte, sigHeader string) (string, error)) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		log.Printf("level=warn component=webhook_api endpoint=%s outcome=reject reason=unreadable_body err=%v", endpoint, err)
		http.Error(w, "Unable to read payload", http.StatusBadRequest)
		return
	}

	ack, err := reconcile(r.Context(), payload, r.Header.Get(stripeclient.SignatureHeader))
	if err != nil {
		if errors.Is(err, stripeclient.ErrSignatureInvalid) {
			log.Printf("level=warn component=webhook_api endpoint=%s outcome=forbidden reason=bad_signature", endpoint)
			http.Error(w, "Signature verification failed", http.StatusForbidden)
			return
		}
		log.Printf("level=error component=webhook_api endpoint=%s outcome=error err=%v", endpoint, err)
		http.Error(w, "Event processing failed", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte(ack))
}
