/**
 * @description
 * This file sets up the HTTP router for the donation service. It defines the
 * donor-facing and webhook endpoints, associates them with their handlers,
 * and applies middleware: logging, panic recovery, timeouts, CORS for the
 * donation form, and rate limiting on the endpoints that reach a payment
 * provider.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS middleware for the cross-origin donation form.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// donateRateLimitScope names the limiter window shared by the endpoints
// that create provider charges.
const donateRateLimitScope = "donate"

// DonationRoutes creates and returns the router for the donation service.
func DonationRoutes(h *DonationHandlers, wh *WebhookHandlers, limiter RateLimiter, rateLimitPerMin int, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	if len(allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   allowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Donor-facing endpoints sit behind the per-client rate limit.
	r.Group(func(r chi.Router) {
		r.Use(RateLimitMiddleware(limiter, donateRateLimitScope, rateLimitPerMin, time.Minute))

		r.Post("/stripe", h.StripeDonationHandler)
		r.Post("/stripe/monthly-upgrade", h.StripeMonthlyUpgradeHandler)
		r.Post("/paypal", h.PayPalSetupHandler)
	})

	// The provider redirects the donor's browser here after wallet approval.
	r.Get("/paypal-redirect", h.PayPalRedirectHandler)

	// Newsletter endpoints
	r.Post("/signup", h.SignupHandler)
	r.Post("/mailchimp", h.MailchimpHandler)

	// Provider webhook endpoints, one per signed event family.
	r.Route("/stripe-webhook", func(r chi.Router) {
		r.Post("/charge-succeeded", wh.ChargeSucceededHandler)
		r.Post("/charge-failed", wh.ChargeFailedHandler)
		r.Post("/charge-refunded", wh.ChargeRefundedHandler)
		r.Post("/dispute", wh.DisputeHandler)
	})

	return r
}
