/**
 * @description
 * This file contains custom middleware for the HTTP router. The donation
 * endpoints sit behind a Redis-backed fixed-window rate limit keyed by
 * client IP, which keeps card-testing scripts away from the charge flow.
 * The limiter degrades open: a Redis failure never blocks a donation.
 *
 * @dependencies
 * - context, log, net, net/http, strconv, strings, time: Standard Go libraries.
 */

package api

import (
	"context"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RateLimiter is the distributed limiter surface the middleware consumes.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// RateLimitMiddleware creates a middleware enforcing a per-client request
// limit inside a fixed window. A nil limiter or non-positive limit disables
// enforcement entirely.
func RateLimitMiddleware(limiter RateLimiter, scope string, limit int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil || limit <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			subject := clientIP(r)
			count, retryAfter, err := limiter.ConsumeRateLimit(r.Context(), scope, subject, limit, window)
			if err != nil {
				log.Printf("level=warn component=rate_limit scope=%s msg=\"limiter unavailable, allowing request\" err=%v", scope, err)
				next.ServeHTTP(w, r)
				return
			}

			if count > limit {
				log.Printf("level=warn component=rate_limit scope=%s outcome=reject subject=%s count=%d limit=%d", scope, subject, count, limit)
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				http.Error(w, "Too many requests", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP extracts the client address, trusting the first forwarded hop
// when the service runs behind a proxy.
func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
