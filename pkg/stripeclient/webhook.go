/**
 * @description
 * Webhook event construction and signature verification for the card
 * provider. Each webhook endpoint is signed with its own per-event-family
 * secret; verification is a hard gate that fails closed.
 */
package stripeclient

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader is the HTTP header carrying the webhook signature.
const SignatureHeader = "Stripe-Signature"

// DefaultTolerance bounds how old a signed webhook timestamp may be before it
// is rejected as a possible replay.
const DefaultTolerance = 5 * time.Minute

// ErrSignatureInvalid is returned when a webhook payload cannot be
// authenticated against the endpoint's signing secret.
var ErrSignatureInvalid = errors.New("webhook signature verification failed")

// Event is a provider webhook event. Data.Raw holds the event object,
// decoded on demand into a Charge or Dispute by the caller.
type Event struct {
	ID   string    `json:"id"`
	Type string    `json:"type"`
	Data EventData `json:"data"`
}

// EventData wraps the raw event object.
type EventData struct {
	Raw json.RawMessage `json:"object"`
}

// Charge decodes the event object as a charge.
func (e *Event) Charge() (*Charge, error) {
	var charge Charge
	if err := json.Unmarshal(e.Data.Raw, &charge); err != nil {
		return nil, fmt.Errorf("failed to decode event charge: %w", err)
	}
	return &charge, nil
}

// Dispute decodes the event object as a dispute.
func (e *Event) Dispute() (*Dispute, error) {
	var dispute Dispute
	if err := json.Unmarshal(e.Data.Raw, &dispute); err != nil {
		return nil, fmt.Errorf("failed to decode event dispute: %w", err)
	}
	return &dispute, nil
}

// ConstructEvent verifies the signature header against the endpoint secret and
// parses the payload into an Event. Any authentication failure, malformed
// header, or stale timestamp yields ErrSignatureInvalid; the payload is never
// inspected before it is authenticated.
func ConstructEvent(payload []byte, sigHeader, secret string) (*Event, error) {
	timestamp, signatures, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return nil, err
	}

	if time.Since(time.Unix(timestamp, 0)) > DefaultTolerance {
		return nil, ErrSignatureInvalid
	}

	expected := ComputeSignature(payload, secret, timestamp)
	matched := false
	for _, signature := range signatures {
		provided, decodeErr := hex.DecodeString(signature)
		if decodeErr != nil {
			continue
		}
		if hmac.Equal(provided, expected) {
			matched = true
		}
	}
	if !matched {
		return nil, ErrSignatureInvalid
	}

	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("failed to decode webhook event: %w", err)
	}
	return &event, nil
}

// ComputeSignature returns the HMAC-SHA256 of the timestamped payload. It is
// exported so tests can sign fixture payloads the way the provider does.
func ComputeSignature(payload []byte, secret string, timestamp int64) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return mac.Sum(nil)
}

// parseSignatureHeader splits "t=<ts>,v1=<sig>[,v1=<sig>...]" into its parts.
func parseSignatureHeader(header string) (int64, []string, error) {
	if strings.TrimSpace(header) == "" {
		return 0, nil, ErrSignatureInvalid
	}

	var timestamp int64 = -1
	var signatures []string

	for _, pair := range strings.Split(header, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(parts) != 2 {
			continue
		}
		switch parts[0] {
		case "t":
			ts, err := strconv.ParseInt(parts[1], 10, 64)
			if err != nil {
				return 0, nil, ErrSignatureInvalid
			}
			timestamp = ts
		case "v1":
			signatures = append(signatures, parts[1])
		}
	}

	if timestamp < 0 || len(signatures) == 0 {
		return 0, nil, ErrSignatureInvalid
	}
	return timestamp, signatures, nil
}
