package session

import (
	"errors"
	"strings"
	"testing"
)

func TestCodecRoundTrip(t *testing.T) {
	codec, err := NewCodec("a-sufficiently-long-cookie-secret")
	if err != nil {
		t.Fatalf("NewCodec returned error: %v", err)
	}

	token, err := codec.Encode(Payload{StripeCustomerID: "cus_9a8b7c6d"})
	if err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}
	if token == "" || strings.Contains(token, "cus_9a8b7c6d") {
		t.Fatalf("token must be opaque, got %q", token)
	}

	payload, err := codec.Decode(token)
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	if payload.StripeCustomerID != "cus_9a8b7c6d" {
		t.Fatalf("expected customer id to round trip, got %q", payload.StripeCustomerID)
	}
}

func TestCodecEncodeIsSaltedPerToken(t *testing.T) {
	codec, _ := NewCodec("a-sufficiently-long-cookie-secret")

	first, err := codec.Encode(Payload{StripeCustomerID: "cus_same"})
	if err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}
	second, err := codec.Encode(Payload{StripeCustomerID: "cus_same"})
	if err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}
	if first == second {
		t.Fatal("expected distinct tokens for the same payload")
	}
}

func TestCodecDecodeRejectsWrongSecret(t *testing.T) {
	issuer, _ := NewCodec("secret-one")
	verifier, _ := NewCodec("secret-two")

	token, err := issuer.Encode(Payload{StripeCustomerID: "cus_abc"})
	if err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}

	if _, err := verifier.Decode(token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestCodecDecodeRejectsCorruptedTokens(t *testing.T) {
	codec, _ := NewCodec("a-sufficiently-long-cookie-secret")
	token, err := codec.Encode(Payload{StripeCustomerID: "cus_abc"})
	if err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty token", token: ""},
		{name: "garbage token", token: "not-a-token"},
		{name: "missing segment", token: "v1.onlyonesegment"},
		{name: "unknown version", token: "v9" + token[2:]},
		{name: "flipped ciphertext byte", token: token[:len(token)-2] + "AA"},
		{name: "truncated ciphertext", token: token[:len(token)/2]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := codec.Decode(tt.token); !errors.Is(err, ErrTokenInvalid) {
				t.Fatalf("expected ErrTokenInvalid, got %v", err)
			}
		})
	}
}
