package currency

import (
	"math"
	"testing"
)

func TestToMinorUnits(t *testing.T) {
	tests := []struct {
		name     string
		amount   float64
		currency string
		want     int64
		wantErr  bool
	}{
		{name: "two-decimal currency multiplies by 100", amount: 25.00, currency: "USD", want: 2500},
		{name: "two-decimal currency rounds to nearest cent", amount: 10.005, currency: "EUR", want: 1001},
		{name: "lowercase currency code", amount: 5.50, currency: "gbp", want: 550},
		{name: "zero-decimal currency maps one to one", amount: 1500, currency: "JPY", want: 1500},
		{name: "zero-decimal currency rounds fractions", amount: 1500.4, currency: "KRW", want: 1500},
		{name: "zero amount rejected", amount: 0, currency: "USD", wantErr: true},
		{name: "negative amount rejected", amount: -3, currency: "USD", wantErr: true},
		{name: "NaN rejected", amount: math.NaN(), currency: "USD", wantErr: true},
		{name: "infinity rejected", amount: math.Inf(1), currency: "USD", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToMinorUnits(tt.amount, tt.currency)
			if tt.wantErr {
				if err != ErrInvalidAmount {
					t.Fatalf("expected ErrInvalidAmount, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %d minor units, got %d", tt.want, got)
			}
		})
	}
}

func TestToDecimalUnitsRoundTrip(t *testing.T) {
	// Every representable two-decimal amount must survive the round trip.
	for cents := int64(1); cents <= 500000; cents += 7 {
		amount := float64(cents) / 100
		minor, err := ToMinorUnits(amount, "USD")
		if err != nil {
			t.Fatalf("ToMinorUnits(%v) returned error: %v", amount, err)
		}
		back := ToDecimalUnits(minor, "USD")
		if back != amount {
			t.Fatalf("round trip of %v: got %v via %d minor units", amount, back, minor)
		}
	}
}

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		name     string
		amount   float64
		currency string
		want     string
		wantErr  bool
	}{
		{name: "two-decimal currency", amount: 25, currency: "USD", want: "25.00"},
		{name: "fractional amount", amount: 10.5, currency: "EUR", want: "10.50"},
		{name: "zero-decimal currency", amount: 1500, currency: "JPY", want: "1500"},
		{name: "non-positive amount rejected", amount: 0, currency: "USD", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FormatAmount(tt.amount, tt.currency)
			if tt.wantErr {
				if err != ErrInvalidAmount {
					t.Fatalf("expected ErrInvalidAmount, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestToDecimalUnitsZeroDecimal(t *testing.T) {
	if got := ToDecimalUnits(1500, "JPY"); got != 1500 {
		t.Fatalf("expected 1500, got %v", got)
	}
	if got := ToDecimalUnits(1500, "USD"); got != 15.00 {
		t.Fatalf("expected 15.00, got %v", got)
	}
}
