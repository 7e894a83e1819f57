/**
 * @description
 * This package converts donor-entered decimal amounts into the integer
 * minor-unit amounts the payment providers expect, and back again for
 * outbound CRM records. Pure functions, no I/O.
 *
 * @notes
 * - Zero-decimal currencies (JPY and friends) have no minor unit: the decimal
 *   amount maps 1:1. Every other supported currency uses two decimals.
 * - ToDecimalUnits(ToMinorUnits(x)) == x for all representable two-decimal
 *   amounts; the round-trip is relied on by the basket queue correction.
 */

package currency

import (
	"errors"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidAmount is returned when a donation amount is non-positive or
// non-finite.
var ErrInvalidAmount = errors.New("invalid donation amount")

// zeroDecimalCurrencies are the ISO codes with no minor unit, matching the set
// the card provider treats as zero-decimal.
var zeroDecimalCurrencies = map[string]struct{}{
	"BIF": {}, "CLP": {}, "DJF": {}, "GNF": {}, "JPY": {}, "KMF": {},
	"KRW": {}, "MGA": {}, "PYG": {}, "RWF": {}, "UGX": {}, "VND": {},
	"VUV": {}, "XAF": {}, "XOF": {}, "XPF": {},
}

// IsZeroDecimal reports whether the currency has no minor unit.
func IsZeroDecimal(code string) bool {
	_, ok := zeroDecimalCurrencies[strings.ToUpper(code)]
	return ok
}

// ToMinorUnits converts a decimal donor-facing amount into the integer
// minor-unit amount for the given currency.
func ToMinorUnits(amount float64, code string) (int64, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return 0, ErrInvalidAmount
	}
	if IsZeroDecimal(code) {
		return int64(math.Round(amount)), nil
	}
	return int64(math.Round(amount * 100)), nil
}

// ToDecimalUnits converts an integer minor-unit amount back into decimal
// donor-facing units. Used only on the outbound queue path.
func ToDecimalUnits(minor int64, code string) float64 {
	if IsZeroDecimal(code) {
		return float64(minor)
	}
	return float64(minor) / 100
}

// FormatAmount renders a decimal amount the way the wallet provider's API
// expects it: two decimal places, or none for zero-decimal currencies.
func FormatAmount(amount float64, code string) (string, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return "", ErrInvalidAmount
	}
	if IsZeroDecimal(code) {
		return strconv.FormatInt(int64(math.Round(amount)), 10), nil
	}
	return strconv.FormatFloat(math.Round(amount*100)/100, 'f', 2, 64), nil
}
