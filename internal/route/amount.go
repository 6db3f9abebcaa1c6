package route

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrInvalidAmount is returned when a raw amount is not a non-negative integer.
var ErrInvalidAmount = errors.New("route: invalid raw amount")

// ParseAmount parses a raw token amount expressed in base units.
func ParseAmount(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.Zero, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	if !d.IsInteger() || d.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	return d, nil
}

// AddAmounts returns the exact sum of two raw integer amounts. Callers
// decide how to degrade when either side does not parse.
func AddAmounts(a, b string) (string, error) {
	da, err := ParseAmount(a)
	if err != nil {
		return "", err
	}
	db, err := ParseAmount(b)
	if err != nil {
		return "", err
	}
	return da.Add(db).String(), nil
}

// AmountParseable reports whether raw is a valid raw integer amount.
func AmountParseable(raw string) bool {
	_, err := ParseAmount(raw)
	return err == nil
}

// SanitizeUSD coerces NaN, infinities and negatives to zero.
func SanitizeUSD(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

// ParseUSD parses a USD value from an upstream string field. Anything
// unparseable becomes zero.
func ParseUSD(raw string) float64 {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0
	}
	if d, err := decimal.NewFromString(s); err == nil {
		return SanitizeUSD(d.InexactFloat64())
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return SanitizeUSD(f)
}
