package models

import (
	"fmt"
	"strings"
)

// Amount is a count of currency minor units (cents for USD).
// All money arithmetic in the engine happens on Amount; floats never touch it.
type Amount int64

// MaxAmount bounds a single amount so fee math cannot overflow int64.
const MaxAmount Amount = 1_000_000_000_000

const bpsDenominator = 10_000

// DefaultCurrency is used when a task does not name one.
const DefaultCurrency = "USD"

// String renders the amount with two decimals, e.g. 14250 -> "142.50".
func (a Amount) String() string {
	sign := ""
	v := int64(a)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// FeeOf returns bps basis points of a, rounded half-up to the nearest minor unit.
func FeeOf(a Amount, bps int64) Amount {
	if a <= 0 || bps <= 0 {
		return 0
	}
	return Amount((int64(a)*bps + bpsDenominator/2) / bpsDenominator)
}

// NormalizeCurrency upper-cases and trims a currency code, defaulting to USD.
func NormalizeCurrency(c string) string {
	c = strings.ToUpper(strings.TrimSpace(c))
	if c == "" {
		return DefaultCurrency
	}
	return c
}

// ValidCurrency reports whether c looks like an ISO-4217 alpha code.
func ValidCurrency(c string) bool {
	if len(c) != 3 {
		return false
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
