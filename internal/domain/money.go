// internal/domain/money.go
package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultCurrency is used when an account is opened without an explicit currency.
const DefaultCurrency = "OMR"

var minorExponent = map[string]int32{
	"OMR": 3, "BHD": 3, "KWD": 3, "JOD": 3, "TND": 3, "LYD": 3, "IQD": 3,
	"JPY": 0, "KRW": 0, "CLP": 0, "VND": 0,
}

// Exponent returns the number of minor-unit digits for an ISO-4217 currency.
func Exponent(currency string) int32 {
	if e, ok := minorExponent[strings.ToUpper(currency)]; ok {
		return e
	}
	return 2
}

// ToMinor converts a major-unit decimal into integer minor units.
// Amounts with more precision than the currency allows are rejected, not rounded.
func ToMinor(amount decimal.Decimal, currency string) (int64, error) {
	shifted := amount.Shift(Exponent(currency))
	if !shifted.IsInteger() {
		return 0, fmt.Errorf("%w: %s has more than %d decimals for %s",
			ErrInvalidInput, amount.String(), Exponent(currency), currency)
	}
	return shifted.IntPart(), nil
}

// FromMinor converts minor units back to a major-unit decimal.
func FromMinor(amount int64, currency string) decimal.Decimal {
	return decimal.New(amount, -Exponent(currency))
}

// FormatMinor renders an amount like "100.000 OMR".
func FormatMinor(amount int64, currency string) string {
	return FromMinor(amount, currency).StringFixed(Exponent(currency)) + " " + strings.ToUpper(currency)
}

// ServiceFee computes a percentage fee in minor units, rounded half-up.
func ServiceFee(amount int64, percent decimal.Decimal) int64 {
	if percent.IsZero() || amount <= 0 {
		return 0
	}
	return decimal.NewFromInt(amount).Mul(percent).Div(decimal.NewFromInt(100)).Round(0).IntPart()
}

// NormalizeCurrency upper-cases a currency code. Empty stays empty so callers
// can apply their configured default.
func NormalizeCurrency(c string) string {
	return strings.ToUpper(strings.TrimSpace(c))
}
