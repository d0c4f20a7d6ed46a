package gateway

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// zeroDecimalCurrencies have no minor unit.
var zeroDecimalCurrencies = map[string]bool{
	"JPY": true,
	"KRW": true,
	"VND": true,
}

// SupportedCurrencies lists what each provider is configured to charge in.
var SupportedCurrencies = map[string][]string{
	ProviderRazorpay: {"INR"},
	ProviderStripe:   {"INR", "USD", "EUR", "GBP", "JPY"},
}

// Exponent returns the number of minor-unit digits for a currency.
func Exponent(currency string) int32 {
	if zeroDecimalCurrencies[NormalizeCurrency(currency)] {
		return 0
	}
	return 2
}

// FromMinor converts an amount in minor units to major units exactly.
func FromMinor(amountMinor int64, currency string) decimal.Decimal {
	return decimal.New(amountMinor, -Exponent(currency))
}

// ToMinor converts a major-unit amount to minor units. Amounts with more
// precision than the currency allows are rejected rather than rounded.
func ToMinor(amount decimal.Decimal, currency string) (int64, error) {
	shifted := amount.Shift(Exponent(currency))
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, fmt.Errorf("amount %s has fractional minor units for %s", amount.String(), NormalizeCurrency(currency))
	}
	if shifted.Sign() < 0 {
		return 0, fmt.Errorf("negative amount %s", amount.String())
	}
	return shifted.IntPart(), nil
}

// Supports reports whether the provider can charge in currency.
func Supports(provider, currency string) bool {
	for _, c := range SupportedCurrencies[provider] {
		if c == NormalizeCurrency(currency) {
			return true
		}
	}
	return false
}
