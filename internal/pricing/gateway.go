package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// EncodeAmount converts an amount into the integer minor units a payment gateway expects.
// It is the only place amounts are encoded, and it rounds through Money.Round first so the
// encoded value matches what was displayed.
func EncodeAmount(amount Money) (int64, error) {
	c, ok := LookupCurrency(amount.Currency)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedCurrency, amount.Currency)
	}
	if amount.IsNegative() {
		return 0, fmt.Errorf("%w: negative amount %s", ErrInvalidAmount, amount)
	}
	minor := amount.Round().Amount.Mul(decimal.NewFromInt(c.MinorUnitDivisor))
	if !minor.IsInteger() {
		return 0, fmt.Errorf("%w: %s does not encode to whole minor units", ErrInvalidAmount, amount)
	}
	return minor.IntPart(), nil
}

// MeetsMinimum reports whether the rounded amount reaches its currency's minimum charge.
func MeetsMinimum(amount Money) bool {
	c, ok := LookupCurrency(amount.Currency)
	if !ok {
		return false
	}
	return !amount.Round().Amount.LessThan(c.MinimumCharge)
}

// ValidateChargeAmount returns a *BelowMinimumError when amount cannot be charged.
func ValidateChargeAmount(amount Money) error {
	c, ok := LookupCurrency(amount.Currency)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedCurrency, amount.Currency)
	}
	if !MeetsMinimum(amount) {
		return &BelowMinimumError{Amount: amount.Round(), Minimum: c.Minimum()}
	}
	return nil
}
