package pricing

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedCurrency indicates a currency code outside the supported table.
	ErrUnsupportedCurrency = errors.New("pricing: unsupported currency")
	// ErrCurrencyMismatch indicates arithmetic across two currencies without conversion.
	ErrCurrencyMismatch = errors.New("pricing: currency mismatch")
	// ErrRateUnavailable indicates no exchange rate exists for the target currency.
	ErrRateUnavailable = errors.New("pricing: exchange rate unavailable")
	// ErrBelowMinimum indicates a charge amount below the currency minimum.
	ErrBelowMinimum = errors.New("pricing: amount below currency minimum")
	// ErrInvalidAmount indicates an amount the gateway cannot represent.
	ErrInvalidAmount = errors.New("pricing: invalid amount")
)

// BelowMinimumError reports the rejected amount together with the minimum it missed.
type BelowMinimumError struct {
	Amount  Money
	Minimum Money
}

func (e *BelowMinimumError) Error() string {
	return fmt.Sprintf("pricing: %s is below the minimum charge of %s", Display(e.Amount), Display(e.Minimum))
}

func (e *BelowMinimumError) Unwrap() error {
	return ErrBelowMinimum
}
