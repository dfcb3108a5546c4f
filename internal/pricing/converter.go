package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// RateSource supplies exchange rates relative to the base currency.
type RateSource interface {
	Rate(code CurrencyCode) (decimal.Decimal, bool)
}

// Convert maps a base-currency amount into target and rounds it to target's precision.
// It fails closed when no positive rate is known for target.
func Convert(amount Money, target CurrencyCode, rates RateSource) (Money, error) {
	if amount.Currency != BaseCurrency {
		return Money{}, fmt.Errorf("%w: convert expects %s, got %s", ErrCurrencyMismatch, BaseCurrency, amount.Currency)
	}
	if _, ok := LookupCurrency(target); !ok {
		return Money{}, fmt.Errorf("%w: %q", ErrUnsupportedCurrency, target)
	}
	if target == BaseCurrency {
		return amount.Round(), nil
	}
	rate, err := rateFor(target, rates)
	if err != nil {
		return Money{}, err
	}
	return Money{Amount: amount.Amount.Mul(rate), Currency: target}.Round(), nil
}

// ToBase maps an amount back into the base currency, rounded to base precision.
func ToBase(amount Money, rates RateSource) (Money, error) {
	if _, ok := LookupCurrency(amount.Currency); !ok {
		return Money{}, fmt.Errorf("%w: %q", ErrUnsupportedCurrency, amount.Currency)
	}
	if amount.Currency == BaseCurrency {
		return amount.Round(), nil
	}
	rate, err := rateFor(amount.Currency, rates)
	if err != nil {
		return Money{}, err
	}
	return Money{Amount: amount.Amount.Div(rate), Currency: BaseCurrency}.Round(), nil
}

// ConvertTotals converts base totals into target. Total is the converted base total;
// shipping is derived as Total minus Subtotal so the displayed lines always add up to the
// amount that is charged.
func ConvertTotals(totals CheckoutTotals, target CurrencyCode, rates RateSource) (CheckoutTotals, error) {
	subtotal, err := Convert(totals.Subtotal, target, rates)
	if err != nil {
		return CheckoutTotals{}, err
	}
	total, err := Convert(totals.Total, target, rates)
	if err != nil {
		return CheckoutTotals{}, err
	}
	shipping, err := total.Sub(subtotal)
	if err != nil {
		return CheckoutTotals{}, err
	}
	if shipping.IsNegative() {
		shipping = Zero(target)
	}
	out := totals
	out.Subtotal = subtotal
	out.Shipping = shipping
	out.Tax = Zero(target)
	out.Total = total
	out.Currency = target
	return out, nil
}

func rateFor(code CurrencyCode, rates RateSource) (decimal.Decimal, error) {
	if rates == nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %s", ErrRateUnavailable, code)
	}
	rate, ok := rates.Rate(code)
	if !ok || !rate.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("%w: %s", ErrRateUnavailable, code)
	}
	return rate, nil
}
