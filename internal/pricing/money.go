package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Money is an amount tagged with its currency.
type Money struct {
	Amount   decimal.Decimal
	Currency CurrencyCode
}

// NewMoney builds Money from a decimal string such as "50.00". It panics on malformed input
// and is meant for constants and tests.
func NewMoney(amount string, currency CurrencyCode) Money {
	return Money{Amount: decimal.RequireFromString(amount), Currency: currency}
}

// Zero returns a zero amount in currency.
func Zero(currency CurrencyCode) Money {
	return Money{Amount: decimal.Zero, Currency: currency}
}

// Add sums two amounts of the same currency.
func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("%w: %s + %s", ErrCurrencyMismatch, m.Currency, other.Currency)
	}
	return Money{Amount: m.Amount.Add(other.Amount), Currency: m.Currency}, nil
}

// Sub subtracts other from m. Both must share a currency.
func (m Money) Sub(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("%w: %s - %s", ErrCurrencyMismatch, m.Currency, other.Currency)
	}
	return Money{Amount: m.Amount.Sub(other.Amount), Currency: m.Currency}, nil
}

// Round rounds half away from zero to the currency's display precision. Display and
// gateway encoding both go through this function so the shown and charged amounts agree.
func (m Money) Round() Money {
	c, ok := LookupCurrency(m.Currency)
	if !ok {
		return m
	}
	return Money{Amount: m.Amount.Round(c.Decimals()), Currency: m.Currency}
}

// Equal reports whether both amount and currency match.
func (m Money) Equal(other Money) bool {
	return m.Currency == other.Currency && m.Amount.Equal(other.Amount)
}

// LessThan compares two amounts of the same currency; mismatched currencies are never less.
func (m Money) LessThan(other Money) bool {
	return m.Currency == other.Currency && m.Amount.LessThan(other.Amount)
}

func (m Money) IsZero() bool { return m.Amount.IsZero() }

func (m Money) IsNegative() bool { return m.Amount.IsNegative() }

// StringFixed renders the amount at the currency's precision without a symbol.
func (m Money) StringFixed() string {
	c, ok := LookupCurrency(m.Currency)
	if !ok {
		return m.Amount.String()
	}
	return m.Amount.StringFixed(c.Decimals())
}

func (m Money) String() string {
	return m.StringFixed() + " " + string(m.Currency)
}
