package fxrates

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vintage-storefront/api/internal/pricing"
)

// Snapshot is an immutable set of rates relative to the base currency.
type Snapshot struct {
	Base      pricing.CurrencyCode
	Rates     map[pricing.CurrencyCode]decimal.Decimal
	FetchedAt time.Time
	// Fetched is false when the rates come from the static fallback table. It is
	// informational for display and does not change pricing.
	Fetched bool
	Source  string
}

// Rate returns the rate for code. The base currency always has rate 1.
func (s Snapshot) Rate(code pricing.CurrencyCode) (decimal.Decimal, bool) {
	if code == s.Base {
		return decimal.NewFromInt(1), true
	}
	rate, ok := s.Rates[code]
	if !ok || !rate.IsPositive() {
		return decimal.Decimal{}, false
	}
	return rate, true
}

// Age reports how old the snapshot is at now.
func (s Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.FetchedAt)
}

func (s Snapshot) isZero() bool {
	return s.Base == "" && len(s.Rates) == 0
}

var _ pricing.RateSource = Snapshot{}

// Source fetches live rates for symbols relative to base.
type Source interface {
	Name() string
	FetchRates(ctx context.Context, base pricing.CurrencyCode, symbols []pricing.CurrencyCode) (map[pricing.CurrencyCode]decimal.Decimal, error)
}

// Fallback returns the static table used when no live rates are available.
func Fallback() Snapshot {
	return Snapshot{
		Base: pricing.BaseCurrency,
		Rates: map[pricing.CurrencyCode]decimal.Decimal{
			pricing.USD: decimal.RequireFromString("1.16"),
			pricing.GBP: decimal.RequireFromString("0.86"),
			pricing.JPY: decimal.RequireFromString("172"),
			pricing.CAD: decimal.RequireFromString("1.60"),
			pricing.AUD: decimal.RequireFromString("1.78"),
		},
		Source: "fallback",
	}
}

func quoteCurrencies() []pricing.CurrencyCode {
	all := pricing.SupportedCurrencies()
	out := make([]pricing.CurrencyCode, 0, len(all))
	for _, c := range all {
		if c.Code == pricing.BaseCurrency {
			continue
		}
		out = append(out, c.Code)
	}
	return out
}

func cloneRates(src map[pricing.CurrencyCode]decimal.Decimal) map[pricing.CurrencyCode]decimal.Decimal {
	dst := make(map[pricing.CurrencyCode]decimal.Decimal, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
