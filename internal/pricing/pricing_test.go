package pricing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/vintage-storefront/api/internal/domain"
)

var fixedNow = time.Date(2024, 10, 10, 12, 0, 0, 0, time.UTC)

type staticRates map[CurrencyCode]decimal.Decimal

func (s staticRates) Rate(code CurrencyCode) (decimal.Decimal, bool) {
	if code == BaseCurrency {
		return decimal.NewFromInt(1), true
	}
	r, ok := s[code]
	return r, ok
}

func testRates() staticRates {
	return staticRates{
		USD: decimal.RequireFromString("1.16"),
		GBP: decimal.RequireFromString("0.86"),
		JPY: decimal.RequireFromString("172"),
		CAD: decimal.RequireFromString("1.60"),
		AUD: decimal.RequireFromString("1.78"),
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func lineItem(id string, price string) domain.CartLineItem {
	return domain.CartLineItem{ID: "li_" + id, ProductID: id, UnitPrice: dec(price)}
}

func mustDefaultZones(t *testing.T, opts ...ZoneOption) *ZoneTable {
	t.Helper()
	zones, err := DefaultZoneTable(opts...)
	if err != nil {
		t.Fatalf("default zone table: %v", err)
	}
	return zones
}
