package pricing

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/vintage-storefront/api/internal/domain"
)

// CurrencyCode is an ISO 4217 code from the supported set.
type CurrencyCode string

const (
	EUR CurrencyCode = "EUR"
	USD CurrencyCode = "USD"
	GBP CurrencyCode = "GBP"
	JPY CurrencyCode = "JPY"
	CAD CurrencyCode = "CAD"
	AUD CurrencyCode = "AUD"
)

// BaseCurrency is the currency catalog prices and totals are computed in.
const BaseCurrency = CurrencyCode(domain.BaseCurrency)

// Currency holds the display and charge metadata for a supported currency.
type Currency struct {
	Code             CurrencyCode
	Symbol           string
	MinorUnitDivisor int64
	// MinimumCharge is the smallest chargeable amount in major units.
	MinimumCharge decimal.Decimal
}

// Decimals returns the display precision of the currency.
func (c Currency) Decimals() int32 {
	if c.MinorUnitDivisor <= 1 {
		return 0
	}
	places := int32(0)
	for d := c.MinorUnitDivisor; d > 1; d /= 10 {
		places++
	}
	return places
}

// Minimum returns the minimum chargeable amount as Money.
func (c Currency) Minimum() Money {
	return Money{Amount: c.MinimumCharge, Currency: c.Code}
}

var supportedOrder = []CurrencyCode{EUR, USD, GBP, JPY, CAD, AUD}

var currencyTable = map[CurrencyCode]Currency{
	EUR: {Code: EUR, Symbol: "€", MinorUnitDivisor: 100, MinimumCharge: decimal.RequireFromString("0.50")},
	USD: {Code: USD, Symbol: "$", MinorUnitDivisor: 100, MinimumCharge: decimal.RequireFromString("0.50")},
	GBP: {Code: GBP, Symbol: "£", MinorUnitDivisor: 100, MinimumCharge: decimal.RequireFromString("0.30")},
	JPY: {Code: JPY, Symbol: "¥", MinorUnitDivisor: 1, MinimumCharge: decimal.NewFromInt(50)},
	CAD: {Code: CAD, Symbol: "CA$", MinorUnitDivisor: 100, MinimumCharge: decimal.RequireFromString("0.50")},
	AUD: {Code: AUD, Symbol: "A$", MinorUnitDivisor: 100, MinimumCharge: decimal.RequireFromString("0.50")},
}

// LookupCurrency returns the table entry for code.
func LookupCurrency(code CurrencyCode) (Currency, bool) {
	c, ok := currencyTable[code]
	return c, ok
}

// MustCurrency returns the table entry for code and panics when it is unsupported.
func MustCurrency(code CurrencyCode) Currency {
	c, ok := currencyTable[code]
	if !ok {
		panic(fmt.Sprintf("pricing: unsupported currency %q", code))
	}
	return c
}

// SupportedCurrencies lists the supported currencies with the base currency first.
func SupportedCurrencies() []Currency {
	out := make([]Currency, 0, len(supportedOrder))
	for _, code := range supportedOrder {
		out = append(out, currencyTable[code])
	}
	return out
}

// ParseCurrencyCode normalises raw and checks it against the supported set.
func ParseCurrencyCode(raw string) (CurrencyCode, error) {
	code := CurrencyCode(strings.ToUpper(strings.TrimSpace(raw)))
	if _, ok := currencyTable[code]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedCurrency, raw)
	}
	return code, nil
}

// GatewayCurrency returns the lower-case code payment gateways expect.
func GatewayCurrency(code CurrencyCode) string {
	return strings.ToLower(string(code))
}
