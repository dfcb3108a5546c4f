package pricing

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/vintage-storefront/api/internal/domain"
)

// CheckoutTotals is the derived price view of a cart for one destination and currency.
type CheckoutTotals struct {
	Subtotal Money
	Shipping Money
	// Tax is always zero; tax is settled by the payment provider.
	Tax          Money
	Total        Money
	Currency     CurrencyCode
	Country      string
	Zone         ZoneID
	FreeShipping bool
	ItemCount    int
}

// Calculator composes discount evaluation and zone lookup into base-currency totals.
type Calculator struct {
	zones *ZoneTable
	now   func() time.Time
}

// NewCalculator builds a calculator over zones. A nil clock uses time.Now.
func NewCalculator(zones *ZoneTable, now func() time.Time) *Calculator {
	if now == nil {
		now = time.Now
	}
	return &Calculator{zones: zones, now: now}
}

// Zones exposes the calculator's zone table.
func (c *Calculator) Zones() *ZoneTable {
	return c.zones
}

// CalculateTotals prices items for delivery to country in the base currency.
func (c *Calculator) CalculateTotals(items []domain.CartLineItem, country string) CheckoutTotals {
	return c.CalculateTotalsAt(items, country, c.now())
}

// CalculateTotalsAt is CalculateTotals with discount windows evaluated at now.
//
// The subtotal is summed unrounded and rounded once. An order ships free when every item
// carries the free-shipping flag or the zone's threshold is reached; otherwise the zone's
// flat rate applies once to the whole order. An empty cart has no shipping.
func (c *Calculator) CalculateTotalsAt(items []domain.CartLineItem, country string, now time.Time) CheckoutTotals {
	sum := decimal.Zero
	allFree := len(items) > 0
	for _, item := range items {
		sum = sum.Add(EvaluateDiscount(item, now).EffectivePrice())
		if !item.FreeShipping {
			allFree = false
		}
	}
	subtotal := Money{Amount: sum, Currency: BaseCurrency}.Round()

	country = strings.ToUpper(strings.TrimSpace(country))
	zone := c.zones.ResolveZone(country)

	free := allFree
	if !free && len(items) > 0 {
		if threshold, ok := c.zones.FreeShippingThreshold(zone); ok && !subtotal.LessThan(threshold) {
			free = true
		}
	}

	shipping := Zero(BaseCurrency)
	if len(items) > 0 && !free {
		shipping = c.zones.Rate(zone).Round()
	}

	return CheckoutTotals{
		Subtotal:     subtotal,
		Shipping:     shipping,
		Tax:          Zero(BaseCurrency),
		Total:        Money{Amount: subtotal.Amount.Add(shipping.Amount), Currency: BaseCurrency},
		Currency:     BaseCurrency,
		Country:      country,
		Zone:         zone,
		FreeShipping: free,
		ItemCount:    len(items),
	}
}
