package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BaseCurrency is the currency catalog prices are stored in.
const BaseCurrency = "EUR"

// DiscountWindow is an optional time-bounded override price on a product.
// A nil bound is unbounded on that side.
type DiscountWindow struct {
	Price    decimal.Decimal
	StartsAt *time.Time
	EndsAt   *time.Time
}

// Product is the read-only catalog view consumed by pricing.
type Product struct {
	ID           string
	Name         string
	Price        decimal.Decimal
	Currency     string
	Discount     *DiscountWindow
	WeightGrams  int
	FreeShipping bool
	Published    bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RegularPrice returns the undiscounted base-currency price.
func (p Product) RegularPrice() decimal.Decimal { return p.Price }

// DiscountWindow returns the configured discount, if any.
func (p Product) DiscountWindow() *DiscountWindow { return p.Discount }

// Cart holds the line items a shopper has added. Prices on each line are frozen
// at the moment the item was added.
type Cart struct {
	ID        string
	Items     []CartLineItem
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CartLineItem is a single catalog item captured into a cart.
type CartLineItem struct {
	ID           string
	ProductID    string
	Name         string
	UnitPrice    decimal.Decimal
	Discount     *DiscountWindow
	WeightGrams  int
	FreeShipping bool
	AddedAt      time.Time
}

// RegularPrice returns the price captured when the item entered the cart.
func (i CartLineItem) RegularPrice() decimal.Decimal { return i.UnitPrice }

// DiscountWindow returns the discount captured when the item entered the cart.
func (i CartLineItem) DiscountWindow() *DiscountWindow { return i.Discount }

// ItemIDs returns the product identifiers of the cart's line items in cart order.
func (c Cart) ItemIDs() []string {
	ids := make([]string, 0, len(c.Items))
	for _, item := range c.Items {
		ids = append(ids, item.ProductID)
	}
	return ids
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency check.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// RatesStatus summarises the exchange rate snapshot checkout is quoting from.
type RatesStatus struct {
	Source    string
	Live      bool
	FetchedAt time.Time
	Age       time.Duration
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Rates       *RatesStatus
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
