package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/vintage-storefront/api/internal/domain"
	"github.com/vintage-storefront/api/internal/platform/fxrates"
	"github.com/vintage-storefront/api/internal/pricing"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Cart               = domain.Cart
	CartLineItem       = domain.CartLineItem
	Product            = domain.Product
	SystemHealthReport = domain.SystemHealthReport
)

// CatalogService answers the read-only pricing questions the storefront asks before checkout.
type CatalogService interface {
	GetProductPrice(ctx context.Context, productID string) (ProductPrice, error)
	ListCurrencies(ctx context.Context) (CurrencyTable, error)
	ListShippingZones(ctx context.Context) ([]ShippingZone, error)
}

// CartService manages carts whose line items freeze the catalog price at add time.
type CartService interface {
	GetCart(ctx context.Context, cartID string) (Cart, error)
	AddItem(ctx context.Context, cmd AddCartItemCommand) (Cart, error)
	RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error)
}

// CheckoutService prices carts for a destination and currency and creates payment intents.
type CheckoutService interface {
	Quote(ctx context.Context, cmd QuoteCommand) (CheckoutQuote, error)
	CreatePaymentIntent(ctx context.Context, cmd PaymentIntentCommand) (PaymentIntentResult, error)
}

// SystemService exposes operational metadata for health endpoints.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// RateProvider returns the exchange-rate snapshot to price against. It never fails.
type RateProvider interface {
	GetRates(ctx context.Context) fxrates.Snapshot
}

// IntentCache remembers the last payment intent created for each cart.
type IntentCache interface {
	Get(ctx context.Context, cartID string) (CachedIntent, bool, error)
	Put(ctx context.Context, intent CachedIntent) error
	Delete(ctx context.Context, cartID string) error
}

// CheckoutEventPublisher emits checkout lifecycle events to downstream consumers.
type CheckoutEventPublisher interface {
	PublishPaymentIntentCreated(ctx context.Context, event PaymentIntentCreatedEvent) (string, error)
}

// EventPaymentIntentCreated is the event type attribute for newly created intents.
const EventPaymentIntentCreated = "checkout.payment_intent.created"

// ProductPrice is the priced view of a single catalog product.
type ProductPrice struct {
	ProductID          string
	Name               string
	Regular            pricing.Money
	Effective          pricing.Money
	DiscountStatus     pricing.DiscountStatus
	DiscountActive     bool
	DiscountPercentage string
	DiscountEndsAt     *time.Time
	FreeShipping       bool
}

// CurrencyTable lists supported currencies with the rates currently in use.
type CurrencyTable struct {
	Base       pricing.CurrencyCode
	Currencies []CurrencyRate
	Live       bool
	FetchedAt  time.Time
	Source     string
}

// CurrencyRate pairs a supported currency with its rate against the base currency.
type CurrencyRate struct {
	Currency pricing.Currency
	Rate     decimal.Decimal
}

// ShippingZone is the public view of a shipping zone.
type ShippingZone struct {
	ID                    pricing.ZoneID
	Countries             []string
	Rate                  pricing.Money
	FreeShippingThreshold *pricing.Money
}

// AddCartItemCommand adds a catalog product to a cart, creating the cart when needed.
type AddCartItemCommand struct {
	CartID    string
	ProductID string
}

// RemoveCartItemCommand removes a line item from a cart.
type RemoveCartItemCommand struct {
	CartID string
	ItemID string
}

// QuoteCommand prices a cart for a destination country and display currency.
type QuoteCommand struct {
	CartID   string
	Country  string
	Currency string
}

// CheckoutQuote is the full priced view of a cart for one destination and currency.
type CheckoutQuote struct {
	CartID          string
	Base            pricing.CheckoutTotals
	Totals          pricing.CheckoutTotals
	Rate            decimal.Decimal
	RatesLive       bool
	RatesFetchedAt  time.Time
	GatewayAmount   int64
	GatewayCurrency string
	Minimum         pricing.Money
	MeetsMinimum    bool
	Display         QuoteDisplay
	ItemIDs         []string
}

// QuoteDisplay carries locale-independent display strings for the quote.
type QuoteDisplay struct {
	Subtotal string
	Shipping string
	Total    string
}

// PaymentIntentCommand requests a payment intent for the server-side quote of a cart.
type PaymentIntentCommand struct {
	CartID            string
	Country           string
	Currency          string
	PreferredProvider string
	Metadata          map[string]string
}

// PaymentIntentResult is the intent handed back to the storefront along with its quote.
type PaymentIntentResult struct {
	IntentID     string
	ClientSecret string
	Provider     string
	Amount       int64
	Currency     string
	Fingerprint  string
	Reused       bool
	Quote        CheckoutQuote
}

// CachedIntent is the cache record for a cart's most recent payment intent.
type CachedIntent struct {
	CartID       string    `json:"cartId"`
	Fingerprint  string    `json:"fingerprint"`
	Amount       int64     `json:"amount"`
	Currency     string    `json:"currency"`
	IntentID     string    `json:"intentId"`
	ClientSecret string    `json:"clientSecret"`
	Provider     string    `json:"provider"`
	CreatedAt    time.Time `json:"createdAt"`
}

// PaymentIntentCreatedEvent is published after a new intent is created.
type PaymentIntentCreatedEvent struct {
	CartID      string    `json:"cartId"`
	Fingerprint string    `json:"fingerprint"`
	IntentID    string    `json:"intentId"`
	Provider    string    `json:"provider"`
	Amount      int64     `json:"amount"`
	Currency    string    `json:"currency"`
	Country     string    `json:"country"`
	BaseTotal   string    `json:"baseTotal"`
	RatesLive   bool      `json:"ratesLive"`
	CreatedAt   time.Time `json:"createdAt"`
}

// BuildInfo captures runtime metadata exposed via health endpoints.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}
