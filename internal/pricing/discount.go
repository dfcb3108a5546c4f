package pricing

import (
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/vintage-storefront/api/internal/domain"
)

// Discountable is anything carrying a base-currency price and an optional discount window.
type Discountable interface {
	RegularPrice() decimal.Decimal
	DiscountWindow() *domain.DiscountWindow
}

// DiscountStatus classifies a discount window at a point in time.
type DiscountStatus string

const (
	DiscountNone      DiscountStatus = "none"
	DiscountScheduled DiscountStatus = "scheduled"
	DiscountActive    DiscountStatus = "active"
	DiscountExpired   DiscountStatus = "expired"
	// DiscountInvalid marks a window that can never apply: a negative price, a price not below
	// the regular price, or a start after the end.
	DiscountInvalid DiscountStatus = "invalid"
)

// DiscountState is the result of evaluating a discount window once.
type DiscountState struct {
	Status   DiscountStatus
	Regular  decimal.Decimal
	Price    decimal.Decimal
	StartsAt *time.Time
	EndsAt   *time.Time
}

// Active reports whether the discount price applies.
func (s DiscountState) Active() bool {
	return s.Status == DiscountActive
}

// EffectivePrice is the discount price while active and the regular price otherwise.
func (s DiscountState) EffectivePrice() decimal.Decimal {
	if s.Active() {
		return s.Price
	}
	return s.Regular
}

// EvaluateDiscount classifies the item's discount window at now. Malformed windows never
// fail; they degrade to the regular price.
func EvaluateDiscount(item Discountable, now time.Time) DiscountState {
	regular := item.RegularPrice()
	if regular.IsNegative() {
		regular = decimal.Zero
	}
	state := DiscountState{Status: DiscountNone, Regular: regular, Price: regular}

	window := item.DiscountWindow()
	if window == nil {
		return state
	}
	state.StartsAt = window.StartsAt
	state.EndsAt = window.EndsAt

	switch {
	case window.Price.IsNegative(), !window.Price.LessThan(regular):
		state.Status = DiscountInvalid
		return state
	case window.StartsAt != nil && window.EndsAt != nil && window.StartsAt.After(*window.EndsAt):
		state.Status = DiscountInvalid
		return state
	case window.StartsAt != nil && now.Before(*window.StartsAt):
		state.Status = DiscountScheduled
		return state
	case window.EndsAt != nil && now.After(*window.EndsAt):
		state.Status = DiscountExpired
		return state
	}

	state.Status = DiscountActive
	state.Price = window.Price
	return state
}

// IsDiscountActive reports whether item's discount applies at now.
func IsDiscountActive(item Discountable, now time.Time) bool {
	return EvaluateDiscount(item, now).Active()
}

// EffectivePrice returns the base-currency price item sells for at now.
func EffectivePrice(item Discountable, now time.Time) Money {
	return Money{Amount: EvaluateDiscount(item, now).EffectivePrice(), Currency: BaseCurrency}
}

var hundred = decimal.NewFromInt(100)

// FormatDiscountPercentage renders the saving as a whole percentage such as "20%".
// It returns "" when original is not positive or there is no saving.
func FormatDiscountPercentage(original, effective decimal.Decimal) string {
	if !original.IsPositive() {
		return ""
	}
	pct := original.Sub(effective).Div(original).Mul(hundred).Round(0)
	if !pct.IsPositive() {
		return ""
	}
	return pct.String() + "%"
}
