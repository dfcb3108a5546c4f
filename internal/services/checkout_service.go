package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/vintage-storefront/api/internal/payments"
	"github.com/vintage-storefront/api/internal/platform/textutil"
	"github.com/vintage-storefront/api/internal/pricing"
	"github.com/vintage-storefront/api/internal/repositories"
)

const defaultGatewayTimeout = 20 * time.Second

var (
	// ErrCheckoutInvalidInput indicates the caller supplied invalid input parameters.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutInvalidCurrency indicates the requested currency is not supported.
	ErrCheckoutInvalidCurrency = errors.New("checkout: unsupported currency")
	// ErrCheckoutRateUnavailable indicates no exchange rate is known for the requested currency.
	ErrCheckoutRateUnavailable = errors.New("checkout: exchange rate unavailable")
	// ErrCheckoutBelowMinimum indicates the order total is below the currency's minimum charge.
	ErrCheckoutBelowMinimum = errors.New("checkout: amount below minimum")
	// ErrCheckoutCartNotFound indicates the cart does not exist.
	ErrCheckoutCartNotFound = errors.New("checkout: cart not found")
	// ErrCheckoutUnavailable indicates checkout dependencies are currently unavailable.
	ErrCheckoutUnavailable = errors.New("checkout: unavailable")
	// ErrCheckoutPaymentFailed indicates the payment intent could not be created.
	ErrCheckoutPaymentFailed = errors.New("checkout: payment failed")
)

// paymentIntentCreator abstracts payments.Manager for easier testing.
type paymentIntentCreator interface {
	CreatePaymentIntent(ctx context.Context, paymentCtx payments.PaymentContext, req payments.PaymentIntentRequest) (payments.PaymentIntent, error)
}

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Carts      repositories.CartRepository
	Rates      RateProvider
	Calculator *pricing.Calculator
	Payments   paymentIntentCreator
	Intents    IntentCache
	Events     CheckoutEventPublisher
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)

	// GatewayTimeout bounds a shared payment intent call. It defaults to 20s.
	GatewayTimeout time.Duration
}

type checkoutService struct {
	carts      repositories.CartRepository
	rates      RateProvider
	calculator *pricing.Calculator
	payments   paymentIntentCreator
	intents    IntentCache
	events     CheckoutEventPublisher
	now        func() time.Time
	logger     func(ctx context.Context, event string, fields map[string]any)
	inflight   singleflight.Group

	gatewayTimeout time.Duration
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Carts == nil {
		return nil, errors.New("checkout service: cart repository is required")
	}
	if deps.Rates == nil {
		return nil, errors.New("checkout service: rate provider is required")
	}
	if deps.Calculator == nil {
		return nil, errors.New("checkout service: totals calculator is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("checkout service: payment manager is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	intents := deps.Intents
	if intents == nil {
		intents = NewMemoryIntentCache(defaultIntentTTL, clock)
	}
	gatewayTimeout := deps.GatewayTimeout
	if gatewayTimeout <= 0 {
		gatewayTimeout = defaultGatewayTimeout
	}

	return &checkoutService{
		carts:      deps.Carts,
		rates:      deps.Rates,
		calculator: deps.Calculator,
		payments:   deps.Payments,
		intents:    intents,
		events:     deps.Events,
		now: func() time.Time {
			return clock().UTC()
		},
		logger:         logger,
		gatewayTimeout: gatewayTimeout,
	}, nil
}

// Quote prices the stored cart for the destination and currency. A quote below the
// currency minimum is still returned with MeetsMinimum unset.
func (s *checkoutService) Quote(ctx context.Context, cmd QuoteCommand) (CheckoutQuote, error) {
	cartID := strings.TrimSpace(cmd.CartID)
	if cartID == "" {
		return CheckoutQuote{}, ErrCheckoutInvalidInput
	}
	code, err := parseCheckoutCurrency(cmd.Currency)
	if err != nil {
		return CheckoutQuote{}, err
	}

	cart, err := s.carts.GetCart(ctx, cartID)
	if err != nil {
		return CheckoutQuote{}, s.translateCartError(err)
	}

	base := s.calculator.CalculateTotals(cart.Items, cmd.Country)
	rates := s.rates.GetRates(ctx)

	totals, err := pricing.ConvertTotals(base, code, rates)
	if err != nil {
		return CheckoutQuote{}, translatePricingError(err)
	}
	amount, err := pricing.EncodeAmount(totals.Total)
	if err != nil {
		return CheckoutQuote{}, translatePricingError(err)
	}
	rate, _ := rates.Rate(code)

	return CheckoutQuote{
		CartID:          cart.ID,
		Base:            base,
		Totals:          totals,
		Rate:            rate,
		RatesLive:       rates.Fetched,
		RatesFetchedAt:  rates.FetchedAt,
		GatewayAmount:   amount,
		GatewayCurrency: pricing.GatewayCurrency(code),
		Minimum:         pricing.MustCurrency(code).Minimum(),
		MeetsMinimum:    pricing.MeetsMinimum(totals.Total),
		Display: QuoteDisplay{
			Subtotal: pricing.Display(totals.Subtotal),
			Shipping: pricing.Display(totals.Shipping),
			Total:    pricing.Display(totals.Total),
		},
		ItemIDs: cart.ItemIDs(),
	}, nil
}

// CreatePaymentIntent recomputes the quote and creates, or reuses, the payment intent for it.
// Concurrent calls for the same cart, fingerprint and charged amount share one gateway request,
// which runs detached from any single caller and is bounded by the gateway timeout. Each caller
// stops waiting when its own ctx ends.
func (s *checkoutService) CreatePaymentIntent(ctx context.Context, cmd PaymentIntentCommand) (PaymentIntentResult, error) {
	quote, err := s.Quote(ctx, QuoteCommand{CartID: cmd.CartID, Country: cmd.Country, Currency: cmd.Currency})
	if err != nil {
		return PaymentIntentResult{}, err
	}
	if err := pricing.ValidateChargeAmount(quote.Totals.Total); err != nil {
		var below *pricing.BelowMinimumError
		if errors.As(err, &below) {
			return PaymentIntentResult{}, fmt.Errorf("%w: %w", ErrCheckoutBelowMinimum, err)
		}
		return PaymentIntentResult{}, translatePricingError(err)
	}

	fingerprint := intentFingerprint(quote.ItemIDs, string(quote.Totals.Currency), quote.Totals.Country)
	// Callers only share a gateway call when they were quoted the same charge.
	key := fmt.Sprintf("%s|%s|%d|%s", quote.CartID, fingerprint, quote.GatewayAmount, quote.GatewayCurrency)

	ch := s.inflight.DoChan(key, func() (any, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.gatewayTimeout)
		defer cancel()
		return s.resolveIntent(callCtx, cmd, quote, fingerprint)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return PaymentIntentResult{}, ctx.Err()
	}
	if res.Err != nil {
		return PaymentIntentResult{}, res.Err
	}

	result := res.Val.(PaymentIntentResult)
	if result.Amount != quote.GatewayAmount || !strings.EqualFold(result.Currency, quote.GatewayCurrency) {
		return PaymentIntentResult{}, fmt.Errorf("%w: intent amount %d %s does not match quote %d %s",
			ErrCheckoutPaymentFailed, result.Amount, result.Currency, quote.GatewayAmount, quote.GatewayCurrency)
	}
	result.Quote = quote
	return result, nil
}

func (s *checkoutService) resolveIntent(ctx context.Context, cmd PaymentIntentCommand, quote CheckoutQuote, fingerprint string) (PaymentIntentResult, error) {
	currency := quote.GatewayCurrency

	cached, ok, err := s.intents.Get(ctx, quote.CartID)
	if err != nil {
		s.logger(ctx, "checkout.intent_cache.get_failed", map[string]any{
			"cartID": quote.CartID,
			"error":  err.Error(),
		})
	}
	if ok && cached.Fingerprint == fingerprint && cached.Amount == quote.GatewayAmount && cached.Currency == currency {
		s.logger(ctx, "checkout.payment_intent.reused", map[string]any{
			"cartID":   quote.CartID,
			"intentID": cached.IntentID,
		})
		return PaymentIntentResult{
			IntentID:     cached.IntentID,
			ClientSecret: cached.ClientSecret,
			Provider:     cached.Provider,
			Amount:       cached.Amount,
			Currency:     cached.Currency,
			Fingerprint:  fingerprint,
			Reused:       true,
		}, nil
	}

	idempotencyKey := intentIdempotencyKey(quote.CartID, fingerprint, quote.GatewayAmount, currency)
	intent, err := s.payments.CreatePaymentIntent(ctx, payments.PaymentContext{
		PreferredProvider: cmd.PreferredProvider,
		Currency:          currency,
	}, payments.PaymentIntentRequest{
		Amount:         quote.GatewayAmount,
		Currency:       currency,
		Description:    fmt.Sprintf("Order for cart %s", quote.CartID),
		Metadata:       buildIntentMetadata(cmd.Metadata, quote, fingerprint),
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		s.logger(ctx, "checkout.payment_intent.failed", map[string]any{
			"cartID": quote.CartID,
			"amount": quote.GatewayAmount,
			"error":  err.Error(),
		})
		return PaymentIntentResult{}, fmt.Errorf("%w: %v", ErrCheckoutPaymentFailed, err)
	}

	createdAt := intent.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	if err := s.intents.Put(ctx, CachedIntent{
		CartID:       quote.CartID,
		Fingerprint:  fingerprint,
		Amount:       intent.Amount,
		Currency:     intent.Currency,
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
		Provider:     intent.Provider,
		CreatedAt:    createdAt,
	}); err != nil {
		s.logger(ctx, "checkout.intent_cache.put_failed", map[string]any{
			"cartID": quote.CartID,
			"error":  err.Error(),
		})
	}

	s.publishCreated(ctx, PaymentIntentCreatedEvent{
		CartID:      quote.CartID,
		Fingerprint: fingerprint,
		IntentID:    intent.ID,
		Provider:    intent.Provider,
		Amount:      intent.Amount,
		Currency:    intent.Currency,
		Country:     quote.Totals.Country,
		BaseTotal:   quote.Base.Total.StringFixed(),
		RatesLive:   quote.RatesLive,
		CreatedAt:   createdAt,
	})

	s.logger(ctx, "checkout.payment_intent.created", map[string]any{
		"cartID":   quote.CartID,
		"intentID": intent.ID,
		"provider": intent.Provider,
		"amount":   intent.Amount,
		"currency": intent.Currency,
	})

	return PaymentIntentResult{
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
		Provider:     intent.Provider,
		Amount:       intent.Amount,
		Currency:     intent.Currency,
		Fingerprint:  fingerprint,
	}, nil
}

func (s *checkoutService) publishCreated(ctx context.Context, event PaymentIntentCreatedEvent) {
	if s.events == nil {
		return
	}
	if _, err := s.events.PublishPaymentIntentCreated(ctx, event); err != nil {
		s.logger(ctx, "checkout.event.publish_failed", map[string]any{
			"cartID":   event.CartID,
			"intentID": event.IntentID,
			"error":    err.Error(),
		})
	}
}

func (s *checkoutService) translateCartError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrCheckoutCartNotFound
		default:
			return ErrCheckoutUnavailable
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return ErrCheckoutUnavailable
}

// parseCheckoutCurrency treats a blank currency as the base currency.
func parseCheckoutCurrency(raw string) (pricing.CurrencyCode, error) {
	if strings.TrimSpace(raw) == "" {
		return pricing.BaseCurrency, nil
	}
	code, err := pricing.ParseCurrencyCode(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCheckoutInvalidCurrency, err)
	}
	return code, nil
}

func translatePricingError(err error) error {
	switch {
	case errors.Is(err, pricing.ErrUnsupportedCurrency):
		return fmt.Errorf("%w: %v", ErrCheckoutInvalidCurrency, err)
	case errors.Is(err, pricing.ErrRateUnavailable):
		return fmt.Errorf("%w: %v", ErrCheckoutRateUnavailable, err)
	default:
		return fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
	}
}

// intentFingerprint identifies a checkout by what is being bought, in which currency, and where
// it ships. Item order does not matter.
func intentFingerprint(itemIDs []string, currency, country string) string {
	ids := slices.Clone(itemIDs)
	slices.Sort(ids)
	base := strings.Join(ids, ",") + "|" + strings.ToUpper(currency) + "|" + strings.ToUpper(strings.TrimSpace(country))
	sum := sha256.Sum256([]byte(base))
	return hex.EncodeToString(sum[:])
}

func intentIdempotencyKey(cartID, fingerprint string, amount int64, currency string) string {
	base := fmt.Sprintf("%s|%s|%d|%s", cartID, fingerprint, amount, strings.ToLower(currency))
	sum := sha256.Sum256([]byte(base))
	return hex.EncodeToString(sum[:])
}

// Gateway metadata limits; caller keys beyond them are dropped and values are cut.
const (
	maxMetadataKeyLength   = 40
	maxMetadataValueLength = 500
)

func buildIntentMetadata(cmdMeta map[string]string, quote CheckoutQuote, fingerprint string) map[string]string {
	meta := textutil.CompactStringMap(cmdMeta, maxMetadataKeyLength, maxMetadataValueLength)
	if meta == nil {
		meta = make(map[string]string, 5)
	}
	maps.Copy(meta, map[string]string{
		"cart_id":     quote.CartID,
		"fingerprint": fingerprint,
		"country":     quote.Totals.Country,
		"zone":        string(quote.Totals.Zone),
		"item_count":  strconv.Itoa(quote.Totals.ItemCount),
	})
	return meta
}
