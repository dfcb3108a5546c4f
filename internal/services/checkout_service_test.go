package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/vintage-storefront/api/internal/domain"
	"github.com/vintage-storefront/api/internal/payments"
	"github.com/vintage-storefront/api/internal/platform/fxrates"
	"github.com/vintage-storefront/api/internal/pricing"
)

var checkoutNow = time.Date(2024, 10, 10, 12, 0, 0, 0, time.UTC)

func TestCheckoutServiceQuoteBaseCurrency(t *testing.T) {
	svc, _ := newTestCheckoutService(t, checkoutCart(), nil)

	quote, err := svc.Quote(context.Background(), QuoteCommand{CartID: "cart-1", Country: "nl"})
	require.NoError(t, err)

	assert.Equal(t, "50.00", quote.Totals.Subtotal.StringFixed())
	assert.Equal(t, "5.00", quote.Totals.Shipping.StringFixed())
	assert.Equal(t, int64(5500), quote.GatewayAmount)
	assert.Equal(t, "eur", quote.GatewayCurrency)
	assert.True(t, quote.MeetsMinimum)
	assert.Equal(t, "€55.00", quote.Display.Total)
	assert.Equal(t, pricing.ZoneDomestic, quote.Totals.Zone)
	assert.Equal(t, "NL", quote.Totals.Country)
	assert.True(t, quote.RatesLive, "live rates flag comes from the snapshot")
}

func TestCheckoutServiceQuoteConvertsTotals(t *testing.T) {
	svc, _ := newTestCheckoutService(t, checkoutCart(), nil)

	quote, err := svc.Quote(context.Background(), QuoteCommand{CartID: "cart-1", Country: "US", Currency: "usd"})
	require.NoError(t, err)

	assert.Equal(t, "65.00", quote.Base.Total.StringFixed())
	assert.Equal(t, "55.00", quote.Totals.Subtotal.StringFixed())
	assert.Equal(t, "71.50", quote.Totals.Total.StringFixed())
	assert.Equal(t, "16.50", quote.Totals.Shipping.StringFixed())
	assert.Equal(t, int64(7150), quote.GatewayAmount)
	assert.Equal(t, "usd", quote.GatewayCurrency)
	assert.True(t, quote.Rate.Equal(decimal.RequireFromString("1.10")), quote.Rate.String())
}

func TestCheckoutServiceQuoteZeroDecimalCurrency(t *testing.T) {
	cart := domain.Cart{ID: "cart-1", Items: []domain.CartLineItem{
		{ID: "i1", ProductID: "p1", UnitPrice: decimal.RequireFromString("10.00")},
	}}
	svc, _ := newTestCheckoutService(t, cart, nil)

	quote, err := svc.Quote(context.Background(), QuoteCommand{CartID: "cart-1", Country: "JP", Currency: "JPY"})
	require.NoError(t, err)
	assert.Equal(t, int64(4875), quote.GatewayAmount)
	assert.Equal(t, "¥3250", quote.Display.Shipping)
}

func TestCheckoutServiceQuoteErrors(t *testing.T) {
	svc, env := newTestCheckoutService(t, checkoutCart(), nil)
	ctx := context.Background()

	_, err := svc.Quote(ctx, QuoteCommand{CartID: " "})
	assert.ErrorIs(t, err, ErrCheckoutInvalidInput)

	_, err = svc.Quote(ctx, QuoteCommand{CartID: "cart-1", Currency: "XYZ"})
	assert.ErrorIs(t, err, ErrCheckoutInvalidCurrency)

	env.rates.remove(pricing.CAD)
	_, err = svc.Quote(ctx, QuoteCommand{CartID: "cart-1", Currency: "CAD"})
	assert.ErrorIs(t, err, ErrCheckoutRateUnavailable)

	env.carts.getFunc = func(ctx context.Context, cartID string) (domain.Cart, error) {
		return domain.Cart{}, &repositoryErrorStub{notFound: true}
	}
	_, err = svc.Quote(ctx, QuoteCommand{CartID: "cart-1"})
	assert.ErrorIs(t, err, ErrCheckoutCartNotFound)

	env.carts.getFunc = func(ctx context.Context, cartID string) (domain.Cart, error) {
		return domain.Cart{}, &repositoryErrorStub{unavailable: true}
	}
	_, err = svc.Quote(ctx, QuoteCommand{CartID: "cart-1"})
	assert.ErrorIs(t, err, ErrCheckoutUnavailable)
}

func TestCheckoutServiceCreatePaymentIntentRejectsBelowMinimum(t *testing.T) {
	svc, env := newTestCheckoutService(t, domain.Cart{ID: "cart-1"}, nil)

	_, err := svc.CreatePaymentIntent(context.Background(), PaymentIntentCommand{CartID: "cart-1", Country: "NL"})
	require.ErrorIs(t, err, ErrCheckoutBelowMinimum)

	var below *pricing.BelowMinimumError
	require.ErrorAs(t, err, &below)
	assert.Equal(t, "0.50", below.Minimum.StringFixed())
	assert.Equal(t, 0, env.payments.callCount(), "gateway must not be called")
}

func TestCheckoutServiceCreatePaymentIntentReusesMatchingIntent(t *testing.T) {
	svc, env := newTestCheckoutService(t, checkoutCart(), nil)
	ctx := context.Background()
	cmd := PaymentIntentCommand{
		CartID:   "cart-1",
		Country:  "US",
		Currency: "USD",
		Metadata: map[string]string{"session": "abc", " ": "ignored"},
	}

	first, err := svc.CreatePaymentIntent(ctx, cmd)
	require.NoError(t, err)
	assert.False(t, first.Reused)
	assert.Equal(t, int64(7150), first.Amount)
	assert.Equal(t, "usd", first.Currency)
	assert.Equal(t, "pi_1", first.IntentID)
	assert.Equal(t, int64(7150), first.Quote.GatewayAmount)

	req := env.payments.requests[0]
	assert.NotEmpty(t, req.IdempotencyKey)
	assert.Equal(t, "cart-1", req.Metadata["cart_id"])
	assert.Equal(t, "abc", req.Metadata["session"])
	assert.Equal(t, first.Fingerprint, req.Metadata["fingerprint"])
	assert.NotContains(t, req.Metadata, " ")

	second, err := svc.CreatePaymentIntent(ctx, cmd)
	require.NoError(t, err)
	assert.True(t, second.Reused)
	assert.Equal(t, first.IntentID, second.IntentID)
	assert.Equal(t, first.ClientSecret, second.ClientSecret)
	assert.Equal(t, 1, env.payments.callCount())

	require.Len(t, env.events.events, 1)
	event := env.events.events[0]
	assert.Equal(t, "pi_1", event.IntentID)
	assert.Equal(t, "65.00", event.BaseTotal)
	assert.Equal(t, "US", event.Country)
}

func TestCheckoutServiceCreatePaymentIntentNewFingerprintReplacesIntent(t *testing.T) {
	svc, env := newTestCheckoutService(t, checkoutCart(), nil)
	ctx := context.Background()

	first, err := svc.CreatePaymentIntent(ctx, PaymentIntentCommand{CartID: "cart-1", Country: "NL"})
	require.NoError(t, err)
	second, err := svc.CreatePaymentIntent(ctx, PaymentIntentCommand{CartID: "cart-1", Country: "DE"})
	require.NoError(t, err)

	assert.NotEqual(t, first.Fingerprint, second.Fingerprint, "destination change alters the fingerprint")
	assert.False(t, second.Reused)
	assert.NotEqual(t, first.IntentID, second.IntentID)
	assert.Equal(t, int64(6000), second.Amount)

	cached, ok, err := env.intents.Get(ctx, "cart-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, second.IntentID, cached.IntentID)
}

func TestCheckoutServiceCreatePaymentIntentRateMoveCreatesNewIntent(t *testing.T) {
	svc, env := newTestCheckoutService(t, checkoutCart(), nil)
	ctx := context.Background()
	cmd := PaymentIntentCommand{CartID: "cart-1", Country: "US", Currency: "USD"}

	first, err := svc.CreatePaymentIntent(ctx, cmd)
	require.NoError(t, err)

	env.rates.setUSD("1.20")
	second, err := svc.CreatePaymentIntent(ctx, cmd)
	require.NoError(t, err)

	assert.Equal(t, first.Fingerprint, second.Fingerprint)
	assert.False(t, second.Reused)
	assert.Equal(t, int64(7800), second.Amount)
	assert.Equal(t, second.Quote.GatewayAmount, second.Amount)
	assert.Equal(t, 2, env.payments.callCount())
}

func TestCheckoutServiceCreatePaymentIntentConcurrentRateMoveChargesQuotedAmount(t *testing.T) {
	svc, env := newTestCheckoutService(t, checkoutCart(), nil)
	release := make(chan struct{})
	env.payments.block = release
	cmd := PaymentIntentCommand{CartID: "cart-1", Country: "US", Currency: "USD"}

	var wg sync.WaitGroup
	results := make([]PaymentIntentResult, 2)
	errs := make([]error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errs[0] = svc.CreatePaymentIntent(context.Background(), cmd)
	}()
	require.Eventually(t, func() bool { return env.payments.started.Load() == 1 }, time.Second, time.Millisecond)

	// The rate moves while the first gateway call is still in flight.
	env.rates.setUSD("1.20")
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], errs[1] = svc.CreatePaymentIntent(context.Background(), cmd)
	}()
	require.Eventually(t, func() bool { return env.payments.started.Load() == 2 }, time.Second, time.Millisecond)

	close(release)
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i], "caller %d", i)
		assert.Equal(t, results[i].Quote.GatewayAmount, results[i].Amount, "caller %d is charged what it was shown", i)
	}
	assert.Equal(t, int64(7150), results[0].Amount)
	assert.Equal(t, int64(7800), results[1].Amount)
	assert.NotEqual(t, results[0].IntentID, results[1].IntentID)
	assert.Equal(t, 2, env.payments.callCount())
}

func TestCheckoutServiceCreatePaymentIntentSurvivesFirstCallerCancel(t *testing.T) {
	svc, env := newTestCheckoutService(t, checkoutCart(), nil)
	release := make(chan struct{})
	env.payments.block = release
	cmd := PaymentIntentCommand{CartID: "cart-1", Country: "NL"}

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	defer cancelFirst()
	firstErr := make(chan error, 1)
	go func() {
		_, err := svc.CreatePaymentIntent(firstCtx, cmd)
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return env.payments.started.Load() == 1 }, time.Second, time.Millisecond)

	type outcome struct {
		result PaymentIntentResult
		err    error
	}
	second := make(chan outcome, 1)
	go func() {
		result, err := svc.CreatePaymentIntent(context.Background(), cmd)
		second <- outcome{result, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller kept waiting for the gateway")
	}

	close(release)
	select {
	case got := <-second:
		require.NoError(t, got.err)
		assert.Equal(t, "pi_1", got.result.IntentID)
		assert.Equal(t, int64(5500), got.result.Amount)
	case <-time.After(time.Second):
		t.Fatal("second caller did not complete")
	}
	assert.Equal(t, int32(1), env.payments.started.Load())
	assert.Equal(t, 1, env.payments.callCount())
}

func TestCheckoutServiceCreatePaymentIntentGatewayTimeout(t *testing.T) {
	svc, env := newTestCheckoutService(t, checkoutCart(), nil, func(deps *CheckoutServiceDeps) {
		deps.GatewayTimeout = 30 * time.Millisecond
	})
	env.payments.block = make(chan struct{})

	start := time.Now()
	_, err := svc.CreatePaymentIntent(context.Background(), PaymentIntentCommand{CartID: "cart-1", Country: "NL"})
	assert.ErrorIs(t, err, ErrCheckoutPaymentFailed)
	assert.Less(t, time.Since(start), time.Second)

	_, ok, _ := env.intents.Get(context.Background(), "cart-1")
	assert.False(t, ok, "nothing cached after a timed out call")
}

func TestCheckoutServiceCreatePaymentIntentGatewayFailure(t *testing.T) {
	var events []string
	svc, env := newTestCheckoutService(t, checkoutCart(), func(ctx context.Context, event string, fields map[string]any) {
		events = append(events, event)
	})
	env.payments.err = errors.New("card network down")

	_, err := svc.CreatePaymentIntent(context.Background(), PaymentIntentCommand{CartID: "cart-1", Country: "NL"})
	require.ErrorIs(t, err, ErrCheckoutPaymentFailed)

	_, ok, _ := env.intents.Get(context.Background(), "cart-1")
	assert.False(t, ok, "nothing cached after failure")
	assert.Empty(t, env.events.events)
	require.NotEmpty(t, events)
	assert.Equal(t, "checkout.payment_intent.failed", events[len(events)-1])
}

func TestCheckoutServiceCreatePaymentIntentPublishFailureIsLogged(t *testing.T) {
	var events []string
	svc, env := newTestCheckoutService(t, checkoutCart(), func(ctx context.Context, event string, fields map[string]any) {
		events = append(events, event)
	})
	env.events.err = errors.New("topic missing")

	result, err := svc.CreatePaymentIntent(context.Background(), PaymentIntentCommand{CartID: "cart-1", Country: "NL"})
	require.NoError(t, err, "publish failure must not fail checkout")
	assert.NotEmpty(t, result.IntentID)
	assert.Contains(t, events, "checkout.event.publish_failed")
}

func TestCheckoutServiceCreatePaymentIntentCollapsesConcurrentCalls(t *testing.T) {
	svc, env := newTestCheckoutService(t, checkoutCart(), nil)
	release := make(chan struct{})
	env.payments.block = release

	const callers = 8
	var wg sync.WaitGroup
	results := make([]PaymentIntentResult, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.CreatePaymentIntent(context.Background(), PaymentIntentCommand{CartID: "cart-1", Country: "NL"})
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i], "caller %d", i)
		assert.Equal(t, "pi_1", results[i].IntentID, "caller %d shares the intent", i)
	}
	assert.Equal(t, 1, env.payments.callCount())
}

func TestIntentFingerprintIgnoresItemOrder(t *testing.T) {
	a := intentFingerprint([]string{"p2", "p1"}, "usd", "us")
	b := intentFingerprint([]string{"p1", "p2"}, "USD", " US ")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, intentFingerprint([]string{"p1", "p2"}, "EUR", "US"), "currency changes the fingerprint")
}

func TestNewCheckoutServiceValidatesDependencies(t *testing.T) {
	zones, err := pricing.DefaultZoneTable()
	require.NoError(t, err)
	full := CheckoutServiceDeps{
		Carts:      &stubCartRepository{},
		Rates:      &stubRateProvider{},
		Calculator: pricing.NewCalculator(zones, nil),
		Payments:   &stubPaymentIntentCreator{},
	}
	_, err = NewCheckoutService(full)
	require.NoError(t, err)

	missing := full
	missing.Rates = nil
	_, err = NewCheckoutService(missing)
	assert.Error(t, err, "rate provider is required")

	missing = full
	missing.Payments = nil
	_, err = NewCheckoutService(missing)
	assert.Error(t, err, "payment manager is required")
}

type checkoutTestEnv struct {
	carts    *stubCartRepository
	rates    *stubRateProvider
	payments *stubPaymentIntentCreator
	events   *stubCheckoutPublisher
	intents  IntentCache
}

func newTestCheckoutService(t *testing.T, cart domain.Cart, logger func(context.Context, string, map[string]any), opts ...func(*CheckoutServiceDeps)) (CheckoutService, *checkoutTestEnv) {
	t.Helper()
	zones, err := pricing.DefaultZoneTable()
	require.NoError(t, err)

	clock := func() time.Time { return checkoutNow }
	env := &checkoutTestEnv{
		carts: &stubCartRepository{
			getFunc: func(ctx context.Context, cartID string) (domain.Cart, error) {
				return cart, nil
			},
		},
		rates: &stubRateProvider{snapshot: fxrates.Snapshot{
			Base: pricing.BaseCurrency,
			Rates: map[pricing.CurrencyCode]decimal.Decimal{
				pricing.USD: decimal.RequireFromString("1.10"),
				pricing.GBP: decimal.RequireFromString("0.85"),
				pricing.JPY: decimal.RequireFromString("162.5"),
				pricing.CAD: decimal.RequireFromString("1.50"),
				pricing.AUD: decimal.RequireFromString("1.65"),
			},
			FetchedAt: checkoutNow.Add(-time.Hour),
			Fetched:   true,
			Source:    "test",
		}},
		payments: &stubPaymentIntentCreator{},
		events:   &stubCheckoutPublisher{},
		intents:  NewMemoryIntentCache(time.Hour, clock),
	}

	deps := CheckoutServiceDeps{
		Carts:      env.carts,
		Rates:      env.rates,
		Calculator: pricing.NewCalculator(zones, clock),
		Payments:   env.payments,
		Intents:    env.intents,
		Events:     env.events,
		Clock:      clock,
		Logger:     logger,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	svc, err := NewCheckoutService(deps)
	require.NoError(t, err)
	return svc, env
}

// checkoutCart holds a discounted item (50.00 down to 40.00) and a 10.00 item.
func checkoutCart() domain.Cart {
	start := checkoutNow.Add(-48 * time.Hour)
	end := checkoutNow.Add(48 * time.Hour)
	return domain.Cart{
		ID: "cart-1",
		Items: []domain.CartLineItem{
			{
				ID:        "item-a",
				ProductID: "prod-a",
				UnitPrice: decimal.RequireFromString("50.00"),
				Discount: &domain.DiscountWindow{
					Price:    decimal.RequireFromString("40.00"),
					StartsAt: &start,
					EndsAt:   &end,
				},
			},
			{ID: "item-b", ProductID: "prod-b", UnitPrice: decimal.RequireFromString("10.00")},
		},
		UpdatedAt: checkoutNow.Add(-time.Minute),
	}
}

type stubRateProvider struct {
	mu       sync.Mutex
	snapshot fxrates.Snapshot
}

func (s *stubRateProvider) GetRates(context.Context) fxrates.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

// setUSD replaces the snapshot wholesale, as the rate cache does.
func (s *stubRateProvider) setUSD(rate string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.snapshot
	next.Rates = make(map[pricing.CurrencyCode]decimal.Decimal, len(s.snapshot.Rates))
	for code, r := range s.snapshot.Rates {
		next.Rates[code] = r
	}
	next.Rates[pricing.USD] = decimal.RequireFromString(rate)
	s.snapshot = next
}

func (s *stubRateProvider) remove(code pricing.CurrencyCode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshot.Rates, code)
}

type stubPaymentIntentCreator struct {
	mu       sync.Mutex
	started  atomic.Int32
	calls    int
	requests []payments.PaymentIntentRequest
	err      error
	block    chan struct{}
}

func (s *stubPaymentIntentCreator) CreatePaymentIntent(ctx context.Context, paymentCtx payments.PaymentContext, req payments.PaymentIntentRequest) (payments.PaymentIntent, error) {
	s.started.Add(1)
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return payments.PaymentIntent{}, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.requests = append(s.requests, req)
	if s.err != nil {
		return payments.PaymentIntent{}, s.err
	}
	id := "pi_" + string(rune('0'+s.calls))
	return payments.PaymentIntent{
		ID:           id,
		Provider:     "stripe",
		ClientSecret: id + "_secret",
		Amount:       req.Amount,
		Currency:     req.Currency,
		Status:       payments.StatusPending,
		CreatedAt:    checkoutNow,
	}, nil
}

func (s *stubPaymentIntentCreator) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubCheckoutPublisher struct {
	mu     sync.Mutex
	events []PaymentIntentCreatedEvent
	err    error
}

func (s *stubCheckoutPublisher) PublishPaymentIntentCreated(ctx context.Context, event PaymentIntentCreatedEvent) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.events = append(s.events, event)
	return "msg-1", nil
}
