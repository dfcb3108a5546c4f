package fxrates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/vintage-storefront/api/internal/pricing"
)

// DefaultFrankfurterURL is the public ECB-backed rates API.
const DefaultFrankfurterURL = "https://api.frankfurter.app"

const maxResponseBytes = 64 << 10

// FrankfurterConfig configures a FrankfurterSource.
type FrankfurterConfig struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *zap.Logger
	// BreakerFailures is the number of consecutive failures that opens the breaker.
	BreakerFailures uint32
	// BreakerCooldown is how long the breaker stays open before probing again.
	BreakerCooldown time.Duration
}

// FrankfurterSource fetches rates from the Frankfurter API behind a circuit breaker.
type FrankfurterSource struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[map[pricing.CurrencyCode]decimal.Decimal]
	logger  *zap.Logger
}

type frankfurterResponse struct {
	Amount float64                    `json:"amount"`
	Base   string                     `json:"base"`
	Date   string                     `json:"date"`
	Rates  map[string]decimal.Decimal `json:"rates"`
}

// NewFrankfurterSource builds a live rate source. The default client propagates trace
// context through an otelhttp transport.
func NewFrankfurterSource(cfg FrankfurterConfig) (*FrankfurterSource, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultFrankfurterURL
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("fxrates: invalid base url %q: %w", cfg.BaseURL, err)
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 3
	}
	cooldown := cfg.BreakerCooldown
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker[map[pricing.CurrencyCode]decimal.Decimal](gobreaker.Settings{
		Name:        "frankfurter",
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("fxrates: circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &FrankfurterSource{
		baseURL: base,
		client:  client,
		breaker: breaker,
		logger:  logger,
	}, nil
}

func (s *FrankfurterSource) Name() string { return "frankfurter" }

// FetchRates implements Source.
func (s *FrankfurterSource) FetchRates(ctx context.Context, base pricing.CurrencyCode, symbols []pricing.CurrencyCode) (map[pricing.CurrencyCode]decimal.Decimal, error) {
	return s.breaker.Execute(func() (map[pricing.CurrencyCode]decimal.Decimal, error) {
		return s.fetch(ctx, base, symbols)
	})
}

func (s *FrankfurterSource) fetch(ctx context.Context, base pricing.CurrencyCode, symbols []pricing.CurrencyCode) (map[pricing.CurrencyCode]decimal.Decimal, error) {
	query := url.Values{}
	query.Set("from", string(base))
	if len(symbols) > 0 {
		to := make([]string, 0, len(symbols))
		for _, code := range symbols {
			to = append(to, string(code))
		}
		query.Set("to", strings.Join(to, ","))
	}
	endpoint := s.baseURL + "/latest?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("frankfurter returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload frankfurterResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode frankfurter response: %w", err)
	}
	if !strings.EqualFold(payload.Base, string(base)) {
		return nil, fmt.Errorf("frankfurter returned base %q, want %s", payload.Base, base)
	}

	rates := make(map[pricing.CurrencyCode]decimal.Decimal, len(payload.Rates))
	for raw, rate := range payload.Rates {
		code, err := pricing.ParseCurrencyCode(raw)
		if err != nil {
			continue
		}
		if !rate.IsPositive() {
			s.logger.Warn("fxrates: ignoring non-positive rate", zap.String("currency", raw), zap.String("rate", rate.String()))
			continue
		}
		rates[code] = rate
	}
	if len(rates) == 0 {
		return nil, errors.New("frankfurter returned no usable rates")
	}
	return rates, nil
}
