package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is a provider-neutral intent state.
type Status string

const (
	StatusPending   Status = "pending"   // awaiting card details or confirmation
	StatusSucceeded Status = "succeeded" // paid
	StatusFailed    Status = "failed"    // cancelled; a new intent is needed
)

// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
var ErrUnsupportedProvider = errors.New("payments: unsupported provider")

// PaymentIntentRequest is the gateway-ready charge request. Amount is already expressed in the
// currency's smallest unit and Currency is the provider's lower-case code.
type PaymentIntentRequest struct {
	Amount         int64
	Currency       string
	Description    string
	Metadata       map[string]string
	IdempotencyKey string
}

// PaymentIntent is the provider's intent handed back to the storefront.
type PaymentIntent struct {
	ID           string
	Provider     string
	ClientSecret string
	Amount       int64
	Currency     string
	Status       Status
	CreatedAt    time.Time
}

// Provider defines the contract for payment gateway adapters.
type Provider interface {
	CreatePaymentIntent(ctx context.Context, req PaymentIntentRequest) (PaymentIntent, error)
}

// Manager coordinates provider selection and exposes the aggregated interface.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
	currencyRoutes  map[string]string
}

type ManagerOption func(*Manager)

// WithDefaultProvider names the provider used when neither a preference nor a currency route applies.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = provider
	}
}

// WithCurrencyRoutes sends charges in the given ISO currencies to a named provider,
// for example {"JPY": "stripe"}.
func WithCurrencyRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		for currency, provider := range routes {
			m.currencyRoutes[strings.ToUpper(strings.TrimSpace(currency))] = strings.TrimSpace(provider)
		}
	}
}

// NewManager constructs a Manager over the supplied providers.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	registered := make(map[string]Provider, len(providers))
	for k, v := range providers {
		key := normaliseKey(k)
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", k)
		}
		registered[key] = v
	}
	m := &Manager{
		providers:      registered,
		currencyRoutes: make(map[string]string),
	}
	if _, ok := registered["stripe"]; ok {
		m.defaultProvider = "stripe"
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

// PaymentContext carries the hints used to pick a provider: an explicit preference first,
// then the currency route, then the default. A manager with a single provider always uses it.
type PaymentContext struct {
	PreferredProvider string
	Currency          string
}

func (m *Manager) resolveProvider(hints PaymentContext) (string, Provider, error) {
	if m == nil {
		return "", nil, errors.New("payments: manager is nil")
	}
	candidates := []string{
		hints.PreferredProvider,
		m.currencyRoutes[strings.ToUpper(strings.TrimSpace(hints.Currency))],
		m.defaultProvider,
	}
	for _, candidate := range candidates {
		key := normaliseKey(candidate)
		if p, ok := m.providers[key]; ok && key != "" {
			return key, p, nil
		}
	}
	if len(m.providers) == 1 {
		for key, p := range m.providers {
			return key, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// CreatePaymentIntent delegates to the resolved provider and stamps the provider key on the result.
func (m *Manager) CreatePaymentIntent(ctx context.Context, paymentCtx PaymentContext, req PaymentIntentRequest) (PaymentIntent, error) {
	if req.Amount <= 0 {
		return PaymentIntent{}, fmt.Errorf("payments: amount must be positive, got %d", req.Amount)
	}
	if strings.TrimSpace(req.Currency) == "" {
		return PaymentIntent{}, errors.New("payments: currency is required")
	}
	key, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return PaymentIntent{}, err
	}
	intent, err := provider.CreatePaymentIntent(ctx, req)
	if err != nil {
		return PaymentIntent{}, err
	}
	intent.Provider = key
	return intent, nil
}

func normaliseKey(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
