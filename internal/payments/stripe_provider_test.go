package payments

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v78"
)

type stubIntentAPI struct {
	params *stripe.PaymentIntentParams
	intent *stripe.PaymentIntent
	err    error
}

func (s *stubIntentAPI) New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	s.params = params
	return s.intent, s.err
}

func newStubStripeProvider(t *testing.T, api *stubIntentAPI, events *[]string) *StripeProvider {
	t.Helper()
	provider, err := NewStripeProvider(StripeProviderConfig{
		AccountID: "acct_123",
		Clients:   &stripeClients{intents: api},
		Clock: func() time.Time {
			return time.Date(2024, 10, 10, 12, 0, 0, 0, time.UTC)
		},
		Logger: func(_ context.Context, event string, _ map[string]any) {
			if events != nil {
				*events = append(*events, event)
			}
		},
	})
	if err != nil {
		t.Fatalf("new stripe provider: %v", err)
	}
	return provider
}

func TestStripeProviderCreatePaymentIntent(t *testing.T) {
	api := &stubIntentAPI{intent: &stripe.PaymentIntent{
		ID:           "pi_123",
		ClientSecret: "pi_123_secret_abc",
		Amount:       6380,
		Currency:     stripe.Currency("usd"),
		Status:       stripe.PaymentIntentStatusRequiresPaymentMethod,
	}}
	var events []string
	provider := newStubStripeProvider(t, api, &events)

	intent, err := provider.CreatePaymentIntent(context.Background(), PaymentIntentRequest{
		Amount:         6380,
		Currency:       "USD",
		Description:    "Cart cart-1",
		Metadata:       map[string]string{"cartId": "cart-1"},
		IdempotencyKey: "idem-1",
	})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}

	if api.params == nil {
		t.Fatalf("expected params to be captured")
	}
	if got := stripe.Int64Value(api.params.Amount); got != 6380 {
		t.Fatalf("expected amount 6380, got %d", got)
	}
	if got := stripe.StringValue(api.params.Currency); got != "usd" {
		t.Fatalf("expected lower-case currency, got %q", got)
	}
	if api.params.AutomaticPaymentMethods == nil || !stripe.BoolValue(api.params.AutomaticPaymentMethods.Enabled) {
		t.Fatalf("expected automatic payment methods to be enabled")
	}
	if got := stripe.StringValue(api.params.IdempotencyKey); got != "idem-1" {
		t.Fatalf("expected idempotency key idem-1, got %q", got)
	}
	if got := stripe.StringValue(api.params.StripeAccount); got != "acct_123" {
		t.Fatalf("expected connected account, got %q", got)
	}
	if api.params.Metadata["cartId"] != "cart-1" {
		t.Fatalf("expected metadata to be forwarded, got %v", api.params.Metadata)
	}

	if intent.ID != "pi_123" || intent.ClientSecret != "pi_123_secret_abc" {
		t.Fatalf("unexpected intent %+v", intent)
	}
	if intent.Status != StatusPending {
		t.Fatalf("expected pending status, got %s", intent.Status)
	}
	if !intent.CreatedAt.Equal(time.Date(2024, 10, 10, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected clock fallback for created time, got %s", intent.CreatedAt)
	}
	if len(events) != 1 || events[0] != "payments.stripe.intent.created" {
		t.Fatalf("unexpected log events %v", events)
	}
}

func TestStripeProviderWrapsErrors(t *testing.T) {
	boom := errors.New("stripe down")
	provider := newStubStripeProvider(t, &stubIntentAPI{err: boom}, nil)

	_, err := provider.CreatePaymentIntent(context.Background(), PaymentIntentRequest{Amount: 100, Currency: "eur"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped stripe error, got %v", err)
	}
}

func TestNewStripeProviderRequiresKey(t *testing.T) {
	if _, err := NewStripeProvider(StripeProviderConfig{}); err == nil {
		t.Fatalf("expected error without api key or clients")
	}
	if _, err := NewStripeProvider(StripeProviderConfig{Clients: &stripeClients{}}); err == nil {
		t.Fatalf("expected error for incomplete clients")
	}
}
