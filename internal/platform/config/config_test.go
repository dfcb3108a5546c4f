package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestLoadWithDefaults(t *testing.T) {
	env := map[string]string{
		"STOREFRONT_FIRESTORE_PROJECT_ID": "storefront-dev",
	}

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Environment != "local" {
		t.Errorf("expected default environment local, got %s", cfg.Environment)
	}
	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected default log level info, got %s", cfg.LogLevel)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Events.ProjectID != "storefront-dev" {
		t.Errorf("expected events project to default to firestore project, got %s", cfg.Events.ProjectID)
	}
	if cfg.Rates.BaseURL != defaultRatesBaseURL {
		t.Errorf("unexpected rates base url %s", cfg.Rates.BaseURL)
	}
	if cfg.Rates.MaxAge != time.Hour || cfg.Rates.MaxStaleness != 24*time.Hour {
		t.Errorf("unexpected rate ages %s/%s", cfg.Rates.MaxAge, cfg.Rates.MaxStaleness)
	}
	if cfg.PSP.DefaultProvider != "stripe" {
		t.Errorf("expected default provider stripe, got %s", cfg.PSP.DefaultProvider)
	}
	if cfg.Checkout.IntentTTL != 30*time.Minute {
		t.Errorf("unexpected intent ttl %s", cfg.Checkout.IntentTTL)
	}
	if cfg.Checkout.GatewayTimeout != 20*time.Second {
		t.Errorf("unexpected gateway timeout %s", cfg.Checkout.GatewayTimeout)
	}
	if cfg.Redis.Addr != "" || cfg.Redis.KeyPrefix != defaultRedisKeyPrefix {
		t.Errorf("unexpected redis defaults %+v", cfg.Redis)
	}
	if len(cfg.Pricing.ZoneRates) != 0 || len(cfg.Pricing.FreeShippingThresholds) != 0 {
		t.Errorf("expected no pricing overrides, got %+v", cfg.Pricing)
	}
	if cfg.RateLimits.DefaultPerMinute != 120 || cfg.RateLimits.CheckoutPerMinute != 20 {
		t.Errorf("unexpected rate limits %+v", cfg.RateLimits)
	}
	if cfg.Idempotency.Header != defaultIdempotencyHeader {
		t.Errorf("expected default idempotency header, got %s", cfg.Idempotency.Header)
	}
	if cfg.Idempotency.CleanupBatchSize != defaultIdempotencyBatchSize {
		t.Errorf("unexpected default cleanup batch size: %d", cfg.Idempotency.CleanupBatchSize)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"STOREFRONT_ENVIRONMENT":                      "PROD",
		"STOREFRONT_SERVER_PORT":                      "9090",
		"STOREFRONT_SERVER_IDLE_TIMEOUT":              "2m",
		"STOREFRONT_FIRESTORE_PROJECT_ID":             "storefront-prod",
		"STOREFRONT_PSP_STRIPE_API_KEY":               "secret://stripe/api",
		"STOREFRONT_PSP_STRIPE_ACCOUNT_ID":            "acct_123",
		"STOREFRONT_PSP_CURRENCY_ROUTES":              "USD=Stripe, jpy=stripe, broken",
		"STOREFRONT_RATES_BASE_URL":                   "https://rates.example.com",
		"STOREFRONT_RATES_MAX_AGE":                    "30m",
		"STOREFRONT_RATES_MAX_STALENESS":              "12h",
		"STOREFRONT_RATES_FETCH_TIMEOUT":              "2s",
		"STOREFRONT_PRICING_ZONE_RATES":               "north-america=5.00,europe=12.50",
		"STOREFRONT_PRICING_FREE_SHIPPING_THRESHOLDS": "nl=75",
		"STOREFRONT_CHECKOUT_INTENT_TTL":              "10m",
		"STOREFRONT_REDIS_ADDR":                       "localhost:6379",
		"STOREFRONT_REDIS_PASSWORD":                   "sm://redis/password",
		"STOREFRONT_REDIS_DB":                         "2",
		"STOREFRONT_EVENTS_PROJECT_ID":                "events-prod",
		"STOREFRONT_EVENTS_TOPIC":                     "checkout-events",
		"STOREFRONT_RATELIMIT_CHECKOUT_PER_MIN":       "5",
		"STOREFRONT_IDEMPOTENCY_HEADER":               "X-Idem-Key",
		"STOREFRONT_IDEMPOTENCY_TTL":                  "48h",
	}

	secrets := map[string]string{
		"secret://stripe/api":     "sk_live",
		"secret://redis/password": "redis-pass",
	}
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if v, ok := secrets[ref]; ok {
			return v, nil
		}
		return "", errors.New("not found")
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Environment != "prod" {
		t.Errorf("expected environment prod, got %s", cfg.Environment)
	}
	if cfg.Server.Port != "9090" || cfg.Server.IdleTimeout != 2*time.Minute {
		t.Errorf("unexpected server config %+v", cfg.Server)
	}
	if cfg.PSP.StripeAPIKey != "sk_live" || cfg.PSP.StripeAccountID != "acct_123" {
		t.Errorf("unexpected psp config %+v", cfg.PSP)
	}
	if len(cfg.PSP.CurrencyRoutes) != 2 || cfg.PSP.CurrencyRoutes["usd"] != "stripe" {
		t.Errorf("unexpected currency routes %v", cfg.PSP.CurrencyRoutes)
	}
	if cfg.Rates.BaseURL != "https://rates.example.com" || cfg.Rates.MaxAge != 30*time.Minute || cfg.Rates.FetchTimeout != 2*time.Second {
		t.Errorf("unexpected rates config %+v", cfg.Rates)
	}
	if !cfg.Pricing.ZoneRates["north-america"].Equal(decimal.RequireFromString("5")) {
		t.Errorf("unexpected north-america rate %s", cfg.Pricing.ZoneRates["north-america"])
	}
	if !cfg.Pricing.ZoneRates["europe"].Equal(decimal.RequireFromString("12.5")) {
		t.Errorf("unexpected europe rate %s", cfg.Pricing.ZoneRates["europe"])
	}
	if !cfg.Pricing.FreeShippingThresholds["nl"].Equal(decimal.NewFromInt(75)) {
		t.Errorf("unexpected nl threshold %v", cfg.Pricing.FreeShippingThresholds)
	}
	if cfg.Checkout.IntentTTL != 10*time.Minute {
		t.Errorf("unexpected intent ttl %s", cfg.Checkout.IntentTTL)
	}
	if cfg.Redis.Addr != "localhost:6379" || cfg.Redis.Password != "redis-pass" || cfg.Redis.DB != 2 {
		t.Errorf("unexpected redis config %+v", cfg.Redis)
	}
	if cfg.Events.ProjectID != "events-prod" || cfg.Events.Topic != "checkout-events" {
		t.Errorf("unexpected events config %+v", cfg.Events)
	}
	if cfg.RateLimits.CheckoutPerMinute != 5 {
		t.Errorf("unexpected checkout rate limit %d", cfg.RateLimits.CheckoutPerMinute)
	}
	if cfg.Idempotency.Header != "X-Idem-Key" || cfg.Idempotency.TTL != 48*time.Hour {
		t.Errorf("unexpected idempotency config %+v", cfg.Idempotency)
	}
}

func TestLoadDotEnvFallback(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "# local overrides\nexport STOREFRONT_SERVER_PORT=7070\nSTOREFRONT_FIRESTORE_PROJECT_ID=\"storefront-dot\"\n"
	if err := os.WriteFile(envPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write dotenv file: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(envPath), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Port != "7070" {
		t.Errorf("expected port from dotenv 7070, got %s", cfg.Server.Port)
	}
	if cfg.Firestore.ProjectID != "storefront-dot" {
		t.Errorf("expected firestore project from dotenv, got %s", cfg.Firestore.ProjectID)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	_, err := Load(context.Background(), WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""))
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if fields := validation.Fields(); len(fields) != 1 || fields[0] != "Firestore.ProjectID" {
		t.Fatalf("unexpected fields %v", fields)
	}
}

func TestLoadRejectsInvalidRatesAndPricing(t *testing.T) {
	env := map[string]string{
		"STOREFRONT_FIRESTORE_PROJECT_ID":      "storefront-dev",
		"STOREFRONT_RATES_BASE_URL":            "not a url",
		"STOREFRONT_RATES_MAX_AGE":             "2h",
		"STOREFRONT_RATES_MAX_STALENESS":       "1h",
		"STOREFRONT_PRICING_ZONE_RATES":        "europe=abc,asia-pacific=-1,nl=4",
		"STOREFRONT_CHECKOUT_INTENT_TTL":       "0s",
		"STOREFRONT_IDEMPOTENCY_CLEANUP_BATCH": "0",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	want := map[string]bool{
		"Pricing.ZoneRates[asia-pacific]": true,
		"Pricing.ZoneRates[europe]":       true,
		"Rates.BaseURL":                   true,
		"Rates.MaxStaleness":              true,
		"Checkout.IntentTTL":              true,
		"Idempotency.CleanupBatchSize":    true,
	}
	fields := validation.Fields()
	if len(fields) != len(want) {
		t.Fatalf("unexpected fields %v", fields)
	}
	for _, f := range fields {
		if !want[f] {
			t.Fatalf("unexpected field %s in %v", f, fields)
		}
	}
}

func TestLoadSecretResolverError(t *testing.T) {
	env := map[string]string{
		"STOREFRONT_FIRESTORE_PROJECT_ID": "storefront-dev",
		"STOREFRONT_PSP_STRIPE_API_KEY":   "secret://missing",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %T", err)
	}
	if secretErr.Ref != "secret://missing" {
		t.Errorf("unexpected secret ref %s", secretErr.Ref)
	}
	if !errors.Is(err, errSecretResolverNotConfigured) {
		t.Errorf("expected resolver not configured cause, got %v", err)
	}
}

func TestEnvironmentValuesMergesSources(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "STOREFRONT_FIRESTORE_PROJECT_ID=dot-project\nSTOREFRONT_SECRET_FALLBACK_FILE=.dot.local\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("failed writing env file: %v", err)
	}

	t.Setenv("STOREFRONT_FIRESTORE_PROJECT_ID", "os-project")
	t.Setenv("STOREFRONT_SECRET_PROJECT_IDS", "prod=project-prod")

	values, err := EnvironmentValues(WithEnvFile(envPath), WithEnvMap(map[string]string{
		"STOREFRONT_FIRESTORE_PROJECT_ID": "override-project",
	}))
	if err != nil {
		t.Fatalf("EnvironmentValues returned error: %v", err)
	}

	if got := values["STOREFRONT_FIRESTORE_PROJECT_ID"]; got != "override-project" {
		t.Fatalf("expected override project, got %s", got)
	}
	if got := values["STOREFRONT_SECRET_FALLBACK_FILE"]; got != ".dot.local" {
		t.Fatalf("expected dotenv fallback file, got %s", got)
	}
	if got := values["STOREFRONT_SECRET_PROJECT_IDS"]; got != "prod=project-prod" {
		t.Fatalf("expected system env project map, got %s", got)
	}
}

func TestLoadMissingRequiredSecrets(t *testing.T) {
	env := map[string]string{
		"STOREFRONT_FIRESTORE_PROJECT_ID": "storefront-dev",
	}

	_, err := Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("PSP.StripeAPIKey", "PSP.StripeAPIKey"),
	)
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSecretsError, got %T", err)
	}
	if got := missing.Names(); len(got) != 1 || got[0] != "PSP.StripeAPIKey" {
		t.Fatalf("unexpected names %v", got)
	}
	if got := missing.RedactedNames(); len(got) != 1 || got[0] != redactSecretName("PSP.StripeAPIKey") {
		t.Fatalf("unexpected redacted names %v", got)
	}
}
