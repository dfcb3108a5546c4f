package config

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	envPrefix = "STOREFRONT_"

	defaultEnvFile              = ".env"
	defaultEnvironment          = "local"
	defaultLogLevel             = "info"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultRatesBaseURL         = "https://api.frankfurter.app"
	defaultRatesRefresh         = time.Hour
	defaultRatesMaxAge          = time.Hour
	defaultRatesMaxStaleness    = 24 * time.Hour
	defaultRatesFetchTimeout    = 5 * time.Second
	defaultRatesRetryInterval   = time.Minute
	defaultPaymentProvider      = "stripe"
	defaultIntentTTL            = 30 * time.Minute
	defaultGatewayTimeout       = 20 * time.Second
	defaultRedisKeyPrefix       = "checkout:intent:"
	defaultRateLimitDefault     = 120
	defaultRateLimitCheckout    = 20
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Environment string
	LogLevel    string
	Server      ServerConfig
	Firestore   FirestoreConfig
	PSP         PSPConfig
	Rates       RatesConfig
	Pricing     PricingConfig
	Checkout    CheckoutConfig
	Redis       RedisConfig
	Events      EventsConfig
	RateLimits  RateLimitConfig
	Idempotency IdempotencyConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PSPConfig selects and authenticates payment providers.
type PSPConfig struct {
	StripeAPIKey    string
	StripeAccountID string
	DefaultProvider string
	// CurrencyRoutes maps a lower-case currency code to a provider name.
	CurrencyRoutes map[string]string
}

// RatesConfig controls the exchange-rate source and cache.
type RatesConfig struct {
	BaseURL         string
	RefreshInterval time.Duration
	MaxAge          time.Duration
	MaxStaleness    time.Duration
	FetchTimeout    time.Duration
	RetryInterval   time.Duration
}

// PricingConfig overrides the built-in shipping zone table. Keys are zone ids.
type PricingConfig struct {
	ZoneRates              map[string]decimal.Decimal
	FreeShippingThresholds map[string]decimal.Decimal
}

// CheckoutConfig tunes payment intent handling.
type CheckoutConfig struct {
	IntentTTL time.Duration
	// GatewayTimeout bounds one payment intent call shared by concurrent requests.
	GatewayTimeout time.Duration
}

// RedisConfig points the shared intent cache at a Redis server. An empty Addr keeps the
// cache in process.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// EventsConfig enables checkout event publishing when Topic is set.
type EventsConfig struct {
	ProjectID string
	Topic     string
}

// RateLimitConfig controls request throttling.
type RateLimitConfig struct {
	DefaultPerMinute  int
	CheckoutPerMinute int
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that one or more required secrets resolved to nothing.
type MissingSecretsError struct {
	names []string
}

func (e *MissingSecretsError) Error() string {
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.RedactedNames(), ", "))
}

// RedactedNames returns stable hashes of the missing secret names, safe for logs.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil {
		return nil
	}
	out := make([]string, 0, len(e.names))
	for _, name := range e.names {
		out = append(out, redactSecretName(name))
	}
	sort.Strings(out)
	return out
}

// Names returns the config field names of the missing secrets.
func (e *MissingSecretsError) Names() []string {
	if e == nil {
		return nil
	}
	out := append([]string(nil), e.names...)
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects explicit values that take precedence over the process environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv stops Load from reading the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks secret fields, by config field name such as "PSP.StripeAPIKey",
// that must resolve to a non-empty value.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// EnvironmentValues returns the merged environment (dotenv < OS env < explicit map) so callers
// can build dependencies, such as the secret fetcher, before calling Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := newLoaderOptions(opts)
	dotEnv, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}

	values := make(map[string]string, len(dotEnv))
	for k, v := range dotEnv {
		values[k] = v
	}
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if !ok || strings.TrimSpace(key) == "" {
				continue
			}
			values[strings.TrimSpace(key)] = value
		}
	}
	for k, v := range options.envMap {
		values[k] = v
	}
	return values, nil
}

// Load assembles the application configuration from defaults, the .env file, the process
// environment and explicit overrides, then resolves secret references.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)
	values, err := EnvironmentValues(opts...)
	if err != nil {
		return Config{}, err
	}
	env := envReader{values: values}

	cfg := Config{
		Environment: strings.ToLower(env.str("ENVIRONMENT", defaultEnvironment)),
		LogLevel:    strings.ToLower(env.str("LOG_LEVEL", defaultLogLevel)),
		Server: ServerConfig{
			Port:         env.str("SERVER_PORT", defaultPort),
			ReadTimeout:  env.duration("SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: env.duration("SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  env.duration("SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firestore: FirestoreConfig{
			ProjectID:    env.str("FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: env.str("FIRESTORE_EMULATOR_HOST", ""),
		},
		PSP: PSPConfig{
			StripeAPIKey:    env.str("PSP_STRIPE_API_KEY", ""),
			StripeAccountID: env.str("PSP_STRIPE_ACCOUNT_ID", ""),
			DefaultProvider: strings.ToLower(env.str("PSP_DEFAULT_PROVIDER", defaultPaymentProvider)),
			CurrencyRoutes:  env.pairs("PSP_CURRENCY_ROUTES"),
		},
		Rates: RatesConfig{
			BaseURL:         env.str("RATES_BASE_URL", defaultRatesBaseURL),
			RefreshInterval: env.duration("RATES_REFRESH_INTERVAL", defaultRatesRefresh),
			MaxAge:          env.duration("RATES_MAX_AGE", defaultRatesMaxAge),
			MaxStaleness:    env.duration("RATES_MAX_STALENESS", defaultRatesMaxStaleness),
			FetchTimeout:    env.duration("RATES_FETCH_TIMEOUT", defaultRatesFetchTimeout),
			RetryInterval:   env.duration("RATES_RETRY_INTERVAL", defaultRatesRetryInterval),
		},
		Checkout: CheckoutConfig{
			IntentTTL:      env.duration("CHECKOUT_INTENT_TTL", defaultIntentTTL),
			GatewayTimeout: env.duration("CHECKOUT_GATEWAY_TIMEOUT", defaultGatewayTimeout),
		},
		Redis: RedisConfig{
			Addr:      env.str("REDIS_ADDR", ""),
			Password:  env.str("REDIS_PASSWORD", ""),
			DB:        env.integer("REDIS_DB", 0),
			KeyPrefix: env.str("REDIS_KEY_PREFIX", defaultRedisKeyPrefix),
		},
		Events: EventsConfig{
			ProjectID: env.str("EVENTS_PROJECT_ID", ""),
			Topic:     env.str("EVENTS_TOPIC", ""),
		},
		RateLimits: RateLimitConfig{
			DefaultPerMinute:  env.integer("RATELIMIT_DEFAULT_PER_MIN", defaultRateLimitDefault),
			CheckoutPerMinute: env.integer("RATELIMIT_CHECKOUT_PER_MIN", defaultRateLimitCheckout),
		},
		Idempotency: IdempotencyConfig{
			Header:           env.str("IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              env.duration("IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  env.duration("IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: env.integer("IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
	}

	var invalid []string
	cfg.Pricing.ZoneRates, invalid = env.amounts("PRICING_ZONE_RATES", "Pricing.ZoneRates", invalid)
	cfg.Pricing.FreeShippingThresholds, invalid = env.amounts("PRICING_FREE_SHIPPING_THRESHOLDS", "Pricing.FreeShippingThresholds", invalid)

	if cfg.Events.ProjectID == "" {
		cfg.Events.ProjectID = cfg.Firestore.ProjectID
	}

	resolved := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"PSP.StripeAPIKey", &cfg.PSP.StripeAPIKey},
		{"Redis.Password", &cfg.Redis.Password},
	}
	for _, target := range secretFields {
		value, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = value
		resolved[target.name] = strings.TrimSpace(value)
	}

	if err := validateConfig(cfg, invalid); err != nil {
		return Config{}, err
	}
	if missing := findMissingSecrets(options.requiredSecrets, resolved); missing != nil {
		return Config{}, missing
	}
	return cfg, nil
}

func newLoaderOptions(opts []Option) loaderOptions {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
		secret: SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
			return "", errSecretResolverNotConfigured
		}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return options
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if !isSecretReference(value) {
		return value, nil
	}
	ref := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config, invalid []string) error {
	missing := append([]string(nil), invalid...)

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if cfg.Firestore.ProjectID == "" {
		missing = append(missing, "Firestore.ProjectID")
	}
	if u, err := url.Parse(cfg.Rates.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		missing = append(missing, "Rates.BaseURL")
	}
	if cfg.Rates.MaxAge <= 0 {
		missing = append(missing, "Rates.MaxAge")
	}
	if cfg.Rates.MaxStaleness < cfg.Rates.MaxAge {
		missing = append(missing, "Rates.MaxStaleness")
	}
	if cfg.Rates.FetchTimeout <= 0 {
		missing = append(missing, "Rates.FetchTimeout")
	}
	if cfg.Checkout.IntentTTL <= 0 {
		missing = append(missing, "Checkout.IntentTTL")
	}
	if cfg.Checkout.GatewayTimeout <= 0 {
		missing = append(missing, "Checkout.GatewayTimeout")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		missing = append(missing, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		missing = append(missing, "Idempotency.TTL")
	}
	if cfg.Idempotency.CleanupInterval <= 0 {
		missing = append(missing, "Idempotency.CleanupInterval")
	}
	if cfg.Idempotency.CleanupBatchSize <= 0 {
		missing = append(missing, "Idempotency.CleanupBatchSize")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	seen := make(map[string]struct{}, len(required))
	var missing []string
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		if resolved[name] == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingSecretsError{names: missing}
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if rest, ok := strings.CutPrefix(trimmed, "sm://"); ok {
		return "secret://" + rest
	}
	return trimmed
}

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

// envReader reads prefixed keys from the merged environment.
type envReader struct {
	values map[string]string
}

func (r envReader) lookup(key string) (string, bool) {
	value, ok := r.values[envPrefix+key]
	if !ok || strings.TrimSpace(value) == "" {
		return "", false
	}
	return strings.TrimSpace(value), true
}

func (r envReader) str(key, fallback string) string {
	if value, ok := r.lookup(key); ok {
		return value
	}
	return fallback
}

func (r envReader) duration(key string, fallback time.Duration) time.Duration {
	if value, ok := r.lookup(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func (r envReader) integer(key string, fallback int) int {
	if value, ok := r.lookup(key); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

// pairs parses "a=x,b=y" into a map with lower-cased keys and values.
func (r envReader) pairs(key string) map[string]string {
	out := make(map[string]string)
	raw, ok := r.lookup(key)
	if !ok {
		return out
	}
	for _, entry := range strings.Split(raw, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(entry), "=")
		name = strings.ToLower(strings.TrimSpace(name))
		value = strings.ToLower(strings.TrimSpace(value))
		if !ok || name == "" || value == "" {
			continue
		}
		out[name] = value
	}
	return out
}

// amounts parses "zone=amount" pairs. Malformed or negative amounts are reported by field name.
func (r envReader) amounts(key, field string, invalid []string) (map[string]decimal.Decimal, []string) {
	out := make(map[string]decimal.Decimal)
	for name, raw := range r.pairs(key) {
		amount, err := decimal.NewFromString(raw)
		if err != nil || amount.IsNegative() {
			invalid = append(invalid, fmt.Sprintf("%s[%s]", field, name))
			continue
		}
		out[name] = amount
	}
	sort.Strings(invalid)
	return out, invalid
}
