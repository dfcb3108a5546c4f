package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/redis/go-redis/v9"
	"github.com/stripe/stripe-go/v78"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/vintage-storefront/api/internal/di"
	"github.com/vintage-storefront/api/internal/handlers"
	"github.com/vintage-storefront/api/internal/payments"
	"github.com/vintage-storefront/api/internal/platform/config"
	"github.com/vintage-storefront/api/internal/platform/events"
	pfirestore "github.com/vintage-storefront/api/internal/platform/firestore"
	"github.com/vintage-storefront/api/internal/platform/fxrates"
	"github.com/vintage-storefront/api/internal/platform/idempotency"
	"github.com/vintage-storefront/api/internal/platform/observability"
	"github.com/vintage-storefront/api/internal/platform/secrets"
	"github.com/vintage-storefront/api/internal/repositories"
	firestoreRepo "github.com/vintage-storefront/api/internal/repositories/firestore"
	"github.com/vintage-storefront/api/internal/services"
)

const envPrefix = "STOREFRONT_"

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	envValues, err := config.EnvironmentValues()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read environment values: %v\n", err)
		os.Exit(1)
	}

	baseLogger, err := observability.NewLogger(envValue(envValues, "LOG_LEVEL"), envValue(envValues, "ENVIRONMENT"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)
	logger.Info("starting storefront api",
		zap.String("environment", cfg.Environment),
		zap.String("version", buildInfo.Version),
	)

	backgroundCtx, stopBackground := context.WithCancel(observability.WithLogger(context.Background(), logger))
	var background sync.WaitGroup

	var firestoreOpts []pfirestore.ProviderOption
	if credentialsFile := envValue(envValues, "GOOGLE_CREDENTIALS_FILE"); credentialsFile != "" {
		firestoreOpts = append(firestoreOpts, pfirestore.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}
	firestoreProvider := pfirestore.NewProvider(cfg.Firestore, firestoreOpts...)
	if _, err := firestoreProvider.Client(ctx); err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}

	var redisClient *redis.Client
	if addr := strings.TrimSpace(cfg.Redis.Addr); addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close error", zap.Error(err))
			}
		}()
	}

	rateSource, err := fxrates.NewFrankfurterSource(fxrates.FrankfurterConfig{
		BaseURL: cfg.Rates.BaseURL,
		Logger:  logger.Named("fxrates"),
	})
	if err != nil {
		logger.Fatal("failed to initialise exchange rate source", zap.Error(err))
	}
	rateCache := fxrates.NewCache(rateSource,
		fxrates.WithMaxAge(cfg.Rates.MaxAge),
		fxrates.WithMaxStaleness(cfg.Rates.MaxStaleness),
		fxrates.WithFetchTimeout(cfg.Rates.FetchTimeout),
		fxrates.WithRetryInterval(cfg.Rates.RetryInterval),
		fxrates.WithLogger(logger.Named("fxrates")),
	)
	background.Add(1)
	go func() {
		defer background.Done()
		rateCache.Run(backgroundCtx, cfg.Rates.RefreshInterval)
	}()

	paymentManager, err := newPaymentManager(logger, cfg)
	if err != nil {
		logger.Fatal("failed to initialise payment manager", zap.Error(err))
	}

	var intentCache services.IntentCache
	if redisClient != nil {
		redisIntents, err := services.NewRedisIntentCache(redisClient, cfg.Checkout.IntentTTL, cfg.Redis.KeyPrefix)
		if err != nil {
			logger.Fatal("failed to initialise intent cache", zap.Error(err))
		}
		intentCache = redisIntents
	}

	var eventPublisher services.CheckoutEventPublisher
	if topicID := strings.TrimSpace(cfg.Events.Topic); topicID != "" {
		pubsubClient, err := pubsub.NewClient(ctx, cfg.Events.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		topic := pubsubClient.Topic(topicID)
		defer func() {
			topic.Stop()
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		publisher, err := events.NewPubSubCheckoutPublisher(topic)
		if err != nil {
			logger.Fatal("failed to initialise checkout publisher", zap.Error(err))
		}
		eventPublisher = publisher
	}

	healthRepo, err := repositories.NewDependencyHealthRepository(dependencyChecks(firestoreProvider, rateCache, redisClient))
	if err != nil {
		logger.Fatal("failed to initialise health repository", zap.Error(err))
	}
	registry, err := firestoreRepo.NewRegistry(firestoreProvider, healthRepo)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	container, err := di.NewContainer(ctx, cfg, registry, di.Infrastructure{
		Rates:    rateCache,
		Payments: paymentManager,
		Intents:  intentCache,
		Events:   eventPublisher,
		Build:    buildInfo,
		Logger:   logger,
		Clock:    time.Now,
	})
	if err != nil {
		logger.Fatal("failed to build services", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("repository close error", zap.Error(err))
		}
	}()

	idempotencyStore, err := newIdempotencyStore(cfg, firestoreProvider, redisClient)
	if err != nil {
		logger.Fatal("failed to initialise idempotency store", zap.Error(err))
	}
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithScope(handlers.PaymentIntentScope),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)

	if cfg.Idempotency.CleanupInterval > 0 {
		background.Add(1)
		go func() {
			defer background.Done()
			runIdempotencyCleanup(backgroundCtx, logger.Named("idempotency"), idempotencyStore, cfg.Idempotency)
		}()
	}

	defaultLimiter, checkoutLimiter := newRateLimiters(cfg, redisClient)

	publicHandlers := handlers.NewPublicHandlers(container.Services.Catalog)
	cartHandlers := handlers.NewCartHandlers(container.Services.Cart)
	checkoutHandlers := handlers.NewCheckoutHandlers(container.Services.Checkout,
		handlers.WithPaymentIntentRateLimiter(checkoutLimiter),
		handlers.WithPaymentIntentMiddlewares(idempotencyMiddleware),
	)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(container.Services.System),
	)

	projectID := strings.TrimSpace(cfg.Firestore.ProjectID)
	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.TraceMiddleware(projectID),
			observability.RecoveryMiddleware(logger.Named("http")),
			observability.RequestLoggerMiddleware(),
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithRateLimiter(defaultLimiter),
		handlers.WithPublicRoutes(publicHandlers.Routes),
		handlers.WithCartRoutes(cartHandlers.Routes),
		handlers.WithCheckoutRoutes(checkoutHandlers.Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("storefront api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}

	stopBackground()
	background.Wait()
}

func envValue(env map[string]string, key string) string {
	if env == nil {
		return ""
	}
	return strings.TrimSpace(env[envPrefix+key])
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := envValue(env, "BUILD_VERSION")
	if version == "" {
		version = "dev"
	}
	commit := envValue(env, "BUILD_COMMIT_SHA")
	if commit == "" {
		commit = "unknown"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: cfg.Environment,
		StartedAt:   started,
	}
}

func newPaymentManager(logger *zap.Logger, cfg config.Config) (*payments.Manager, error) {
	stripe.DefaultLeveledLogger = observability.NewLeveledAdapter(logger.Named("stripe"))

	stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
		APIKey:    cfg.PSP.StripeAPIKey,
		AccountID: cfg.PSP.StripeAccountID,
		Logger:    observability.EventLogger(logger.Named("payments")),
		Clock:     time.Now,
	})
	if err != nil {
		return nil, err
	}
	return payments.NewManager(
		map[string]payments.Provider{"stripe": stripeProvider},
		payments.WithDefaultProvider(cfg.PSP.DefaultProvider),
		payments.WithCurrencyRoutes(cfg.PSP.CurrencyRoutes),
	)
}

func dependencyChecks(provider *pfirestore.Provider, rates *fxrates.Cache, redisClient *redis.Client) []repositories.DependencyCheck {
	checks := []repositories.DependencyCheck{
		{
			Name:     "firestore",
			Timeout:  1500 * time.Millisecond,
			Critical: true,
			Check:    provider.Ping,
		},
		{
			Name:    "exchange_rates",
			Timeout: time.Second,
			Check:   rates.Check,
		},
	}
	if redisClient != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "redis",
			Timeout: 500 * time.Millisecond,
			Check: func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			},
		})
	}
	return checks
}

// newIdempotencyStore prefers Redis when configured so replays are shared with the intent cache,
// and falls back to Firestore otherwise.
func newIdempotencyStore(cfg config.Config, provider *pfirestore.Provider, redisClient *redis.Client) (idempotency.Store, error) {
	if redisClient != nil {
		return idempotency.NewRedisStore(redisClient, cfg.Redis.KeyPrefix+"idempotency:")
	}
	if provider == nil {
		return idempotency.NewMemoryStore(), nil
	}
	return idempotency.NewFirestoreStore(provider)
}

func runIdempotencyCleanup(ctx context.Context, logger *zap.Logger, store idempotency.Store, cfg config.IdempotencyConfig) {
	ticker := time.NewTicker(cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, time.Minute)
			removed, err := store.CleanupExpired(runCtx, time.Now().UTC(), cfg.CleanupBatchSize)
			cancel()
			if err != nil {
				logger.Error("idempotency cleanup error", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Info("idempotency cleanup removed records", zap.Int("count", removed))
			}
		case <-ctx.Done():
			return
		}
	}
}

func newRateLimiters(cfg config.Config, redisClient *redis.Client) (handlers.RateLimiter, handlers.RateLimiter) {
	if redisClient != nil {
		return handlers.NewRedisRateLimiter(redisClient, cfg.Redis.KeyPrefix, cfg.RateLimits.DefaultPerMinute, time.Minute),
			handlers.NewRedisRateLimiter(redisClient, cfg.Redis.KeyPrefix+"checkout:", cfg.RateLimits.CheckoutPerMinute, time.Minute)
	}
	return handlers.NewMemoryRateLimiter(cfg.RateLimits.DefaultPerMinute, time.Minute, time.Now),
		handlers.NewMemoryRateLimiter(cfg.RateLimits.CheckoutPerMinute, time.Minute, time.Now)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	envLabel := strings.ToLower(envValue(env, "ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	defaultProject := envValue(env, "SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = envValue(env, "FIRESTORE_PROJECT_ID")
	}
	fallbackPath := envValue(env, "SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if projectMap := parseKeyValueList(envValue(env, "SECRET_PROJECT_IDS"), true); len(projectMap) > 0 {
		opts = append(opts, secrets.WithProjectMap(projectMap))
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if pins := secretVersionPins(envValue(env, "SECRET_VERSION_PINS")); len(pins) > 0 {
		opts = append(opts, secrets.WithVersionPins(pins))
	}
	if credentialsFile := envValue(env, "GOOGLE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the config fields that must resolve to a value. The Redis
// password is only required when one is configured.
func requiredSecretNames(env map[string]string) []string {
	required := []string{"PSP.StripeAPIKey"}
	if envValue(env, "REDIS_PASSWORD") != "" {
		required = append(required, "Redis.Password")
	}
	return required
}

// secretVersionPins parses "[env:]reference=version" pairs. Bare references gain the
// secret:// scheme and sm:// is rewritten to secret://.
func secretVersionPins(raw string) map[string]string {
	pins := make(map[string]string)
	for ref, version := range parseKeyValueList(raw, false) {
		var prefix string
		if idx := strings.Index(ref, ":"); idx > 0 {
			schemeSplit := strings.Index(ref, "://")
			if schemeSplit == -1 || idx < schemeSplit {
				prefix = strings.ToLower(strings.TrimSpace(ref[:idx])) + ":"
				ref = strings.TrimSpace(ref[idx+1:])
			}
		}
		switch {
		case strings.HasPrefix(ref, "sm://"):
			ref = "secret://" + strings.TrimPrefix(ref, "sm://")
		case !strings.HasPrefix(ref, "secret://"):
			ref = "secret://" + ref
		}
		pins[prefix+ref] = version
	}
	return pins
}

func parseKeyValueList(raw string, lowerKeys bool) map[string]string {
	result := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		if lowerKeys {
			key = strings.ToLower(key)
		}
		result[key] = value
	}
	return result
}
