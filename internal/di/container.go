package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vintage-storefront/api/internal/payments"
	"github.com/vintage-storefront/api/internal/platform/config"
	"github.com/vintage-storefront/api/internal/platform/observability"
	"github.com/vintage-storefront/api/internal/pricing"
	"github.com/vintage-storefront/api/internal/repositories"
	"github.com/vintage-storefront/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Catalog  services.CatalogService
	Cart     services.CartService
	Checkout services.CheckoutService
	System   services.SystemService
}

// Infrastructure carries the non-repository collaborators the services need. Intents and
// Events are optional; without Intents the cart and checkout services share one in-process
// cache.
type Infrastructure struct {
	Rates    services.RateProvider
	Payments *payments.Manager
	Intents  services.IntentCache
	Events   services.CheckoutEventPublisher
	Build    services.BuildInfo
	Logger   *zap.Logger
	Clock    func() time.Time
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Zones        *pricing.ZoneTable
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring passes the Firestore
// registry, while tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, infra Infrastructure) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	zones, err := BuildZoneTable(cfg.Pricing)
	if err != nil {
		return nil, err
	}

	svc, err := buildServices(ctx, reg, zones, cfg, infra)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Zones:        zones,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients, background workers, or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

// BuildZoneTable applies configured rate and threshold overrides to the built-in zones.
func BuildZoneTable(cfg config.PricingConfig) (*pricing.ZoneTable, error) {
	opts := make([]pricing.ZoneOption, 0, len(cfg.ZoneRates)+len(cfg.FreeShippingThresholds))
	for id, rate := range cfg.ZoneRates {
		opts = append(opts, pricing.WithZoneRate(pricing.ZoneID(id), rate))
	}
	for id, threshold := range cfg.FreeShippingThresholds {
		opts = append(opts, pricing.WithFreeShippingThreshold(pricing.ZoneID(id), threshold))
	}
	zones, err := pricing.DefaultZoneTable(opts...)
	if err != nil {
		return nil, fmt.Errorf("build zone table: %w", err)
	}
	return zones, nil
}

func buildServices(_ context.Context, reg repositories.Registry, zones *pricing.ZoneTable, cfg config.Config, infra Infrastructure) (Services, error) {
	var svc Services
	if infra.Rates == nil {
		return svc, errors.New("rate provider is required")
	}

	clock := infra.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := infra.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	intents := infra.Intents
	if intents == nil {
		intents = services.NewMemoryIntentCache(cfg.Checkout.IntentTTL, clock)
	}

	productsRepo := reg.Products()
	if productsRepo != nil {
		catalogSvc, err := services.NewCatalogService(services.CatalogServiceDeps{
			Products: productsRepo,
			Rates:    infra.Rates,
			Zones:    zones,
			Clock:    clock,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build catalog service: %w", err)
		}
		svc.Catalog = catalogSvc
	}

	cartsRepo := reg.Carts()
	if cartsRepo != nil && productsRepo != nil {
		cartSvc, err := services.NewCartService(services.CartServiceDeps{
			Carts:    cartsRepo,
			Products: productsRepo,
			Intents:  intents,
			Clock:    clock,
			Logger:   observability.EventLogger(logger.Named("cart")),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build cart service: %w", err)
		}
		svc.Cart = cartSvc
	}

	if cartsRepo != nil && infra.Payments != nil {
		checkoutSvc, err := services.NewCheckoutService(services.CheckoutServiceDeps{
			Carts:      cartsRepo,
			Rates:      infra.Rates,
			Calculator: pricing.NewCalculator(zones, clock),
			Payments:   infra.Payments,
			Intents:    intents,
			Events:     infra.Events,
			Clock:      clock,
			Logger:     observability.EventLogger(logger.Named("checkout")),

			GatewayTimeout: cfg.Checkout.GatewayTimeout,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build checkout service: %w", err)
		}
		svc.Checkout = checkoutSvc
	}

	if healthRepo := reg.Health(); healthRepo != nil {
		build := infra.Build
		if build.Environment == "" {
			build.Environment = cfg.Environment
		}
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Rates:            infra.Rates,
			Clock:            clock,
			Build:            build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}
