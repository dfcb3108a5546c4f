package repositories

import (
	"context"
	"time"

	domain "github.com/vintage-storefront/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Products() ProductRepository
	Carts() CartRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// ProductRepository reads catalog products. Pricing never writes to the catalog.
type ProductRepository interface {
	GetProduct(ctx context.Context, productID string) (domain.Product, error)
}

// CartRepository persists carts with their frozen line items.
type CartRepository interface {
	GetCart(ctx context.Context, cartID string) (domain.Cart, error)
	// UpsertCart writes the cart. A non-nil expectedUpdate makes the write conditional on
	// the stored document's last update time.
	UpsertCart(ctx context.Context, cart domain.Cart, expectedUpdate *time.Time) (domain.Cart, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
