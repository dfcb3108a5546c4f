package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/vintage-storefront/api/internal/platform/firestore"
	"github.com/vintage-storefront/api/internal/repositories"
)

// Registry exposes the Firestore-backed repositories through repositories.Registry.
type Registry struct {
	provider *pfirestore.Provider
	products *ProductRepository
	carts    *CartRepository
	health   repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds every Firestore repository on top of a shared provider. Health is optional.
func NewRegistry(provider *pfirestore.Provider, health repositories.HealthRepository) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}
	products, err := NewProductRepository(provider)
	if err != nil {
		return nil, err
	}
	carts, err := NewCartRepository(provider)
	if err != nil {
		return nil, err
	}
	return &Registry{
		provider: provider,
		products: products,
		carts:    carts,
		health:   health,
	}, nil
}

func (r *Registry) Products() repositories.ProductRepository { return r.products }

func (r *Registry) Carts() repositories.CartRepository { return r.carts }

// Health returns nil when no health repository was supplied.
func (r *Registry) Health() repositories.HealthRepository { return r.health }

// Close closes the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}
