package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vintage-storefront/api/internal/pricing"
	"github.com/vintage-storefront/api/internal/repositories"
)

var (
	// ErrCatalogInvalidInput indicates the caller supplied an empty or malformed product id.
	ErrCatalogInvalidInput = errors.New("catalog service: invalid input")
	// ErrCatalogProductNotFound indicates the product does not exist or is not published.
	ErrCatalogProductNotFound = errors.New("catalog service: product not found")
	// ErrCatalogUnavailable indicates the catalog backend could not be reached.
	ErrCatalogUnavailable = errors.New("catalog service: unavailable")
)

// CatalogServiceDeps bundles constructor inputs for the catalog service.
type CatalogServiceDeps struct {
	Products repositories.ProductRepository
	Rates    RateProvider
	Zones    *pricing.ZoneTable
	Clock    func() time.Time
}

type catalogService struct {
	products repositories.ProductRepository
	rates    RateProvider
	zones    *pricing.ZoneTable
	clock    func() time.Time
}

// NewCatalogService constructs the catalog service with the supplied dependencies.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Products == nil {
		return nil, fmt.Errorf("catalog service: product repository is required")
	}
	if deps.Rates == nil {
		return nil, fmt.Errorf("catalog service: rate provider is required")
	}
	if deps.Zones == nil {
		return nil, fmt.Errorf("catalog service: zone table is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &catalogService{
		products: deps.Products,
		rates:    deps.Rates,
		zones:    deps.Zones,
		clock:    func() time.Time { return clock().UTC() },
	}, nil
}

func (s *catalogService) GetProductPrice(ctx context.Context, productID string) (ProductPrice, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return ProductPrice{}, ErrCatalogInvalidInput
	}

	product, err := s.products.GetProduct(ctx, productID)
	if err != nil {
		return ProductPrice{}, translateCatalogError(err)
	}

	state := pricing.EvaluateDiscount(product, s.clock())
	regular := pricing.Money{Amount: state.Regular, Currency: pricing.BaseCurrency}.Round()
	effective := pricing.Money{Amount: state.EffectivePrice(), Currency: pricing.BaseCurrency}.Round()

	price := ProductPrice{
		ProductID:      product.ID,
		Name:           product.Name,
		Regular:        regular,
		Effective:      effective,
		DiscountStatus: state.Status,
		DiscountActive: state.Active(),
		FreeShipping:   product.FreeShipping,
	}
	if state.Active() {
		price.DiscountPercentage = pricing.FormatDiscountPercentage(regular.Amount, effective.Amount)
		price.DiscountEndsAt = state.EndsAt
	}
	return price, nil
}

func (s *catalogService) ListCurrencies(ctx context.Context) (CurrencyTable, error) {
	snapshot := s.rates.GetRates(ctx)

	supported := pricing.SupportedCurrencies()
	table := CurrencyTable{
		Base:       pricing.BaseCurrency,
		Currencies: make([]CurrencyRate, 0, len(supported)),
		Live:       snapshot.Fetched,
		FetchedAt:  snapshot.FetchedAt,
		Source:     snapshot.Source,
	}
	for _, currency := range supported {
		rate, ok := snapshot.Rate(currency.Code)
		if !ok {
			// Currencies without a rate cannot be quoted, so they are not offered.
			continue
		}
		table.Currencies = append(table.Currencies, CurrencyRate{Currency: currency, Rate: rate})
	}
	return table, nil
}

func (s *catalogService) ListShippingZones(context.Context) ([]ShippingZone, error) {
	zones := s.zones.Zones()
	out := make([]ShippingZone, 0, len(zones))
	for _, zone := range zones {
		view := ShippingZone{
			ID:        zone.ID,
			Countries: append([]string(nil), zone.Countries...),
			Rate:      s.zones.Rate(zone.ID),
		}
		if threshold, ok := s.zones.FreeShippingThreshold(zone.ID); ok {
			view.FreeShippingThreshold = &threshold
		}
		out = append(out, view)
	}
	return out, nil
}

func translateCatalogError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrCatalogProductNotFound
		case repoErr.IsUnavailable():
			return ErrCatalogUnavailable
		}
	}
	return fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
}
