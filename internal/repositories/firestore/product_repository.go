package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/vintage-storefront/api/internal/domain"
	pfirestore "github.com/vintage-storefront/api/internal/platform/firestore"
	"github.com/vintage-storefront/api/internal/repositories"
)

const productCollection = "products"

// ProductRepository reads catalog products from Firestore.
type ProductRepository struct {
	base *pfirestore.BaseRepository[productDocument]
}

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	return &ProductRepository{
		base: pfirestore.NewBaseRepository[productDocument](provider, productCollection, nil),
	}, nil
}

// GetProduct loads a single product. Unpublished products are reported as not found.
func (r *ProductRepository) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.base == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	id := strings.TrimSpace(productID)
	if id == "" {
		return domain.Product{}, errors.New("product repository: product id is required")
	}

	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	if !doc.Data.Published {
		return domain.Product{}, pfirestore.NewNotFoundError(productCollection+".get", fmt.Errorf("product %s is not published", id))
	}

	product, err := doc.Data.toDomain(doc.ID)
	if err != nil {
		return domain.Product{}, err
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = doc.CreateTime
	}
	if product.UpdatedAt.IsZero() {
		product.UpdatedAt = doc.UpdateTime
	}
	return product, nil
}

type productDocument struct {
	Name              string     `firestore:"name"`
	Price             string     `firestore:"price"`
	Currency          string     `firestore:"currency"`
	DiscountPrice     *string    `firestore:"discountPrice,omitempty"`
	DiscountStartDate *time.Time `firestore:"discountStartDate,omitempty"`
	DiscountEndDate   *time.Time `firestore:"discountEndDate,omitempty"`
	WeightGrams       int        `firestore:"weightGrams"`
	FreeShipping      bool       `firestore:"freeShipping"`
	Published         bool       `firestore:"published"`
	CreatedAt         time.Time  `firestore:"createdAt"`
	UpdatedAt         time.Time  `firestore:"updatedAt"`
}

func (d productDocument) toDomain(id string) (domain.Product, error) {
	price, err := parseAmount(d.Price)
	if err != nil {
		return domain.Product{}, fmt.Errorf("product repository: product %s price: %w", id, err)
	}

	currency := strings.ToUpper(strings.TrimSpace(d.Currency))
	if currency == "" {
		currency = domain.BaseCurrency
	}
	if currency != domain.BaseCurrency {
		return domain.Product{}, fmt.Errorf("product repository: product %s priced in %s, want %s", id, currency, domain.BaseCurrency)
	}

	discount, err := discountFromDocument(d.DiscountPrice, d.DiscountStartDate, d.DiscountEndDate)
	if err != nil {
		return domain.Product{}, fmt.Errorf("product repository: product %s discount: %w", id, err)
	}

	return domain.Product{
		ID:           id,
		Name:         strings.TrimSpace(d.Name),
		Price:        price,
		Currency:     currency,
		Discount:     discount,
		WeightGrams:  d.WeightGrams,
		FreeShipping: d.FreeShipping,
		Published:    d.Published,
		CreatedAt:    d.CreatedAt.UTC(),
		UpdatedAt:    d.UpdatedAt.UTC(),
	}, nil
}

// parseAmount reads a decimal stored as a string. Empty means zero.
func parseAmount(raw string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(trimmed)
}

func discountFromDocument(price *string, startsAt, endsAt *time.Time) (*domain.DiscountWindow, error) {
	if price == nil || strings.TrimSpace(*price) == "" {
		return nil, nil
	}
	amount, err := parseAmount(*price)
	if err != nil {
		return nil, err
	}
	return &domain.DiscountWindow{
		Price:    amount,
		StartsAt: utcPtr(startsAt),
		EndsAt:   utcPtr(endsAt),
	}, nil
}

func discountToDocument(window *domain.DiscountWindow) (*string, *time.Time, *time.Time) {
	if window == nil {
		return nil, nil, nil
	}
	price := window.Price.String()
	return &price, utcPtr(window.StartsAt), utcPtr(window.EndsAt)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	v := t.UTC()
	return &v
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)
