package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/vintage-storefront/api/internal/domain"
	pfirestore "github.com/vintage-storefront/api/internal/platform/firestore"
	"github.com/vintage-storefront/api/internal/repositories"
)

const (
	cartCollection = "carts"
)

// CartRepository persists carts with their line items embedded in a single document.
type CartRepository struct {
	base *pfirestore.BaseRepository[cartDocument]
	now  func() time.Time
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	return &CartRepository{
		base: pfirestore.NewBaseRepository[cartDocument](provider, cartCollection, nil),
		now:  time.Now,
	}, nil
}

// UpsertCart writes the cart document. With a nil expectedUpdate the cart must not exist yet;
// otherwise the write only succeeds when the stored document was last updated at expectedUpdate.
func (r *CartRepository) UpsertCart(ctx context.Context, cart domain.Cart, expectedUpdate *time.Time) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}

	cartID := strings.TrimSpace(cart.ID)
	if cartID == "" {
		return domain.Cart{}, errors.New("cart repository: cart id is required")
	}

	now := r.now().UTC()
	createdAt := cart.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = now
	}

	doc := cartDocument{
		Items:     encodeLineItems(cart.Items),
		CreatedAt: createdAt,
		UpdatedAt: now,
	}

	var (
		result pfirestore.MutationResult
		err    error
	)
	if expectedUpdate == nil || expectedUpdate.IsZero() {
		result, err = r.base.Create(ctx, cartID, doc)
	} else {
		result, err = r.base.Update(ctx, cartID, []firestore.Update{
			{Path: "items", Value: doc.Items},
			{Path: "updatedAt", Value: doc.UpdatedAt},
		}, firestore.LastUpdateTime(expectedUpdate.UTC()))
	}
	if err != nil {
		return domain.Cart{}, err
	}

	saved := cloneCart(cart)
	saved.ID = cartID
	saved.CreatedAt = createdAt
	saved.UpdatedAt = result.UpdateTime
	return saved, nil
}

// GetCart loads the cart. UpdatedAt carries the document's server update time so it can be
// passed back to UpsertCart as the expected version.
func (r *CartRepository) GetCart(ctx context.Context, cartID string) (domain.Cart, error) {
	if r == nil || r.base == nil {
		return domain.Cart{}, errors.New("cart repository not initialised")
	}
	id := strings.TrimSpace(cartID)
	if id == "" {
		return domain.Cart{}, errors.New("cart repository: cart id is required")
	}

	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Cart{}, err
	}

	items, err := decodeLineItems(doc.Data.Items)
	if err != nil {
		return domain.Cart{}, fmt.Errorf("cart repository: cart %s: %w", id, err)
	}

	createdAt := doc.Data.CreatedAt
	if createdAt.IsZero() {
		createdAt = doc.CreateTime
	}
	return domain.Cart{
		ID:        doc.ID,
		Items:     items,
		CreatedAt: createdAt.UTC(),
		UpdatedAt: doc.UpdateTime,
	}, nil
}

func encodeLineItems(items []domain.CartLineItem) []cartItemDocument {
	out := make([]cartItemDocument, 0, len(items))
	for _, item := range items {
		discountPrice, startsAt, endsAt := discountToDocument(item.Discount)
		out = append(out, cartItemDocument{
			ID:               item.ID,
			ProductID:        item.ProductID,
			Name:             item.Name,
			UnitPrice:        item.UnitPrice.String(),
			DiscountPrice:    discountPrice,
			DiscountStartsAt: startsAt,
			DiscountEndsAt:   endsAt,
			WeightGrams:      item.WeightGrams,
			FreeShipping:     item.FreeShipping,
			AddedAt:          item.AddedAt.UTC(),
		})
	}
	return out
}

func decodeLineItems(docs []cartItemDocument) ([]domain.CartLineItem, error) {
	items := make([]domain.CartLineItem, 0, len(docs))
	for _, doc := range docs {
		price, err := parseAmount(doc.UnitPrice)
		if err != nil {
			return nil, fmt.Errorf("item %s price: %w", doc.ID, err)
		}
		discount, err := discountFromDocument(doc.DiscountPrice, doc.DiscountStartsAt, doc.DiscountEndsAt)
		if err != nil {
			return nil, fmt.Errorf("item %s discount: %w", doc.ID, err)
		}
		items = append(items, domain.CartLineItem{
			ID:           doc.ID,
			ProductID:    doc.ProductID,
			Name:         doc.Name,
			UnitPrice:    price,
			Discount:     discount,
			WeightGrams:  doc.WeightGrams,
			FreeShipping: doc.FreeShipping,
			AddedAt:      doc.AddedAt.UTC(),
		})
	}
	return items, nil
}

func cloneCart(cart domain.Cart) domain.Cart {
	dup := cart
	if cart.Items != nil {
		dup.Items = make([]domain.CartLineItem, len(cart.Items))
		copy(dup.Items, cart.Items)
	}
	return dup
}

type cartDocument struct {
	Items     []cartItemDocument `firestore:"items"`
	CreatedAt time.Time          `firestore:"createdAt"`
	UpdatedAt time.Time          `firestore:"updatedAt"`
}

type cartItemDocument struct {
	ID               string     `firestore:"id"`
	ProductID        string     `firestore:"productId"`
	Name             string     `firestore:"name"`
	UnitPrice        string     `firestore:"unitPrice"`
	DiscountPrice    *string    `firestore:"discountPrice,omitempty"`
	DiscountStartsAt *time.Time `firestore:"discountStartsAt,omitempty"`
	DiscountEndsAt   *time.Time `firestore:"discountEndsAt,omitempty"`
	WeightGrams      int        `firestore:"weightGrams"`
	FreeShipping     bool       `firestore:"freeShipping"`
	AddedAt          time.Time  `firestore:"addedAt"`
}

var _ repositories.CartRepository = (*CartRepository)(nil)
