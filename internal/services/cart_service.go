package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/vintage-storefront/api/internal/domain"
	"github.com/vintage-storefront/api/internal/repositories"
)

const maxCartWriteAttempts = 3

var (
	errCartRepositoryRequired = errors.New("cart service: cart repository is required")
	errCartProductsRequired   = errors.New("cart service: product repository is required")
)

var (
	// ErrCartInvalidInput indicates the caller supplied invalid input.
	ErrCartInvalidInput = errors.New("cart service: invalid input")
	// ErrCartUnavailable indicates the cart backend could not be reached.
	ErrCartUnavailable = errors.New("cart service: unavailable")
	// ErrCartNotFound indicates the requested cart or line item does not exist.
	ErrCartNotFound = errors.New("cart service: not found")
	// ErrCartConflict indicates the cart kept changing underneath the update.
	ErrCartConflict = errors.New("cart service: conflict")
	// ErrCartProductNotFound indicates the product does not exist or is not for sale.
	ErrCartProductNotFound = errors.New("cart service: product not found")
	// ErrCartDuplicateItem indicates the product is already in the cart. Items are one-offs.
	ErrCartDuplicateItem = errors.New("cart service: product already in cart")
)

// CartServiceDeps wires the repository dependencies for cart operations.
type CartServiceDeps struct {
	Carts       repositories.CartRepository
	Products    repositories.ProductRepository
	Intents     IntentCache
	Clock       func() time.Time
	Logger      func(context.Context, string, map[string]any)
	IDGenerator func() string
}

type cartService struct {
	carts    repositories.CartRepository
	products repositories.ProductRepository
	intents  IntentCache
	newID    func() string
	now      func() time.Time
	logger   func(context.Context, string, map[string]any)
}

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Carts == nil {
		return nil, errCartRepositoryRequired
	}
	if deps.Products == nil {
		return nil, errCartProductsRequired
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}

	return &cartService{
		carts:    deps.Carts,
		products: deps.Products,
		intents:  deps.Intents,
		newID:    idGen,
		now:      func() time.Time { return clock().UTC() },
		logger:   logger,
	}, nil
}

// GetCart loads the cart. A cart that was never written is returned empty.
func (s *cartService) GetCart(ctx context.Context, cartID string) (Cart, error) {
	id := strings.TrimSpace(cartID)
	if id == "" {
		return Cart{}, ErrCartInvalidInput
	}

	cart, err := s.carts.GetCart(ctx, id)
	if err != nil {
		if isRepoNotFound(err) {
			return Cart{ID: id, Items: []CartLineItem{}}, nil
		}
		return Cart{}, s.translateRepoError(err)
	}
	if cart.Items == nil {
		cart.Items = []CartLineItem{}
	}
	return cart, nil
}

// AddItem snapshots the product's current price, discount window, weight and shipping flag
// into a new line item. Later catalog edits do not change items already in a cart.
func (s *cartService) AddItem(ctx context.Context, cmd AddCartItemCommand) (Cart, error) {
	cartID := strings.TrimSpace(cmd.CartID)
	productID := strings.TrimSpace(cmd.ProductID)
	if cartID == "" || productID == "" {
		return Cart{}, ErrCartInvalidInput
	}

	product, err := s.products.GetProduct(ctx, productID)
	if err != nil {
		if isRepoNotFound(err) {
			return Cart{}, ErrCartProductNotFound
		}
		return Cart{}, s.translateRepoError(err)
	}

	item := CartLineItem{
		ID:           s.newID(),
		ProductID:    product.ID,
		Name:         product.Name,
		UnitPrice:    product.Price,
		Discount:     cloneDiscountWindow(product.Discount),
		WeightGrams:  product.WeightGrams,
		FreeShipping: product.FreeShipping,
		AddedAt:      s.now(),
	}

	cart, err := s.mutate(ctx, cartID, true, func(cart *Cart) error {
		for _, existing := range cart.Items {
			if existing.ProductID == item.ProductID {
				return ErrCartDuplicateItem
			}
		}
		cart.Items = append(cart.Items, item)
		return nil
	})
	if err != nil {
		return Cart{}, err
	}

	s.logger(ctx, "cart.item_added", map[string]any{
		"cartID":    cartID,
		"itemID":    item.ID,
		"productID": item.ProductID,
		"unitPrice": item.UnitPrice.String(),
	})
	return cart, nil
}

// RemoveItem removes a line item by its id.
func (s *cartService) RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error) {
	cartID := strings.TrimSpace(cmd.CartID)
	itemID := strings.TrimSpace(cmd.ItemID)
	if cartID == "" || itemID == "" {
		return Cart{}, ErrCartInvalidInput
	}

	cart, err := s.mutate(ctx, cartID, false, func(cart *Cart) error {
		for i, existing := range cart.Items {
			if existing.ID == itemID {
				cart.Items = append(cart.Items[:i:i], cart.Items[i+1:]...)
				return nil
			}
		}
		return ErrCartNotFound
	})
	if err != nil {
		return Cart{}, err
	}

	s.logger(ctx, "cart.item_removed", map[string]any{
		"cartID": cartID,
		"itemID": itemID,
	})
	return cart, nil
}

// mutate applies fn to the stored cart and writes it back conditionally, retrying when another
// writer got there first. With create set, a missing cart starts out empty.
func (s *cartService) mutate(ctx context.Context, cartID string, create bool, fn func(*Cart) error) (Cart, error) {
	for attempt := 1; attempt <= maxCartWriteAttempts; attempt++ {
		var expected *time.Time
		cart, err := s.carts.GetCart(ctx, cartID)
		switch {
		case err == nil:
			version := cart.UpdatedAt
			expected = &version
		case isRepoNotFound(err) && create:
			cart = Cart{ID: cartID, CreatedAt: s.now()}
		case isRepoNotFound(err):
			return Cart{}, ErrCartNotFound
		default:
			return Cart{}, s.translateRepoError(err)
		}

		if err := fn(&cart); err != nil {
			return Cart{}, err
		}

		saved, err := s.carts.UpsertCart(ctx, cart, expected)
		if err == nil {
			if saved.Items == nil {
				saved.Items = []CartLineItem{}
			}
			s.invalidateIntent(ctx, cartID)
			return saved, nil
		}
		if !isRepoConflict(err) {
			return Cart{}, s.translateRepoError(err)
		}
		s.logger(ctx, "cart.write_conflict", map[string]any{
			"cartID":  cartID,
			"attempt": attempt,
		})
	}
	return Cart{}, ErrCartConflict
}

// invalidateIntent drops the cart's cached payment intent; its items no longer match.
func (s *cartService) invalidateIntent(ctx context.Context, cartID string) {
	if s.intents == nil {
		return
	}
	if err := s.intents.Delete(ctx, cartID); err != nil {
		s.logger(ctx, "cart.intent_invalidate_failed", map[string]any{
			"cartID": cartID,
			"error":  err.Error(),
		})
	}
}

func (s *cartService) translateRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrCartNotFound
		case repoErr.IsConflict():
			return ErrCartConflict
		case repoErr.IsUnavailable():
			return ErrCartUnavailable
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrCartUnavailable, err)
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func isRepoConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}

func cloneDiscountWindow(window *domain.DiscountWindow) *domain.DiscountWindow {
	if window == nil {
		return nil
	}
	dup := *window
	if window.StartsAt != nil {
		t := *window.StartsAt
		dup.StartsAt = &t
	}
	if window.EndsAt != nil {
		t := *window.EndsAt
		dup.EndsAt = &t
	}
	return &dup
}
