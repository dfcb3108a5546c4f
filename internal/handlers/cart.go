package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/vintage-storefront/api/internal/platform/httpx"
	"github.com/vintage-storefront/api/internal/pricing"
	"github.com/vintage-storefront/api/internal/services"
)

// CartHandlers exposes cart endpoints addressed by an opaque cart id held by the storefront.
type CartHandlers struct {
	carts services.CartService
	clock func() time.Time
}

// NewCartHandlers constructs cart handlers.
func NewCartHandlers(carts services.CartService) *CartHandlers {
	return &CartHandlers{carts: carts, clock: time.Now}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/{cartId}", h.getCart)
	r.Post("/{cartId}/items", h.addItem)
	r.Delete("/{cartId}/items/{itemId}", h.removeItem)
}

type cartItemPayload struct {
	ID             string       `json:"id"`
	ProductID      string       `json:"productId"`
	Name           string       `json:"name,omitempty"`
	UnitPrice      moneyPayload `json:"unitPrice"`
	EffectivePrice moneyPayload `json:"effectivePrice"`
	DiscountActive bool         `json:"discountActive"`
	FreeShipping   bool         `json:"freeShipping"`
	WeightGrams    int          `json:"weightGrams,omitempty"`
	AddedAt        string       `json:"addedAt,omitempty"`
}

type cartPayload struct {
	ID        string            `json:"id"`
	Items     []cartItemPayload `json:"items"`
	ItemCount int               `json:"itemCount"`
	Subtotal  moneyPayload      `json:"subtotal"`
	UpdatedAt string            `json:"updatedAt,omitempty"`
}

type cartResponse struct {
	Cart cartPayload `json:"cart"`
}

type addCartItemRequest struct {
	ProductID string `json:"productId"`
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}

	cart, err := h.carts.GetCart(ctx, chi.URLParam(r, "cartId"))
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	h.writeCart(w, http.StatusOK, cart)
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxRequestBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return
	}
	var req addCartItemRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}
	if strings.TrimSpace(req.ProductID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "productId is required", http.StatusBadRequest))
		return
	}

	cart, err := h.carts.AddItem(ctx, services.AddCartItemCommand{
		CartID:    chi.URLParam(r, "cartId"),
		ProductID: req.ProductID,
	})
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	h.writeCart(w, http.StatusCreated, cart)
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}

	cart, err := h.carts.RemoveItem(ctx, services.RemoveCartItemCommand{
		CartID: chi.URLParam(r, "cartId"),
		ItemID: chi.URLParam(r, "itemId"),
	})
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}
	h.writeCart(w, http.StatusOK, cart)
}

func (h *CartHandlers) writeCart(w http.ResponseWriter, status int, cart services.Cart) {
	setCartResponseHeaders(w, cart)
	writeJSONResponse(w, status, cartResponse{Cart: buildCartPayload(cart, h.clock().UTC())})
}

func (h *CartHandlers) writeCartError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCartInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCartNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_not_found", "cart or item not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product is not available", http.StatusNotFound))
	case errors.Is(err, services.ErrCartDuplicateItem):
		httpx.WriteError(ctx, w, httpx.NewError("duplicate_item", "product is already in the cart", http.StatusConflict))
	case errors.Is(err, services.ErrCartConflict):
		httpx.WriteError(ctx, w, httpx.NewError("cart_conflict", "cart has been modified; refresh and retry", http.StatusConflict))
	case errors.Is(err, services.ErrCartUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("cart_error", "failed to process cart request", http.StatusInternalServerError))
	}
}

func setCartResponseHeaders(w http.ResponseWriter, cart services.Cart) {
	setNoStoreHeaders(w)
	if !cart.UpdatedAt.IsZero() {
		w.Header().Set("Last-Modified", cart.UpdatedAt.UTC().Format(http.TimeFormat))
	}
	if etag := buildCartETag(cart); etag != "" {
		w.Header().Set("ETag", etag)
	}
}

// buildCartPayload shows each item at its frozen price, discounted only while its window is open
// at now. The subtotal is summed unrounded and rounded once, matching checkout totals.
func buildCartPayload(cart services.Cart, now time.Time) cartPayload {
	sum := decimal.Zero
	items := make([]cartItemPayload, 0, len(cart.Items))
	for _, item := range cart.Items {
		state := pricing.EvaluateDiscount(item, now)
		sum = sum.Add(state.EffectivePrice())
		effective := pricing.Money{Amount: state.EffectivePrice(), Currency: pricing.BaseCurrency}.Round()
		items = append(items, cartItemPayload{
			ID:             item.ID,
			ProductID:      item.ProductID,
			Name:           item.Name,
			UnitPrice:      newMoneyPayload(pricing.Money{Amount: item.UnitPrice, Currency: pricing.BaseCurrency}.Round()),
			EffectivePrice: newMoneyPayload(effective),
			DiscountActive: state.Active(),
			FreeShipping:   item.FreeShipping,
			WeightGrams:    item.WeightGrams,
			AddedAt:        formatTime(item.AddedAt),
		})
	}
	return cartPayload{
		ID:        strings.TrimSpace(cart.ID),
		Items:     items,
		ItemCount: len(items),
		Subtotal:  newMoneyPayload(pricing.Money{Amount: sum, Currency: pricing.BaseCurrency}.Round()),
		UpdatedAt: formatTime(cart.UpdatedAt),
	}
}

func buildCartETag(cart services.Cart) string {
	if strings.TrimSpace(cart.ID) == "" || cart.UpdatedAt.IsZero() {
		return ""
	}
	input := fmt.Sprintf("%s:%d", strings.TrimSpace(cart.ID), cart.UpdatedAt.UTC().UnixNano())
	sum := sha256.Sum256([]byte(input))
	return fmt.Sprintf(`W/"%s"`, hex.EncodeToString(sum[:8]))
}
