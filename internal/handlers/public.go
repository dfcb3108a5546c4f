package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/vintage-storefront/api/internal/platform/httpx"
	"github.com/vintage-storefront/api/internal/services"
)

// PublicHandlers exposes unauthenticated catalog pricing lookups.
type PublicHandlers struct {
	catalog services.CatalogService
}

// NewPublicHandlers constructs public handlers backed by the catalog service.
func NewPublicHandlers(catalog services.CatalogService) *PublicHandlers {
	return &PublicHandlers{catalog: catalog}
}

// Routes registers the public endpoints.
func (h *PublicHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/currencies", h.listCurrencies)
	r.Get("/shipping-zones", h.listShippingZones)
	r.Get("/products/{productId}/price", h.getProductPrice)
}

type currencyPayload struct {
	Code          string       `json:"code"`
	Symbol        string       `json:"symbol"`
	Decimals      int32        `json:"decimals"`
	Rate          string       `json:"rate"`
	MinimumCharge string       `json:"minimumCharge"`
	Minimum       moneyPayload `json:"minimum"`
}

type currencyTableResponse struct {
	Base       string            `json:"base"`
	Fetched    bool              `json:"fetched"`
	FetchedAt  string            `json:"fetchedAt,omitempty"`
	Source     string            `json:"source,omitempty"`
	Currencies []currencyPayload `json:"currencies"`
}

type shippingZonePayload struct {
	ID                    string        `json:"id"`
	Countries             []string      `json:"countries"`
	Rate                  moneyPayload  `json:"rate"`
	FreeShippingThreshold *moneyPayload `json:"freeShippingThreshold,omitempty"`
}

type shippingZonesResponse struct {
	Zones []shippingZonePayload `json:"zones"`
}

type productPriceResponse struct {
	ProductID          string       `json:"productId"`
	Name               string       `json:"name,omitempty"`
	Regular            moneyPayload `json:"regular"`
	Effective          moneyPayload `json:"effective"`
	DiscountStatus     string       `json:"discountStatus"`
	DiscountActive     bool         `json:"discountActive"`
	DiscountPercentage string       `json:"discountPercentage,omitempty"`
	DiscountEndsAt     string       `json:"discountEndsAt,omitempty"`
	FreeShipping       bool         `json:"freeShipping"`
}

func (h *PublicHandlers) listCurrencies(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}
	table, err := h.catalog.ListCurrencies(ctx)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	tag := displayLanguage(r)
	resp := currencyTableResponse{
		Base:       string(table.Base),
		Fetched:    table.Live,
		FetchedAt:  formatTime(table.FetchedAt),
		Source:     table.Source,
		Currencies: make([]currencyPayload, 0, len(table.Currencies)),
	}
	for _, c := range table.Currencies {
		resp.Currencies = append(resp.Currencies, currencyPayload{
			Code:          string(c.Currency.Code),
			Symbol:        c.Currency.Symbol,
			Decimals:      c.Currency.Decimals(),
			Rate:          c.Rate.String(),
			MinimumCharge: c.Currency.Minimum().StringFixed(),
			Minimum:       newLocalizedMoneyPayload(c.Currency.Minimum(), tag),
		})
	}
	w.Header().Set("Cache-Control", "public, max-age=60")
	w.Header().Set("Vary", "Accept-Language")
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *PublicHandlers) listShippingZones(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}
	zones, err := h.catalog.ListShippingZones(ctx)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	tag := displayLanguage(r)
	resp := shippingZonesResponse{Zones: make([]shippingZonePayload, 0, len(zones))}
	for _, zone := range zones {
		payload := shippingZonePayload{
			ID:        string(zone.ID),
			Countries: append([]string{}, zone.Countries...),
			Rate:      newLocalizedMoneyPayload(zone.Rate, tag),
		}
		if zone.FreeShippingThreshold != nil {
			threshold := newLocalizedMoneyPayload(*zone.FreeShippingThreshold, tag)
			payload.FreeShippingThreshold = &threshold
		}
		resp.Zones = append(resp.Zones, payload)
	}
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.Header().Set("Vary", "Accept-Language")
	writeJSONResponse(w, http.StatusOK, resp)
}

func (h *PublicHandlers) getProductPrice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
		return
	}
	productID := strings.TrimSpace(chi.URLParam(r, "productId"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "productId is required", http.StatusBadRequest))
		return
	}

	price, err := h.catalog.GetProductPrice(ctx, productID)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	tag := displayLanguage(r)
	setNoStoreHeaders(w)
	w.Header().Set("Vary", "Accept-Language")
	writeJSONResponse(w, http.StatusOK, productPriceResponse{
		ProductID:          price.ProductID,
		Name:               price.Name,
		Regular:            newLocalizedMoneyPayload(price.Regular, tag),
		Effective:          newLocalizedMoneyPayload(price.Effective, tag),
		DiscountStatus:     string(price.DiscountStatus),
		DiscountActive:     price.DiscountActive,
		DiscountPercentage: price.DiscountPercentage,
		DiscountEndsAt:     formatTimePointer(price.DiscountEndsAt),
		FreeShipping:       price.FreeShipping,
	})
}

func writeCatalogError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCatalogInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCatalogProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCatalogUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog service unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("catalog_error", "failed to load catalog pricing", http.StatusInternalServerError))
	}
}
