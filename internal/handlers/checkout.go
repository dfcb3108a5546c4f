package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/text/language"

	"github.com/vintage-storefront/api/internal/platform/httpx"
	"github.com/vintage-storefront/api/internal/platform/requestctx"
	"github.com/vintage-storefront/api/internal/pricing"
	"github.com/vintage-storefront/api/internal/services"
)

const maxCheckoutRequestBody = 8 * 1024

// CheckoutHandlers exposes quote and payment intent endpoints for anonymous storefront carts.
type CheckoutHandlers struct {
	checkout    services.CheckoutService
	intentGuard []func(http.Handler) http.Handler
}

// CheckoutOption customises CheckoutHandlers.
type CheckoutOption func(*CheckoutHandlers)

// WithPaymentIntentMiddlewares guards only the payment intent route, typically with
// idempotency replay and rate limiting.
func WithPaymentIntentMiddlewares(mw ...func(http.Handler) http.Handler) CheckoutOption {
	return func(h *CheckoutHandlers) {
		for _, m := range mw {
			if m != nil {
				h.intentGuard = append(h.intentGuard, m)
			}
		}
	}
}

// WithPaymentIntentRateLimiter limits payment intent creation per client address.
func WithPaymentIntentRateLimiter(limiter RateLimiter) CheckoutOption {
	return func(h *CheckoutHandlers) {
		if limiter != nil {
			h.intentGuard = append(h.intentGuard, rateLimitMiddleware(limiter, clientKey))
		}
	}
}

// NewCheckoutHandlers constructs checkout handlers.
func NewCheckoutHandlers(checkout services.CheckoutService, opts ...CheckoutOption) *CheckoutHandlers {
	h := &CheckoutHandlers{checkout: checkout}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers checkout endpoints under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/quote", h.quote)
	r.With(h.intentGuard...).Post("/payment-intent", h.createPaymentIntent)
}

// PaymentIntentScope scopes idempotency keys to the cart named in a checkout request body,
// so two carts that happen to send the same key never share a stored response.
func PaymentIntentScope(_ *http.Request, body []byte) string {
	var req struct {
		CartID string `json:"cartId"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return ""
	}
	return strings.TrimSpace(req.CartID)
}

type checkoutRequest struct {
	CartID   string            `json:"cartId"`
	Country  string            `json:"country"`
	Currency string            `json:"currency"`
	Provider string            `json:"provider"`
	Metadata map[string]string `json:"metadata"`
}

type totalsPayload struct {
	Subtotal     moneyPayload `json:"subtotal"`
	Shipping     moneyPayload `json:"shipping"`
	Tax          moneyPayload `json:"tax"`
	Total        moneyPayload `json:"total"`
	Currency     string       `json:"currency"`
	Country      string       `json:"country"`
	Zone         string       `json:"zone"`
	FreeShipping bool         `json:"freeShipping"`
	ItemCount    int          `json:"itemCount"`
}

type quotePayload struct {
	CartID          string        `json:"cartId"`
	Base            totalsPayload `json:"base"`
	Totals          totalsPayload `json:"totals"`
	Rate            string        `json:"rate"`
	RatesLive       bool          `json:"ratesLive"`
	RatesFetchedAt  string        `json:"ratesFetchedAt,omitempty"`
	GatewayAmount   int64         `json:"gatewayAmount"`
	GatewayCurrency string        `json:"gatewayCurrency"`
	Minimum         moneyPayload  `json:"minimum"`
	MeetsMinimum    bool          `json:"meetsMinimum"`
	Notice          string        `json:"notice,omitempty"`
}

type quoteResponse struct {
	Quote quotePayload `json:"quote"`
}

type paymentIntentResponse struct {
	IntentID     string       `json:"intentId"`
	ClientSecret string       `json:"clientSecret"`
	Provider     string       `json:"provider"`
	Amount       int64        `json:"amount"`
	Currency     string       `json:"currency"`
	Reused       bool         `json:"reused"`
	Quote        quotePayload `json:"quote"`
}

func (h *CheckoutHandlers) quote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}
	req, ok := decodeCheckoutRequest(ctx, w, r)
	if !ok {
		return
	}

	quote, err := h.checkout.Quote(ctx, services.QuoteCommand{
		CartID:   req.CartID,
		Country:  req.Country,
		Currency: req.Currency,
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	setNoStoreHeaders(w)
	w.Header().Set("Vary", "Accept-Language")
	writeJSONResponse(w, http.StatusOK, quoteResponse{Quote: buildQuotePayload(quote, displayLanguage(r))})
}

func (h *CheckoutHandlers) createPaymentIntent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}
	req, ok := decodeCheckoutRequest(ctx, w, r)
	if !ok {
		return
	}

	result, err := h.checkout.CreatePaymentIntent(ctx, services.PaymentIntentCommand{
		CartID:            req.CartID,
		Country:           req.Country,
		Currency:          req.Currency,
		PreferredProvider: strings.TrimSpace(req.Provider),
		Metadata:          req.Metadata,
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	setNoStoreHeaders(w)
	w.Header().Set("Vary", "Accept-Language")
	writeJSONResponse(w, http.StatusOK, paymentIntentResponse{
		IntentID:     result.IntentID,
		ClientSecret: result.ClientSecret,
		Provider:     result.Provider,
		Amount:       result.Amount,
		Currency:     result.Currency,
		Reused:       result.Reused,
		Quote:        buildQuotePayload(result.Quote, displayLanguage(r)),
	})
}

func decodeCheckoutRequest(ctx context.Context, w http.ResponseWriter, r *http.Request) (checkoutRequest, bool) {
	body, err := readLimitedBody(r, maxCheckoutRequestBody)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return checkoutRequest{}, false
	}
	var req checkoutRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return checkoutRequest{}, false
	}
	req.CartID = strings.TrimSpace(req.CartID)
	if req.CartID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "cartId is required", http.StatusBadRequest))
		return checkoutRequest{}, false
	}
	requestctx.Annotate(ctx, requestctx.AnnotationCartID, req.CartID)
	requestctx.Annotate(ctx, requestctx.AnnotationCurrency, strings.ToUpper(strings.TrimSpace(req.Currency)))
	requestctx.Annotate(ctx, requestctx.AnnotationCountry, strings.ToUpper(strings.TrimSpace(req.Country)))
	return req, true
}

func buildQuotePayload(q services.CheckoutQuote, tag language.Tag) quotePayload {
	payload := quotePayload{
		CartID:          q.CartID,
		Base:            buildTotalsPayload(q.Base, tag),
		Totals:          buildTotalsPayload(q.Totals, tag),
		Rate:            q.Rate.String(),
		RatesLive:       q.RatesLive,
		RatesFetchedAt:  formatTime(q.RatesFetchedAt),
		GatewayAmount:   q.GatewayAmount,
		GatewayCurrency: q.GatewayCurrency,
		Minimum:         newLocalizedMoneyPayload(q.Minimum, tag),
		MeetsMinimum:    q.MeetsMinimum,
	}
	if !q.MeetsMinimum {
		payload.Notice = fmt.Sprintf("orders in %s must total at least %s", q.Minimum.Currency, pricing.FormatMoney(q.Minimum, tag))
	}
	return payload
}

func buildTotalsPayload(t pricing.CheckoutTotals, tag language.Tag) totalsPayload {
	return totalsPayload{
		Subtotal:     newLocalizedMoneyPayload(t.Subtotal, tag),
		Shipping:     newLocalizedMoneyPayload(t.Shipping, tag),
		Tax:          newLocalizedMoneyPayload(t.Tax, tag),
		Total:        newLocalizedMoneyPayload(t.Total, tag),
		Currency:     string(t.Currency),
		Country:      t.Country,
		Zone:         string(t.Zone),
		FreeShipping: t.FreeShipping,
		ItemCount:    t.ItemCount,
	}
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	var below *pricing.BelowMinimumError
	switch {
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "cartId is required", http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutInvalidCurrency):
		httpx.WriteError(ctx, w, httpx.NewError("unsupported_currency", "currency is not supported; choose one of "+supportedCurrencyList(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCheckoutRateUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("rate_unavailable", fmt.Sprintf("exchange rate is unavailable; pay in %s instead", pricing.BaseCurrency), http.StatusUnprocessableEntity))
	case errors.As(err, &below):
		httpx.WriteError(ctx, w, httpx.NewError("below_minimum",
			fmt.Sprintf("order total %s is below the minimum of %s; add items or choose another currency", pricing.Display(below.Amount), pricing.Display(below.Minimum)),
			http.StatusUnprocessableEntity).WithDetails(map[string]any{
			"minimum": newMoneyPayload(below.Minimum),
			"amount":  newMoneyPayload(below.Amount),
		}))
	case errors.Is(err, services.ErrCheckoutBelowMinimum):
		httpx.WriteError(ctx, w, httpx.NewError("below_minimum", "order total is below the currency minimum", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCheckoutCartNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_not_found", "cart not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCheckoutPaymentFailed):
		httpx.WriteError(ctx, w, httpx.NewError("payment_failed", "payment provider rejected the request; try again", http.StatusBadGateway))
	case errors.Is(err, services.ErrCheckoutUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
	case errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_timeout", "checkout timed out", http.StatusGatewayTimeout))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "failed to process checkout", http.StatusInternalServerError))
	}
}

func supportedCurrencyList() string {
	currencies := pricing.SupportedCurrencies()
	codes := make([]string, 0, len(currencies))
	for _, c := range currencies {
		codes = append(codes, string(c.Code))
	}
	return strings.Join(codes, ", ")
}
