package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/vintage-storefront/api/internal/platform/httpx"
)

const (
	apiPrefix      = "/api/v1"
	requestTimeout = 30 * time.Second
)

// RouteRegistrar registers one group of routes.
type RouteRegistrar func(r chi.Router)

type middlewareFunc = func(http.Handler) http.Handler

// routeGroup is a mount point under the API prefix. A group without a registrar answers 501.
type routeGroup struct {
	path        string
	register    RouteRegistrar
	middlewares []middlewareFunc
}

type routerConfig struct {
	middlewares []middlewareFunc
	health      *HealthHandlers
	limiter     RateLimiter
	// public, cart and checkout are mounted in that order.
	groups [3]routeGroup
}

const (
	publicGroup = iota
	cartGroup
	checkoutGroup
)

type Option func(*routerConfig)

// NewRouter builds the storefront HTTP surface: health checks at the root and the public,
// cart and checkout groups under /api/v1.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		middlewares: []middlewareFunc{middleware.RequestID, middleware.RealIP, middleware.Timeout(requestTimeout)},
		groups: [3]routeGroup{
			publicGroup:   {path: "/public"},
			cartGroup:     {path: "/cart"},
			checkoutGroup: {path: "/checkout"},
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	use(r, cfg.middlewares)
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("route_not_found", "no route for "+req.URL.Path, http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
	})
	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(apiPrefix, func(api chi.Router) {
		if cfg.limiter != nil {
			api.Use(rateLimitMiddleware(cfg.limiter, clientKey))
		}
		for _, g := range cfg.groups {
			api.Route(g.path, func(sub chi.Router) {
				use(sub, g.middlewares)
				if g.register == nil {
					notImplemented(sub, g.path[1:])
					return
				}
				g.register(sub)
			})
		}
	})
	return r
}

func use(r chi.Router, middlewares []middlewareFunc) {
	for _, mw := range middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}
}

// WithMiddlewares appends global middleware after RequestID, RealIP and the request timeout.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) { cfg.middlewares = append(cfg.middlewares, mw...) }
}

func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) { cfg.health = h }
}

// WithRateLimiter throttles every API route per client address. Health endpoints are exempt.
func WithRateLimiter(limiter RateLimiter) Option {
	return func(cfg *routerConfig) { cfg.limiter = limiter }
}

// WithPublicRoutes mounts currency, zone and product price lookups.
func WithPublicRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.groups[publicGroup].register = reg }
}

func WithCartRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.groups[cartGroup].register = reg }
}

func WithCheckoutRoutes(reg RouteRegistrar) Option {
	return func(cfg *routerConfig) { cfg.groups[checkoutGroup].register = reg }
}

// WithCheckoutMiddlewares wraps the whole /checkout group, quotes included.
func WithCheckoutMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		g := &cfg.groups[checkoutGroup]
		g.middlewares = append(g.middlewares, mw...)
	}
}

func notImplemented(r chi.Router, name string) {
	handler := func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("not_implemented", name+" routes not implemented", http.StatusNotImplemented))
	}
	r.HandleFunc("/", handler)
	r.HandleFunc("/*", handler)
	r.NotFound(handler)
	r.MethodNotAllowed(handler)
}
