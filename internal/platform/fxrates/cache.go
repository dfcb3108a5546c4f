package fxrates

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/vintage-storefront/api/internal/pricing"
)

const (
	defaultMaxAge        = time.Hour
	defaultMaxStaleness  = 24 * time.Hour
	defaultFetchTimeout  = 5 * time.Second
	defaultRetryInterval = time.Minute
	metricNamespace      = "github.com/vintage-storefront/api/internal/platform/fxrates"
	refreshKey           = "refresh"
)

// ErrNoLiveRates is reported by Check while the cache serves fallback rates.
var ErrNoLiveRates = errors.New("fxrates: serving fallback rates")

// Cache holds the process-wide exchange rate snapshot. Reads are concurrent; refreshes
// are collapsed so at most one remote fetch is in flight.
type Cache struct {
	source        Source
	fallback      Snapshot
	now           func() time.Time
	maxAge        time.Duration
	maxStaleness  time.Duration
	fetchTimeout  time.Duration
	retryInterval time.Duration
	logger        *zap.Logger

	group singleflight.Group

	mu          sync.RWMutex
	current     Snapshot
	lastFailure time.Time

	refreshes        metric.Int64Counter
	refreshesEnabled bool
	latency          metric.Float64Histogram
	latencyEnabled   bool
}

type cacheConfig struct {
	fallback      Snapshot
	now           func() time.Time
	maxAge        time.Duration
	maxStaleness  time.Duration
	fetchTimeout  time.Duration
	retryInterval time.Duration
	logger        *zap.Logger
	meter         metric.Meter
}

// Option customises Cache construction.
type Option func(*cacheConfig)

// WithClock injects the time source used for freshness checks.
func WithClock(now func() time.Time) Option {
	return func(cfg *cacheConfig) {
		if now != nil {
			cfg.now = now
		}
	}
}

// WithMaxAge sets how long a live snapshot is served before a refresh is attempted.
func WithMaxAge(d time.Duration) Option {
	return func(cfg *cacheConfig) {
		if d > 0 {
			cfg.maxAge = d
		}
	}
}

// WithMaxStaleness bounds how long a live snapshot is retained after refreshes start failing.
func WithMaxStaleness(d time.Duration) Option {
	return func(cfg *cacheConfig) {
		if d > 0 {
			cfg.maxStaleness = d
		}
	}
}

// WithFetchTimeout bounds a single remote fetch.
func WithFetchTimeout(d time.Duration) Option {
	return func(cfg *cacheConfig) {
		if d > 0 {
			cfg.fetchTimeout = d
		}
	}
}

// WithRetryInterval throttles refresh attempts after a failure.
func WithRetryInterval(d time.Duration) Option {
	return func(cfg *cacheConfig) {
		if d >= 0 {
			cfg.retryInterval = d
		}
	}
}

// WithFallback replaces the static fallback table.
func WithFallback(s Snapshot) Option {
	return func(cfg *cacheConfig) {
		if !s.isZero() {
			cfg.fallback = s
		}
	}
}

// WithLogger sets the logger used for refresh diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *cacheConfig) {
		cfg.logger = logger
	}
}

// WithMeter injects a custom OpenTelemetry meter.
func WithMeter(m metric.Meter) Option {
	return func(cfg *cacheConfig) {
		cfg.meter = m
	}
}

// NewCache builds a cache over source. A nil source serves the fallback table only.
func NewCache(source Source, opts ...Option) *Cache {
	cfg := cacheConfig{
		fallback:      Fallback(),
		now:           time.Now,
		maxAge:        defaultMaxAge,
		maxStaleness:  defaultMaxStaleness,
		fetchTimeout:  defaultFetchTimeout,
		retryInterval: defaultRetryInterval,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}
	if cfg.fallback.Base == "" {
		cfg.fallback.Base = pricing.BaseCurrency
	}

	meter := cfg.meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(metricNamespace)
	}
	refreshes, refreshErr := meter.Int64Counter(
		"fxrates.refresh.count",
		metric.WithDescription("Count of exchange rate refresh attempts by outcome"),
	)
	if refreshErr != nil {
		cfg.logger.Warn("fxrates: unable to register refresh metric", zap.Error(refreshErr))
	}
	latency, latencyErr := meter.Float64Histogram(
		"fxrates.refresh.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency in milliseconds for exchange rate fetches"),
	)
	if latencyErr != nil {
		cfg.logger.Warn("fxrates: unable to register latency metric", zap.Error(latencyErr))
	}

	return &Cache{
		source:           source,
		fallback:         cfg.fallback,
		now:              cfg.now,
		maxAge:           cfg.maxAge,
		maxStaleness:     cfg.maxStaleness,
		fetchTimeout:     cfg.fetchTimeout,
		retryInterval:    cfg.retryInterval,
		logger:           cfg.logger,
		refreshes:        refreshes,
		refreshesEnabled: refreshErr == nil,
		latency:          latency,
		latencyEnabled:   latencyErr == nil,
	}
}

// GetRates returns the current snapshot, refreshing it first when older than the
// configured freshness window.
func (c *Cache) GetRates(ctx context.Context) Snapshot {
	return c.RefreshIfStale(ctx, c.maxAge)
}

// RefreshIfStale returns the current snapshot when it is live and younger than maxAge;
// otherwise it refreshes. A caller whose ctx ends before the refresh completes gets the
// current snapshot, or the fallback table when there is none; the refresh keeps running
// for the other callers. It never returns an empty snapshot.
func (c *Cache) RefreshIfStale(ctx context.Context, maxAge time.Duration) Snapshot {
	if snap, ok := c.freshSnapshot(maxAge); ok {
		return snap
	}

	ch := c.group.DoChan(refreshKey, func() (any, error) {
		if snap, ok := c.freshSnapshot(maxAge); ok {
			return snap, nil
		}
		return c.refresh(ctx), nil
	})
	select {
	case res := <-ch:
		return res.Val.(Snapshot)
	case <-ctx.Done():
		c.logger.Debug("fxrates: caller left before refresh completed", zap.Error(ctx.Err()))
		return c.currentOrFallback()
	}
}

// Current returns the snapshot without triggering a refresh.
func (c *Cache) Current() (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current, !c.current.isZero()
}

// Check reports ErrNoLiveRates while the cache is serving the fallback table. It is meant
// for readiness checks.
func (c *Cache) Check(ctx context.Context) error {
	snap := c.GetRates(ctx)
	if !snap.Fetched {
		return ErrNoLiveRates
	}
	return nil
}

// Run keeps the snapshot warm until ctx is cancelled.
func (c *Cache) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = c.maxAge / 2
	}
	c.GetRates(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.GetRates(ctx)
		}
	}
}

func (c *Cache) currentOrFallback() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.current.isZero() {
		return c.current
	}
	return Snapshot{
		Base:      c.fallback.Base,
		Rates:     cloneRates(c.fallback.Rates),
		FetchedAt: c.now(),
		Fetched:   false,
		Source:    c.fallback.Source,
	}
}

func (c *Cache) freshSnapshot(maxAge time.Duration) (Snapshot, bool) {
	now := c.now()
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current.isZero() {
		return Snapshot{}, false
	}
	if c.current.Fetched && c.current.Age(now) < maxAge {
		return c.current, true
	}
	if !c.lastFailure.IsZero() && now.Sub(c.lastFailure) < c.retryInterval {
		return c.current, true
	}
	return Snapshot{}, false
}

func (c *Cache) refresh(ctx context.Context) Snapshot {
	if c.source == nil {
		return c.fail(ctx, errors.New("fxrates: no live source configured"))
	}

	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
	defer cancel()

	start := time.Now()
	rates, err := c.source.FetchRates(fetchCtx, pricing.BaseCurrency, quoteCurrencies())
	c.recordLatency(ctx, time.Since(start), err)
	if err != nil {
		return c.fail(ctx, fmt.Errorf("fxrates: fetch from %s: %w", c.source.Name(), err))
	}

	merged := cloneRates(rates)
	var missing []string
	for _, code := range quoteCurrencies() {
		if rate, ok := merged[code]; ok && rate.IsPositive() {
			continue
		}
		delete(merged, code)
		if rate, ok := c.fallback.Rate(code); ok {
			merged[code] = rate
			missing = append(missing, string(code))
		}
	}
	if len(missing) > 0 {
		c.logger.Warn("fxrates: live source omitted currencies; using fallback rates for them",
			zap.String("source", c.source.Name()),
			zap.Strings("currencies", missing),
		)
	}

	snap := Snapshot{
		Base:      pricing.BaseCurrency,
		Rates:     merged,
		FetchedAt: c.now(),
		Fetched:   true,
		Source:    c.source.Name(),
	}

	c.mu.Lock()
	c.current = snap
	c.lastFailure = time.Time{}
	c.mu.Unlock()

	c.recordRefresh(ctx, "live")
	c.logger.Debug("fxrates: refreshed", zap.String("source", snap.Source), zap.Int("rates", len(snap.Rates)))
	return snap
}

func (c *Cache) fail(ctx context.Context, err error) Snapshot {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastFailure = now

	prev := c.current
	if prev.Fetched && prev.Age(now) <= c.maxStaleness {
		c.logger.Warn("fxrates: refresh failed; retaining last live rates",
			zap.Error(err),
			zap.Duration("age", prev.Age(now)),
		)
		c.recordRefresh(ctx, "retained")
		return prev
	}

	if !prev.isZero() && !prev.Fetched {
		c.logger.Debug("fxrates: refresh failed; still on fallback rates", zap.Error(err))
		c.recordRefresh(ctx, "fallback")
		return prev
	}

	snap := Snapshot{
		Base:      c.fallback.Base,
		Rates:     cloneRates(c.fallback.Rates),
		FetchedAt: now,
		Fetched:   false,
		Source:    c.fallback.Source,
	}
	c.current = snap
	c.logger.Warn("fxrates: refresh failed; serving fallback rates", zap.Error(err))
	c.recordRefresh(ctx, "fallback")
	return snap
}

func (c *Cache) recordRefresh(ctx context.Context, outcome string) {
	if !c.refreshesEnabled {
		return
	}
	c.refreshes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (c *Cache) recordLatency(ctx context.Context, d time.Duration, err error) {
	if !c.latencyEnabled {
		return
	}
	attrs := []attribute.KeyValue{attribute.Bool("error", err != nil)}
	c.latency.Record(ctx, float64(d)/float64(time.Millisecond), metric.WithAttributes(attrs...))
}
