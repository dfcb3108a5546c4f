package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vintage-storefront/api/internal/platform/httpx"
	"github.com/vintage-storefront/api/internal/platform/observability"
)

// RateLimiter decides whether a caller identified by key may proceed. When it may not,
// retryAfter says how long until the window resets.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (allowed bool, retryAfter time.Duration)
}

type memoryRateLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time
	mu     sync.Mutex
	store  map[string]rateEntry
}

type rateEntry struct {
	count int
	reset time.Time
}

// NewMemoryRateLimiter builds a fixed-window limiter held in process memory. It returns nil,
// which disables limiting, when limit or window is not positive.
func NewMemoryRateLimiter(limit int, window time.Duration, clock func() time.Time) RateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &memoryRateLimiter{
		limit:  limit,
		window: window,
		clock:  clock,
		store:  make(map[string]rateEntry),
	}
}

func (l *memoryRateLimiter) Allow(_ context.Context, key string) (bool, time.Duration) {
	key = normaliseLimiterKey(key)
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.store[key]
	if !ok || !now.Before(entry.reset) {
		l.store[key] = rateEntry{count: 1, reset: now.Add(l.window)}
		l.pruneExpiredLocked(now)
		return true, 0
	}
	if entry.count >= l.limit {
		return false, entry.reset.Sub(now)
	}
	entry.count++
	l.store[key] = entry
	return true, 0
}

func (l *memoryRateLimiter) pruneExpiredLocked(now time.Time) {
	for key, entry := range l.store {
		if !now.Before(entry.reset) {
			delete(l.store, key)
		}
	}
}

type redisRateLimiter struct {
	client *redis.Client
	prefix string
	limit  int
	window time.Duration
	clock  func() time.Time
}

// NewRedisRateLimiter builds a fixed-window limiter shared by every replica through Redis.
// Redis errors fail open so a cache outage never blocks checkout.
func NewRedisRateLimiter(client *redis.Client, prefix string, limit int, window time.Duration) RateLimiter {
	if client == nil || limit <= 0 || window <= 0 {
		return nil
	}
	return &redisRateLimiter{
		client: client,
		prefix: strings.TrimSpace(prefix) + "ratelimit:",
		limit:  limit,
		window: window,
		clock:  time.Now,
	}
}

func (l *redisRateLimiter) Allow(ctx context.Context, key string) (bool, time.Duration) {
	now := l.clock()
	bucket := now.UnixNano() / int64(l.window)
	redisKey := fmt.Sprintf("%s%s:%d", l.prefix, normaliseLimiterKey(key), bucket)

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		observability.FromContext(ctx).Named("ratelimit").Warn("rate limiter unavailable; allowing request")
		return true, 0
	}
	if incr.Val() > int64(l.limit) {
		reset := time.Unix(0, (bucket+1)*int64(l.window))
		return false, reset.Sub(now)
	}
	return true, 0
}

func normaliseLimiterKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return "anonymous"
	}
	return key
}

// rateLimitMiddleware rejects callers over limit with 429 and a Retry-After header.
// A nil limiter disables the check.
func rateLimitMiddleware(limiter RateLimiter, keyFn func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, retryAfter := limiter.Allow(r.Context(), keyFn(r))
			if !allowed {
				seconds := int(retryAfter.Round(time.Second) / time.Second)
				if seconds < 1 {
					seconds = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(seconds))
				httpx.WriteError(r.Context(), w, httpx.NewError("rate_limited", "too many requests; retry later", http.StatusTooManyRequests))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	return observability.ClientIP(r)
}
