package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultIntentTTL         = 30 * time.Minute
	defaultIntentCachePrefix = "checkout:intent:"
)

// NewMemoryIntentCache returns a process-local IntentCache. Entries expire after ttl.
func NewMemoryIntentCache(ttl time.Duration, clock func() time.Time) IntentCache {
	if ttl <= 0 {
		ttl = defaultIntentTTL
	}
	if clock == nil {
		clock = time.Now
	}
	return &memoryIntentCache{
		ttl:     ttl,
		now:     clock,
		entries: make(map[string]memoryIntentEntry),
	}
}

type memoryIntentEntry struct {
	intent    CachedIntent
	expiresAt time.Time
}

type memoryIntentCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]memoryIntentEntry
}

func (c *memoryIntentCache) Get(_ context.Context, cartID string) (CachedIntent, bool, error) {
	key := strings.TrimSpace(cartID)
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return CachedIntent{}, false, nil
	}
	if !c.now().Before(entry.expiresAt) {
		delete(c.entries, key)
		return CachedIntent{}, false, nil
	}
	return entry.intent, true, nil
}

func (c *memoryIntentCache) Put(_ context.Context, intent CachedIntent) error {
	key := strings.TrimSpace(intent.CartID)
	if key == "" {
		return errors.New("intent cache: cart id is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = memoryIntentEntry{intent: intent, expiresAt: c.now().Add(c.ttl)}
	return nil
}

func (c *memoryIntentCache) Delete(_ context.Context, cartID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, strings.TrimSpace(cartID))
	return nil
}

// RedisIntentCache shares intent records between API instances.
type RedisIntentCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisIntentCache stores intents as JSON under prefix+cartID with the given ttl.
func NewRedisIntentCache(client *redis.Client, ttl time.Duration, prefix string) (*RedisIntentCache, error) {
	if client == nil {
		return nil, errors.New("intent cache: redis client is required")
	}
	if ttl <= 0 {
		ttl = defaultIntentTTL
	}
	if strings.TrimSpace(prefix) == "" {
		prefix = defaultIntentCachePrefix
	}
	return &RedisIntentCache{client: client, ttl: ttl, prefix: prefix}, nil
}

func (r *RedisIntentCache) Get(ctx context.Context, cartID string) (CachedIntent, bool, error) {
	data, err := r.client.Get(ctx, r.key(cartID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return CachedIntent{}, false, nil
	}
	if err != nil {
		return CachedIntent{}, false, fmt.Errorf("intent cache: redis get: %w", err)
	}

	var intent CachedIntent
	if err := json.Unmarshal(data, &intent); err != nil {
		return CachedIntent{}, false, fmt.Errorf("intent cache: decode: %w", err)
	}
	return intent, true, nil
}

func (r *RedisIntentCache) Put(ctx context.Context, intent CachedIntent) error {
	if strings.TrimSpace(intent.CartID) == "" {
		return errors.New("intent cache: cart id is required")
	}
	payload, err := json.Marshal(intent)
	if err != nil {
		return fmt.Errorf("intent cache: encode: %w", err)
	}
	if err := r.client.Set(ctx, r.key(intent.CartID), payload, r.ttl).Err(); err != nil {
		return fmt.Errorf("intent cache: redis set: %w", err)
	}
	return nil
}

func (r *RedisIntentCache) Delete(ctx context.Context, cartID string) error {
	if err := r.client.Del(ctx, r.key(cartID)).Err(); err != nil {
		return fmt.Errorf("intent cache: redis del: %w", err)
	}
	return nil
}

// Ping reports whether the backing Redis server is reachable.
func (r *RedisIntentCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisIntentCache) key(cartID string) string {
	return r.prefix + strings.TrimSpace(cartID)
}

var _ IntentCache = (*RedisIntentCache)(nil)
