package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache key prefixes.
const (
	// CacheKeyQuotation is the prefix for quotation caches: quotation:{id}.
	CacheKeyQuotation = "quotation"
	// CacheKeyStatus is the key under which the periodic status snapshot is
	// mirrored for external dashboards: status:snapshot.
	CacheKeyStatus = "status"
)

// Cache TTL durations.
const (
	// TTLQuotation is the TTL for quotation caches.
	TTLQuotation = 5 * time.Minute
	// TTLStatus is the TTL for the mirrored status snapshot. Slightly above
	// the mirror interval so readers never see an expired key while the
	// service is up.
	TTLStatus = 90 * time.Second
)

// ErrCacheNotFound is returned when a cache key does not exist.
var ErrCacheNotFound = errors.New("cache: key not found")

// CacheClient is the cache abstraction used by the biz layer.
// Implementations must be safe for concurrent use.
type CacheClient interface {
	// Get retrieves a value and deserializes it into dest. Returns
	// ErrCacheNotFound when the key does not exist.
	Get(ctx context.Context, key string, dest interface{}) error

	// Set stores a JSON-serialized value with the given TTL.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Delete removes a key.
	Delete(ctx context.Context, key string) error
}

// redisCache is the Redis-backed CacheClient.
type redisCache struct {
	client *redis.Client
}

// NewCacheClient creates a Redis-backed cache client. A nil Redis client is
// tolerated; operations then return errors the callers treat as cache misses.
func NewCacheClient(rdb *redis.Client) CacheClient {
	return &redisCache{client: rdb}
}

func (c *redisCache) Get(ctx context.Context, key string, dest interface{}) error {
	if c.client == nil {
		return ErrCacheNotFound
	}

	val, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrCacheNotFound
		}
		return fmt.Errorf("cache: failed to get key %s: %w", key, err)
	}

	if err := json.Unmarshal([]byte(val), dest); err != nil {
		return fmt.Errorf("cache: failed to unmarshal value for key %s: %w", key, err)
	}
	return nil
}

func (c *redisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if c.client == nil {
		return errors.New("cache: redis client is nil")
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: failed to marshal value for key %s: %w", key, err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("cache: failed to set key %s: %w", key, err)
	}
	return nil
}

func (c *redisCache) Delete(ctx context.Context, key string) error {
	if c.client == nil {
		return nil
	}

	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("cache: failed to delete key %s: %w", key, err)
	}
	return nil
}

// BuildCacheKey joins a prefix and parts with colons,
// e.g. BuildCacheKey(CacheKeyQuotation, "123") -> "quotation:123".
func BuildCacheKey(prefix string, parts ...string) string {
	key := prefix
	for _, part := range parts {
		key += ":" + part
	}
	return key
}
