package access

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is a Redis read-through cache for grant records. Entries never
// outlive the grant they describe: the TTL is clamped to the expiry.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache instantiates the cache helper.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func cacheKey(key Key) string {
	return fmt.Sprintf("access:grant:%s:%s:%s", key.Feature, key.FeatureID, key.Email)
}

// Get returns the cached record for a key, if any.
func (c *Cache) Get(ctx context.Context, key Key) (Record, bool, error) {
	if c == nil || c.client == nil {
		return Record{}, false, nil
	}
	raw, err := c.client.Get(ctx, cacheKey(key)).Bytes()
	if err == redis.Nil {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("cache get: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, false, fmt.Errorf("cache decode: %w", err)
	}
	return rec, true, nil
}

// Set stores a record. Expired or expiry-less records are not cached.
func (c *Cache) Set(ctx context.Context, rec Record, now time.Time) error {
	if c == nil || c.client == nil {
		return nil
	}
	if !rec.Active(now) {
		return nil
	}
	ttl := c.ttl
	if remaining := rec.Remaining(now); remaining < ttl {
		ttl = remaining
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}
	if err := c.client.Set(ctx, cacheKey(rec.Key), raw, ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// Invalidate drops the cached record for a key.
func (c *Cache) Invalidate(ctx context.Context, key Key) error {
	if c == nil || c.client == nil {
		return nil
	}
	if err := c.client.Del(ctx, cacheKey(key)).Err(); err != nil {
		return fmt.Errorf("cache invalidate: %w", err)
	}
	return nil
}
