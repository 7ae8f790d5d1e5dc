package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const cacheVersionPrefix = "analytics:version"

// Cache wraps Redis based caching with per-tenant versioning. Bumping a tenant's version
// orphans every key built under the previous version; expiry reclaims them.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewCache instantiates the cache helper.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func versionKey(tenantID int64) string {
	return cacheVersionPrefix + ":" + formatInt(tenantID)
}

// Version returns the tenant's current cache version, initialising when missing.
func (c *Cache) Version(ctx context.Context, tenantID int64) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	key := versionKey(tenantID)
	ver, err := c.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.SetNX(ctx, key, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, key).Int64()
	}
	if err != nil {
		return 0, err
	}
	if ver <= 0 {
		ver = 1
		if err := c.client.Set(ctx, key, ver, 0).Err(); err != nil {
			return 0, err
		}
	}
	return ver, nil
}

// BuildKey composes analytics:{op}:{tenant}:{fragment}:{version}.
func (c *Cache) BuildKey(ctx context.Context, op string, tenantID int64, fragment string) (string, error) {
	base := strings.Join([]string{"analytics", op, formatInt(tenantID), fragment}, ":")
	if c == nil || c.client == nil {
		return base, nil
	}
	ver, err := c.Version(ctx, tenantID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%d", base, ver), nil
}

// FetchJSON loads a cached value or populates it using the loader. Concurrent misses on
// the same key share one loader call.
func (c *Cache) FetchJSON(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error {
	if loader == nil {
		return errors.New("cache: loader required")
	}
	if c == nil || c.client == nil {
		value, err := loader(ctx)
		if err != nil {
			return err
		}
		return roundTrip(value, dest)
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		return json.Unmarshal(payload, dest)
	}
	if !errors.Is(err, redis.Nil) {
		return err
	}
	raw, err, _ := c.group.Do(key, func() (any, error) {
		value, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		if err := c.client.Set(ctx, key, encoded, c.ttl).Err(); err != nil {
			return nil, err
		}
		return encoded, nil
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(raw.([]byte), dest)
}

// StoreJSON overwrites key with value.
func (c *Cache) StoreJSON(ctx context.Context, key string, value any) error {
	if c == nil || c.client == nil {
		return nil
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, encoded, c.ttl).Err()
}

// Bump invalidates a tenant's cached results.
func (c *Cache) Bump(ctx context.Context, tenantID int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, versionKey(tenantID)).Err()
}

func roundTrip(value, dest any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}
