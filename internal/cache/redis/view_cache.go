package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/groupmarket/internal/domain"
	"github.com/redis/go-redis/v9"
)

const defaultViewTTL = 30 * time.Second

// ViewCache implements domain.ViewCache using Redis hashes holding the
// rendered JSON of a read view.
//
// Key schema:
//
//	{prefix}{key} - hash with field "data" containing JSON
type ViewCache struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewViewCache creates a ViewCache backed by the given Client. A zero ttl
// uses a 30 second default.
func NewViewCache(c *Client, prefix string, ttl time.Duration) *ViewCache {
	if ttl <= 0 {
		ttl = defaultViewTTL
	}
	return &ViewCache{rdb: c.Underlying(), prefix: prefix, ttl: ttl}
}

func (vc *ViewCache) key(k string) string { return vc.prefix + k }

// Set stores a rendered view with the configured TTL.
func (vc *ViewCache) Set(ctx context.Context, key string, payload []byte) error {
	k := vc.key(key)
	pipe := vc.rdb.TxPipeline()
	pipe.HSet(ctx, k, "data", payload)
	pipe.Expire(ctx, k, vc.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set view %s: %w", key, err)
	}
	return nil
}

// Get returns a rendered view, or domain.ErrNotFound when it is not cached.
func (vc *ViewCache) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := vc.rdb.HGet(ctx, vc.key(key), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis: get view %s: %w", key, err)
	}
	return data, nil
}

// Invalidate drops the given views in one round trip.
func (vc *ViewCache) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = vc.key(k)
	}
	if err := vc.rdb.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("redis: invalidate views: %w", err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.ViewCache = (*ViewCache)(nil)
