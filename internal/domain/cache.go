package domain

import (
	"context"
	"time"
)

// ViewCache stores rendered read views keyed by resource path.
type ViewCache interface {
	Set(ctx context.Context, key string, payload []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Invalidate(ctx context.Context, keys ...string) error
}

// Quota is what is left of a client's request budget after one request.
type Quota struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration // set only when the request was refused
}

// RateLimiter meters requests per client key across every API instance.
type RateLimiter interface {
	Take(ctx context.Context, key string, limit int, window time.Duration) (Quota, error)
}

// LockManager provides distributed locking. Hold keeps the lock refreshed
// until release is called and closes lost if the lock slips away.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
	Hold(ctx context.Context, key string, ttl time.Duration) (release func(), lost <-chan struct{}, err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
