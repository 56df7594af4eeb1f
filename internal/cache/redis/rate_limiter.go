package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/groupmarket/internal/domain"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

// RateLimiter meters API clients with a sliding window kept in a Redis
// sorted set per client and request class.
type RateLimiter struct {
	rdb    *redis.Client
	prefix string
	script *redis.Script
	now    func() time.Time
}

// NewRateLimiter returns a limiter whose keys live under prefix, normally
// the deployment's redis.key_prefix.
func NewRateLimiter(c *Client, prefix string) *RateLimiter {
	return &RateLimiter{
		rdb:    c.Underlying(),
		prefix: prefix,
		script: redis.NewScript(slidingWindowLua),
		now:    time.Now,
	}
}

func (rl *RateLimiter) quotaKey(key string) string {
	return rl.prefix + "quota:" + key
}

// Take admits one request for key if fewer than limit were admitted in the
// trailing window and reports what is left of the quota.
func (rl *RateLimiter) Take(ctx context.Context, key string, limit int, window time.Duration) (domain.Quota, error) {
	now := rl.now().UnixMicro()
	res, err := rl.script.Run(ctx, rl.rdb,
		[]string{rl.quotaKey(key)},
		now, window.Microseconds(), limit, uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return domain.Quota{}, fmt.Errorf("redis: take quota %s: %w", key, err)
	}
	if len(res) != 3 {
		return domain.Quota{}, fmt.Errorf("redis: take quota %s: script returned %d values", key, len(res))
	}
	return quotaFrom(res, now, limit, window), nil
}

// quotaFrom turns the script reply into a Quota. A refused request may retry
// once the oldest admitted request leaves the window.
func quotaFrom(res []int64, now int64, limit int, window time.Duration) domain.Quota {
	q := domain.Quota{
		Allowed:   res[0] == 1,
		Limit:     limit,
		Remaining: max(0, limit-int(res[1])),
	}
	if !q.Allowed {
		wait := time.Duration(res[2]+window.Microseconds()-now) * time.Microsecond
		q.RetryAfter = max(time.Second, wait.Round(time.Second))
	}
	return q
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
