package redis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptionsFromAddr(t *testing.T) {
	opts, err := options(ClientConfig{Addr: "localhost:6379", Password: "pw", DB: 2, PoolSize: 7})
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", opts.Addr)
	assert.Equal(t, "pw", opts.Password)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, 7, opts.PoolSize)
	assert.Equal(t, clientName, opts.ClientName)
	assert.Nil(t, opts.TLSConfig)
}

func TestOptionsFromURL(t *testing.T) {
	opts, err := options(ClientConfig{Addr: "rediss://:secret@cache.internal:6380/3", Password: "ignored"})
	require.NoError(t, err)
	assert.Equal(t, "cache.internal:6380", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 3, opts.DB)
	assert.NotNil(t, opts.TLSConfig)

	_, err = options(ClientConfig{Addr: "redis://host:6379/notadb"})
	require.Error(t, err)
}

func TestKeysUsePrefix(t *testing.T) {
	c := &Client{}
	assert.Equal(t, "gm:lock:marketplace:writer", NewLockManager(c, "gm:").lockKey("marketplace:writer"))
	assert.Equal(t, "gm:quota:command:10.0.0.1", NewRateLimiter(c, "gm:").quotaKey("command:10.0.0.1"))
	assert.Equal(t, "gm:view:groups", NewViewCache(c, "gm:", time.Minute).key("view:groups"))
}

func TestHasPattern(t *testing.T) {
	assert.False(t, hasPattern("market"))
	assert.True(t, hasPattern("market.*"))
}

func TestQuotaFromScriptReply(t *testing.T) {
	const now = int64(100_000_000)
	window := time.Minute

	q := quotaFrom([]int64{1, 3, now - 5_000_000}, now, 10, window)
	assert.True(t, q.Allowed)
	assert.Equal(t, 10, q.Limit)
	assert.Equal(t, 7, q.Remaining)
	assert.Zero(t, q.RetryAfter)

	// Oldest request 45s ago in a 60s window frees a slot in 15s.
	q = quotaFrom([]int64{0, 10, now - 45_000_000}, now, 10, window)
	assert.False(t, q.Allowed)
	assert.Equal(t, 0, q.Remaining)
	assert.Equal(t, 15*time.Second, q.RetryAfter)

	// Never advertise less than a second.
	q = quotaFrom([]int64{0, 10, now - 59_999_900}, now, 10, window)
	assert.Equal(t, time.Second, q.RetryAfter)
}
