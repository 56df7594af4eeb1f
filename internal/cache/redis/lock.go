package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/groupmarket/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// unlockLua is a Lua script that deletes a lock key only if its value matches
// the caller's unique token. This prevents one holder from accidentally
// releasing another holder's lock.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// extendLua pushes the TTL of a lock forward only while the caller still
// owns it.
const extendLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// LockManager implements domain.LockManager using Redis SETNX with a TTL and
// a Lua-based conditional unlock. The marketplace uses it to make sure only
// one process applies commands against a journal.
type LockManager struct {
	rdb      *redis.Client
	prefix   string
	unlockSc *redis.Script
	extendSc *redis.Script
}

// NewLockManager creates a LockManager backed by the given Client. Lock keys
// are namespaced under prefix.
func NewLockManager(c *Client, prefix string) *LockManager {
	return &LockManager{
		rdb:      c.Underlying(),
		prefix:   prefix,
		unlockSc: redis.NewScript(unlockLua),
		extendSc: redis.NewScript(extendLua),
	}
}

func (lm *LockManager) lockKey(key string) string {
	return lm.prefix + "lock:" + key
}

// Acquire attempts to obtain a distributed lock for the given key with the
// specified TTL. On success it returns an unlock function that must be called
// to release the lock. The unlock function is safe to call multiple times.
//
// It returns domain.ErrLockHeld if the lock is already held by another party.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token, err := lm.acquire(ctx, key, ttl)
	if err != nil {
		return nil, err
	}
	return lm.unlocker(lm.lockKey(key), token), nil
}

func (lm *LockManager) acquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.New().String()
	ok, err := lm.rdb.SetNX(ctx, lm.lockKey(key), token, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return "", domain.ErrLockHeld
	}
	return token, nil
}

func (lm *LockManager) unlocker(lk, token string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			// Use a background context so unlock succeeds even if the
			// caller's context is already cancelled.
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			_ = lm.unlockSc.Run(unlockCtx, lm.rdb, []string{lk}, token).Err()
		})
	}
}

// Hold acquires the lock and keeps extending it every ttl/3 until ctx is
// done or release is called. The lost channel is closed when another token
// owns the key, or when Redis errors persist until the ttl has run out. The
// holder must stop writing once lost is closed.
func (lm *LockManager) Hold(ctx context.Context, key string, ttl time.Duration) (release func(), lost <-chan struct{}, err error) {
	token, err := lm.acquire(ctx, key, ttl)
	if err != nil {
		return nil, nil, err
	}
	lk := lm.lockKey(key)
	unlock := lm.unlocker(lk, token)

	lostCh := make(chan struct{})
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(ttl / 3)
		defer ticker.Stop()
		extended := time.Now()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				n, err := lm.extendSc.Run(ctx, lm.rdb, []string{lk}, token, ttl.Milliseconds()).Int()
				switch {
				case err != nil && ctx.Err() != nil:
					return
				case err != nil && time.Since(extended) < ttl:
					continue
				case err != nil || n == 0:
					close(lostCh)
					return
				}
				extended = time.Now()
			}
		}
	}()

	var once sync.Once
	release = func() {
		once.Do(func() {
			close(stop)
			<-done
			unlock()
		})
	}
	return release, lostCh, nil
}

// Compile-time interface check.
var _ domain.LockManager = (*LockManager)(nil)
