package chain

import (
	"sync"
	"time"
)

// Runtime serializes every state-mutating command against the ledgers it
// owns. Commands run one at a time under the write lock with the shared
// clock pinned to the command's instant; reads take the read lock.
type Runtime struct {
	mu    sync.RWMutex
	clock *ManualClock
}

func NewRuntime(start time.Time) *Runtime {
	return &Runtime{clock: NewManualClock(start)}
}

// Clock is the clock every component owned by the runtime must read.
func (r *Runtime) Clock() Clock { return r.clock }

// Now returns the instant of the last executed command.
func (r *Runtime) Now() time.Time { return r.clock.Now() }

// Do runs fn exclusively at instant at.
func (r *Runtime) Do(at time.Time, fn func() error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clock.Set(at)
	return fn()
}

// View runs fn under the shared lock. fn must not mutate state.
func (r *Runtime) View(fn func() error) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return fn()
}
