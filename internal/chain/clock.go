package chain

import (
	"sync"
	"time"
)

// Clock supplies the instant a command executes at.
type Clock interface {
	Now() time.Time
}

// ManualClock only moves when told to. It never goes backwards: setting an
// earlier instant is ignored.
type ManualClock struct {
	mu  sync.RWMutex
	now time.Time
}

func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

// Set moves the clock to t if t is later than the current instant.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.now) {
		c.now = t
	}
}

// Advance moves the clock forward by d. Negative durations are ignored.
func (c *ManualClock) Advance(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// MonotonicClock wraps the wall clock and guarantees strictly increasing
// readings, even if the host clock steps backwards. Readings have
// microsecond resolution so they survive a round trip through Postgres.
type MonotonicClock struct {
	mu   sync.Mutex
	last time.Time
}

func NewMonotonicClock() *MonotonicClock {
	return &MonotonicClock{}
}

func (c *MonotonicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UTC().Truncate(time.Microsecond)
	if !now.After(c.last) {
		now = c.last.Add(time.Microsecond)
	}
	c.last = now
	return now
}

// Observe raises the floor of the clock to t, used after replaying a journal
// whose last entry may be later than the host clock.
func (c *MonotonicClock) Observe(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.last) {
		c.last = t
	}
}
