package chain

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/groupmarket/internal/domain"
)

func TestManualClockNeverGoesBackwards(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewManualClock(start)

	c.Set(start.Add(-time.Hour))
	assert.Equal(t, start, c.Now())

	c.Advance(-time.Minute)
	assert.Equal(t, start, c.Now())

	c.Advance(time.Minute)
	assert.Equal(t, start.Add(time.Minute), c.Now())

	c.Set(start.Add(time.Hour))
	assert.Equal(t, start.Add(time.Hour), c.Now())
}

func TestMonotonicClockStrictlyIncreases(t *testing.T) {
	c := NewMonotonicClock()
	future := time.Now().Add(time.Hour)
	c.Observe(future)

	a := c.Now()
	b := c.Now()
	assert.True(t, a.After(future))
	assert.True(t, b.After(a))
}

func TestRuntimeDoPinsClock(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rt := NewRuntime(start)
	at := start.Add(90 * time.Second)

	var seen time.Time
	err := rt.Do(at, func() error {
		seen = rt.Clock().Now()
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, at, seen)
	assert.Equal(t, at, rt.Now())

	boom := errors.New("boom")
	assert.ErrorIs(t, rt.Do(at, func() error { return boom }), boom)
}

func TestRuntimeSerializesCommands(t *testing.T) {
	rt := NewRuntime(time.Unix(0, 0))
	var (
		wg      sync.WaitGroup
		counter int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = rt.Do(time.Unix(0, 0), func() error {
				v := counter
				time.Sleep(time.Microsecond)
				counter = v + 1
				return nil
			})
		}()
	}
	wg.Wait()

	var got int
	require.NoError(t, rt.View(func() error {
		got = counter
		return nil
	}))
	assert.Equal(t, 50, got)
}

func TestGuardRejectsReentry(t *testing.T) {
	var g Guard
	require.NoError(t, g.Enter())
	assert.True(t, g.Busy())
	err := g.Enter()
	assert.ErrorIs(t, err, domain.ErrReentrant)
	assert.ErrorIs(t, err, domain.ErrConflict)
	g.Exit()
	require.NoError(t, g.Enter())
}

func TestMonotonicClockMicrosecondResolution(t *testing.T) {
	c := NewMonotonicClock()
	for range 5 {
		now := c.Now()
		assert.Equal(t, now, now.Truncate(time.Microsecond))
	}
}
