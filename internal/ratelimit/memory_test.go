package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is advanced by hand so bucket refills are deterministic.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newLimiter(t *testing.T, rps float64, burst int, opts ...Option) (*MemoryLimiter, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)}
	m := NewMemoryLimiter(rps, burst, append(opts, withClock(clock.Now))...)
	t.Cleanup(func() { require.NoError(t, m.Close()) })
	return m, clock
}

func allowed(t *testing.T, m *MemoryLimiter, key string, n int) int {
	t.Helper()
	got := 0
	for range n {
		ok, err := m.Allow(context.Background(), key)
		require.NoError(t, err)
		if ok {
			got++
		}
	}
	return got
}

func TestMemoryLimiterBurstThenDeny(t *testing.T) {
	m, _ := newLimiter(t, 10, 3)
	assert.Equal(t, 3, allowed(t, m, "project:a", 5))
}

func TestMemoryLimiterRefills(t *testing.T) {
	m, clock := newLimiter(t, 10, 2)
	require.Equal(t, 2, allowed(t, m, "project:a", 2))
	assert.Zero(t, allowed(t, m, "project:a", 1))

	clock.Advance(100 * time.Millisecond)
	assert.Equal(t, 1, allowed(t, m, "project:a", 3), "one token per 100ms at 10 rps")

	clock.Advance(time.Hour)
	assert.Equal(t, 2, allowed(t, m, "project:a", 5), "refill is capped at the burst")
}

func TestMemoryLimiterKeysAreIndependent(t *testing.T) {
	m, _ := newLimiter(t, 1, 1)
	assert.Equal(t, 1, allowed(t, m, "project:a", 2))
	assert.Equal(t, 1, allowed(t, m, "project:b", 2))
	assert.Equal(t, 2, m.Keys())
}

func TestMemoryLimiterConcurrentCallersShareTheBudget(t *testing.T) {
	m, _ := newLimiter(t, 1, 50)

	var ok atomic.Int64
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 10 {
				if allowedNow, _ := m.Allow(context.Background(), "project:hot"); allowedNow {
					ok.Add(1)
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(50), ok.Load())
}

func TestMemoryLimiterSweep(t *testing.T) {
	m, clock := newLimiter(t, 1, 1, WithIdleTTL(time.Hour))

	for i := range 3 {
		allowed(t, m, fmt.Sprintf("project:%d", i), 1)
	}
	clock.Advance(30 * time.Minute)
	allowed(t, m, "project:0", 1)

	clock.Advance(45 * time.Minute)
	assert.Equal(t, 2, m.sweep(clock.Now()))
	assert.Equal(t, 1, m.Keys(), "the recently used key survives")

	clock.Advance(2 * time.Hour)
	assert.Equal(t, 1, m.sweep(clock.Now()))
	assert.Equal(t, 1, allowed(t, m, "project:0", 1), "a swept key starts with a full burst")
}

func TestMemoryLimiterCloseIsIdempotent(t *testing.T) {
	m := NewMemoryLimiter(1, 1)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
}

func TestSweepInterval(t *testing.T) {
	assert.Equal(t, time.Minute, sweepInterval(10*time.Minute))
	assert.Equal(t, time.Second, sweepInterval(time.Second))
}

func TestNoopLimiter(t *testing.T) {
	var l Limiter = NoopLimiter{}
	for range 100 {
		ok, err := l.Allow(context.Background(), "project:a")
		require.NoError(t, err)
		require.True(t, ok)
	}
	assert.NoError(t, l.Close())
}
