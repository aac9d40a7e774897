package limiter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock shared with the limiter goroutine.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestRegistry(t *testing.T, clock *fakeClock) *Registry {
	t.Helper()
	r := NewRegistry(Options{Now: clock.Now}, zerolog.Nop())
	t.Cleanup(r.Close)
	return r
}

func check(t *testing.T, l *Limiter) time.Duration {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	wait, err := l.CheckAndReserve(ctx)
	require.NoError(t, err)
	return wait
}

func TestBurstThenThrottle(t *testing.T) {
	clock := newFakeClock()
	reg := newTestRegistry(t, clock)

	l, err := reg.Get(reg.KeyFor("203.0.113.7"))
	require.NoError(t, err)

	for i := 1; i <= 10; i++ {
		assert.Zero(t, check(t, l), "request %d", i)
	}

	prev := time.Duration(0)
	for i := 11; i <= 20; i++ {
		wait := check(t, l)
		assert.Equal(t, time.Duration(i-10)*DefaultInterval, wait, "request %d", i)
		assert.Greater(t, wait, prev)
		prev = wait
	}
}

func TestSpacedRequestsNeverWait(t *testing.T) {
	clock := newFakeClock()
	reg := newTestRegistry(t, clock)

	l, err := reg.Get(reg.KeyFor("198.51.100.1"))
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		assert.Zero(t, check(t, l))
		clock.Advance(DefaultInterval)
	}
}

func TestCatchesUpAfterIdle(t *testing.T) {
	clock := newFakeClock()
	reg := newTestRegistry(t, clock)

	l, err := reg.Get(reg.KeyFor("198.51.100.2"))
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		check(t, l)
	}
	require.Positive(t, check(t, l))

	clock.Advance(time.Minute)
	assert.Zero(t, check(t, l))
}

func TestZeroGraceThrottlesImmediately(t *testing.T) {
	clock := newFakeClock()
	reg := NewRegistry(Options{Interval: time.Second, Grace: 0, Now: clock.Now}, zerolog.Nop())
	defer reg.Close()

	l, err := reg.Get(reg.KeyFor("x"))
	require.NoError(t, err)
	assert.Equal(t, time.Second, check(t, l))
}

func TestKeyForIsStableAndOpaque(t *testing.T) {
	reg := newTestRegistry(t, newFakeClock())

	a := reg.KeyFor("203.0.113.7")
	assert.Equal(t, a, reg.KeyFor("203.0.113.7"))
	assert.Equal(t, a, reg.KeyFor(" 203.0.113.7 "))
	assert.NotEqual(t, a, reg.KeyFor("203.0.113.8"))
	assert.NotContains(t, a, "203.0.113.7")

	assert.Equal(t, reg.KeyFor(GlobalOrigin), reg.KeyFor(""))
}

func TestSameKeySameLimiter(t *testing.T) {
	clock := newFakeClock()
	reg := newTestRegistry(t, clock)
	key := reg.KeyFor("203.0.113.9")

	first, err := reg.Get(key)
	require.NoError(t, err)
	second, err := reg.Get(key)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, key, first.Key())
	assert.Equal(t, 1, reg.Len())

	// Two callers sharing an origin share the budget.
	for i := 0; i < 5; i++ {
		check(t, first)
		check(t, second)
	}
	assert.Equal(t, DefaultInterval, check(t, first))
}

func TestConcurrentChecksAreSerialized(t *testing.T) {
	clock := newFakeClock()
	reg := newTestRegistry(t, clock)

	l, err := reg.Get(reg.KeyFor("shared"))
	require.NoError(t, err)

	const callers = 30
	waits := make(chan time.Duration, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wait, err := l.CheckAndReserve(context.Background())
			assert.NoError(t, err)
			waits <- wait
		}()
	}
	wg.Wait()
	close(waits)

	seen := make(map[time.Duration]bool)
	zero := 0
	for wait := range waits {
		if wait == 0 {
			zero++
			continue
		}
		assert.False(t, seen[wait], "wait %v handed out twice", wait)
		seen[wait] = true
	}
	assert.Equal(t, 10, zero)
	assert.Len(t, seen, callers-10)
}

func TestClosedRegistry(t *testing.T) {
	reg := NewRegistry(Options{}, zerolog.Nop())
	l, err := reg.Get(reg.KeyFor("a"))
	require.NoError(t, err)

	reg.Close()
	reg.Close()

	_, err = reg.Get(reg.KeyFor("b"))
	assert.ErrorIs(t, err, ErrClosed)

	_, err = l.CheckAndReserve(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
