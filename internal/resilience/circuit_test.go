package resilience

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tightBreaker(threshold int) *CircuitBreaker {
	return NewCircuitBreaker(BreakerConfig{
		Threshold: threshold,
		Cooldown:  time.Minute,
	})
}

func tripBreaker(t *testing.T, cb *CircuitBreaker, failures int) {
	t.Helper()
	for i := 0; i < failures; i++ {
		_ = cb.Execute(context.Background(), func(context.Context) error {
			return eris.New("dependency down")
		})
	}
}

func TestBreakerClosedPassesThrough(t *testing.T) {
	cb := NewCircuitBreaker(DefaultBreakerConfig())

	calls := 0
	err := cb.Execute(context.Background(), func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	cb := tightBreaker(3)
	tripBreaker(t, cb, 3)
	assert.Equal(t, CircuitOpen, cb.State())

	err := cb.Execute(context.Background(), func(context.Context) error {
		t.Fatal("open circuit must not run the call")
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestBreakerSuccessClearsFailureStreak(t *testing.T) {
	cb := tightBreaker(3)
	tripBreaker(t, cb, 2)
	assert.Equal(t, CircuitClosed, cb.State())

	_ = cb.Execute(context.Background(), func(context.Context) error { return nil })

	// The streak restarted, so two more failures still stay closed.
	tripBreaker(t, cb, 2)
	assert.Equal(t, CircuitClosed, cb.State())

	tripBreaker(t, cb, 1)
	assert.Equal(t, CircuitOpen, cb.State())
}

func TestBreakerProbesAfterCooldown(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(BreakerConfig{Threshold: 2, Cooldown: 100 * time.Millisecond})
	cb.now = func() time.Time { return now }

	tripBreaker(t, cb, 2)
	require.Equal(t, CircuitOpen, cb.State())

	cb.now = func() time.Time { return now.Add(200 * time.Millisecond) }
	assert.Equal(t, CircuitHalfOpen, cb.State())

	err := cb.Execute(context.Background(), func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestBreakerFailedProbeReopens(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(BreakerConfig{Threshold: 2, Cooldown: 100 * time.Millisecond})
	cb.now = func() time.Time { return now }

	tripBreaker(t, cb, 2)
	cb.now = func() time.Time { return now.Add(200 * time.Millisecond) }

	_ = cb.Execute(context.Background(), func(context.Context) error {
		return eris.New("still down")
	})

	assert.Equal(t, CircuitOpen, cb.State())
	err := cb.Execute(context.Background(), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestBreakerProbeQuota(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(BreakerConfig{Threshold: 1, Cooldown: 100 * time.Millisecond, ProbeQuota: 2})
	cb.now = func() time.Time { return now }

	tripBreaker(t, cb, 1)
	cb.now = func() time.Time { return now.Add(200 * time.Millisecond) }

	require.NoError(t, cb.Execute(context.Background(), func(context.Context) error { return nil }))
	assert.Equal(t, CircuitHalfOpen, cb.State(), "one good probe is not enough")

	require.NoError(t, cb.Execute(context.Background(), func(context.Context) error { return nil }))
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestBreakerObservesTransitions(t *testing.T) {
	var transitions []string
	cb := NewCircuitBreaker(BreakerConfig{
		Threshold: 2,
		Cooldown:  time.Minute,
		OnChange: func(from, to CircuitState) {
			transitions = append(transitions, from.String()+">"+to.String())
		},
	})

	tripBreaker(t, cb, 2)
	assert.Equal(t, []string{"closed>open"}, transitions)
}

func TestBreakerTripsFilter(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{
		Threshold: 2,
		Cooldown:  time.Minute,
		Trips: func(err error) bool {
			return err.Error() == "tripworthy"
		},
	})

	for i := 0; i < 5; i++ {
		_ = cb.Execute(context.Background(), func(context.Context) error {
			return eris.New("harmless")
		})
	}
	assert.Equal(t, CircuitClosed, cb.State())

	for i := 0; i < 2; i++ {
		_ = cb.Execute(context.Background(), func(context.Context) error {
			return eris.New("tripworthy")
		})
	}
	assert.Equal(t, CircuitOpen, cb.State())
}

func TestBreakerReset(t *testing.T) {
	cb := tightBreaker(2)
	tripBreaker(t, cb, 2)
	require.Equal(t, CircuitOpen, cb.State())

	cb.Reset()
	assert.Equal(t, CircuitClosed, cb.State())
	require.NoError(t, cb.Execute(context.Background(), func(context.Context) error { return nil }))
}

func TestBreakerConcurrentAccess(t *testing.T) {
	t.Parallel()
	cb := NewCircuitBreaker(BreakerConfig{Threshold: 100, Cooldown: time.Minute})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = cb.Execute(context.Background(), func(context.Context) error {
				if i%2 == 0 {
					return eris.New("fail")
				}
				return nil
			})
		}(i)
	}
	wg.Wait()
}

func TestGuardReturnsValue(t *testing.T) {
	cb := NewCircuitBreaker(DefaultBreakerConfig())

	val, err := Guard(context.Background(), cb, func(context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, val)
}

func TestGuardRejectsWhenOpen(t *testing.T) {
	cb := tightBreaker(1)
	tripBreaker(t, cb, 1)

	val, err := Guard(context.Background(), cb, func(context.Context) (int, error) {
		return 42, nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Zero(t, val)
}

func TestBreakersGetReusesPerService(t *testing.T) {
	b := NewBreakers(DefaultBreakerConfig())

	fetch1 := b.Get("fetch")
	fetch2 := b.Get("fetch")
	extract := b.Get("extract")

	assert.Same(t, fetch1, fetch2)
	assert.NotSame(t, fetch1, extract)
}

func TestBreakersStatesSnapshot(t *testing.T) {
	b := NewBreakers(BreakerConfig{Threshold: 1, Cooldown: time.Hour})

	tripBreaker(t, b.Get("fetch"), 1)
	_ = b.Get("store")

	states := b.States()
	assert.Equal(t, CircuitOpen, states["fetch"])
	assert.Equal(t, CircuitClosed, states["store"])
}

func TestCircuitStateString(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half-open", CircuitHalfOpen.String())
}
