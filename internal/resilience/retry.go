package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// RetryPolicy paces re-attempts of a transiently failing call: capture writes
// racing the sweep, webhook posts, model calls.
type RetryPolicy struct {
	// Attempts is the total number of tries including the first. Default 3.
	Attempts int

	// BaseDelay seeds the exponential backoff. Default 400ms.
	BaseDelay time.Duration

	// MaxDelay caps a single backoff sleep. Default 20s.
	MaxDelay time.Duration

	// Factor grows the delay between attempts. Default 2.
	Factor float64

	// Jitter widens each delay by up to the given fraction either way so
	// concurrent retries do not synchronise. Zero disables it.
	Jitter float64

	// Retryable decides whether an error is worth another attempt. Nil means
	// IsTransient.
	Retryable func(error) bool

	// OnAttempt runs before each backoff sleep with the attempt number that
	// just failed.
	OnAttempt func(attempt int, err error)
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.Attempts <= 0 {
		p.Attempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 400 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 20 * time.Second
	}
	if p.Factor <= 0 {
		p.Factor = 2
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	if p.Retryable == nil {
		p.Retryable = IsTransient
	}
	return p
}

// delay computes the jittered backoff after the given zero-based attempt.
func (p RetryPolicy) delay(attempt int) time.Duration {
	d := float64(p.BaseDelay) * math.Pow(p.Factor, float64(attempt))
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter > 0 {
		d += (rand.Float64()*2 - 1) * d * p.Jitter
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// Retry runs fn until it succeeds, fails permanently, or the policy's
// attempts run out. Context cancellation stops immediately with the last
// error.
func Retry(ctx context.Context, p RetryPolicy, fn func(ctx context.Context) error) error {
	_, err := RetryVal(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// RetryVal is Retry for calls that produce a value.
func RetryVal[T any](ctx context.Context, p RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	p = p.withDefaults()

	var zero T
	var lastErr error
	for attempt := 0; attempt < p.Attempts; attempt++ {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		lastErr = err

		if ctx.Err() != nil || !p.Retryable(err) || attempt == p.Attempts-1 {
			break
		}
		if p.OnAttempt != nil {
			p.OnAttempt(attempt+1, err)
		}

		timer := time.NewTimer(p.delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, lastErr
		case <-timer.C:
		}
	}
	return zero, lastErr
}
