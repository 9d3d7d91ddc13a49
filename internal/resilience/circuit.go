// Package resilience keeps the pipeline standing when its dependencies
// wobble: transient-error classification for the domain error taxonomy,
// retry with jittered backoff, a per-service circuit breaker, and a dead
// letter queue for targets that keep failing.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// ErrCircuitOpen rejects a call while a breaker is cooling down.
var ErrCircuitOpen = eris.New("resilience: circuit open")

// CircuitState is the breaker's position.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// BreakerConfig tunes a circuit breaker.
type BreakerConfig struct {
	// Threshold is the consecutive-failure count that opens the circuit.
	// Default 5.
	Threshold int

	// Cooldown is how long an open circuit rejects calls before letting a
	// probe through. Default 30s.
	Cooldown time.Duration

	// ProbeQuota is the number of successful half-open probes needed to
	// close again. Default 1.
	ProbeQuota int

	// Trips decides whether an error counts toward the threshold. Nil
	// counts every error.
	Trips func(error) bool

	// OnChange observes state transitions.
	OnChange func(from, to CircuitState)
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.Threshold <= 0 {
		c.Threshold = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.ProbeQuota <= 0 {
		c.ProbeQuota = 1
	}
	return c
}

// DefaultBreakerConfig returns the standard breaker tuning.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{}.withDefaults()
}

// CircuitBreaker guards one external dependency. Consecutive failures open
// it; after the cooldown a probe call decides whether it closes again.
type CircuitBreaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu       sync.Mutex
	state    CircuitState
	failures int
	openedAt time.Time
	probes   int
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{cfg: cfg.withDefaults(), now: time.Now}
}

// Execute runs fn unless the circuit is open. The result feeds the breaker's
// failure accounting either way.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.record(err)
	return err
}

// Guard is Execute for calls that produce a value.
func Guard[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := cb.admit(); err != nil {
		return zero, err
	}
	val, err := fn(ctx)
	cb.record(err)
	return val, err
}

// State reports the breaker's position, accounting for an elapsed cooldown.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitOpen && cb.now().Sub(cb.openedAt) >= cb.cfg.Cooldown {
		return CircuitHalfOpen
	}
	return cb.state
}

// Reset forces the breaker closed. For manual recovery.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.shift(CircuitClosed)
	cb.failures = 0
	cb.probes = 0
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen {
		if cb.now().Sub(cb.openedAt) < cb.cfg.Cooldown {
			return ErrCircuitOpen
		}
		cb.shift(CircuitHalfOpen)
	}
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	counts := err != nil
	if counts && cb.cfg.Trips != nil {
		counts = cb.cfg.Trips(err)
	}

	if !counts {
		switch cb.state {
		case CircuitHalfOpen:
			cb.probes++
			if cb.probes >= cb.cfg.ProbeQuota {
				cb.shift(CircuitClosed)
				cb.failures = 0
				cb.probes = 0
			}
		case CircuitClosed:
			cb.failures = 0
		}
		return
	}

	cb.failures++
	cb.openedAt = cb.now()
	switch cb.state {
	case CircuitClosed:
		if cb.failures >= cb.cfg.Threshold {
			cb.shift(CircuitOpen)
		}
	case CircuitHalfOpen:
		// A failed probe reopens immediately.
		cb.shift(CircuitOpen)
		cb.probes = 0
	}
}

func (cb *CircuitBreaker) shift(to CircuitState) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	if cb.cfg.OnChange != nil {
		cb.cfg.OnChange(from, to)
	}
}

// Breakers is a lazily populated registry of per-service circuit breakers,
// so a melting fetch target cannot poison the model or store paths.
type Breakers struct {
	mu  sync.RWMutex
	cfg BreakerConfig
	all map[string]*CircuitBreaker
}

// NewBreakers creates a breaker registry sharing one config.
func NewBreakers(cfg BreakerConfig) *Breakers {
	return &Breakers{cfg: cfg, all: make(map[string]*CircuitBreaker)}
}

// Get returns the named service's breaker, creating it on first use.
func (b *Breakers) Get(service string) *CircuitBreaker {
	b.mu.RLock()
	cb, ok := b.all[service]
	b.mu.RUnlock()
	if ok {
		return cb
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if cb, ok = b.all[service]; ok {
		return cb
	}
	cb = NewCircuitBreaker(b.cfg)
	b.all[service] = cb
	return cb
}

// States snapshots every registered breaker for the metrics surface.
func (b *Breakers) States() map[string]CircuitState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	states := make(map[string]CircuitState, len(b.all))
	for name, cb := range b.all {
		states[name] = cb.State()
	}
	return states
}
