package discovery

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/leadore/distill/internal/model"
)

// ErrRateLimited is returned by a fail-fast reservation when the tenant has
// no budget for the platform right now.
var ErrRateLimited = eris.New("discovery: rate limit exceeded")

// RateLimits configures outbound fetch pacing.
type RateLimits struct {
	// PerSecond is the sustained request rate per tenant+platform. Default 1.
	PerSecond float64

	// Burst is the short-term burst size. Default 3.
	Burst int
}

func (r RateLimits) withDefaults() RateLimits {
	if r.PerSecond <= 0 {
		r.PerSecond = 1
	}
	if r.Burst <= 0 {
		r.Burst = 3
	}
	return r
}

// Limiters is a registry of rate limiters keyed by tenant+platform, so one
// tenant hammering one platform cannot starve the others.
type Limiters struct {
	mu       sync.Mutex
	cfg      RateLimits
	limiters map[string]*rate.Limiter
}

// NewLimiters creates a limiter registry.
func NewLimiters(cfg RateLimits) *Limiters {
	return &Limiters{
		cfg:      cfg.withDefaults(),
		limiters: make(map[string]*rate.Limiter),
	}
}

func (l *Limiters) get(organizationID string, platform model.Platform) *rate.Limiter {
	key := organizationID + "|" + string(platform)
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(l.cfg.PerSecond), l.cfg.Burst)
		l.limiters[key] = lim
	}
	return lim
}

// Wait blocks until the tenant has budget for the platform or ctx ends.
func (l *Limiters) Wait(ctx context.Context, organizationID string, platform model.Platform) error {
	return l.get(organizationID, platform).Wait(ctx)
}

// Allow reserves budget without blocking; returns ErrRateLimited when none
// is available.
func (l *Limiters) Allow(organizationID string, platform model.Platform) error {
	if !l.get(organizationID, platform).Allow() {
		return ErrRateLimited
	}
	return nil
}
