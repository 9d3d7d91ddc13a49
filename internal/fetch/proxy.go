package fetch

import (
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ProxyPool rotates through a list of proxy URLs. A rotation is triggered
// after RotateAfter consecutive failures on the current proxy; when every
// proxy has been exhausted the pool reports so and the caller surfaces a
// typed error instead of spinning.
type ProxyPool struct {
	mu          sync.Mutex
	proxies     []string
	current     int
	failures    int
	rotations   int
	RotateAfter int
}

// NewProxyPool creates a pool. An empty proxy list is valid: Current returns
// "" and rotation is a no-op, meaning direct connections.
func NewProxyPool(proxies []string, rotateAfter int) *ProxyPool {
	if rotateAfter <= 0 {
		rotateAfter = 3
	}
	return &ProxyPool{proxies: proxies, RotateAfter: rotateAfter}
}

// Current returns the active proxy URL, or "" for a direct connection.
func (p *ProxyPool) Current() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.proxies) == 0 {
		return ""
	}
	return p.proxies[p.current]
}

// RecordSuccess resets the consecutive-failure counter.
func (p *ProxyPool) RecordSuccess() {
	p.mu.Lock()
	p.failures = 0
	p.rotations = 0
	p.mu.Unlock()
}

// RecordFailure counts a failure on the current proxy and rotates once the
// threshold is hit. Returns true if a rotation happened.
func (p *ProxyPool) RecordFailure() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.failures++
	if len(p.proxies) == 0 || p.failures < p.RotateAfter {
		return false
	}

	p.current = (p.current + 1) % len(p.proxies)
	p.failures = 0
	p.rotations++
	zap.L().Info("fetch: rotated proxy",
		zap.Int("index", p.current),
		zap.Int("pool_size", len(p.proxies)),
	)
	return true
}

// Exhausted reports whether every proxy in the pool has been rotated through
// without a success in between.
func (p *ProxyPool) Exhausted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.proxies) > 0 && p.rotations >= len(p.proxies)
}

// ErrNoProxies is returned when rotation is requested on an empty pool.
var ErrNoProxies = eris.New("fetch: proxy pool is empty")
