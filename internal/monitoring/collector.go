// Package monitoring gathers operational metrics from the discovery pipeline
// and the content store, evaluates them against alert thresholds, and posts
// breaches to a webhook.
package monitoring

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/leadore/distill/internal/model"
	"github.com/leadore/distill/internal/store"
)

// MetricsSnapshot holds a point-in-time view of system health.
type MetricsSnapshot struct {
	// Discovery counters since process start.
	Discoveries  int     `json:"discoveries"`
	CacheHits    int     `json:"cache_hits"`
	CacheHitRate float64 `json:"cache_hit_rate"`
	Failures     int     `json:"failures"`
	FailRate     float64 `json:"fail_rate"`
	Blocked      int     `json:"blocked"`

	// AvgExtractionMs is the mean extraction latency, pattern path plus
	// model synthesis, over completed fresh discoveries.
	AvgExtractionMs float64 `json:"avg_extraction_ms"`

	// StorageCosts is the live-capture storage estimate per tenant.
	StorageCosts map[string]*model.StorageCost `json:"storage_costs,omitempty"`

	CollectedAt time.Time `json:"collected_at"`
}

// TotalStorageUSD sums the estimated monthly storage cost across tenants.
func (s *MetricsSnapshot) TotalStorageUSD() float64 {
	var total float64
	for _, c := range s.StorageCosts {
		total += c.EstimatedMonthlyUSD
	}
	return total
}

// Collector accumulates discovery counters and reads storage totals from the
// content store. Counter updates are cheap enough for the discover hot path.
type Collector struct {
	store store.Store

	mu              sync.Mutex
	discoveries     int
	cacheHits       int
	failures        int
	blocked         int
	extractions     int
	extractionTotal time.Duration
}

// NewCollector creates a metrics collector over the given store.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st}
}

// RecordDiscovery counts one finished discover call. extractLatency is zero
// for cache hits and failures before the extraction stage.
func (c *Collector) RecordDiscovery(rec *model.DiscoveredRecord, extractLatency time.Duration, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.discoveries++
	if rec != nil && rec.Source == model.SourceCache {
		c.cacheHits++
	}
	if err != nil {
		c.failures++
		var fe *model.FetchError
		if errors.As(err, &fe) && fe.Kind == model.FetchBlocked {
			c.blocked++
		}
		return
	}
	if extractLatency > 0 {
		c.extractions++
		c.extractionTotal += extractLatency
	}
}

// Collect builds a snapshot, including storage cost estimates for the given
// tenants.
func (c *Collector) Collect(ctx context.Context, organizationIDs []string) (*MetricsSnapshot, error) {
	c.mu.Lock()
	snap := &MetricsSnapshot{
		Discoveries: c.discoveries,
		CacheHits:   c.cacheHits,
		Failures:    c.failures,
		Blocked:     c.blocked,
		CollectedAt: time.Now().UTC(),
	}
	if c.discoveries > 0 {
		snap.CacheHitRate = float64(c.cacheHits) / float64(c.discoveries)
		snap.FailRate = float64(c.failures) / float64(c.discoveries)
	}
	if c.extractions > 0 {
		snap.AvgExtractionMs = float64(c.extractionTotal.Milliseconds()) / float64(c.extractions)
	}
	c.mu.Unlock()

	if len(organizationIDs) > 0 {
		snap.StorageCosts = make(map[string]*model.StorageCost, len(organizationIDs))
		for _, org := range organizationIDs {
			cost, err := c.store.EstimateStorageCost(ctx, org)
			if err != nil {
				return nil, eris.Wrapf(err, "monitoring: storage cost for %s", org)
			}
			snap.StorageCosts[org] = cost
		}
	}

	return snap, nil
}
