// Package store implements the two-tier content store: time-bounded,
// content-addressable raw captures ("ore") and permanent extracted signals
// ("refined output").
package store

import (
	"context"
	"time"

	"github.com/leadore/distill/internal/model"
)

// SweepBatchSize bounds each delete batch during the expiry sweep so the
// backend never sees an unbounded statement.
const SweepBatchSize = 500

// CostRates configures storage cost estimation.
type CostRates struct {
	// USDPerGBMonth is the per-gigabyte-month storage price.
	USDPerGBMonth float64 `yaml:"usd_per_gb_month" mapstructure:"usd_per_gb_month"`
}

// DefaultCostRates returns object-storage-like pricing.
func DefaultCostRates() CostRates {
	return CostRates{USDPerGBMonth: 0.023}
}

// Store is the persistence interface for the discovery pipeline.
type Store interface {
	// Put writes raw content for a target, deduplicating by content hash.
	// A live row with the same tenant+hash is updated (seenCount, lastSeenAt)
	// and returned with isNew=false; otherwise a new row is inserted with
	// expiresAt = now + retention. Safe under concurrent calls for the same
	// hash: at most one insert, concurrent duplicates collapse to updates.
	Put(ctx context.Context, target model.Target, rawContent, cleanedText string, meta model.CaptureMeta) (capture *model.RawCapture, isNew bool, err error)

	// GetLive returns the newest live (non-expired, non-flagged) capture for
	// a tenant+URL, or nil with no error on a miss.
	GetLive(ctx context.Context, organizationID, url string) (*model.RawCapture, error)

	// FlagForDeletion marks a capture for removal on the next sweep. Flagged
	// rows are invisible to Put's duplicate lookup and to GetLive.
	FlagForDeletion(ctx context.Context, captureID string) error

	// Verify marks a capture's signals as human-verified.
	Verify(ctx context.Context, captureID string) error

	// SweepExpired deletes expired or flagged rows in bounded batches.
	// An empty organizationID sweeps all tenants. Idempotent and safe to run
	// concurrently with Put.
	SweepExpired(ctx context.Context, organizationID string) (int, error)

	// EstimateStorageCost sums live raw bytes for a tenant and prices them,
	// including projected savings versus unbounded retention.
	EstimateStorageCost(ctx context.Context, organizationID string) (*model.StorageCost, error)

	// RecordSignals appends extracted signals to the permanent store.
	RecordSignals(ctx context.Context, signals []model.ExtractedSignal) error

	// ListSignals returns permanent signals recorded for a capture.
	ListSignals(ctx context.Context, captureID string) ([]model.ExtractedSignal, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Options configures store construction.
type Options struct {
	Retention time.Duration
	Rates     CostRates
}

func (o Options) withDefaults() Options {
	if o.Retention <= 0 {
		o.Retention = model.DefaultRetention
	}
	if o.Rates.USDPerGBMonth <= 0 {
		o.Rates = DefaultCostRates()
	}
	return o
}
