package monitoring

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadore/distill/internal/model"
	"github.com/leadore/distill/internal/store"
)

func newTestCollector(t *testing.T) (*Collector, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"), store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return NewCollector(st), st
}

func TestCollectCounters(t *testing.T) {
	c, _ := newTestCollector(t)

	fresh := &model.DiscoveredRecord{Source: model.SourceFresh, State: model.StateDone}
	cached := &model.DiscoveredRecord{Source: model.SourceCache, State: model.StateDone}

	c.RecordDiscovery(fresh, 120*time.Millisecond, nil)
	c.RecordDiscovery(cached, 0, nil)
	c.RecordDiscovery(cached, 0, nil)
	c.RecordDiscovery(&model.DiscoveredRecord{State: model.StateFailed}, 0, errors.New("boom"))

	snap, err := c.Collect(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, 4, snap.Discoveries)
	assert.Equal(t, 2, snap.CacheHits)
	assert.InDelta(t, 0.5, snap.CacheHitRate, 0.001)
	assert.Equal(t, 1, snap.Failures)
	assert.InDelta(t, 0.25, snap.FailRate, 0.001)
	assert.InDelta(t, 120, snap.AvgExtractionMs, 0.001)
	assert.Zero(t, snap.Blocked)
}

func TestCollectCountsBlocks(t *testing.T) {
	c, _ := newTestCollector(t)

	blockErr := &model.FetchError{Kind: model.FetchBlocked, URL: "https://x", Err: errors.New("cf")}
	c.RecordDiscovery(&model.DiscoveredRecord{State: model.StateFailed}, 0, blockErr)
	c.RecordDiscovery(&model.DiscoveredRecord{State: model.StateFailed}, 0, errors.New("other"))

	snap, err := c.Collect(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Blocked)
	assert.Equal(t, 2, snap.Failures)
}

func TestCollectStorageCosts(t *testing.T) {
	c, st := newTestCollector(t)
	ctx := context.Background()

	target := model.Target{OrganizationID: "org-1", URL: "https://example.com", Platform: model.PlatformSite}
	_, _, err := st.Put(ctx, target, "raw content body", "raw content body", model.CaptureMeta{})
	require.NoError(t, err)

	snap, err := c.Collect(ctx, []string{"org-1", "org-2"})
	require.NoError(t, err)

	require.Len(t, snap.StorageCosts, 2)
	assert.Equal(t, 1, snap.StorageCosts["org-1"].TotalRows)
	assert.Zero(t, snap.StorageCosts["org-2"].TotalRows)
	assert.GreaterOrEqual(t, snap.TotalStorageUSD(), 0.0)
}

func TestCollectEmptySnapshot(t *testing.T) {
	c, _ := newTestCollector(t)

	snap, err := c.Collect(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, snap.Discoveries)
	assert.Zero(t, snap.CacheHitRate)
	assert.Zero(t, snap.AvgExtractionMs)
	assert.False(t, snap.CollectedAt.IsZero())
}
