package discovery

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadore/distill/internal/extract"
	"github.com/leadore/distill/internal/fetch"
	"github.com/leadore/distill/internal/leadscore"
	"github.com/leadore/distill/internal/model"
	"github.com/leadore/distill/internal/resilience"
	"github.com/leadore/distill/internal/store"
)

// fakeFetcher counts invocations and returns canned content.
type fakeFetcher struct {
	calls int64
	text  string
	err   error
}

func (f *fakeFetcher) Fetch(_ context.Context, url string, _ fetch.Options) (*fetch.Result, error) {
	atomic.AddInt64(&f.calls, 1)
	if f.err != nil {
		return nil, f.err
	}
	return &fetch.Result{
		URL:         url,
		StatusCode:  200,
		RawHTML:     "<html><body>" + f.text + "</body></html>",
		CleanedText: f.text,
		Meta:        model.CaptureMeta{Title: "Acme"},
		Fetcher:     "fake",
	}, nil
}

func (f *fakeFetcher) Name() string         { return "fake" }
func (f *fakeFetcher) Supports(string) bool { return true }
func (f *fakeFetcher) Calls() int64         { return atomic.LoadInt64(&f.calls) }

func testRules() *extract.RuleFile {
	return &extract.RuleFile{
		Rules: []model.HighValueSignalRule{{
			ID:         "hiring",
			Label:      "Company is hiring",
			Keywords:   []string{"hiring"},
			Platform:   model.PlatformAny,
			Priority:   model.PriorityHigh,
			Action:     model.ActionScoreBoost,
			ScoreBoost: 20,
		}},
	}
}

func newTestService(t *testing.T, fetcher fetch.Fetcher, cfg Config) (*Service, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"), store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	bus := NewEventBus()
	t.Cleanup(func() { bus.Close() })

	svc := NewService(cfg, st, fetcher,
		extract.NewExtractor(nil, extract.Options{}),
		testRules(),
		leadscore.NewEngine(model.TierThresholds{}),
		bus,
	)
	return svc, st
}

func siteTarget(url string) model.Target {
	return model.Target{OrganizationID: "org-1", URL: url, Platform: model.PlatformSite}
}

func TestDiscoverFresh(t *testing.T) {
	fetcher := &fakeFetcher{text: "We are hiring engineers in Berlin."}
	svc, st := newTestService(t, fetcher, Config{})

	rec, err := svc.Discover(context.Background(), siteTarget("https://example.com"), Options{})
	require.NoError(t, err)

	assert.Equal(t, model.SourceFresh, rec.Source)
	assert.Equal(t, model.StateDone, rec.State)
	assert.EqualValues(t, 1, fetcher.Calls())
	require.NotEmpty(t, rec.Signals)
	assert.Equal(t, "hiring", rec.Signals[0].SignalID)

	capture, err := st.GetLive(context.Background(), "org-1", "https://example.com")
	require.NoError(t, err)
	require.NotNil(t, capture)
	assert.Equal(t, 1, capture.SeenCount)
	assert.Equal(t, capture.ID, rec.CaptureID)
}

func TestDiscoverCacheHit(t *testing.T) {
	fetcher := &fakeFetcher{text: "We are hiring engineers."}
	svc, _ := newTestService(t, fetcher, Config{})
	ctx := context.Background()
	target := siteTarget("https://example.com")

	first, err := svc.Discover(ctx, target, Options{})
	require.NoError(t, err)
	assert.Equal(t, model.SourceFresh, first.Source)

	second, err := svc.Discover(ctx, target, Options{})
	require.NoError(t, err)
	assert.Equal(t, model.SourceCache, second.Source)
	assert.Equal(t, first.CaptureID, second.CaptureID)

	// The cache hit makes zero fetcher invocations.
	assert.EqualValues(t, 1, fetcher.Calls())

	// Persisted signals survive into the cached record.
	require.NotEmpty(t, second.Signals)
	assert.Equal(t, "hiring", second.Signals[0].SignalID)
}

func TestDiscoverComputesScore(t *testing.T) {
	fetcher := &fakeFetcher{text: "We are hiring engineers."}
	svc, _ := newTestService(t, fetcher, Config{})

	rec, err := svc.Discover(context.Background(), siteTarget("https://example.com"), Options{
		ComputeScore: true,
		ScoringRules: []model.ScoringRule{
			{ID: "bonus", Condition: "has(hiring)", ScoreBoost: 30, Enabled: true},
		},
	})
	require.NoError(t, err)

	require.NotNil(t, rec.Score)
	assert.Equal(t, 50, rec.Score.TotalScore) // 20 signal + 30 rule
	assert.Equal(t, model.TierWarm, rec.Score.Tier)
}

func TestDiscoverFetchFailure(t *testing.T) {
	fetcher := &fakeFetcher{err: &model.FetchError{
		Kind: model.FetchBlocked,
		URL:  "https://example.com",
		Err:  eris.New("cloudflare"),
	}}
	svc, st := newTestService(t, fetcher, Config{})

	rec, err := svc.Discover(context.Background(), siteTarget("https://example.com"), Options{})
	require.Error(t, err)

	var fe *model.FetchError
	assert.ErrorAs(t, err, &fe)
	assert.Equal(t, model.StateFailed, rec.State)
	assert.NotEmpty(t, rec.Err)

	// No partial capture rows on failure.
	capture, err := st.GetLive(context.Background(), "org-1", "https://example.com")
	require.NoError(t, err)
	assert.Nil(t, capture)
}

func TestDiscoverFailureLandsInDeadLetters(t *testing.T) {
	fetcher := &fakeFetcher{err: &model.FetchError{
		Kind: model.FetchBlocked,
		URL:  "https://example.com",
		Err:  eris.New("cloudflare"),
	}}
	svc, _ := newTestService(t, fetcher, Config{})
	ctx := context.Background()
	target := siteTarget("https://example.com")

	_, err := svc.Discover(ctx, target, Options{})
	require.Error(t, err)

	entries := svc.DeadLetters(resilience.DLQFilter{})
	require.Len(t, entries, 1)
	assert.Equal(t, target, entries[0].Target)
	assert.Equal(t, "permanent", entries[0].ErrorType)
	assert.Equal(t, string(model.StateFailed), entries[0].FailedState)

	// A repeat failure of the same target collapses into the same entry.
	_, err = svc.Discover(ctx, target, Options{})
	require.Error(t, err)
	entries = svc.DeadLetters(resilience.DLQFilter{})
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].RetryCount)
}

func TestDiscoverInvalidPlatform(t *testing.T) {
	svc, _ := newTestService(t, &fakeFetcher{}, Config{})
	target := model.Target{OrganizationID: "org-1", URL: "https://example.com", Platform: "bogus"}

	rec, err := svc.Discover(context.Background(), target, Options{})
	require.Error(t, err)
	assert.Equal(t, model.StateIdle, rec.State)
}

func TestDiscoverBatchPartialFailure(t *testing.T) {
	fetcher := &fakeFetcher{text: "We are hiring."}
	svc, _ := newTestService(t, fetcher, Config{MaxSessions: 2, RateLimits: RateLimits{PerSecond: 1000, Burst: 1000}})

	targets := []model.Target{
		siteTarget("https://a.example.com"),
		{OrganizationID: "org-1", URL: "https://b.example.com", Platform: "bogus"},
		siteTarget("https://c.example.com"),
	}
	records := svc.DiscoverBatch(context.Background(), targets, Options{})

	require.Len(t, records, 3)
	assert.Equal(t, model.StateDone, records[0].State)
	assert.NotEmpty(t, records[1].Err)
	assert.Equal(t, model.StateDone, records[2].State)
}

func TestDiscoverFailFastRateLimit(t *testing.T) {
	fetcher := &fakeFetcher{text: "hiring"}
	svc, _ := newTestService(t, fetcher, Config{
		RateLimits: RateLimits{PerSecond: 0.001, Burst: 1},
	})
	ctx := context.Background()

	_, err := svc.Discover(ctx, siteTarget("https://a.example.com"), Options{FailFast: true})
	require.NoError(t, err)

	// Budget exhausted; a different URL on the same tenant+platform fails fast.
	rec, err := svc.Discover(ctx, siteTarget("https://b.example.com"), Options{FailFast: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, model.StateIdle, rec.State)
}

func TestDiscoverEmitsCompletedEvent(t *testing.T) {
	fetcher := &fakeFetcher{text: "We are hiring engineers."}
	svc, _ := newTestService(t, fetcher, Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	msgs, err := svc.events.Subscribe(ctx, TopicDiscoveryCompleted)
	require.NoError(t, err)

	_, err = svc.Discover(ctx, siteTarget("https://example.com"), Options{})
	require.NoError(t, err)

	select {
	case msg := <-msgs:
		var evt CompletedEvent
		require.NoError(t, json.Unmarshal(msg.Payload, &evt))
		assert.Equal(t, "https://example.com", evt.Target.URL)
		require.Len(t, evt.Signals, 1)
		assert.Equal(t, "hiring", evt.Signals[0].SignalID)
		msg.Ack()
	case <-ctx.Done():
		t.Fatal("no discovery.completed event received")
	}
}

func TestLimitersScopedByTenantAndPlatform(t *testing.T) {
	l := NewLimiters(RateLimits{PerSecond: 0.001, Burst: 1})

	require.NoError(t, l.Allow("org-1", model.PlatformSite))
	assert.ErrorIs(t, l.Allow("org-1", model.PlatformSite), ErrRateLimited)

	// Other tenants and platforms keep their own budgets.
	assert.NoError(t, l.Allow("org-2", model.PlatformSite))
	assert.NoError(t, l.Allow("org-1", model.PlatformNews))
}
