// Package discovery orchestrates the pipeline: content store lookup, fetch,
// extraction, confidence scoring, lead scoring, and event emission. It is the
// only public entry point into the subsystem.
package discovery

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/leadore/distill/internal/extract"
	"github.com/leadore/distill/internal/fetch"
	"github.com/leadore/distill/internal/leadscore"
	"github.com/leadore/distill/internal/model"
	"github.com/leadore/distill/internal/monitoring"
	"github.com/leadore/distill/internal/resilience"
	"github.com/leadore/distill/internal/store"
)

// Config wires the orchestrator.
type Config struct {
	// MaxSessions bounds concurrent targets in a batch. Default 4.
	MaxSessions int

	// FetchTimeout bounds a single fetch. Default 30s.
	FetchTimeout time.Duration

	// RateLimits paces outbound fetches per tenant+platform.
	RateLimits RateLimits
}

func (c Config) withDefaults() Config {
	if c.MaxSessions <= 0 {
		c.MaxSessions = 4
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 30 * time.Second
	}
	return c
}

// Options tunes a single Discover call.
type Options struct {
	// ComputeScore runs the lead scoring engine over the extracted signals.
	ComputeScore bool

	// ScoringRules are evaluated when ComputeScore is set.
	ScoringRules []model.ScoringRule

	// FailFast reserves rate-limit budget without blocking; a depleted
	// budget fails the call with ErrRateLimited instead of queueing.
	FailFast bool
}

// Service composes the pipeline components.
type Service struct {
	cfg       Config
	store     store.Store
	fetcher   fetch.Fetcher
	extractor *extract.Extractor
	rules     *extract.RuleFile
	scorer    *leadscore.Engine
	limits    *Limiters
	events    *EventBus
	breakers  *resilience.Breakers
	dlq       *resilience.DLQ
	metrics   *monitoring.Collector
}

// NewService creates the orchestrator. events may be nil to disable emission.
func NewService(
	cfg Config,
	st store.Store,
	fetcher fetch.Fetcher,
	extractor *extract.Extractor,
	rules *extract.RuleFile,
	scorer *leadscore.Engine,
	events *EventBus,
) *Service {
	cfg = cfg.withDefaults()
	return &Service{
		cfg:       cfg,
		store:     st,
		fetcher:   fetcher,
		extractor: extractor,
		rules:     rules,
		scorer:    scorer,
		limits:    NewLimiters(cfg.RateLimits),
		events:    events,
		breakers:  resilience.NewBreakers(resilience.DefaultBreakerConfig()),
		dlq:       resilience.NewDLQ(0),
	}
}

// WithMetrics attaches a collector; every Discover outcome is recorded.
func (s *Service) WithMetrics(c *monitoring.Collector) *Service {
	s.metrics = c
	return s
}

// Discover resolves one target. A live cached capture short-circuits the
// fetcher entirely; otherwise the full fetch → store → extract → score path
// runs. On failure the returned record carries the terminal failed state and
// the error is also returned, so batch callers can keep partial results.
func (s *Service) Discover(ctx context.Context, target model.Target, opts Options) (*model.DiscoveredRecord, error) {
	rec, extractLatency, err := s.discover(ctx, target, opts)
	if s.metrics != nil {
		s.metrics.RecordDiscovery(rec, extractLatency, err)
	}
	return rec, err
}

func (s *Service) discover(ctx context.Context, target model.Target, opts Options) (*model.DiscoveredRecord, time.Duration, error) {
	start := time.Now()

	var extractDur time.Duration
	fail := func(state model.TargetState, err error) (*model.DiscoveredRecord, time.Duration, error) {
		rec, ferr := s.failed(target, state, start, err)
		return rec, extractDur, ferr
	}

	if !target.Platform.Valid() {
		return fail(model.StateIdle, eris.Errorf("invalid platform %q", target.Platform))
	}

	cached, err := s.store.GetLive(ctx, target.OrganizationID, target.URL)
	if err != nil {
		return fail(model.StateIdle, err)
	}
	if cached != nil {
		rec, err := s.fromCache(ctx, target, cached, opts, start)
		return rec, 0, err
	}

	if opts.FailFast {
		err = s.limits.Allow(target.OrganizationID, target.Platform)
	} else {
		err = s.limits.Wait(ctx, target.OrganizationID, target.Platform)
	}
	if err != nil {
		return fail(model.StateIdle, err)
	}

	state := model.StateIdle
	advance := func(next model.TargetState) {
		if state.CanTransition(next) {
			state = next
		}
	}

	// Fetch.
	advance(model.StateFetching)
	result, err := resilience.Guard(ctx, s.breakers.Get("fetch"), func(ctx context.Context) (*fetch.Result, error) {
		return s.fetcher.Fetch(ctx, target.URL, fetch.Options{Timeout: s.cfg.FetchTimeout})
	})
	if err != nil {
		return fail(state, err)
	}

	// Persist raw content. Writes race with sweeps, so one retry is cheap
	// and usually lands.
	capture, isNew, err := s.putWithRetry(ctx, target, result)
	if err != nil {
		return fail(state, err)
	}

	// Extract + confidence.
	advance(model.StateExtracting)
	extractStart := time.Now()
	signals, err := resilience.Guard(ctx, s.breakers.Get("extract"), func(ctx context.Context) ([]model.ExtractedSignal, error) {
		return s.extractor.Extract(ctx, capture, s.rules)
	})
	extractDur = time.Since(extractStart)
	if err != nil {
		return fail(state, err)
	}
	if len(signals) > 0 {
		if err := s.store.RecordSignals(ctx, signals); err != nil {
			return fail(state, err)
		}
	}

	// Lead score.
	var score *model.LeadScore
	if opts.ComputeScore {
		ls := s.scorer.Compute(signals, opts.ScoringRules)
		score = &ls
		advance(model.StateScored)
	}
	advance(model.StateDone)

	record := &model.DiscoveredRecord{
		Target:    target,
		Source:    model.SourceFresh,
		State:     state,
		CaptureID: capture.ID,
		Signals:   signals,
		Score:     score,
		Elapsed:   time.Since(start),
	}

	s.emit(record)

	zap.L().Info("discovery: target done",
		zap.String("org_id", target.OrganizationID),
		zap.String("url", target.URL),
		zap.Bool("new_capture", isNew),
		zap.Int("signals", len(signals)),
		zap.Duration("elapsed", record.Elapsed),
	)
	return record, extractDur, nil
}

// DiscoverBatch resolves many targets with bounded parallelism. One target's
// failure never aborts the batch; its record carries the error.
func (s *Service) DiscoverBatch(ctx context.Context, targets []model.Target, opts Options) []*model.DiscoveredRecord {
	records := make([]*model.DiscoveredRecord, len(targets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxSessions)
	for i, target := range targets {
		g.Go(func() error {
			rec, err := s.Discover(gctx, target, opts)
			if err != nil {
				zap.L().Warn("discovery: target failed",
					zap.String("org_id", target.OrganizationID),
					zap.String("url", target.URL),
					zap.Error(err),
				)
			}
			records[i] = rec
			return nil
		})
	}
	g.Wait() //nolint:errcheck // workers never return errors

	return records
}

// BreakerStates reports the position of every circuit the pipeline has
// exercised so far.
func (s *Service) BreakerStates() map[string]resilience.CircuitState {
	return s.breakers.States()
}

// DeadLetters lists failed targets awaiting operator replay or discard.
func (s *Service) DeadLetters(f resilience.DLQFilter) []resilience.DLQEntry {
	return s.dlq.Entries(f)
}

// fromCache serves a discovery from a live capture without touching the
// fetcher. Signals come from the permanent store.
func (s *Service) fromCache(ctx context.Context, target model.Target, capture *model.RawCapture, opts Options, start time.Time) (*model.DiscoveredRecord, error) {
	signals, err := s.store.ListSignals(ctx, capture.ID)
	if err != nil {
		return s.failed(target, model.StateIdle, start, err)
	}

	var score *model.LeadScore
	if opts.ComputeScore {
		ls := s.scorer.Compute(signals, opts.ScoringRules)
		score = &ls
	}

	return &model.DiscoveredRecord{
		Target:    target,
		Source:    model.SourceCache,
		State:     model.StateDone,
		CaptureID: capture.ID,
		Signals:   signals,
		Score:     score,
		Elapsed:   time.Since(start),
	}, nil
}

func (s *Service) putWithRetry(ctx context.Context, target model.Target, result *fetch.Result) (*model.RawCapture, bool, error) {
	policy := resilience.RetryPolicy{
		Attempts:  2,
		BaseDelay: 50 * time.Millisecond,
		OnAttempt: func(_ int, err error) {
			zap.L().Warn("discovery: retrying capture write", zap.String("url", target.URL), zap.Error(err))
		},
	}
	var isNew bool
	capture, err := resilience.RetryVal(ctx, policy, func(ctx context.Context) (*model.RawCapture, error) {
		c, fresh, err := s.store.Put(ctx, target, result.RawHTML, result.CleanedText, result.Meta)
		isNew = fresh
		return c, err
	})
	return capture, isNew, err
}

// failed builds the terminal failure record. The state machine only permits
// failed from fetching or extracting; earlier failures never entered the
// machine and report the state they stalled in.
func (s *Service) failed(target model.Target, state model.TargetState, start time.Time, err error) (*model.DiscoveredRecord, error) {
	if state.CanTransition(model.StateFailed) {
		state = model.StateFailed
	}
	s.dlq.Record(target, string(state), err)
	return &model.DiscoveredRecord{
		Target:  target,
		State:   state,
		Err:     err.Error(),
		Elapsed: time.Since(start),
	}, err
}

func (s *Service) emit(record *model.DiscoveredRecord) {
	if s.events == nil {
		return
	}
	actions := make(map[string]model.RuleAction, len(s.rules.Rules))
	for _, rule := range s.rules.Rules {
		actions[rule.ID] = rule.Action
	}
	summaries := make([]SignalSummary, 0, len(record.Signals))
	for _, sig := range record.Signals {
		summaries = append(summaries, SignalSummary{
			SignalID:   sig.SignalID,
			Label:      sig.Label,
			Confidence: sig.Confidence,
			Action:     actions[sig.SignalID],
		})
	}
	s.events.PublishCompleted(CompletedEvent{
		Target:     record.Target,
		CaptureID:  record.CaptureID,
		Signals:    summaries,
		Score:      record.Score,
		OccurredAt: time.Now().UTC(),
	})
}
