package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/leadore/distill/internal/discovery"
	"github.com/leadore/distill/internal/extract"
	"github.com/leadore/distill/internal/fetch"
	"github.com/leadore/distill/internal/leadscore"
	"github.com/leadore/distill/internal/model"
	"github.com/leadore/distill/internal/monitoring"
	"github.com/leadore/distill/internal/store"
	"github.com/leadore/distill/pkg/anthropic"
)

// env holds the wired pipeline for a command invocation.
type env struct {
	Store        store.Store
	Fetcher      fetch.Fetcher
	Service      *discovery.Service
	Collector    *monitoring.Collector
	Events       *discovery.EventBus
	ScoringRules []model.ScoringRule
}

// Close releases the store, browser session, and event bus.
func (e *env) Close() {
	if e.Events != nil {
		_ = e.Events.Close()
	}
	if closer, ok := e.Fetcher.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// openStore builds the configured content store backend and runs migrations.
func openStore(ctx context.Context) (store.Store, error) {
	opts := store.Options{
		Retention: time.Duration(cfg.Store.RetentionHours) * time.Hour,
		Rates:     store.CostRates{USDPerGBMonth: cfg.Store.USDPerGBMonth},
	}

	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil, opts)
	default:
		st, err = store.NewSQLite(cfg.Store.DatabaseURL, opts)
	}
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}

	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initDiscovery wires the full pipeline: store, fetcher, extractor, scorer,
// event bus, and orchestrator.
func initDiscovery(ctx context.Context) (*env, error) {
	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	var fetcher fetch.Fetcher
	switch cfg.Fetch.Strategy {
	case "http":
		fetcher = fetch.NewHTTPFetcher()
	default:
		fetcher = fetch.NewBrowserFetcher(fetch.BrowserConfig{
			Headless:    cfg.Fetch.Headless,
			Proxies:     cfg.Fetch.Proxies,
			RotateAfter: cfg.Fetch.ProxyRotateAfter,
		})
	}

	rules, dropped, err := extract.LoadRuleFile(cfg.Extract.RuleFile)
	if err != nil {
		st.Close()
		return nil, err
	}
	for _, d := range dropped {
		zap.L().Warn("invalid rule entry skipped", zap.String("entry", d.Entry), zap.Error(d.Err))
	}

	var llm anthropic.Client
	extractOpts := extract.Options{MaxPromptChars: cfg.Extract.MaxPromptChars}
	if cfg.Extract.Synthesis && cfg.Anthropic.Key != "" {
		llm = anthropic.NewClient(cfg.Anthropic.Key)
		extractOpts.Model = cfg.Anthropic.Model
	}
	extractor := extract.NewExtractor(llm, extractOpts)

	thresholds := model.TierThresholds{
		Hot:  cfg.Scoring.HotMin,
		Warm: cfg.Scoring.WarmMin,
		Cold: cfg.Scoring.ColdMin,
	}
	var scoringRules []model.ScoringRule
	if cfg.Scoring.RuleFile != "" {
		sf, droppedRules, err := leadscore.LoadScoringFile(cfg.Scoring.RuleFile)
		if err != nil {
			st.Close()
			return nil, err
		}
		for _, d := range droppedRules {
			zap.L().Warn("invalid scoring rule skipped", zap.String("entry", d.Entry), zap.Error(d.Err))
		}
		scoringRules = sf.Rules
		if sf.Thresholds.Hot > 0 {
			thresholds = sf.Thresholds
		}
	}
	scorer := leadscore.NewEngine(thresholds)

	events := discovery.NewEventBus()
	collector := monitoring.NewCollector(st)

	svc := discovery.NewService(discovery.Config{
		MaxSessions:  cfg.Discovery.MaxSessions,
		FetchTimeout: time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
		RateLimits: discovery.RateLimits{
			PerSecond: cfg.Discovery.RatePerSecond,
			Burst:     cfg.Discovery.RateBurst,
		},
	}, st, fetcher, extractor, rules, scorer, events).WithMetrics(collector)

	return &env{
		Store:        st,
		Fetcher:      fetcher,
		Service:      svc,
		Collector:    collector,
		Events:       events,
		ScoringRules: scoringRules,
	}, nil
}
