// Package leadscore aggregates extracted signals and declarative scoring
// rules into a bounded lead-quality score with a tier and a factors
// breakdown.
package leadscore

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/leadore/distill/internal/model"
)

// Engine computes lead scores. Zero-value thresholds fall back to defaults.
type Engine struct {
	thresholds model.TierThresholds
	now        func() time.Time
}

// NewEngine creates an Engine with the given tier thresholds.
func NewEngine(thresholds model.TierThresholds) *Engine {
	if thresholds == (model.TierThresholds{}) {
		thresholds = model.DefaultTierThresholds()
	}
	return &Engine{thresholds: thresholds, now: time.Now}
}

// Compute sums signal boosts plus the boosts of enabled rules whose
// conditions hold, caps the total to [0, 100], and classifies the tier.
// A rule whose condition fails to evaluate contributes 0 and never aborts
// the remaining rules.
func (e *Engine) Compute(signals []model.ExtractedSignal, rules []model.ScoringRule) model.LeadScore {
	total := 0
	var factors []model.ScoreFactor

	for _, s := range signals {
		if s.ScoreBoost == 0 {
			continue
		}
		total += s.ScoreBoost
		factors = append(factors, model.ScoreFactor{
			Source: "signal",
			ID:     s.SignalID,
			Label:  s.Label,
			Boost:  s.ScoreBoost,
		})
	}

	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		hold, err := evalCondition(r.Condition, signals)
		if err != nil {
			// Fail closed: a broken rule must not take scoring down.
			zap.L().Warn("leadscore: rule condition failed, contributing 0",
				zap.String("rule_id", r.ID),
				zap.Error(err),
			)
			continue
		}
		if !hold {
			continue
		}
		total += r.ScoreBoost
		factors = append(factors, model.ScoreFactor{
			Source: "rule",
			ID:     r.ID,
			Label:  fmt.Sprintf("rule %s", r.ID),
			Boost:  r.ScoreBoost,
		})
	}

	if total > 100 {
		total = 100
	}
	if total < 0 {
		total = 0
	}

	return model.LeadScore{
		TotalScore: total,
		Tier:       e.thresholds.TierFor(total),
		Factors:    factors,
		ComputedAt: e.now().UTC(),
	}
}
