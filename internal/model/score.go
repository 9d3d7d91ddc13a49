package model

import "time"

// Tier is a coarse lead-quality bucket derived from the numeric score.
type Tier string

const (
	TierHot    Tier = "hot"
	TierWarm   Tier = "warm"
	TierCold   Tier = "cold"
	TierAtRisk Tier = "at-risk"
)

// TierThresholds holds the inclusive lower bounds for each tier.
type TierThresholds struct {
	Hot  int `json:"hot" yaml:"hot"`
	Warm int `json:"warm" yaml:"warm"`
	Cold int `json:"cold" yaml:"cold"`
}

// DefaultTierThresholds returns hot>=75, warm>=50, cold>=30, at-risk below.
func DefaultTierThresholds() TierThresholds {
	return TierThresholds{Hot: 75, Warm: 50, Cold: 30}
}

// TierFor buckets a score.
func (t TierThresholds) TierFor(score int) Tier {
	switch {
	case score >= t.Hot:
		return TierHot
	case score >= t.Warm:
		return TierWarm
	case score >= t.Cold:
		return TierCold
	default:
		return TierAtRisk
	}
}

// ScoringRule adds a boost when its condition holds over the signal set.
// Conditions are declarative expressions, evaluated sandboxed; a malformed
// condition contributes 0 rather than failing the computation.
type ScoringRule struct {
	ID         string   `json:"id" yaml:"id"`
	Condition  string   `json:"condition" yaml:"condition"`
	ScoreBoost int      `json:"score_boost" yaml:"score_boost"`
	Priority   Priority `json:"priority" yaml:"priority"`
	Enabled    bool     `json:"enabled" yaml:"enabled"`
}

// ScoreFactor is one line of the human-readable score breakdown.
type ScoreFactor struct {
	Source string `json:"source"` // "signal" or "rule"
	ID     string `json:"id"`
	Label  string `json:"label"`
	Boost  int    `json:"boost"`
}

// LeadScore is the bounded aggregate of signal and rule boosts.
type LeadScore struct {
	TotalScore int           `json:"total_score"`
	Tier       Tier          `json:"tier"`
	Factors    []ScoreFactor `json:"factors"`
	ComputedAt time.Time     `json:"computed_at"`
}
