package leadscore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadore/distill/internal/model"
)

func sig(id string, boost, confidence, occurrences int) model.ExtractedSignal {
	return model.ExtractedSignal{
		SignalID:    id,
		Label:       id,
		ScoreBoost:  boost,
		Confidence:  confidence,
		Occurrences: occurrences,
	}
}

func TestComputeSignalBoosts(t *testing.T) {
	e := NewEngine(model.TierThresholds{})
	score := e.Compute([]model.ExtractedSignal{
		sig("hiring", 20, 80, 2),
		sig("funding", 30, 95, 1),
	}, nil)

	assert.Equal(t, 50, score.TotalScore)
	assert.Equal(t, model.TierWarm, score.Tier)
	require.Len(t, score.Factors, 2)
	assert.Equal(t, "signal", score.Factors[0].Source)
}

func TestComputeRuleConditions(t *testing.T) {
	signals := []model.ExtractedSignal{
		sig("hiring", 10, 80, 3),
		sig("funding", 10, 95, 1),
	}
	rules := []model.ScoringRule{
		{ID: "both", Condition: "has(hiring) and has(funding)", ScoreBoost: 25, Enabled: true},
		{ID: "confident", Condition: "confidence(funding) >= 90", ScoreBoost: 10, Enabled: true},
		{ID: "absent", Condition: "has(churn-risk)", ScoreBoost: 40, Enabled: true},
		{ID: "disabled", Condition: "has(hiring)", ScoreBoost: 40, Enabled: false},
	}

	e := NewEngine(model.TierThresholds{})
	score := e.Compute(signals, rules)

	// 10+10 signals, +25 both, +10 confident.
	assert.Equal(t, 55, score.TotalScore)

	ids := make([]string, 0, len(score.Factors))
	for _, f := range score.Factors {
		ids = append(ids, f.ID)
	}
	assert.Equal(t, []string{"hiring", "funding", "both", "confident"}, ids)
}

func TestComputeScoreCapped(t *testing.T) {
	var signals []model.ExtractedSignal
	for i := 0; i < 10; i++ {
		signals = append(signals, sig("s", 30, 90, 1))
	}
	e := NewEngine(model.TierThresholds{})
	score := e.Compute(signals, nil)
	assert.Equal(t, 100, score.TotalScore)
	assert.Equal(t, model.TierHot, score.Tier)
}

func TestComputeNeverNegative(t *testing.T) {
	e := NewEngine(model.TierThresholds{})
	score := e.Compute([]model.ExtractedSignal{sig("penalty", -40, 50, 1)}, nil)
	assert.Equal(t, 0, score.TotalScore)
	assert.Equal(t, model.TierAtRisk, score.Tier)
}

func TestMalformedConditionFailsClosed(t *testing.T) {
	signals := []model.ExtractedSignal{sig("hiring", 0, 80, 1)}
	rules := []model.ScoringRule{
		{ID: "broken", Condition: "delete from leads; --", ScoreBoost: 50, Enabled: true},
		{ID: "ok", Condition: "has(hiring)", ScoreBoost: 15, Enabled: true},
	}

	e := NewEngine(model.TierThresholds{})
	score := e.Compute(signals, rules)

	// Broken rule contributes 0; the sibling still fires.
	assert.Equal(t, 15, score.TotalScore)
	require.Len(t, score.Factors, 1)
	assert.Equal(t, "ok", score.Factors[0].ID)
}

func TestCustomThresholds(t *testing.T) {
	e := NewEngine(model.TierThresholds{Hot: 90, Warm: 60, Cold: 40})
	score := e.Compute([]model.ExtractedSignal{sig("s", 60, 80, 1)}, nil)
	assert.Equal(t, model.TierWarm, score.Tier)
}

func TestEvalConditionAtoms(t *testing.T) {
	signals := []model.ExtractedSignal{
		sig("hiring", 10, 80, 3),
		sig("funding", 10, 95, 1),
	}

	tests := []struct {
		cond string
		want bool
	}{
		{"has(hiring)", true},
		{"has(nothing)", false},
		{"confidence(hiring) >= 80", true},
		{"confidence(hiring) > 80", false},
		{"confidence(nothing) > 0", false},
		{"occurrences(hiring) == 3", true},
		{"occurrences(hiring) != 3", false},
		{"signal_count >= 2", true},
		{"signal_count < 2", false},
		{"has(hiring) and confidence(funding) >= 90", true},
		{"has(nothing) or signal_count == 2", true},
		// "and" binds tighter than "or".
		{"has(hiring) or has(nothing) and has(nothing)", true},
	}
	for _, tt := range tests {
		t.Run(tt.cond, func(t *testing.T) {
			got, err := evalCondition(tt.cond, signals)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvalConditionRejectsUnknownForms(t *testing.T) {
	for _, cond := range []string{
		"",
		"os.exec(rm)",
		"confidence(hiring) ~= 80",
		"score + 10",
	} {
		_, err := evalCondition(cond, nil)
		assert.Error(t, err, cond)
	}
}
