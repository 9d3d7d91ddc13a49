package leadscore

import (
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/leadore/distill/internal/model"
)

// ScoringFile is the scoring configuration: tier thresholds plus the
// declarative boost rules.
type ScoringFile struct {
	Thresholds model.TierThresholds `yaml:"thresholds"`
	Rules      []model.ScoringRule  `yaml:"rules"`
}

// LoadScoringFile reads and validates a YAML scoring file. Rules with
// malformed conditions are dropped and reported as ConfigErrors; only an
// unreadable or unparseable file is a hard error.
func LoadScoringFile(path string) (*ScoringFile, []model.ConfigError, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "leadscore: read scoring file %s", path)
	}
	return ParseScoringFile(raw)
}

// ParseScoringFile parses and validates scoring file content.
func ParseScoringFile(raw []byte) (*ScoringFile, []model.ConfigError, error) {
	var sf ScoringFile
	if err := yaml.Unmarshal(raw, &sf); err != nil {
		return nil, nil, eris.Wrap(err, "leadscore: parse scoring file")
	}

	var bad []model.ConfigError

	valid := make([]model.ScoringRule, 0, len(sf.Rules))
	for _, r := range sf.Rules {
		if err := validateScoringRule(r); err != nil {
			bad = append(bad, model.ConfigError{Entry: "scoring_rule " + r.ID, Err: err})
			zap.L().Warn("leadscore: dropping invalid scoring rule",
				zap.String("rule_id", r.ID),
				zap.Error(err),
			)
			continue
		}
		valid = append(valid, r)
	}
	sf.Rules = valid

	return &sf, bad, nil
}

// CheckCondition reports whether a condition parses. Evaluation against an
// empty signal set exercises every atom without needing real signals.
func CheckCondition(cond string) error {
	_, err := evalCondition(cond, nil)
	return err
}

func validateScoringRule(r model.ScoringRule) error {
	if r.ID == "" {
		return eris.New("missing id")
	}
	if err := CheckCondition(r.Condition); err != nil {
		return eris.Wrap(err, "condition")
	}
	if r.ScoreBoost < 0 || r.ScoreBoost > 100 {
		return eris.Errorf("score_boost %d outside [0,100]", r.ScoreBoost)
	}
	if r.Priority != "" && !r.Priority.Valid() {
		return eris.Errorf("unknown priority %q", r.Priority)
	}
	return nil
}
