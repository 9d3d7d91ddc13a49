package extract

import (
	"os"
	"regexp"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/leadore/distill/internal/model"
)

// RuleFile is one industry's detection configuration: signal rules plus the
// fluff patterns to strip before matching.
type RuleFile struct {
	Industry      string                      `yaml:"industry"`
	Rules         []model.HighValueSignalRule `yaml:"rules"`
	FluffPatterns []model.FluffPattern        `yaml:"fluff_patterns"`
}

// LoadRuleFile reads and validates a YAML rule file. Malformed entries are
// dropped and reported as ConfigErrors; only an unreadable or unparseable
// file is a hard error.
func LoadRuleFile(path string) (*RuleFile, []model.ConfigError, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "extract: read rule file %s", path)
	}
	return ParseRuleFile(raw)
}

// ParseRuleFile parses and validates rule file content.
func ParseRuleFile(raw []byte) (*RuleFile, []model.ConfigError, error) {
	var rf RuleFile
	if err := yaml.Unmarshal(raw, &rf); err != nil {
		return nil, nil, eris.Wrap(err, "extract: parse rule file")
	}

	var bad []model.ConfigError

	valid := make([]model.HighValueSignalRule, 0, len(rf.Rules))
	for _, r := range rf.Rules {
		if err := validateRule(r); err != nil {
			bad = append(bad, model.ConfigError{Entry: "rule " + r.ID, Err: err})
			zap.L().Warn("extract: dropping invalid rule",
				zap.String("rule_id", r.ID),
				zap.Error(err),
			)
			continue
		}
		valid = append(valid, r)
	}
	rf.Rules = valid

	patterns := make([]model.FluffPattern, 0, len(rf.FluffPatterns))
	for _, p := range rf.FluffPatterns {
		if _, err := regexp.Compile("(?i)" + p.Pattern); err != nil {
			bad = append(bad, model.ConfigError{Entry: "fluff_pattern " + p.ID, Err: err})
			continue
		}
		patterns = append(patterns, p)
	}
	rf.FluffPatterns = patterns

	return &rf, bad, nil
}

func validateRule(r model.HighValueSignalRule) error {
	if r.ID == "" {
		return eris.New("missing id")
	}
	if r.Label == "" {
		return eris.New("missing label")
	}
	if len(r.Keywords) == 0 && r.RegexPattern == "" {
		return eris.New("needs keywords or regex_pattern")
	}
	if r.RegexPattern != "" {
		if _, err := regexp.Compile("(?i)" + r.RegexPattern); err != nil {
			return eris.Wrap(err, "regex_pattern")
		}
	}
	if r.Platform != model.PlatformAny && !r.Platform.Valid() {
		return eris.Errorf("unknown platform %q", r.Platform)
	}
	if !r.Priority.Valid() {
		return eris.Errorf("unknown priority %q", r.Priority)
	}
	switch r.Action {
	case model.ActionScoreBoost, model.ActionTriggerWorkflow,
		model.ActionAddToSegment, model.ActionNotify, model.ActionFlagForReview:
	default:
		return eris.Errorf("unknown action %q", r.Action)
	}
	if r.ScoreBoost < 0 || r.ScoreBoost > 100 {
		return eris.Errorf("score_boost %d outside [0,100]", r.ScoreBoost)
	}
	return nil
}
