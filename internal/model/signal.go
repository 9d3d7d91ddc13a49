package model

import "time"

// MaxSourceTextLen bounds the excerpt carried by a permanent signal so the
// refined store's growth stays independent of scrape volume.
const MaxSourceTextLen = 500

// Priority ranks a signal rule's business value.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// RuleAction is what downstream consumers do when a rule fires.
type RuleAction string

const (
	ActionScoreBoost      RuleAction = "score-boost"
	ActionTriggerWorkflow RuleAction = "trigger-workflow"
	ActionAddToSegment    RuleAction = "add-to-segment"
	ActionNotify          RuleAction = "notify"
	ActionFlagForReview   RuleAction = "flag-for-review"
)

// HighValueSignalRule is a declarative, per-industry detection rule.
// Rule sets are data loaded at runtime, not code per industry.
type HighValueSignalRule struct {
	ID           string     `json:"id" yaml:"id"`
	Label        string     `json:"label" yaml:"label"`
	Keywords     []string   `json:"keywords" yaml:"keywords"`
	RegexPattern string     `json:"regex_pattern,omitempty" yaml:"regex_pattern,omitempty"`
	Platform     Platform   `json:"platform" yaml:"platform"`
	Priority     Priority   `json:"priority" yaml:"priority"`
	Action       RuleAction `json:"action" yaml:"action"`
	ScoreBoost   int        `json:"score_boost" yaml:"score_boost"`
}

// FluffContext scopes a fluff pattern to a page region.
type FluffContext string

const (
	FluffHeader  FluffContext = "header"
	FluffFooter  FluffContext = "footer"
	FluffSidebar FluffContext = "sidebar"
	FluffBody    FluffContext = "body"
	FluffAll     FluffContext = "all"
)

// FluffPattern describes boilerplate to strip before signal detection
// (copyright notices, cookie banners, navigation chrome).
type FluffPattern struct {
	ID      string       `json:"id" yaml:"id"`
	Pattern string       `json:"pattern" yaml:"pattern"`
	Context FluffContext `json:"context" yaml:"context"`
}

// ExtractedSignal is one detected fact ("refined output"). Signals are
// permanent; SourceCaptureID is an audit back-reference, not ownership,
// since the capture it points at may expire.
type ExtractedSignal struct {
	SignalID        string    `json:"signal_id"`
	Label           string    `json:"label"`
	SourceText      string    `json:"source_text"`
	Confidence      int       `json:"confidence"`
	Platform        Platform  `json:"platform"`
	ScoreBoost      int       `json:"score_boost"`
	PatternMatch    bool      `json:"pattern_match"`
	Occurrences     int       `json:"occurrences"`
	ExtractedAt     time.Time `json:"extracted_at"`
	SourceCaptureID string    `json:"source_capture_id"`
}

// BoundSourceText truncates the excerpt to MaxSourceTextLen.
func (s *ExtractedSignal) BoundSourceText() {
	if len(s.SourceText) > MaxSourceTextLen {
		s.SourceText = s.SourceText[:MaxSourceTextLen]
	}
}
