package model

import "time"

// TargetState tracks a discovery target through its lifecycle.
type TargetState string

const (
	StateIdle       TargetState = "idle"
	StateFetching   TargetState = "fetching"
	StateExtracting TargetState = "extracting"
	StateScored     TargetState = "scored"
	StateDone       TargetState = "done"
	StateFailed     TargetState = "failed"
)

// CanTransition reports whether moving from s to next is a legal step.
// Failed is terminal and reachable only from fetching or extracting; a
// failed target is retried on the next explicit request, never silently.
func (s TargetState) CanTransition(next TargetState) bool {
	switch s {
	case StateIdle:
		return next == StateFetching
	case StateFetching:
		return next == StateExtracting || next == StateFailed
	case StateExtracting:
		return next == StateScored || next == StateDone || next == StateFailed
	case StateScored:
		return next == StateDone
	}
	return false
}

// RecordSource says whether a discovery was served from cache or a live fetch.
type RecordSource string

const (
	SourceCache RecordSource = "cache"
	SourceFresh RecordSource = "fresh"
)

// Target identifies what to discover: a domain or a person, scoped to a tenant.
type Target struct {
	OrganizationID string   `json:"organization_id"`
	URL            string   `json:"url"`
	Platform       Platform `json:"platform"`
}

// DiscoveredRecord is the normalized result of one discover call. Absence of
// data is always distinguishable from failure: Err is set on failure and the
// record fields are zero, never both empty and errorless.
type DiscoveredRecord struct {
	Target    Target            `json:"target"`
	Source    RecordSource      `json:"source"`
	State     TargetState       `json:"state"`
	CaptureID string            `json:"capture_id,omitempty"`
	Signals   []ExtractedSignal `json:"signals,omitempty"`
	Score     *LeadScore        `json:"score,omitempty"`
	Err       string            `json:"error,omitempty"`
	Elapsed   time.Duration     `json:"elapsed"`
}
