package resilience

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/leadore/distill/internal/model"
)

// DLQEntry records a failed discovery target. Failed targets are never
// auto-retried; an operator inspects the queue and replays explicitly.
type DLQEntry struct {
	ID           string       `json:"id"`
	Target       model.Target `json:"target"`
	Error        string       `json:"error"`
	ErrorType    string       `json:"error_type"` // "transient" or "permanent"
	FailedState  string       `json:"failed_state,omitempty"`
	RetryCount   int          `json:"retry_count"`
	MaxRetries   int          `json:"max_retries"`
	CreatedAt    time.Time    `json:"created_at"`
	LastFailedAt time.Time    `json:"last_failed_at"`
}

// CanRetry reports whether the entry is still worth replaying.
func (e *DLQEntry) CanRetry() bool {
	return e.RetryCount < e.MaxRetries
}

// DLQFilter selects entries when reading the queue.
type DLQFilter struct {
	ErrorType string `json:"error_type,omitempty"` // "transient", "permanent", or "" for all
	Limit     int    `json:"limit,omitempty"`
}

// ClassifyError buckets an error for the queue.
func ClassifyError(err error) string {
	if IsTransient(err) {
		return "transient"
	}
	return "permanent"
}

// defaultDLQCap bounds queue memory; the oldest entry is evicted first.
const defaultDLQCap = 1000

// DLQ is an in-memory dead letter queue keyed by tenant+URL. Repeat failures
// of the same target collapse into one entry with a bumped retry count.
type DLQ struct {
	mu      sync.Mutex
	cap     int
	entries []DLQEntry
	now     func() time.Time
}

// NewDLQ creates a queue holding at most capacity entries (<=0 means the
// default cap).
func NewDLQ(capacity int) *DLQ {
	if capacity <= 0 {
		capacity = defaultDLQCap
	}
	return &DLQ{cap: capacity, now: time.Now}
}

// Record adds or refreshes the entry for a failed target.
func (q *DLQ) Record(target model.Target, failedState string, err error) DLQEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now().UTC()
	for i := range q.entries {
		e := &q.entries[i]
		if e.Target.OrganizationID == target.OrganizationID && e.Target.URL == target.URL {
			e.RetryCount++
			e.Error = err.Error()
			e.ErrorType = ClassifyError(err)
			e.FailedState = failedState
			e.LastFailedAt = now
			return *e
		}
	}

	entry := DLQEntry{
		ID:           uuid.NewString(),
		Target:       target,
		Error:        err.Error(),
		ErrorType:    ClassifyError(err),
		FailedState:  failedState,
		MaxRetries:   3,
		CreatedAt:    now,
		LastFailedAt: now,
	}
	if len(q.entries) >= q.cap {
		q.entries = q.entries[1:]
	}
	q.entries = append(q.entries, entry)
	return entry
}

// Entries returns matching entries, newest failure last.
func (q *DLQ) Entries(f DLQFilter) []DLQEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]DLQEntry, 0, len(q.entries))
	for _, e := range q.entries {
		if f.ErrorType != "" && e.ErrorType != f.ErrorType {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out
}

// Remove drops an entry after an operator replays or discards it.
func (q *DLQ) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.entries {
		if q.entries[i].ID == id {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Len reports the queue depth.
func (q *DLQ) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
