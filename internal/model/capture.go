package model

import "time"

// DefaultRetention is the raw-content retention window. ExpiresAt is always
// CreatedAt + retention; re-seeing the same content never extends it.
const DefaultRetention = 7 * 24 * time.Hour

// CaptureMeta holds lightweight page metadata extracted at fetch time.
type CaptureMeta struct {
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
}

// RawCapture is one fetch result for one target URL ("ore"). It is owned
// exclusively by the content store: created on cache miss, mutated on
// duplicate hit or verification, deleted by the expiry sweep.
type RawCapture struct {
	ID                 string      `json:"id"`
	OrganizationID     string      `json:"organization_id"`
	URL                string      `json:"url"`
	Platform           Platform    `json:"platform"`
	ContentHash        string      `json:"content_hash"`
	RawContent         string      `json:"raw_content"`
	CleanedText        string      `json:"cleaned_text"`
	Meta               CaptureMeta `json:"meta"`
	SizeBytes          int64       `json:"size_bytes"`
	SeenCount          int         `json:"seen_count"`
	Verified           bool        `json:"verified"`
	VerifiedAt         *time.Time  `json:"verified_at,omitempty"`
	FlaggedForDeletion bool        `json:"flagged_for_deletion"`
	CreatedAt          time.Time   `json:"created_at"`
	LastSeenAt         time.Time   `json:"last_seen_at"`
	ExpiresAt          time.Time   `json:"expires_at"`
}

// Expired reports whether the capture is past its retention window at now.
func (c *RawCapture) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// StorageCost summarizes raw-content storage for a tenant.
type StorageCost struct {
	OrganizationID      string  `json:"organization_id"`
	TotalRows           int     `json:"total_rows"`
	TotalBytes          int64   `json:"total_bytes"`
	EstimatedMonthlyUSD float64 `json:"estimated_monthly_usd"`

	// BaselineMonthlyUSD is the projected cost of keeping every capture
	// forever at the observed duplicate rate.
	BaselineMonthlyUSD float64 `json:"baseline_monthly_usd"`
	SavingsPercent     float64 `json:"savings_percent"`
}
