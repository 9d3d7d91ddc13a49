// Package fetch drives content retrieval for discovery targets: a stealth
// headless-browser fetcher with proxy rotation for guarded sites and a plain
// HTTP fetcher for everything else. Fetch strategies are pluggable so
// adversarial sources (professional networks) can ship their own.
package fetch

import (
	"context"
	"time"

	"github.com/leadore/distill/internal/model"
)

// Options tunes a single fetch.
type Options struct {
	// Timeout bounds navigation plus settle time. Zero means 30s.
	Timeout time.Duration

	// SettleDelay is the post-load wait for late-rendering content.
	// Jitter is applied on top; zero means 1s.
	SettleDelay time.Duration
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.SettleDelay <= 0 {
		o.SettleDelay = time.Second
	}
	return o
}

// Result is the raw material handed to the content store and extractor.
type Result struct {
	URL         string
	StatusCode  int
	RawHTML     string
	CleanedText string
	Meta        model.CaptureMeta
	Regions     []Region
	Elapsed     time.Duration
	Fetcher     string
}

// Fetcher fetches a single URL and returns its content. Implementations
// surface failures as *model.FetchError, never unstructured errors.
type Fetcher interface {
	Fetch(ctx context.Context, url string, opts Options) (*Result, error)
	Name() string
	Supports(url string) bool
}

func fetchErr(kind model.FetchErrorKind, url string, err error) *model.FetchError {
	return &model.FetchError{Kind: kind, URL: url, Err: err}
}
