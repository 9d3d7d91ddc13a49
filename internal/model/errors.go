package model

import "fmt"

// FetchErrorKind classifies fetch failures.
type FetchErrorKind string

const (
	FetchTimeout        FetchErrorKind = "timeout"
	FetchNavigation     FetchErrorKind = "navigation"
	FetchBlocked        FetchErrorKind = "blocked"
	FetchProxyExhausted FetchErrorKind = "proxy_exhausted"
)

// FetchError is a typed failure from the fetcher: network, navigation, or
// anti-bot block. The orchestrator decides whether to retry or abandon.
type FetchError struct {
	Kind FetchErrorKind
	URL  string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ExtractionError is a typed failure from the extractor: model call failure
// or output schema validation failure.
type ExtractionError struct {
	Stage string // "model" or "schema"
	Err   error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract: %s: %v", e.Stage, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// StoreError is a typed failure from the content store backend.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// ConfigError marks a malformed rule or pattern detected at load time.
// A single bad entry is skipped and logged, never fatal to the batch.
type ConfigError struct {
	Entry string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %v", e.Entry, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }
