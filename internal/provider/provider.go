package provider

import (
	"context"
	"errors"
	"fmt"
)

// Common provider errors. A provider error always fails the task it was
// serving; there is no automatic retry.
var (
	// ErrNotConfigured is returned when no usable provider configuration
	// can be resolved for a call (missing credentials, no active config).
	ErrNotConfigured = errors.New("provider is not configured")

	// ErrDisabled is returned when the task names a provider configuration
	// that exists but has been deactivated.
	ErrDisabled = errors.New("provider configuration is disabled")

	// ErrNoResult is returned when a provider call reports success but
	// yields no usable output.
	ErrNoResult = errors.New("provider returned no usable result")
)

// APIError carries a vendor-side failure with enough context to surface in
// the task's error text.
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

// Error implements the error interface for APIError.
func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s API error (HTTP %d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s API error: %s", e.Provider, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// Progress is one progress report from a provider call. Overall is the
// call's own 0-100 scale; the pipeline maps it into the task's absolute
// progress band.
type Progress struct {
	Stage        string
	Overall      float64
	PartIndex    int
	TotalParts   int
	StageCurrent int
	StageTotal   int

	// JobID carries the vendor's job identifier once known, so it can be
	// recorded on the task row for later cleanup.
	JobID string
}

// ProgressFunc receives progress reports during a provider call. Providers
// call it from the goroutine running Execute; implementations must not
// block for long.
type ProgressFunc func(Progress)

// Settings is the resolved configuration for one provider call: the stored
// provider configuration merged with per-task overrides, task fields
// winning.
type Settings struct {
	Engine  string
	Model   string
	Threads int

	// Extra holds provider-specific keys (api_token, endpoint, ...).
	Extra map[string]any
}

// ExtraString returns the named Extra value as a trimmed string, or ""
// when absent or not a string.
func (s Settings) ExtraString(key string) string {
	v, ok := s.Extra[key]
	if !ok {
		return ""
	}
	str, ok := v.(string)
	if !ok {
		return ""
	}
	return str
}

// Request describes one unit of provider work. Exactly one of Document,
// Content, or DocumentURL is set, depending on the workflow stage.
type Request struct {
	// Document is the raw input for document-level translation.
	Document []byte

	// Content is text input for content-level translation.
	Content string

	// DocumentURL is a short-lived retrieval URL handed to vendors that
	// fetch the input themselves.
	DocumentURL string

	SourceLang string
	TargetLang string
	Settings   Settings
}

// Result is the outcome of a successful provider call.
type Result struct {
	// Outputs maps variant names (mono, dual, glossary) to result bytes.
	Outputs map[string][]byte

	// Content is text output for content-level calls.
	Content string

	// Archive is the optional bundle of auxiliary artifacts.
	Archive []byte

	// JobID is the vendor's job identifier, when the vendor exposes one.
	JobID string
}

// Provider is the uniform capability contract the pipeline executes
// against. Implementations must honor ctx cancellation at every network
// boundary and report progress through onProgress.
type Provider interface {
	Execute(ctx context.Context, req Request, onProgress ProgressFunc) (*Result, error)
}

// Registry holds the providers backing each workflow stage.
type Registry struct {
	Translator Provider
	Extractor  Provider
}
