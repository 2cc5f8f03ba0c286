package core

import "fmt"

// ValidationError wraps malformed caller input (empty query, negative
// limit, non-UTF-8 content). Surfaced to the caller unchanged.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// NotConfiguredError reports a requested capability (model, provider)
// absent from configuration. Not retried.
type NotConfiguredError struct {
	Capability string
}

func (e *NotConfiguredError) Error() string {
	return fmt.Sprintf("not configured: %s", e.Capability)
}

// TransientExternalError wraps a retryable failure from a provider, the
// store, or the vector index (network error, 5xx, 429, timeout).
type TransientExternalError struct {
	Component string
	Retryable bool
	Status    int
	Cause     error
}

func (e *TransientExternalError) Error() string {
	return fmt.Sprintf("transient error in %s (status=%d retryable=%v): %v", e.Component, e.Status, e.Retryable, e.Cause)
}

func (e *TransientExternalError) Unwrap() error { return e.Cause }

// DegradedResult is not an error returned to callers as a failure — it
// annotates a successful-but-reduced-quality outcome. Components surface
// it by appending to a warnings list rather than by returning it as err.
type DegradedResult struct {
	Reason string
}

func (e *DegradedResult) Error() string {
	return fmt.Sprintf("degraded: %s", e.Reason)
}

// FatalError marks an invariant violation (dimensionality mismatch,
// corrupted row). The owning component flips health to down until reinit.
type FatalError struct {
	Component string
	Cause     error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal in %s: %v", e.Component, e.Cause)
}

func (e *FatalError) Unwrap() error { return e.Cause }

// AllProvidersFailedError carries the last cause after every (model,
// provider) pair in a fallback chain has been exhausted.
type AllProvidersFailedError struct {
	Operation string
	LastCause error
}

func (e *AllProvidersFailedError) Error() string {
	return fmt.Sprintf("all providers failed for %s: %v", e.Operation, e.LastCause)
}

func (e *AllProvidersFailedError) Unwrap() error { return e.LastCause }

// ModelNotConfiguredError reports that no provider in the gateway's table
// serves the requested model name.
type ModelNotConfiguredError struct {
	Model string
}

func (e *ModelNotConfiguredError) Error() string {
	return fmt.Sprintf("model not configured: %s", e.Model)
}
