package jobhub

import (
	"context"
	"errors"
	"fmt"
)

var (
	// Store errors.
	ErrNoStore         = errors.New("jobhub: no store configured")
	ErrStoreClosed     = errors.New("jobhub: store closed")
	ErrMigrationFailed = errors.New("jobhub: migration failed")

	// Lookup errors.
	ErrNotFound = errors.New("jobhub: not found")

	// Race errors. A Conflict is always safe to resolve by re-reading state.
	ErrConflict = errors.New("jobhub: state conflict")

	// Caller errors.
	ErrValidation   = errors.New("jobhub: validation failed")
	ErrNotReady     = errors.New("jobhub: not ready")
	ErrRateLimited  = errors.New("jobhub: rate limited")
	ErrUnauthorized = errors.New("jobhub: unauthorized")

	// Lifecycle errors.
	ErrInvalidTransition = errors.New("jobhub: invalid state transition")
	ErrNotRunning        = errors.New("jobhub: hub not running")

	// Execution causes.
	ErrJobTimeout      = errors.New("jobhub: job timed out")
	ErrCancelRequested = errors.New("jobhub: cancel requested")
	ErrShutdown        = errors.New("jobhub: shutting down")

	// Unexpected failures. Captured into a job's error, never fatal.
	ErrInternal = errors.New("jobhub: internal error")
)

// ValidationError describes a rejected job spec field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "jobhub: invalid spec: " + e.Reason
	}
	return fmt.Sprintf("jobhub: invalid spec: %s: %s", e.Field, e.Reason)
}

// Unwrap makes errors.Is(err, ErrValidation) hold.
func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid builds a ValidationError for field.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Kind is the error classification handed to transport adapters.
type Kind string

const (
	KindNone         Kind = ""
	KindValidation   Kind = "validation"
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindNotReady     Kind = "not_ready"
	KindRateLimited  Kind = "rate_limited"
	KindUnauthorized Kind = "unauthorized"
	KindCancelled    Kind = "cancelled"
	KindInternal     Kind = "internal"
)

// Classify maps err onto the error taxonomy. Unknown errors are Internal.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrNotReady):
		return KindNotReady
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrCancelRequested), errors.Is(err, context.Canceled):
		return KindCancelled
	default:
		return KindInternal
	}
}
