package middleware

import (
	"context"
	"errors"

	"github.com/JadKHaddad-ORG/JobHub"
	"github.com/JadKHaddad-ORG/JobHub/job"
)

// Handler runs one attempt of a job.
type Handler func(ctx context.Context) error

// Middleware observes or alters one attempt. It must call next unless it
// deliberately short-circuits.
type Middleware func(ctx context.Context, j *job.Job, next Handler) error

// Chain composes mws into one Middleware. The first element is the
// outermost wrapper, so Chain(a, b) runs a → b → handler.
func Chain(mws ...Middleware) Middleware {
	switch len(mws) {
	case 0:
		return func(ctx context.Context, _ *job.Job, next Handler) error { return next(ctx) }
	case 1:
		return mws[0]
	}
	outer, rest := mws[0], Chain(mws[1:]...)
	return func(ctx context.Context, j *job.Job, next Handler) error {
		return outer(ctx, j, func(ctx context.Context) error {
			return rest(ctx, j, next)
		})
	}
}

// Outcome labels how an attempt ended, using the cause the coordinator
// attached to the attempt's context.
type Outcome string

const (
	OutcomeOK          Outcome = "ok"
	OutcomeError       Outcome = "error"
	OutcomeTimeout     Outcome = "timeout"
	OutcomeCancelled   Outcome = "cancelled"
	OutcomeInterrupted Outcome = "interrupted"
)

// Classify returns the Outcome for an attempt that returned err.
func Classify(ctx context.Context, err error) Outcome {
	if err == nil {
		return OutcomeOK
	}
	if ctx.Err() == nil {
		return OutcomeError
	}
	switch cause := context.Cause(ctx); {
	case errors.Is(cause, jobhub.ErrJobTimeout):
		return OutcomeTimeout
	case errors.Is(cause, jobhub.ErrCancelRequested):
		return OutcomeCancelled
	default:
		return OutcomeInterrupted
	}
}
