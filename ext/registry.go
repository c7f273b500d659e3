package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/JadKHaddad-ORG/JobHub/event"
	"github.com/JadKHaddad-ORG/JobHub/job"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time.
type transitionEntry struct {
	name string
	hook Transition
}

type jobSubmittedEntry struct {
	name string
	hook JobSubmitted
}

type jobStartedEntry struct {
	name string
	hook JobStarted
}

type jobSucceededEntry struct {
	name string
	hook JobSucceeded
}

type jobFailedEntry struct {
	name string
	hook JobFailed
}

type jobRetryingEntry struct {
	name string
	hook JobRetrying
}

type jobCancelledEntry struct {
	name string
	hook JobCancelled
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. Extensions must be registered before the hub starts.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	transition   []transitionEntry
	jobSubmitted []jobSubmittedEntry
	jobStarted   []jobStartedEntry
	jobSucceeded []jobSucceededEntry
	jobFailed    []jobFailedEntry
	jobRetrying  []jobRetryingEntry
	jobCancelled []jobCancelledEntry
	shutdown     []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension and caches it under every hook it
// implements. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(Transition); ok {
		r.transition = append(r.transition, transitionEntry{name, h})
	}
	if h, ok := e.(JobSubmitted); ok {
		r.jobSubmitted = append(r.jobSubmitted, jobSubmittedEntry{name, h})
	}
	if h, ok := e.(JobStarted); ok {
		r.jobStarted = append(r.jobStarted, jobStartedEntry{name, h})
	}
	if h, ok := e.(JobSucceeded); ok {
		r.jobSucceeded = append(r.jobSucceeded, jobSucceededEntry{name, h})
	}
	if h, ok := e.(JobFailed); ok {
		r.jobFailed = append(r.jobFailed, jobFailedEntry{name, h})
	}
	if h, ok := e.(JobRetrying); ok {
		r.jobRetrying = append(r.jobRetrying, jobRetryingEntry{name, h})
	}
	if h, ok := e.(JobCancelled); ok {
		r.jobCancelled = append(r.jobCancelled, jobCancelledEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// EmitTransition routes one committed event to the generic hook and to the
// hook owned by the event's target state.
func (r *Registry) EmitTransition(ctx context.Context, j *job.Job, e *event.Event) {
	for _, h := range r.transition {
		if err := h.hook.OnTransition(ctx, j, e); err != nil {
			r.logHookError("OnTransition", h.name, err)
		}
	}

	switch {
	case e.Submitted():
		r.emitJobSubmitted(ctx, j)
	case e.To == job.StateRunning:
		r.emitJobStarted(ctx, j)
	case e.To == job.StateSucceeded:
		r.emitJobSucceeded(ctx, j, elapsed(j))
	case e.To == job.StateFailed:
		r.emitJobFailed(ctx, j, j.Error)
		if !j.RetriedBy.IsNil() {
			r.emitJobRetrying(ctx, j, j.Attempt+1)
		}
	case e.To == job.StateCancelled:
		r.emitJobCancelled(ctx, j)
	}
}

func elapsed(j *job.Job) time.Duration {
	if j.StartedAt == nil || j.FinishedAt == nil {
		return 0
	}
	return j.FinishedAt.Sub(*j.StartedAt)
}

func (r *Registry) emitJobSubmitted(ctx context.Context, j *job.Job) {
	for _, e := range r.jobSubmitted {
		if err := e.hook.OnJobSubmitted(ctx, j); err != nil {
			r.logHookError("OnJobSubmitted", e.name, err)
		}
	}
}

func (r *Registry) emitJobStarted(ctx context.Context, j *job.Job) {
	for _, e := range r.jobStarted {
		if err := e.hook.OnJobStarted(ctx, j); err != nil {
			r.logHookError("OnJobStarted", e.name, err)
		}
	}
}

func (r *Registry) emitJobSucceeded(ctx context.Context, j *job.Job, d time.Duration) {
	for _, e := range r.jobSucceeded {
		if err := e.hook.OnJobSucceeded(ctx, j, d); err != nil {
			r.logHookError("OnJobSucceeded", e.name, err)
		}
	}
}

func (r *Registry) emitJobFailed(ctx context.Context, j *job.Job, f *job.Failure) {
	for _, e := range r.jobFailed {
		if err := e.hook.OnJobFailed(ctx, j, f); err != nil {
			r.logHookError("OnJobFailed", e.name, err)
		}
	}
}

func (r *Registry) emitJobRetrying(ctx context.Context, j *job.Job, attempt int) {
	for _, e := range r.jobRetrying {
		if err := e.hook.OnJobRetrying(ctx, j, attempt); err != nil {
			r.logHookError("OnJobRetrying", e.name, err)
		}
	}
}

func (r *Registry) emitJobCancelled(ctx context.Context, j *job.Job) {
	for _, e := range r.jobCancelled {
		if err := e.hook.OnJobCancelled(ctx, j); err != nil {
			r.logHookError("OnJobCancelled", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Hook errors are never propagated.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
