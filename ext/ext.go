// Package ext defines the extension system for JobHub.
//
// Extensions are notified of lifecycle events and can react to them,
// recording metrics, writing audit logs, sending notifications. Each
// lifecycle hook is a separate interface so extensions opt in only to the
// events they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	func (e *MyExtension) OnJobSucceeded(ctx context.Context, j *job.Job, elapsed time.Duration) error {
//	    log.Printf("job %s succeeded in %s", j.ID, elapsed)
//	    return nil
//	}
//
// # Hooks
//
//   - [Transition]: every committed event, including submissions
//   - [JobSubmitted]: the job was accepted as Queued
//   - [JobStarted]: an execution slot picked the job up
//   - [JobSucceeded]: the job finished normally
//   - [JobFailed]: the job failed, with or without a retry
//   - [JobRetrying]: the failed job was succeeded by a new attempt
//   - [JobCancelled]: the job was cancelled
//   - [Shutdown]: the hub is shutting down
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface.
package ext

import (
	"context"
	"time"

	"github.com/JadKHaddad-ORG/JobHub/event"
	"github.com/JadKHaddad-ORG/JobHub/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// Transition is called for every committed event.
type Transition interface {
	OnTransition(ctx context.Context, j *job.Job, e *event.Event) error
}

// JobSubmitted is called after a job is created.
type JobSubmitted interface {
	OnJobSubmitted(ctx context.Context, j *job.Job) error
}

// JobStarted is called when a job moves to Running.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobSucceeded is called when a job reaches Succeeded.
type JobSucceeded interface {
	OnJobSucceeded(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobFailed is called when a job reaches Failed.
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, failure *job.Failure) error
}

// JobRetrying is called when a failed job has a successor attempt.
type JobRetrying interface {
	OnJobRetrying(ctx context.Context, j *job.Job, attempt int) error
}

// JobCancelled is called when a job reaches Cancelled.
type JobCancelled interface {
	OnJobCancelled(ctx context.Context, j *job.Job) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
