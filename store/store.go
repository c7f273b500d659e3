// Package store defines the aggregate persistence interface. The job
// table and the event log live behind one interface so every backend can
// append the event for a mutation atomically with the mutation itself.
// Backends: Memory, SQLite, Postgres, and Redis.
package store

import (
	"context"
	"time"

	"github.com/JadKHaddad-ORG/JobHub/event"
	"github.com/JadKHaddad-ORG/JobHub/id"
	"github.com/JadKHaddad-ORG/JobHub/job"
)

// JobStore is the persistence contract for job records.
type JobStore interface {
	// CreateJob inserts j in state Queued and appends its submission
	// event. It returns jobhub.ErrConflict if the ID already exists.
	CreateJob(ctx context.Context, j *job.Job) (*event.Event, error)

	// GetJob returns a copy of the job, or jobhub.ErrNotFound.
	GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error)

	// ListJobs returns a point-in-time snapshot ordered by creation.
	ListJobs(ctx context.Context, f job.Filter) ([]*job.Job, error)

	// CompareAndTransition is the sole mutation of an existing job. It
	// atomically checks that the stored state equals expected, applies
	// next with the patch, and appends one event. A mismatch returns
	// jobhub.ErrConflict without side effects.
	CompareAndTransition(ctx context.Context, jobID id.JobID, expected, next job.State, p job.Patch) (*job.Job, *event.Event, error)

	// DeleteJobs removes terminal jobs that finished before the cutoff.
	DeleteJobs(ctx context.Context, finishedBefore time.Time) (int, error)
}

// Store is the aggregate persistence interface.
type Store interface {
	JobStore
	event.Log

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
