package store

import (
	"context"
	"log/slog"

	"github.com/JadKHaddad-ORG/JobHub/event"
	"github.com/JadKHaddad-ORG/JobHub/id"
	"github.com/JadKHaddad-ORG/JobHub/job"
)

// Hooks observes committed mutations. ext.Registry satisfies it.
type Hooks interface {
	EmitTransition(ctx context.Context, j *job.Job, e *event.Event)
}

// Recorder is the write path shared by the hub and the worker coordinator.
// Every mutation goes through the store, and every committed event is
// handed to the sink and the hooks.
type Recorder struct {
	store  Store
	sink   event.Sink
	hooks  Hooks
	logger *slog.Logger
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithSink sets the destination for committed events.
func WithSink(s event.Sink) RecorderOption {
	return func(r *Recorder) { r.sink = s }
}

// WithHooks sets the mutation observers.
func WithHooks(h Hooks) RecorderOption {
	return func(r *Recorder) { r.hooks = h }
}

// WithRecorderLogger sets the logger.
func WithRecorderLogger(l *slog.Logger) RecorderOption {
	return func(r *Recorder) { r.logger = l }
}

// NewRecorder wraps s.
func NewRecorder(s Store, opts ...RecorderOption) *Recorder {
	r := &Recorder{store: s, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Store returns the underlying store.
func (r *Recorder) Store() Store { return r.store }

// Create inserts j and publishes its submission event.
func (r *Recorder) Create(ctx context.Context, j *job.Job) error {
	evt, err := r.store.CreateJob(ctx, j)
	if err != nil {
		return err
	}
	r.emit(ctx, j, evt)
	return nil
}

// Transition applies one compare-and-transition and publishes the event.
// Conflicts are returned unchanged so the caller can re-read and decide.
func (r *Recorder) Transition(ctx context.Context, jobID id.JobID, expected, next job.State, p job.Patch) (*job.Job, error) {
	j, evt, err := r.store.CompareAndTransition(ctx, jobID, expected, next, p)
	if err != nil {
		return nil, err
	}
	r.emit(ctx, j, evt)
	return j, nil
}

func (r *Recorder) emit(ctx context.Context, j *job.Job, evt *event.Event) {
	r.logger.Debug("job transition",
		slog.String("job_id", evt.JobID.String()),
		slog.String("from", string(evt.From)),
		slog.String("to", string(evt.To)),
		slog.Uint64("seq", evt.Seq),
	)
	if r.sink != nil {
		r.sink.Publish(evt)
	}
	if r.hooks != nil {
		r.hooks.EmitTransition(ctx, j, evt)
	}
}
