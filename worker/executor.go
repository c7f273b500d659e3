package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/JadKHaddad-ORG/JobHub"
	"github.com/JadKHaddad-ORG/JobHub/id"
	"github.com/JadKHaddad-ORG/JobHub/job"
	"github.com/JadKHaddad-ORG/JobHub/runner"
	"github.com/JadKHaddad-ORG/JobHub/stream"
)

// execution is one occupied slot. Its context exists from the moment the
// job is popped so an interrupt can never be missed.
type execution struct {
	jobID  id.JobID
	ctx    context.Context
	cancel context.CancelCauseFunc
}

func newExecution(jobID id.JobID) *execution {
	ctx, cancel := context.WithCancelCause(context.Background())
	return &execution{jobID: jobID, ctx: ctx, cancel: cancel}
}

// outcome is what the unit of work returned.
type outcome struct {
	res *runner.Result
	err error
}

// execute claims the job and runs it. A job that is no longer Queued (it
// was cancelled while waiting) is skipped without running anything.
func (c *Coordinator) execute(x *execution) {
	defer c.wg.Done()
	defer c.release(x)

	ctx := context.Background()
	j, err := c.rec.Transition(ctx, x.jobID, job.StateQueued, job.StateRunning, job.Patch{})
	if err != nil {
		if errors.Is(err, jobhub.ErrConflict) || errors.Is(err, jobhub.ErrNotFound) {
			c.logger.Debug("skipping job no longer queued",
				slog.String("job_id", x.jobID.String()),
				slog.String("reason", err.Error()),
			)
			return
		}
		c.logger.Error("failed to start job",
			slog.String("job_id", x.jobID.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	runCtx, cancel := x.ctx, context.CancelFunc(func() {})
	if timeout := c.timeoutOf(j); timeout > 0 {
		runCtx, cancel = context.WithTimeoutCause(x.ctx, timeout, jobhub.ErrJobTimeout)
	}
	defer cancel()

	out, forced := c.run(runCtx, j)
	c.finish(ctx, j, out, forced, context.Cause(runCtx))
}

// run executes the unit in its own goroutine. Once ctx ends the unit has
// the grace period to return; after that it is abandoned and forced is
// true.
func (c *Coordinator) run(ctx context.Context, j *job.Job) (out outcome, forced bool) {
	x := &runner.Execution{
		Job:    j.Clone(),
		Logger: c.logger.With(slog.String("job_id", j.ID.String())),
	}
	if c.output != nil {
		x.Output = func(s stream.IOStream, data []byte) {
			c.output(&stream.OutputChunk{JobID: j.ID, Owner: j.Owner, Stream: s, Data: data})
		}
	}

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("%w: panic outside handler chain: %v", jobhub.ErrInternal, r)}
			}
		}()
		var res *runner.Result
		err := c.mw(ctx, x.Job, func(ctx context.Context) error {
			var err error
			res, err = c.runner.Run(ctx, x)
			return err
		})
		done <- outcome{res: res, err: err}
	}()

	select {
	case out = <-done:
		return out, false
	case <-ctx.Done():
	}

	grace := time.NewTimer(c.grace)
	defer grace.Stop()
	select {
	case out = <-done:
		return out, false
	case <-grace.C:
		c.logger.Warn("job did not stop within grace period, abandoning",
			slog.String("job_id", j.ID.String()),
			slog.Duration("grace", c.grace),
		)
		return outcome{err: context.Cause(ctx)}, true
	}
}

// finish applies the terminal transition for a finished execution.
func (c *Coordinator) finish(ctx context.Context, j *job.Job, out outcome, forced bool, cause error) {
	var (
		next  job.State
		patch job.Patch
	)
	switch {
	case out.err == nil && !forced:
		// A unit that returned nil succeeded even if a cancel raced it.
		next = job.StateSucceeded
		if out.res != nil {
			patch.Outputs = out.res.Outputs
		}
	case errors.Is(cause, jobhub.ErrCancelRequested):
		next = job.StateCancelled
	case errors.Is(cause, jobhub.ErrJobTimeout):
		next = job.StateFailed
		patch.Error = &job.Failure{
			Kind:    job.FailureTimeout,
			Message: fmt.Sprintf("job exceeded its timeout of %s", c.timeoutOf(j)),
		}
	case errors.Is(cause, jobhub.ErrShutdown):
		next = job.StateFailed
		patch.Error = &job.Failure{Kind: job.FailureInterrupted, Message: "hub shut down while the job was running"}
	default:
		next = job.StateFailed
		patch.Error = Classify(j, out.err)
		if retryable(j, out.err, patch.Error) {
			patch.RetriedBy = c.scheduleRetry(ctx, j)
		}
	}

	if _, err := c.rec.Transition(ctx, j.ID, job.StateRunning, next, patch); err != nil {
		c.logger.Error("failed to record job outcome",
			slog.String("job_id", j.ID.String()),
			slog.String("state", string(next)),
			slog.String("error", err.Error()),
		)
	}
}

func (c *Coordinator) timeoutOf(j *job.Job) time.Duration {
	if t := j.Spec.Timeout.Std(); t > 0 {
		return t
	}
	return c.defaultTimeout
}

// scheduleRetry creates the successor record for a failed attempt and
// queues it after the backoff delay. It returns the successor's id, or the
// nil id when no retry was created.
func (c *Coordinator) scheduleRetry(ctx context.Context, j *job.Job) id.JobID {
	nextID := id.NewJobID()
	successor := &job.Job{
		ID:        nextID,
		Owner:     j.Owner,
		Spec:      j.Spec.Clone(),
		State:     job.StateQueued,
		Attempt:   j.Attempt + 1,
		RetryOf:   j.ID,
		Workdir:   c.workdir(nextID),
		CreatedAt: time.Now().UTC(),
	}
	if err := c.rec.Create(ctx, successor); err != nil {
		c.logger.Error("failed to create retry",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return id.JobID{}
	}

	delay := c.backoff.Delay(successor.Attempt)
	c.logger.Info("job scheduled for retry",
		slog.String("job_id", j.ID.String()),
		slog.String("retry_id", nextID.String()),
		slog.Int("attempt", successor.Attempt),
		slog.Int("max_attempts", j.Spec.MaxAttempts),
		slog.Duration("delay", delay),
	)
	c.enqueueAfter(successor, delay)
	return nextID
}

// Classify converts a unit's error into the failure recorded on the job.
func Classify(j *job.Job, err error) *job.Failure {
	if err == nil {
		err = errors.New("unknown failure")
	}
	f := &job.Failure{Message: err.Error()}

	var exitErr *runner.ExitError
	switch {
	case errors.As(err, &exitErr):
		code := exitErr.Code
		f.Kind = job.FailureExit
		f.ExitCode = &code
	case errors.Is(err, jobhub.ErrInternal):
		f.Kind = job.FailureInternal
	case len(j.Spec.Command) > 0:
		f.Kind = job.FailureExit
	default:
		f.Kind = job.FailureHandler
	}
	return f
}

// retryable reports whether a failed attempt earns a successor.
func retryable(j *job.Job, err error, f *job.Failure) bool {
	if j.Attempt+1 >= j.Spec.MaxAttempts {
		return false
	}
	switch {
	case f.Kind == job.FailureInternal, runner.IsRetryable(err):
		return true
	case f.ExitCode != nil:
		return slices.Contains(j.Spec.RetryExitCodes, *f.ExitCode)
	default:
		return false
	}
}
