package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/JadKHaddad-ORG/JobHub"
	"github.com/JadKHaddad-ORG/JobHub/id"
	"github.com/JadKHaddad-ORG/JobHub/job"
)

// Submit validates spec, admits it against the owner's rate limit, stores
// it as Queued and hands it to the coordinator. Rejected specs never reach
// the store.
func (h *Hub) Submit(ctx context.Context, owner string, spec job.Spec) (*job.Job, error) {
	if err := h.admitting(); err != nil {
		return nil, err
	}
	if err := spec.Validate(job.Limits{
		MaxTimeout:  h.cfg.MaxTimeout,
		MaxAttempts: h.cfg.MaxAttempts,
		MaxPriority: h.cfg.MaxPriority,
	}); err != nil {
		return nil, err
	}
	if spec.Handler != "" && h.runner == nil && !h.handlers.Has(spec.Handler) {
		return nil, jobhub.Invalid("handler", "no handler registered as %q", spec.Handler)
	}
	if !h.limits.Allow(owner) {
		return nil, fmt.Errorf("%w: owner %q is submitting too fast", jobhub.ErrRateLimited, owner)
	}

	jobID := id.NewJobID()
	j := &job.Job{
		ID:        jobID,
		Owner:     owner,
		Spec:      spec.Clone(),
		State:     job.StateQueued,
		Workdir:   h.workdir(jobID),
		CreatedAt: time.Now().UTC(),
	}
	if err := h.rec.Create(ctx, j); err != nil {
		return nil, err
	}
	if err := h.coordinator.Enqueue(j); err != nil {
		// The record stays Queued; a durable store picks it up on restart.
		h.logger.Warn("submitted job not enqueued",
			slog.String("job_id", jobID.String()),
			slog.String("error", err.Error()),
		)
	}
	return j.Clone(), nil
}

// Get returns the job, or jobhub.ErrNotFound.
func (h *Hub) Get(ctx context.Context, owner string, jobID id.JobID) (*job.Job, error) {
	j, err := h.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if owner != "" && j.Owner != owner {
		return nil, fmt.Errorf("%w: job %s", jobhub.ErrNotFound, jobID)
	}
	return j, nil
}

// List returns the owner's jobs matching f, ordered by creation.
func (h *Hub) List(ctx context.Context, owner string, f job.Filter) ([]*job.Job, error) {
	if owner != "" {
		f.Owner = owner
	}
	return h.store.ListJobs(ctx, f)
}

// CancelOutcome is what a cancel request achieved.
type CancelOutcome string

const (
	// CancelDone means the job was Queued and is now Cancelled.
	CancelDone CancelOutcome = "cancelled"
	// CancelRequested means the job is Running and has been told to stop.
	// It reaches a terminal state within the grace period.
	CancelRequested CancelOutcome = "requested"
	// CancelAlreadyFinished means the job was already terminal.
	CancelAlreadyFinished CancelOutcome = "already_finished"
)

// CancelResult reports the outcome of Cancel and the job as last seen.
type CancelResult struct {
	Outcome CancelOutcome `json:"outcome"`
	Job     *job.Job      `json:"job"`
}

// Cancel stops a job. Races with the coordinator surface as conflicts,
// which are resolved by re-reading; states only move forward, so the loop
// ends.
func (h *Hub) Cancel(ctx context.Context, owner string, jobID id.JobID) (CancelResult, error) {
	for {
		j, err := h.Get(ctx, owner, jobID)
		if err != nil {
			return CancelResult{}, err
		}

		switch j.State {
		case job.StateQueued:
			h.coordinator.Dequeue(jobID)
			out, err := h.rec.Transition(ctx, jobID, job.StateQueued, job.StateCancelled, job.Patch{})
			if errors.Is(err, jobhub.ErrConflict) {
				continue
			}
			if err != nil {
				return CancelResult{}, err
			}
			return CancelResult{Outcome: CancelDone, Job: out}, nil

		case job.StateRunning:
			if h.coordinator.Interrupt(jobID) {
				// The execution may have finished between the read and the
				// interrupt; report what the store holds now.
				cur, err := h.Get(ctx, owner, jobID)
				if err != nil {
					return CancelResult{}, err
				}
				if cur.State.Terminal() {
					return CancelResult{Outcome: CancelAlreadyFinished, Job: cur}, nil
				}
				return CancelResult{Outcome: CancelRequested, Job: cur}, nil
			}
			// Running with no live execution: left over from a previous
			// process and not yet recovered.
			out, err := h.rec.Transition(ctx, jobID, job.StateRunning, job.StateCancelled, job.Patch{})
			if errors.Is(err, jobhub.ErrConflict) {
				continue
			}
			if err != nil {
				return CancelResult{}, err
			}
			return CancelResult{Outcome: CancelDone, Job: out}, nil

		default:
			return CancelResult{Outcome: CancelAlreadyFinished, Job: j}, nil
		}
	}
}

// recoverJobs fails jobs a previous process left Running and re-enqueues
// Queued jobs in creation order. Running it twice changes nothing.
func (h *Hub) recoverJobs(ctx context.Context) error {
	orphans, err := h.store.ListJobs(ctx, job.Filter{States: []job.State{job.StateRunning}})
	if err != nil {
		return fmt.Errorf("hub: list running jobs: %w", err)
	}
	for _, j := range orphans {
		_, err := h.rec.Transition(ctx, j.ID, job.StateRunning, job.StateFailed, job.Patch{
			Error: &job.Failure{
				Kind:    job.FailureInterrupted,
				Message: "hub restarted while the job was running",
			},
		})
		if err != nil && !errors.Is(err, jobhub.ErrConflict) {
			return fmt.Errorf("hub: fail orphaned job %s: %w", j.ID, err)
		}
	}

	queued, err := h.store.ListJobs(ctx, job.Filter{States: []job.State{job.StateQueued}})
	if err != nil {
		return fmt.Errorf("hub: list queued jobs: %w", err)
	}
	for _, j := range queued {
		if err := h.coordinator.Enqueue(j); err != nil {
			return err
		}
	}

	if len(orphans)+len(queued) > 0 {
		h.logger.Info("recovered jobs",
			slog.Int("interrupted", len(orphans)),
			slog.Int("requeued", len(queued)),
		)
	}
	return nil
}

// admitting reports why the hub cannot take new jobs, if it cannot. Start
// holds h.mu until the coordinator runs, so a nil result means queued jobs
// will be picked up.
func (h *Hub) admitting() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch {
	case h.stopped:
		return jobhub.ErrShutdown
	case !h.started:
		return jobhub.ErrNotRunning
	}
	return nil
}
