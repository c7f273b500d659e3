package job

import (
	"fmt"
	"io/fs"
	"slices"
	"time"

	"github.com/JadKHaddad-ORG/JobHub"
	"github.com/JadKHaddad-ORG/JobHub/id"
)

// State represents the lifecycle state of a job.
type State string

const (
	// StateQueued means the job waits for a free execution slot.
	StateQueued State = "queued"
	// StateRunning means an execution unit is working on the job.
	StateRunning State = "running"
	// StateSucceeded means the job finished normally.
	StateSucceeded State = "succeeded"
	// StateFailed means the job errored or timed out.
	StateFailed State = "failed"
	// StateCancelled means the job was cancelled before or during execution.
	StateCancelled State = "cancelled"
)

// edges is the complete lifecycle graph.
var edges = map[State][]State{
	StateQueued:  {StateRunning, StateCancelled},
	StateRunning: {StateSucceeded, StateFailed, StateCancelled},
}

// CanTransition reports whether from → to is a lifecycle edge.
func CanTransition(from, to State) bool {
	return slices.Contains(edges[from], to)
}

// Terminal reports whether s has no outgoing edges.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateQueued, StateRunning, StateSucceeded, StateFailed, StateCancelled:
		return true
	}
	return false
}

// ParseState parses a state name.
func ParseState(s string) (State, error) {
	st := State(s)
	if !st.Valid() {
		return "", jobhub.Invalid("state", "unknown state %q", s)
	}
	return st, nil
}

// FailureKind classifies why a job failed.
type FailureKind string

const (
	FailureTimeout     FailureKind = "timeout"
	FailureExit        FailureKind = "exit"
	FailureHandler     FailureKind = "handler"
	FailureInternal    FailureKind = "internal"
	FailureInterrupted FailureKind = "interrupted"
)

// Failure is the error recorded on entry into Failed.
type Failure struct {
	Kind     FailureKind `json:"kind"`
	Message  string      `json:"message"`
	ExitCode *int        `json:"exit_code,omitempty"`
}

func (f *Failure) Error() string {
	if f.ExitCode != nil {
		return fmt.Sprintf("%s: %s (exit %d)", f.Kind, f.Message, *f.ExitCode)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// OutputRef describes one harvested output file, relative to the job workdir.
type OutputRef struct {
	Path    string      `json:"path"`
	Size    int64       `json:"size"`
	Mode    fs.FileMode `json:"mode"`
	ModTime time.Time   `json:"mod_time"`
	Digest  string      `json:"digest"`
}

// Job represents one unit of submitted work.
type Job struct {
	ID         id.JobID    `json:"id"`
	Owner      string      `json:"owner,omitempty"`
	Spec       Spec        `json:"spec"`
	State      State       `json:"state"`
	Attempt    int         `json:"attempt"`
	RetryOf    id.JobID    `json:"retry_of"`
	RetriedBy  id.JobID    `json:"retried_by"`
	Workdir    string      `json:"workdir"`
	CreatedAt  time.Time   `json:"created_at"`
	StartedAt  *time.Time  `json:"started_at,omitempty"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
	OutputRefs []OutputRef `json:"output_refs,omitempty"`
	Error      *Failure    `json:"error,omitempty"`
}

// Clone returns a deep copy so callers never share mutable state with a
// store.
func (j *Job) Clone() *Job {
	cp := *j
	cp.Spec = j.Spec.Clone()
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		cp.FinishedAt = &t
	}
	cp.OutputRefs = slices.Clone(j.OutputRefs)
	if j.Error != nil {
		f := *j.Error
		if f.ExitCode != nil {
			c := *f.ExitCode
			f.ExitCode = &c
		}
		cp.Error = &f
	}
	return &cp
}

// Patch is the payload applied alongside a state transition.
type Patch struct {
	// At is the transition time. It fills the timestamp owned by the
	// target state.
	At time.Time

	// Outputs is only allowed on entry into Succeeded.
	Outputs []OutputRef

	// Error is required on entry into Failed and forbidden elsewhere.
	Error *Failure

	// RetriedBy links a failed attempt to its successor.
	RetriedBy id.JobID
}

// CheckTransition validates an edge and its payload without touching a
// record.
func CheckTransition(from, to State, p Patch) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", jobhub.ErrInvalidTransition, from, to)
	}
	if len(p.Outputs) > 0 && to != StateSucceeded {
		return fmt.Errorf("%w: outputs on %s", jobhub.ErrInvalidTransition, to)
	}
	if (p.Error != nil) != (to == StateFailed) {
		return fmt.Errorf("%w: error payload does not match %s", jobhub.ErrInvalidTransition, to)
	}
	if !p.RetriedBy.IsNil() && to != StateFailed {
		return fmt.Errorf("%w: retry link on %s", jobhub.ErrInvalidTransition, to)
	}
	return nil
}

// Apply moves j from its current state to next and lands the patch. The
// caller is responsible for the expected-state comparison. Timestamps that
// are already set are never rewritten.
func Apply(j *Job, next State, p Patch) error {
	if err := CheckTransition(j.State, next, p); err != nil {
		return err
	}
	at := p.At.UTC()
	if at.IsZero() {
		at = time.Now().UTC()
	}

	j.State = next
	switch next {
	case StateRunning:
		if j.StartedAt == nil {
			j.StartedAt = &at
		}
	case StateSucceeded:
		j.OutputRefs = slices.Clone(p.Outputs)
	case StateFailed:
		f := *p.Error
		j.Error = &f
		j.RetriedBy = p.RetriedBy
	}
	if next.Terminal() && j.FinishedAt == nil {
		j.FinishedAt = &at
	}
	return nil
}
