// Package event defines the sequenced record appended for every job
// mutation, and the log interface that stores expose over those records.
package event

import (
	"context"
	"time"

	"github.com/JadKHaddad-ORG/JobHub/id"
	"github.com/JadKHaddad-ORG/JobHub/job"
)

// Event is an immutable record of one job state change. Seq is global,
// dense, and starts at 1. A submission is recorded with an empty From.
type Event struct {
	Seq     uint64    `json:"seq"`
	JobID   id.JobID  `json:"job_id"`
	Owner   string    `json:"owner,omitempty"`
	From    job.State `json:"from,omitempty"`
	To      job.State `json:"to"`
	Attempt int       `json:"attempt"`
	At      time.Time `json:"at"`
}

// For builds the unsequenced event describing j having just moved from
// from into its current state. Stores assign Seq.
func For(j *job.Job, from job.State, at time.Time) *Event {
	return &Event{
		JobID:   j.ID,
		Owner:   j.Owner,
		From:    from,
		To:      j.State,
		Attempt: j.Attempt,
		At:      at.UTC(),
	}
}

// Submitted reports whether e records a job's creation.
func (e *Event) Submitted() bool { return e.From == "" }

// Clone returns a copy of e.
func (e *Event) Clone() *Event {
	cp := *e
	return &cp
}

// Log is the read side of the append-only event log. Appends happen only
// inside store mutations.
type Log interface {
	// Events returns up to limit events with Seq > afterSeq, ascending.
	// A limit of zero means no limit.
	Events(ctx context.Context, afterSeq uint64, limit int) ([]*Event, error)

	// LastSeq returns the highest assigned sequence number, or 0.
	LastSeq(ctx context.Context) (uint64, error)

	// TrimEvents deletes events with Seq < beforeSeq and reports how many
	// were removed.
	TrimEvents(ctx context.Context, beforeSeq uint64) (int, error)
}

// Sink receives committed events.
type Sink interface {
	Publish(e *Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(e *Event)

// Publish calls f(e).
func (f SinkFunc) Publish(e *Event) { f(e) }
