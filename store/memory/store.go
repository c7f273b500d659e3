// Package memory provides a fully in-memory store.Store. Safe for
// concurrent access. Jobs and events are lost when the process exits.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JadKHaddad-ORG/JobHub"
	"github.com/JadKHaddad-ORG/JobHub/event"
	"github.com/JadKHaddad-ORG/JobHub/id"
	"github.com/JadKHaddad-ORG/JobHub/job"
	"github.com/JadKHaddad-ORG/JobHub/store"
)

var _ store.Store = (*Store)(nil)

// Store keeps jobs in a map and events in an ascending slice. One mutex
// covers both so sequence assignment is linearizable with mutation.
type Store struct {
	mu sync.RWMutex

	jobs    map[string]*job.Job
	events  []*event.Event
	lastSeq uint64
	closed  bool
}

// New returns a new empty Store.
func New() *Store {
	return &Store{jobs: make(map[string]*job.Job)}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping fails only after Close.
func (m *Store) Ping(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return jobhub.ErrStoreClosed
	}
	return nil
}

// Close rejects further writes. Data stays readable.
func (m *Store) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// CreateJob inserts j in state Queued and appends its submission event.
func (m *Store) CreateJob(_ context.Context, j *job.Job) (*event.Event, error) {
	if j.State != "" && j.State != job.StateQueued {
		return nil, fmt.Errorf("%w: create in state %s", jobhub.ErrInvalidTransition, j.State)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, jobhub.ErrStoreClosed
	}
	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return nil, fmt.Errorf("%w: job %s already exists", jobhub.ErrConflict, key)
	}

	cp := j.Clone()
	cp.State = job.StateQueued
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	m.jobs[key] = cp
	return m.appendLocked(event.For(cp, "", cp.CreatedAt)), nil
}

// GetJob retrieves a copy of a job.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, jobhub.ErrNotFound
	}
	return j.Clone(), nil
}

// ListJobs returns copies of matching jobs ordered by creation.
func (m *Store) ListJobs(_ context.Context, f job.Filter) ([]*job.Job, error) {
	m.mu.RLock()
	result := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if f.Match(j) {
			result = append(result, j.Clone())
		}
	}
	m.mu.RUnlock()

	job.SortCreated(result)
	return f.Page(result), nil
}

// CompareAndTransition applies expected → next atomically.
func (m *Store) CompareAndTransition(_ context.Context, jobID id.JobID, expected, next job.State, p job.Patch) (*job.Job, *event.Event, error) {
	if err := job.CheckTransition(expected, next, p); err != nil {
		return nil, nil, err
	}
	if p.At.IsZero() {
		p.At = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, nil, jobhub.ErrStoreClosed
	}
	cur, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, nil, jobhub.ErrNotFound
	}
	if cur.State != expected {
		return nil, nil, fmt.Errorf("%w: job %s is %s, expected %s", jobhub.ErrConflict, jobID, cur.State, expected)
	}

	// Apply to a copy so a rejected patch leaves the record untouched.
	updated := cur.Clone()
	if err := job.Apply(updated, next, p); err != nil {
		return nil, nil, err
	}
	m.jobs[jobID.String()] = updated

	evt := m.appendLocked(event.For(updated, expected, p.At))
	return updated.Clone(), evt, nil
}

// DeleteJobs removes terminal jobs that finished before the cutoff.
func (m *Store) DeleteJobs(_ context.Context, finishedBefore time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f := job.Filter{FinishedBefore: finishedBefore}
	n := 0
	for key, j := range m.jobs {
		if j.State.Terminal() && f.Match(j) {
			delete(m.jobs, key)
			n++
		}
	}
	return n, nil
}

// ──────────────────────────────────────────────────
// Event Log
// ──────────────────────────────────────────────────

func (m *Store) appendLocked(evt *event.Event) *event.Event {
	m.lastSeq++
	evt.Seq = m.lastSeq
	m.events = append(m.events, evt)
	return evt.Clone()
}

// Events returns up to limit events with Seq > afterSeq.
func (m *Store) Events(_ context.Context, afterSeq uint64, limit int) ([]*event.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	start := sort.Search(len(m.events), func(i int) bool { return m.events[i].Seq > afterSeq })
	end := len(m.events)
	if limit > 0 && end-start > limit {
		end = start + limit
	}
	out := make([]*event.Event, 0, end-start)
	for _, e := range m.events[start:end] {
		out = append(out, e.Clone())
	}
	return out, nil
}

// LastSeq returns the highest assigned sequence number.
func (m *Store) LastSeq(_ context.Context) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastSeq, nil
}

// TrimEvents deletes events with Seq < beforeSeq.
func (m *Store) TrimEvents(_ context.Context, beforeSeq uint64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cut := sort.Search(len(m.events), func(i int) bool { return m.events[i].Seq >= beforeSeq })
	m.events = append([]*event.Event(nil), m.events[cut:]...)
	return cut, nil
}
