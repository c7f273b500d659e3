// Package storetest is a conformance suite run against every store.Store
// backend.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/JadKHaddad-ORG/JobHub"
	"github.com/JadKHaddad-ORG/JobHub/id"
	"github.com/JadKHaddad-ORG/JobHub/job"
	"github.com/JadKHaddad-ORG/JobHub/store"
)

// Factory returns an empty, migrated store. It should register cleanup
// with t.
type Factory func(t *testing.T) store.Store

// Run executes the full suite. Each subtest gets a fresh store.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"CreateAndGet", testCreateAndGet},
		{"CreateDuplicate", testCreateDuplicate},
		{"GetMissing", testGetMissing},
		{"TransitionLifecycle", testTransitionLifecycle},
		{"TransitionConflict", testTransitionConflict},
		{"TransitionInvalid", testTransitionInvalid},
		{"TransitionMissing", testTransitionMissing},
		{"ConcurrentTransitions", testConcurrentTransitions},
		{"ListFilterAndOrder", testListFilterAndOrder},
		{"DeleteJobs", testDeleteJobs},
		{"EventLog", testEventLog},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

// NewJob builds a Queued job with a realistic spec.
func NewJob(owner string, created time.Time) *job.Job {
	return &job.Job{
		ID:    id.NewJobID(),
		Owner: owner,
		Spec: job.Spec{
			Command:     []string{"sh", "-c", "echo hi > out.txt"},
			Env:         map[string]string{"MODE": "test"},
			Params:      json.RawMessage(`{"n":1}`),
			Outputs:     []string{"out.txt"},
			Timeout:     job.Duration(time.Minute),
			MaxAttempts: 2,
		},
		State:     job.StateQueued,
		Workdir:   "/tmp/jobs/" + owner,
		CreatedAt: created.UTC().Truncate(time.Millisecond),
	}
}

func ctx() context.Context { return context.Background() }

func mustCreate(t *testing.T, s store.Store, j *job.Job) {
	t.Helper()
	if _, err := s.CreateJob(ctx(), j); err != nil {
		t.Fatalf("create job: %v", err)
	}
}

func mustTransition(t *testing.T, s store.Store, jobID id.JobID, from, to job.State, p job.Patch) *job.Job {
	t.Helper()
	j, evt, err := s.CompareAndTransition(ctx(), jobID, from, to, p)
	if err != nil {
		t.Fatalf("transition %s -> %s: %v", from, to, err)
	}
	if evt == nil || evt.From != from || evt.To != to || !evt.JobID.Equal(jobID) {
		t.Fatalf("unexpected event %+v", evt)
	}
	return j
}

func testCreateAndGet(t *testing.T, s store.Store) {
	j := NewJob("owner-1", time.Now())
	j.RetryOf = id.NewJobID()
	j.Attempt = 1

	evt, err := s.CreateJob(ctx(), j)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if evt.Seq == 0 || !evt.Submitted() || evt.To != job.StateQueued || evt.Owner != "owner-1" {
		t.Errorf("unexpected submission event %+v", evt)
	}

	got, err := s.GetJob(ctx(), j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != job.StateQueued || got.Owner != j.Owner || got.Workdir != j.Workdir {
		t.Errorf("unexpected job %+v", got)
	}
	if !got.CreatedAt.Equal(j.CreatedAt) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, j.CreatedAt)
	}
	if got.Attempt != 1 || !got.RetryOf.Equal(j.RetryOf) || !got.RetriedBy.IsNil() {
		t.Errorf("retry links lost: %+v", got)
	}
	if len(got.Spec.Command) != 3 || got.Spec.Env["MODE"] != "test" || got.Spec.Timeout != j.Spec.Timeout {
		t.Errorf("spec not preserved: %+v", got.Spec)
	}
	if got.StartedAt != nil || got.FinishedAt != nil || got.Error != nil || len(got.OutputRefs) != 0 {
		t.Errorf("fresh job carries terminal payload: %+v", got)
	}
}

func testCreateDuplicate(t *testing.T, s store.Store) {
	j := NewJob("o", time.Now())
	mustCreate(t, s, j)
	if _, err := s.CreateJob(ctx(), j); !errors.Is(err, jobhub.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func testGetMissing(t *testing.T, s store.Store) {
	if _, err := s.GetJob(ctx(), id.NewJobID()); !errors.Is(err, jobhub.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testTransitionLifecycle(t *testing.T, s store.Store) {
	j := NewJob("o", time.Now())
	mustCreate(t, s, j)

	started := time.Now().UTC().Truncate(time.Millisecond)
	running := mustTransition(t, s, j.ID, job.StateQueued, job.StateRunning, job.Patch{At: started})
	if running.State != job.StateRunning || running.StartedAt == nil || !running.StartedAt.Equal(started) {
		t.Fatalf("unexpected running job %+v", running)
	}

	code := 2
	retry := id.NewJobID()
	finished := started.Add(time.Second)
	failed := mustTransition(t, s, j.ID, job.StateRunning, job.StateFailed, job.Patch{
		At:        finished,
		Error:     &job.Failure{Kind: job.FailureExit, Message: "exit status 2", ExitCode: &code},
		RetriedBy: retry,
	})
	if failed.FinishedAt == nil || !failed.FinishedAt.Equal(finished) || !failed.StartedAt.Equal(started) {
		t.Errorf("timestamps wrong: %+v", failed)
	}

	got, err := s.GetJob(ctx(), j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != job.StateFailed || got.Error == nil || got.Error.Kind != job.FailureExit ||
		got.Error.ExitCode == nil || *got.Error.ExitCode != 2 || !got.RetriedBy.Equal(retry) {
		t.Errorf("failure payload not persisted: %+v", got)
	}
	if len(got.OutputRefs) != 0 {
		t.Error("failed job carries outputs")
	}

	k := NewJob("o", time.Now())
	mustCreate(t, s, k)
	mustTransition(t, s, k.ID, job.StateQueued, job.StateRunning, job.Patch{})
	refs := []job.OutputRef{
		{Path: "a.txt", Size: 1, Mode: 0o644, ModTime: started, Digest: "sha256:aa"},
		{Path: "b/c.txt", Size: 2, Mode: 0o600, ModTime: started, Digest: "sha256:bb"},
	}
	mustTransition(t, s, k.ID, job.StateRunning, job.StateSucceeded, job.Patch{Outputs: refs})
	got, err = s.GetJob(ctx(), k.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != job.StateSucceeded || got.Error != nil || len(got.OutputRefs) != 2 {
		t.Fatalf("unexpected succeeded job %+v", got)
	}
	if got.OutputRefs[1].Path != "b/c.txt" || got.OutputRefs[1].Mode != 0o600 || !got.OutputRefs[0].ModTime.Equal(started) {
		t.Errorf("output refs not preserved: %+v", got.OutputRefs)
	}
}

func testTransitionConflict(t *testing.T, s store.Store) {
	j := NewJob("o", time.Now())
	mustCreate(t, s, j)
	mustTransition(t, s, j.ID, job.StateQueued, job.StateCancelled, job.Patch{})

	before, err := s.LastSeq(ctx())
	if err != nil {
		t.Fatalf("last seq: %v", err)
	}
	_, evt, err := s.CompareAndTransition(ctx(), j.ID, job.StateQueued, job.StateRunning, job.Patch{})
	if !errors.Is(err, jobhub.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if evt != nil {
		t.Error("conflict returned an event")
	}
	after, _ := s.LastSeq(ctx())
	if after != before {
		t.Errorf("conflict appended an event: %d -> %d", before, after)
	}
	got, _ := s.GetJob(ctx(), j.ID)
	if got.State != job.StateCancelled || got.StartedAt != nil {
		t.Errorf("conflict mutated the job: %+v", got)
	}
}

func testTransitionInvalid(t *testing.T, s store.Store) {
	j := NewJob("o", time.Now())
	mustCreate(t, s, j)

	_, _, err := s.CompareAndTransition(ctx(), j.ID, job.StateQueued, job.StateSucceeded, job.Patch{})
	if !errors.Is(err, jobhub.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	_, _, err = s.CompareAndTransition(ctx(), j.ID, job.StateQueued, job.StateCancelled,
		job.Patch{Error: &job.Failure{Kind: job.FailureInternal}})
	if !errors.Is(err, jobhub.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for payload, got %v", err)
	}
	got, _ := s.GetJob(ctx(), j.ID)
	if got.State != job.StateQueued {
		t.Errorf("invalid transition mutated state to %s", got.State)
	}
}

func testTransitionMissing(t *testing.T, s store.Store) {
	_, _, err := s.CompareAndTransition(ctx(), id.NewJobID(), job.StateQueued, job.StateRunning, job.Patch{})
	if !errors.Is(err, jobhub.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testConcurrentTransitions(t *testing.T, s store.Store) {
	j := NewJob("o", time.Now())
	mustCreate(t, s, j)
	mustTransition(t, s, j.ID, job.StateQueued, job.StateRunning, job.Patch{})

	patches := []struct {
		to job.State
		p  job.Patch
	}{
		{job.StateSucceeded, job.Patch{Outputs: []job.OutputRef{{Path: "out.txt"}}}},
		{job.StateFailed, job.Patch{Error: &job.Failure{Kind: job.FailureHandler, Message: "x"}}},
		{job.StateCancelled, job.Patch{}},
	}

	const rounds = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins []job.State
	)
	for i := 0; i < rounds; i++ {
		for _, pt := range patches {
			wg.Add(1)
			go func(to job.State, p job.Patch) {
				defer wg.Done()
				_, _, err := s.CompareAndTransition(ctx(), j.ID, job.StateRunning, to, p)
				switch {
				case err == nil:
					mu.Lock()
					wins = append(wins, to)
					mu.Unlock()
				case !errors.Is(err, jobhub.ErrConflict):
					t.Errorf("unexpected error: %v", err)
				}
			}(pt.to, pt.p)
		}
	}
	wg.Wait()

	if len(wins) != 1 {
		t.Fatalf("expected exactly one winner, got %v", wins)
	}
	got, _ := s.GetJob(ctx(), j.ID)
	if got.State != wins[0] {
		t.Errorf("stored state %s, winner %s", got.State, wins[0])
	}
	if got.Error != nil && len(got.OutputRefs) > 0 {
		t.Error("both payloads populated")
	}

	events, err := s.Events(ctx(), 0, 0)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 3 {
		t.Errorf("expected 3 events (submit, start, finish), got %d", len(events))
	}
}

func testListFilterAndOrder(t *testing.T, s store.Store) {
	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Millisecond)
	a1 := NewJob("a", base)
	b1 := NewJob("b", base.Add(time.Second))
	a2 := NewJob("a", base.Add(2*time.Second))
	a2.RetryOf = a1.ID
	for _, j := range []*job.Job{a2, b1, a1} {
		mustCreate(t, s, j)
	}
	mustTransition(t, s, b1.ID, job.StateQueued, job.StateCancelled, job.Patch{At: base.Add(time.Minute)})

	all, err := s.ListJobs(ctx(), job.Filter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 || !all[0].ID.Equal(a1.ID) || !all[1].ID.Equal(b1.ID) || !all[2].ID.Equal(a2.ID) {
		t.Fatalf("list not ordered by creation: %v", ids(all))
	}

	tests := []struct {
		name   string
		filter job.Filter
		want   []id.JobID
	}{
		{"owner", job.Filter{Owner: "a"}, []id.JobID{a1.ID, a2.ID}},
		{"state", job.Filter{States: []job.State{job.StateCancelled}}, []id.JobID{b1.ID}},
		{"states", job.Filter{States: []job.State{job.StateQueued, job.StateRunning}}, []id.JobID{a1.ID, a2.ID}},
		{"retry of", job.Filter{RetryOf: a1.ID}, []id.JobID{a2.ID}},
		{"finished before", job.Filter{FinishedBefore: base.Add(time.Hour)}, []id.JobID{b1.ID}},
		{"limit", job.Filter{Limit: 2}, []id.JobID{a1.ID, b1.ID}},
		{"offset", job.Filter{Offset: 1, Limit: 1}, []id.JobID{b1.ID}},
		{"offset past end", job.Filter{Offset: 10}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListJobs(ctx(), tt.filter)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", ids(got), tt.want)
			}
			for i := range got {
				if !got[i].ID.Equal(tt.want[i]) {
					t.Errorf("position %d: got %s, want %s", i, got[i].ID, tt.want[i])
				}
			}
		})
	}
}

func testDeleteJobs(t *testing.T, s store.Store) {
	old := time.Now().UTC().Add(-time.Hour)
	done := NewJob("o", old)
	fresh := NewJob("o", old)
	queued := NewJob("o", old)
	for _, j := range []*job.Job{done, fresh, queued} {
		mustCreate(t, s, j)
	}
	mustTransition(t, s, done.ID, job.StateQueued, job.StateCancelled, job.Patch{At: old})
	mustTransition(t, s, fresh.ID, job.StateQueued, job.StateCancelled, job.Patch{At: time.Now().UTC()})

	n, err := s.DeleteJobs(ctx(), time.Now().UTC().Add(-30*time.Minute))
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n != 1 {
		t.Fatalf("deleted %d jobs, want 1", n)
	}
	if _, err := s.GetJob(ctx(), done.ID); !errors.Is(err, jobhub.ErrNotFound) {
		t.Errorf("expired job still present: %v", err)
	}
	for _, j := range []*job.Job{fresh, queued} {
		if _, err := s.GetJob(ctx(), j.ID); err != nil {
			t.Errorf("job %s removed too early: %v", j.ID, err)
		}
	}
}

func testEventLog(t *testing.T, s store.Store) {
	if last, err := s.LastSeq(ctx()); err != nil || last != 0 {
		t.Fatalf("empty log: last=%d err=%v", last, err)
	}

	j := NewJob("o", time.Now())
	mustCreate(t, s, j)
	mustTransition(t, s, j.ID, job.StateQueued, job.StateRunning, job.Patch{})
	mustTransition(t, s, j.ID, job.StateRunning, job.StateCancelled, job.Patch{})
	k := NewJob("o", time.Now())
	mustCreate(t, s, k)

	events, err := s.Events(ctx(), 0, 0)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(events))
	}
	for i, e := range events {
		if e.Seq != uint64(i+1) {
			t.Errorf("event %d has seq %d; sequence must be dense from 1", i, e.Seq)
		}
	}
	if events[1].From != job.StateQueued || events[1].To != job.StateRunning {
		t.Errorf("unexpected second event %+v", events[1])
	}
	if !events[3].JobID.Equal(k.ID) || !events[3].Submitted() {
		t.Errorf("unexpected last event %+v", events[3])
	}

	page, err := s.Events(ctx(), 1, 2)
	if err != nil {
		t.Fatalf("events page: %v", err)
	}
	if len(page) != 2 || page[0].Seq != 2 || page[1].Seq != 3 {
		t.Errorf("unexpected page %+v", page)
	}

	if last, _ := s.LastSeq(ctx()); last != 4 {
		t.Errorf("last seq = %d, want 4", last)
	}

	n, err := s.TrimEvents(ctx(), 3)
	if err != nil {
		t.Fatalf("trim: %v", err)
	}
	if n != 2 {
		t.Errorf("trimmed %d events, want 2", n)
	}
	rest, _ := s.Events(ctx(), 0, 0)
	if len(rest) != 2 || rest[0].Seq != 3 {
		t.Errorf("unexpected events after trim %+v", rest)
	}
	if last, _ := s.LastSeq(ctx()); last != 4 {
		t.Errorf("trim changed last seq to %d", last)
	}

	// Sequence numbers keep increasing after a trim.
	mustTransition(t, s, k.ID, job.StateQueued, job.StateCancelled, job.Patch{})
	if last, _ := s.LastSeq(ctx()); last != 5 {
		t.Errorf("last seq after trim = %d, want 5", last)
	}
}

func ids(jobs []*job.Job) []string {
	out := make([]string, len(jobs))
	for i, j := range jobs {
		out[i] = j.ID.String()
	}
	return out
}
