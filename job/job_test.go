package job_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/JadKHaddad-ORG/JobHub"
	"github.com/JadKHaddad-ORG/JobHub/id"
	"github.com/JadKHaddad-ORG/JobHub/job"
)

var allStates = []job.State{
	job.StateQueued, job.StateRunning, job.StateSucceeded, job.StateFailed, job.StateCancelled,
}

func TestCanTransition(t *testing.T) {
	t.Parallel()

	allowed := map[[2]job.State]bool{
		{job.StateQueued, job.StateRunning}:    true,
		{job.StateQueued, job.StateCancelled}:  true,
		{job.StateRunning, job.StateSucceeded}: true,
		{job.StateRunning, job.StateFailed}:    true,
		{job.StateRunning, job.StateCancelled}: true,
	}

	for _, from := range allStates {
		for _, to := range allStates {
			want := allowed[[2]job.State{from, to}]
			if got := job.CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestTerminalStatesHaveNoEdges(t *testing.T) {
	t.Parallel()
	for _, from := range allStates {
		if !from.Terminal() {
			continue
		}
		for _, to := range allStates {
			if job.CanTransition(from, to) {
				t.Errorf("terminal state %s has edge to %s", from, to)
			}
		}
	}
}

func TestApply_Timestamps(t *testing.T) {
	t.Parallel()

	j := &job.Job{ID: id.NewJobID(), State: job.StateQueued, CreatedAt: time.Now().UTC()}
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	if err := job.Apply(j, job.StateRunning, job.Patch{At: start}); err != nil {
		t.Fatalf("apply running: %v", err)
	}
	if j.StartedAt == nil || !j.StartedAt.Equal(start) {
		t.Fatalf("started_at = %v, want %v", j.StartedAt, start)
	}
	if j.FinishedAt != nil {
		t.Fatal("finished_at set before terminal state")
	}

	end := start.Add(time.Minute)
	refs := []job.OutputRef{{Path: "out.txt", Size: 3}}
	if err := job.Apply(j, job.StateSucceeded, job.Patch{At: end, Outputs: refs}); err != nil {
		t.Fatalf("apply succeeded: %v", err)
	}
	if !j.StartedAt.Equal(start) {
		t.Error("started_at was rewritten")
	}
	if j.FinishedAt == nil || !j.FinishedAt.Equal(end) {
		t.Errorf("finished_at = %v, want %v", j.FinishedAt, end)
	}
	if len(j.OutputRefs) != 1 || j.Error != nil {
		t.Errorf("unexpected payload: outputs=%v error=%v", j.OutputRefs, j.Error)
	}
}

func TestApply_RejectsBadPayloads(t *testing.T) {
	t.Parallel()

	fail := &job.Failure{Kind: job.FailureHandler, Message: "boom"}
	tests := []struct {
		name  string
		from  job.State
		to    job.State
		patch job.Patch
	}{
		{"skip running", job.StateQueued, job.StateSucceeded, job.Patch{}},
		{"revisit queued", job.StateRunning, job.StateQueued, job.Patch{}},
		{"leave terminal", job.StateCancelled, job.StateRunning, job.Patch{}},
		{"outputs on failure", job.StateRunning, job.StateFailed, job.Patch{Error: fail, Outputs: []job.OutputRef{{Path: "a"}}}},
		{"failure without error", job.StateRunning, job.StateFailed, job.Patch{}},
		{"error on success", job.StateRunning, job.StateSucceeded, job.Patch{Error: fail}},
		{"error on cancel", job.StateRunning, job.StateCancelled, job.Patch{Error: fail}},
		{"retry link on cancel", job.StateRunning, job.StateCancelled, job.Patch{RetriedBy: id.NewJobID()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := &job.Job{ID: id.NewJobID(), State: tt.from}
			err := job.Apply(j, tt.to, tt.patch)
			if !errors.Is(err, jobhub.ErrInvalidTransition) {
				t.Fatalf("expected ErrInvalidTransition, got %v", err)
			}
			if j.State != tt.from {
				t.Errorf("state changed to %s on rejected transition", j.State)
			}
		})
	}
}

func TestClone_IsDeep(t *testing.T) {
	t.Parallel()

	code := 3
	now := time.Now()
	j := &job.Job{
		ID:         id.NewJobID(),
		Spec:       job.Spec{Command: []string{"echo", "hi"}, Env: map[string]string{"A": "1"}},
		StartedAt:  &now,
		OutputRefs: []job.OutputRef{{Path: "x"}},
		Error:      &job.Failure{Kind: job.FailureExit, ExitCode: &code},
	}
	cp := j.Clone()
	cp.Spec.Command[0] = "rm"
	cp.Spec.Env["A"] = "2"
	*cp.StartedAt = now.Add(time.Hour)
	cp.OutputRefs[0].Path = "y"
	*cp.Error.ExitCode = 9

	if j.Spec.Command[0] != "echo" || j.Spec.Env["A"] != "1" || !j.StartedAt.Equal(now) ||
		j.OutputRefs[0].Path != "x" || *j.Error.ExitCode != 3 {
		t.Fatal("clone shares memory with the original")
	}
}

func TestSpecValidate(t *testing.T) {
	t.Parallel()

	limits := job.Limits{MaxTimeout: time.Hour, MaxAttempts: 3}
	tests := []struct {
		name  string
		spec  job.Spec
		field string
	}{
		{"empty", job.Spec{}, "command"},
		{"both", job.Spec{Command: []string{"ls"}, Handler: "h"}, "handler"},
		{"blank program", job.Spec{Command: []string{" "}}, "command"},
		{"bad params", job.Spec{Handler: "h", Params: json.RawMessage("{")}, "params"},
		{"negative timeout", job.Spec{Handler: "h", Timeout: -1}, "timeout"},
		{"timeout over limit", job.Spec{Handler: "h", Timeout: job.Duration(2 * time.Hour)}, "timeout"},
		{"attempts over limit", job.Spec{Handler: "h", MaxAttempts: 4}, "max_attempts"},
		{"absolute input", job.Spec{Handler: "h", Inputs: []job.Input{{Path: "/etc/passwd"}}}, "inputs[0].path"},
		{"escaping input", job.Spec{Handler: "h", Inputs: []job.Input{{Path: "a/../../b"}}}, "inputs[0].path"},
		{"duplicate input", job.Spec{Handler: "h", Inputs: []job.Input{{Path: "a"}, {Path: "./a"}}}, "inputs[1].path"},
		{"escaping output", job.Spec{Handler: "h", Outputs: []string{"../*"}}, "outputs[0]"},
		{"bad env", job.Spec{Handler: "h", Env: map[string]string{"A=B": "x"}}, "env"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate(limits)
			var verr *jobhub.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Field != tt.field {
				t.Errorf("field = %q, want %q", verr.Field, tt.field)
			}
			if !errors.Is(err, jobhub.ErrValidation) {
				t.Error("validation error does not wrap ErrValidation")
			}
		})
	}

	ok := job.Spec{
		Command: []string{"sh", "-c", "echo hi > out/a.txt"},
		Outputs: []string{"out/*.txt"},
		Inputs:  []job.Input{{Path: "in/data.csv", Content: []byte("a,b")}},
		Timeout: job.Duration(time.Minute),
	}
	if err := ok.Validate(limits); err != nil {
		t.Fatalf("valid spec rejected: %v", err)
	}
}

func TestDurationJSON(t *testing.T) {
	t.Parallel()

	var s job.Spec
	if err := json.Unmarshal([]byte(`{"handler":"h","timeout":"1m30s"}`), &s); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if s.Timeout.Std() != 90*time.Second {
		t.Errorf("timeout = %s", s.Timeout.Std())
	}
	if err := json.Unmarshal([]byte(`{"handler":"h","timeout":2}`), &s); err != nil {
		t.Fatalf("unmarshal seconds: %v", err)
	}
	if s.Timeout.Std() != 2*time.Second {
		t.Errorf("timeout = %s", s.Timeout.Std())
	}
	out, _ := json.Marshal(job.Duration(5 * time.Second))
	if string(out) != `"5s"` {
		t.Errorf("marshal = %s", out)
	}
}

func TestFilter(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	finished := base.Add(time.Minute)
	root := id.NewJobID()
	jobs := []*job.Job{
		{ID: id.NewJobID(), Owner: "a", State: job.StateQueued, CreatedAt: base.Add(2 * time.Second)},
		{ID: id.NewJobID(), Owner: "b", State: job.StateFailed, CreatedAt: base, FinishedAt: &finished},
		{ID: id.NewJobID(), Owner: "a", State: job.StateQueued, CreatedAt: base.Add(time.Second), RetryOf: root},
	}

	job.SortCreated(jobs)
	if jobs[0].Owner != "b" || !jobs[1].RetryOf.Equal(root) {
		t.Fatal("SortCreated did not order by created_at")
	}

	tests := []struct {
		name   string
		filter job.Filter
		want   int
	}{
		{"all", job.Filter{}, 3},
		{"owner", job.Filter{Owner: "a"}, 2},
		{"state", job.Filter{States: []job.State{job.StateFailed}}, 1},
		{"retry of", job.Filter{RetryOf: root}, 1},
		{"finished before", job.Filter{FinishedBefore: base.Add(time.Hour)}, 1},
		{"finished before too early", job.Filter{FinishedBefore: base}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := 0
			for _, j := range jobs {
				if tt.filter.Match(j) {
					n++
				}
			}
			if n != tt.want {
				t.Errorf("matched %d, want %d", n, tt.want)
			}
		})
	}

	if got := (job.Filter{Offset: 1, Limit: 1}).Page(jobs); len(got) != 1 || got[0] != jobs[1] {
		t.Errorf("page = %v", got)
	}
	if got := (job.Filter{Offset: 5}).Page(jobs); len(got) != 0 {
		t.Errorf("offset past end returned %d jobs", len(got))
	}
}
