package runner_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/JadKHaddad-ORG/JobHub"
	"github.com/JadKHaddad-ORG/JobHub/id"
	"github.com/JadKHaddad-ORG/JobHub/job"
	"github.com/JadKHaddad-ORG/JobHub/runner"
	"github.com/JadKHaddad-ORG/JobHub/stream"
)

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("process tests need a POSIX shell")
	}
}

func newJob(t *testing.T, spec job.Spec) *job.Job {
	t.Helper()
	return &job.Job{
		ID:      id.NewJobID(),
		Spec:    spec,
		State:   job.StateRunning,
		Workdir: filepath.Join(t.TempDir(), "work"),
	}
}

// collector records output chunks.
type collector struct {
	mu     sync.Mutex
	chunks map[stream.IOStream][]byte
}

func (c *collector) out(s stream.IOStream, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.chunks == nil {
		c.chunks = make(map[stream.IOStream][]byte)
	}
	c.chunks[s] = append(c.chunks[s], data...)
}

func (c *collector) get(s stream.IOStream) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return string(c.chunks[s])
}

func sha(s string) string {
	sum := sha256.Sum256([]byte(s))
	return "sha256:" + hex.EncodeToString(sum[:])
}

func TestMuxProcessSuccess(t *testing.T) {
	t.Parallel()
	requireShell(t)

	j := newJob(t, job.Spec{
		Command: []string{"sh", "-c", "echo hello; echo oops >&2; mkdir -p out; printf abc > out/a.txt; printf x > b.txt"},
		Outputs: []string{"out", "b.txt", "*.txt"},
	})
	var c collector
	res, err := runner.NewMux(nil, nil).Run(context.Background(), &runner.Execution{Job: j, Output: c.out})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(res.Outputs) != 2 {
		t.Fatalf("outputs = %+v, want 2 refs", res.Outputs)
	}
	if res.Outputs[0].Path != "b.txt" || res.Outputs[1].Path != "out/a.txt" {
		t.Errorf("paths = %s, %s", res.Outputs[0].Path, res.Outputs[1].Path)
	}
	a := res.Outputs[1]
	if a.Size != 3 || a.Digest != sha("abc") {
		t.Errorf("out/a.txt ref = %+v", a)
	}
	if a.ModTime.Nanosecond() != 0 || a.ModTime.Location() != time.UTC {
		t.Errorf("ModTime %v is not second-precision UTC", a.ModTime)
	}

	if got := c.get(stream.Stdout); got != "hello\n" {
		t.Errorf("stdout chunks = %q", got)
	}
	if got := c.get(stream.Stderr); got != "oops\n" {
		t.Errorf("stderr chunks = %q", got)
	}
	logged, err := os.ReadFile(runner.LogFile(j.Workdir, stream.Stdout))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if string(logged) != "hello\n" {
		t.Errorf("stdout log = %q", logged)
	}
}

func TestMuxProcessExitCode(t *testing.T) {
	t.Parallel()
	requireShell(t)

	j := newJob(t, job.Spec{Command: []string{"sh", "-c", "exit 3"}})
	_, err := runner.NewMux(nil, nil).Run(context.Background(), &runner.Execution{Job: j})

	var ee *runner.ExitError
	if !errors.As(err, &ee) {
		t.Fatalf("expected *ExitError, got %v", err)
	}
	if ee.Code != 3 {
		t.Errorf("Code = %d, want 3", ee.Code)
	}
}

func TestMuxProcessEnvAndInputs(t *testing.T) {
	t.Parallel()
	requireShell(t)

	j := newJob(t, job.Spec{
		Command: []string{"sh", "-c", `cat in/data.txt > out.txt; printf "%s|%s" "$GREETING" "$HOME" > env.txt`},
		Env:     map[string]string{"GREETING": "hi"},
		Inputs:  []job.Input{{Path: "in/data.txt", Content: []byte("42")}},
		Outputs: []string{"out.txt", "env.txt"},
	})
	if _, err := runner.NewMux(nil, nil).Run(context.Background(), &runner.Execution{Job: j}); err != nil {
		t.Fatalf("run: %v", err)
	}

	out, _ := os.ReadFile(filepath.Join(j.Workdir, "out.txt"))
	if string(out) != "42" {
		t.Errorf("out.txt = %q, want 42", out)
	}
	env, _ := os.ReadFile(filepath.Join(j.Workdir, "env.txt"))
	if string(env) != "hi|" {
		t.Errorf("env.txt = %q, want %q", env, "hi|")
	}
}

func TestMuxProcessCancel(t *testing.T) {
	t.Parallel()
	requireShell(t)

	j := newJob(t, job.Spec{Command: []string{"sleep", "30"}})
	mux := runner.NewMux(nil, runner.NewProcess(runner.WithWaitDelay(time.Second)))

	ctx, cancel := context.WithCancelCause(context.Background())
	time.AfterFunc(100*time.Millisecond, func() { cancel(jobhub.ErrCancelRequested) })

	start := time.Now()
	_, err := mux.Run(ctx, &runner.Execution{Job: j})
	if !errors.Is(err, jobhub.ErrCancelRequested) {
		t.Fatalf("expected ErrCancelRequested, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("cancel took %v", elapsed)
	}
}

func TestMuxHandler(t *testing.T) {
	t.Parallel()

	reg := runner.NewRegistry()
	runner.Register(reg, "write", func(_ context.Context, x *runner.Execution, p struct {
		Name string `json:"name"`
	}) error {
		fmt.Fprintf(x.Stdout, "writing %s\n", p.Name)
		return os.WriteFile(filepath.Join(x.Workdir(), p.Name), []byte("data"), 0o600)
	})

	j := newJob(t, job.Spec{
		Handler: "write",
		Params:  []byte(`{"name":"result.bin"}`),
		Outputs: []string{"*"},
	})
	var c collector
	res, err := runner.NewMux(reg, nil).Run(context.Background(), &runner.Execution{Job: j, Output: c.out})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	// "*" also matches the log directory, which is never harvested.
	if len(res.Outputs) != 1 || res.Outputs[0].Path != "result.bin" {
		t.Fatalf("outputs = %+v", res.Outputs)
	}
	if res.Outputs[0].Mode != 0o600 {
		t.Errorf("Mode = %v, want 0600", res.Outputs[0].Mode)
	}
	if got := c.get(stream.Stdout); got != "writing result.bin\n" {
		t.Errorf("stdout = %q", got)
	}
}

func TestMuxErrors(t *testing.T) {
	t.Parallel()

	reg := runner.NewRegistry()
	reg.Register("noop", func(context.Context, *runner.Execution, []byte) error { return nil })

	tests := []struct {
		name string
		spec job.Spec
		want string
	}{
		{
			name: "unknown handler",
			spec: job.Spec{Handler: "missing"},
			want: `no handler registered for "missing"`,
		},
		{
			name: "missing output",
			spec: job.Spec{Handler: "noop", Outputs: []string{"report.pdf"}},
			want: `declared output "report.pdf" matched no files`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := runner.NewMux(reg, nil).Run(context.Background(), &runner.Execution{Job: newJob(t, tt.spec)})
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error = %v, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestHarvestIsDeterministic(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for _, name := range []string{"z.txt", "a/b.txt", "a/c.txt"} {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(name), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	first, err := runner.Harvest(dir, []string{"z.txt", "a"})
	if err != nil {
		t.Fatalf("harvest: %v", err)
	}
	second, err := runner.Harvest(dir, []string{"a/*.txt", "a", "z.txt"})
	if err != nil {
		t.Fatalf("harvest: %v", err)
	}
	want := []string{"a/b.txt", "a/c.txt", "z.txt"}
	for _, refs := range [][]job.OutputRef{first, second} {
		if len(refs) != len(want) {
			t.Fatalf("refs = %+v", refs)
		}
		for i, ref := range refs {
			if ref.Path != want[i] {
				t.Errorf("refs[%d] = %s, want %s", i, ref.Path, want[i])
			}
			if ref.Digest != sha(want[i]) {
				t.Errorf("digest of %s = %s", ref.Path, ref.Digest)
			}
		}
	}
}
