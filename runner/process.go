package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"time"
)

// DefaultWaitDelay is how long a signalled process may take to exit
// before it is killed.
const DefaultWaitDelay = 10 * time.Second

// Process runs Spec.Command as an OS process in the job workdir, directly
// and without a shell. On cancellation the whole process group receives
// SIGTERM, then SIGKILL once the wait delay expires.
type Process struct {
	waitDelay  time.Duration
	inheritEnv bool
}

// ProcessOption configures a Process.
type ProcessOption func(*Process)

// WithWaitDelay sets the grace period between SIGTERM and SIGKILL.
func WithWaitDelay(d time.Duration) ProcessOption {
	return func(p *Process) { p.waitDelay = d }
}

// WithInheritEnv passes the hub's own environment to processes. By
// default only PATH is inherited.
func WithInheritEnv(inherit bool) ProcessOption {
	return func(p *Process) { p.inheritEnv = inherit }
}

// NewProcess creates a process runner.
func NewProcess(opts ...ProcessOption) *Process {
	p := &Process{waitDelay: DefaultWaitDelay}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run starts the command and waits for it. A non-zero exit is reported as
// *ExitError. If ctx ends first, the returned error wraps its cause.
func (p *Process) Run(ctx context.Context, x *Execution) (*Result, error) {
	argv := x.Job.Spec.Command
	if len(argv) == 0 {
		return nil, errors.New("runner: job has no command")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = x.Workdir()
	cmd.Env = p.environ(x)
	cmd.Stdout = x.Stdout
	cmd.Stderr = x.Stderr
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return terminateGroup(cmd) }
	cmd.WaitDelay = p.waitDelay

	err := cmd.Run()
	if ctx.Err() != nil {
		// The leader may be gone while the group lingers.
		killGroup(cmd)
		return nil, fmt.Errorf("runner: process stopped: %w", context.Cause(ctx))
	}
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			return nil, &ExitError{Code: ee.ExitCode(), Err: err}
		}
		return nil, fmt.Errorf("runner: start %q: %w", argv[0], err)
	}
	return &Result{}, nil
}

func (p *Process) environ(x *Execution) []string {
	var env []string
	if p.inheritEnv {
		env = os.Environ()
	} else if path, ok := os.LookupEnv("PATH"); ok {
		env = append(env, "PATH="+path)
	}
	env = append(env,
		"JOBHUB_JOB_ID="+x.Job.ID.String(),
		"JOBHUB_WORKDIR="+x.Workdir(),
		fmt.Sprintf("JOBHUB_ATTEMPT=%d", x.Job.Attempt),
	)

	keys := make([]string, 0, len(x.Job.Spec.Env))
	for k := range x.Job.Spec.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+x.Job.Spec.Env[k])
	}
	return env
}
