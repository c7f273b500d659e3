package runner

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/JadKHaddad-ORG/JobHub"
	"github.com/JadKHaddad-ORG/JobHub/stream"
)

// Mux runs command jobs with a Process and handler jobs from a Registry.
// Around either it prepares the workdir, captures output into LogDir, and
// harvests declared outputs once the unit returns nil.
type Mux struct {
	process  *Process
	handlers *Registry
}

// NewMux creates a Mux. A nil process uses NewProcess().
func NewMux(handlers *Registry, process *Process) *Mux {
	if handlers == nil {
		handlers = NewRegistry()
	}
	if process == nil {
		process = NewProcess()
	}
	return &Mux{process: process, handlers: handlers}
}

// Handlers returns the handler registry.
func (m *Mux) Handlers() *Registry { return m.handlers }

// Run implements Runner.
func (m *Mux) Run(ctx context.Context, x *Execution) (*Result, error) {
	spec := x.Job.Spec
	if err := Prepare(x.Workdir(), spec.Inputs); err != nil {
		return nil, fmt.Errorf("%w: prepare workdir: %v", jobhub.ErrInternal, err)
	}

	stdout, err := openLog(x.Workdir(), stream.Stdout)
	if err != nil {
		return nil, err
	}
	defer stdout.Close()
	stderr, err := openLog(x.Workdir(), stream.Stderr)
	if err != nil {
		return nil, err
	}
	defer stderr.Close()

	run := *x
	run.Stdout = tee(stdout, x.Output, stream.Stdout)
	run.Stderr = tee(stderr, x.Output, stream.Stderr)

	if len(spec.Command) > 0 {
		_, err = m.process.Run(ctx, &run)
	} else {
		h, ok := m.handlers.Get(spec.Handler)
		if !ok {
			return nil, fmt.Errorf("runner: no handler registered for %q", spec.Handler)
		}
		err = h(ctx, &run, spec.Params)
	}
	if err != nil {
		return nil, err
	}

	outputs, err := Harvest(x.Workdir(), spec.Outputs)
	if err != nil {
		return nil, fmt.Errorf("runner: harvest outputs: %w", err)
	}
	return &Result{Outputs: outputs}, nil
}

func openLog(workdir string, s stream.IOStream) (*os.File, error) {
	f, err := os.OpenFile(LogFile(workdir, s), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s log: %v", jobhub.ErrInternal, s, err)
	}
	return f, nil
}

func tee(f *os.File, out OutputFunc, s stream.IOStream) io.Writer {
	if out == nil {
		return f
	}
	return io.MultiWriter(f, chunkWriter{stream: s, out: out})
}
