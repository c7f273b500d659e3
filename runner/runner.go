// Package runner executes the unit of work behind a job.
//
// Two kinds of unit exist: an OS process described by Spec.Command, run by
// [Process], and an in-process handler named by Spec.Handler, looked up in
// a [Registry]. [Mux] prepares the job's workdir, picks the right one, and
// harvests declared outputs after a successful run.
//
// Runners observe cancellation through ctx. The cause of a cancelled
// context (see [context.Cause]) tells a timeout apart from a cancel request.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/JadKHaddad-ORG/JobHub/job"
	"github.com/JadKHaddad-ORG/JobHub/stream"
)

// Runner runs one job to completion.
type Runner interface {
	Run(ctx context.Context, exec *Execution) (*Result, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, exec *Execution) (*Result, error)

// Run calls f(ctx, exec).
func (f RunnerFunc) Run(ctx context.Context, exec *Execution) (*Result, error) {
	return f(ctx, exec)
}

// OutputFunc receives live output chunks. data is owned by the callee.
type OutputFunc func(s stream.IOStream, data []byte)

// Execution is the environment a unit of work runs in.
type Execution struct {
	// Job is a snapshot of the record taken when the job started running.
	Job *job.Job

	// Output, if set, receives process output as it is produced.
	Output OutputFunc

	// Stdout and Stderr are set by Mux before the unit runs. They tee
	// into the job's log files and Output.
	Stdout io.Writer
	Stderr io.Writer

	Logger *slog.Logger
}

// Workdir returns the job's working directory.
func (e *Execution) Workdir() string { return e.Job.Workdir }

// Result is what a successful run produced.
type Result struct {
	Outputs []job.OutputRef
}

// ExitError reports a process that exited with a non-zero status.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("process exited with status %d", e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

type retryableError struct{ err error }

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// Retryable marks err as transient. A job failing with it is retried
// while attempts remain.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

// IsRetryable reports whether err was marked with Retryable.
func IsRetryable(err error) bool {
	var r *retryableError
	return errors.As(err, &r)
}

// chunkWriter forwards writes to an OutputFunc.
type chunkWriter struct {
	stream stream.IOStream
	out    OutputFunc
}

func (w chunkWriter) Write(p []byte) (int, error) {
	if len(p) > 0 {
		w.out(w.stream, append([]byte(nil), p...))
	}
	return len(p), nil
}
