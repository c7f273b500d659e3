package job

import (
	"encoding/json"
	"fmt"
	"maps"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/JadKHaddad-ORG/JobHub"
)

// Spec is the immutable description of work. Exactly one of Command and
// Handler is set.
type Spec struct {
	// Command is the argv of an OS process, run without a shell.
	Command []string `json:"command,omitempty"`

	// Handler names an in-process handler registered with the runner.
	Handler string `json:"handler,omitempty"`

	// Params is the handler input.
	Params json.RawMessage `json:"params,omitempty"`

	// Env is added to the process environment.
	Env map[string]string `json:"env,omitempty"`

	// Inputs are written into the workdir before execution.
	Inputs []Input `json:"inputs,omitempty"`

	// Outputs are slash-separated glob patterns, relative to the workdir,
	// harvested on success. Matched directories are walked.
	Outputs []string `json:"outputs,omitempty"`

	// Timeout bounds one attempt. Zero means the hub default.
	Timeout Duration `json:"timeout,omitempty"`

	// MaxAttempts bounds retries. Zero and one both mean a single attempt.
	MaxAttempts int `json:"max_attempts,omitempty"`

	// RetryExitCodes lists process exit codes that are worth retrying.
	RetryExitCodes []int `json:"retry_exit_codes,omitempty"`

	// Priority orders the queue, higher first. Ties run in FIFO order.
	Priority int `json:"priority,omitempty"`
}

// Input is one file materialized into the workdir.
type Input struct {
	Path    string `json:"path"`
	Content []byte `json:"content"`
}

// Clone returns a deep copy of s.
func (s Spec) Clone() Spec {
	cp := s
	cp.Command = slices.Clone(s.Command)
	cp.Params = slices.Clone(s.Params)
	cp.Env = maps.Clone(s.Env)
	cp.Outputs = slices.Clone(s.Outputs)
	cp.RetryExitCodes = slices.Clone(s.RetryExitCodes)
	if s.Inputs != nil {
		cp.Inputs = make([]Input, len(s.Inputs))
		for i, in := range s.Inputs {
			cp.Inputs[i] = Input{Path: in.Path, Content: slices.Clone(in.Content)}
		}
	}
	return cp
}

// Unit names the work for logs and metrics: the handler name, or the
// command's program.
func (s Spec) Unit() string {
	if s.Handler != "" {
		return s.Handler
	}
	if len(s.Command) > 0 {
		return path.Base(s.Command[0])
	}
	return ""
}

// Limits bounds what a spec may request.
type Limits struct {
	MaxTimeout  time.Duration
	MaxAttempts int
	MaxPriority int
}

// Validate rejects malformed or disallowed specs. The returned error
// wraps jobhub.ErrValidation.
func (s Spec) Validate(l Limits) error {
	switch {
	case len(s.Command) == 0 && s.Handler == "":
		return jobhub.Invalid("command", "one of command or handler is required")
	case len(s.Command) > 0 && s.Handler != "":
		return jobhub.Invalid("handler", "command and handler are mutually exclusive")
	case len(s.Command) > 0 && strings.TrimSpace(s.Command[0]) == "":
		return jobhub.Invalid("command", "program must not be empty")
	case len(s.Params) > 0 && !json.Valid(s.Params):
		return jobhub.Invalid("params", "must be valid JSON")
	case s.Timeout < 0:
		return jobhub.Invalid("timeout", "must not be negative")
	case l.MaxTimeout > 0 && s.Timeout.Std() > l.MaxTimeout:
		return jobhub.Invalid("timeout", "%s exceeds limit %s", s.Timeout.Std(), l.MaxTimeout)
	case s.MaxAttempts < 0:
		return jobhub.Invalid("max_attempts", "must not be negative")
	case l.MaxAttempts > 0 && s.MaxAttempts > l.MaxAttempts:
		return jobhub.Invalid("max_attempts", "%d exceeds limit %d", s.MaxAttempts, l.MaxAttempts)
	case l.MaxPriority > 0 && (s.Priority > l.MaxPriority || s.Priority < -l.MaxPriority):
		return jobhub.Invalid("priority", "must be within ±%d", l.MaxPriority)
	}

	for k := range s.Env {
		if k == "" || strings.ContainsAny(k, "=\x00") {
			return jobhub.Invalid("env", "invalid variable name %q", k)
		}
	}

	seen := make(map[string]struct{}, len(s.Inputs))
	for i, in := range s.Inputs {
		clean, err := CleanRelative(in.Path)
		if err != nil {
			return jobhub.Invalid(fmt.Sprintf("inputs[%d].path", i), "%v", err)
		}
		if _, dup := seen[clean]; dup {
			return jobhub.Invalid(fmt.Sprintf("inputs[%d].path", i), "duplicate path %q", clean)
		}
		seen[clean] = struct{}{}
	}

	for i, pattern := range s.Outputs {
		if _, err := CleanRelative(pattern); err != nil {
			return jobhub.Invalid(fmt.Sprintf("outputs[%d]", i), "%v", err)
		}
		if _, err := path.Match(pattern, ""); err != nil {
			return jobhub.Invalid(fmt.Sprintf("outputs[%d]", i), "bad pattern: %v", err)
		}
	}
	return nil
}

// CleanRelative normalizes a slash-separated path and rejects anything
// that would escape the workdir.
func CleanRelative(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("path is empty")
	}
	if path.IsAbs(p) || filepath.IsAbs(p) || strings.Contains(p, `\`) {
		return "", fmt.Errorf("path %q must be relative", p)
	}
	clean := path.Clean(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("path %q escapes the workdir", p)
	}
	return clean, nil
}

// Duration is a time.Duration that encodes as a Go duration string
// ("1m30s") and also accepts integer seconds when decoding.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, perr := time.ParseDuration(s)
		if perr != nil {
			return fmt.Errorf("job: parse duration %q: %w", s, perr)
		}
		*d = Duration(parsed)
		return nil
	}
	var secs float64
	if err := json.Unmarshal(data, &secs); err != nil {
		return fmt.Errorf("job: duration must be a string or number of seconds")
	}
	*d = Duration(secs * float64(time.Second))
	return nil
}
