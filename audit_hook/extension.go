package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/JadKHaddad-ORG/JobHub/ext"
	"github.com/JadKHaddad-ORG/JobHub/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension    = (*Extension)(nil)
	_ ext.JobSubmitted = (*Extension)(nil)
	_ ext.JobStarted   = (*Extension)(nil)
	_ ext.JobSucceeded = (*Extension)(nil)
	_ ext.JobFailed    = (*Extension)(nil)
	_ ext.JobRetrying  = (*Extension)(nil)
	_ ext.JobCancelled = (*Extension)(nil)
	_ ext.Shutdown     = (*Extension)(nil)
)

// Recorder persists audit events.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one audit record.
type AuditEvent struct {
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	ResourceID string         `json:"resource_id,omitempty"`
	Owner      string         `json:"owner,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// NewLogRecorder writes audit events as structured log records under the
// "audit" message. Critical events log at error level, warnings at warn.
func NewLogRecorder(logger *slog.Logger) Recorder {
	return RecorderFunc(func(ctx context.Context, evt *AuditEvent) error {
		level := slog.LevelInfo
		switch evt.Severity {
		case SeverityWarning:
			level = slog.LevelWarn
		case SeverityCritical:
			level = slog.LevelError
		}
		attrs := []slog.Attr{
			slog.String("action", evt.Action),
			slog.String("resource", evt.Resource),
			slog.String("resource_id", evt.ResourceID),
			slog.String("outcome", evt.Outcome),
		}
		if evt.Owner != "" {
			attrs = append(attrs, slog.String("owner", evt.Owner))
		}
		if evt.Reason != "" {
			attrs = append(attrs, slog.String("reason", evt.Reason))
		}
		for k, v := range evt.Metadata {
			attrs = append(attrs, slog.Any(k, v))
		}
		logger.LogAttrs(ctx, level, "audit", attrs...)
		return nil
	})
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension bridges hub lifecycle events to an audit trail.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through r.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// OnJobSubmitted implements ext.JobSubmitted.
func (e *Extension) OnJobSubmitted(ctx context.Context, j *job.Job) error {
	return e.recordJob(ctx, ActionJobSubmitted, SeverityInfo, OutcomeSuccess, j, nil,
		"what", describe(j),
		"priority", j.Spec.Priority,
	)
}

// OnJobStarted implements ext.JobStarted.
func (e *Extension) OnJobStarted(ctx context.Context, j *job.Job) error {
	return e.recordJob(ctx, ActionJobStarted, SeverityInfo, OutcomeSuccess, j, nil,
		"attempt", j.Attempt,
		"workdir", j.Workdir,
	)
}

// OnJobSucceeded implements ext.JobSucceeded.
func (e *Extension) OnJobSucceeded(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	return e.recordJob(ctx, ActionJobSucceeded, SeverityInfo, OutcomeSuccess, j, nil,
		"attempt", j.Attempt,
		"elapsed_ms", elapsed.Milliseconds(),
		"outputs", len(j.OutputRefs),
	)
}

// OnJobFailed implements ext.JobFailed. A failure that was followed by a
// retry is a warning; a final one is critical.
func (e *Extension) OnJobFailed(ctx context.Context, j *job.Job, failure *job.Failure) error {
	severity := SeverityCritical
	if !j.RetriedBy.IsNil() {
		severity = SeverityWarning
	}
	var err error
	kv := []any{"attempt", j.Attempt}
	if failure != nil {
		err = failure
		kv = append(kv, "failure_kind", string(failure.Kind))
		if failure.ExitCode != nil {
			kv = append(kv, "exit_code", *failure.ExitCode)
		}
	}
	return e.recordJob(ctx, ActionJobFailed, severity, OutcomeFailure, j, err, kv...)
}

// OnJobRetrying implements ext.JobRetrying.
func (e *Extension) OnJobRetrying(ctx context.Context, j *job.Job, attempt int) error {
	return e.recordJob(ctx, ActionJobRetrying, SeverityWarning, OutcomeFailure, j, nil,
		"attempt", attempt,
		"retried_by", j.RetriedBy.String(),
	)
}

// OnJobCancelled implements ext.JobCancelled.
func (e *Extension) OnJobCancelled(ctx context.Context, j *job.Job) error {
	return e.recordJob(ctx, ActionJobCancelled, SeverityWarning, OutcomeFailure, j, nil,
		"attempt", j.Attempt,
		"started", j.StartedAt != nil,
	)
}

// OnShutdown implements ext.Shutdown.
func (e *Extension) OnShutdown(ctx context.Context) error {
	return e.record(ctx, &AuditEvent{
		Action:   ActionHubShutdown,
		Resource: ResourceHub,
		Category: CategoryHub,
		Outcome:  OutcomeSuccess,
		Severity: SeverityInfo,
	}, nil)
}

func describe(j *job.Job) string {
	if j.Spec.Handler != "" {
		return "handler:" + j.Spec.Handler
	}
	return strings.Join(j.Spec.Command, " ")
}

func (e *Extension) recordJob(
	ctx context.Context,
	action, severity, outcome string,
	j *job.Job,
	err error,
	kvPairs ...any,
) error {
	return e.record(ctx, &AuditEvent{
		Action:     action,
		Resource:   ResourceJob,
		Category:   CategoryJob,
		ResourceID: j.ID.String(),
		Owner:      j.Owner,
		Outcome:    outcome,
		Severity:   severity,
	}, err, kvPairs...)
}

// record fills metadata from kvPairs and sends evt if its action is
// enabled. Recorder failures are logged, never returned.
func (e *Extension) record(ctx context.Context, evt *AuditEvent, err error, kvPairs ...any) error {
	if e.enabled != nil && !e.enabled[evt.Action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}
	if err != nil {
		evt.Reason = err.Error()
	}
	if len(meta) > 0 {
		evt.Metadata = meta
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", evt.Action,
			"resource_id", evt.ResourceID,
			"error", recErr,
		)
	}
	return nil
}
