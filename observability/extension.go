// Package observability provides an OpenTelemetry metrics extension for
// JobHub. MetricsExtension implements the lifecycle hooks and records
// hub-wide counters for submissions, starts, outcomes and retries.
//
// For per-execution tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/JadKHaddad-ORG/JobHub/ext"
	"github.com/JadKHaddad-ORG/JobHub/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension    = (*MetricsExtension)(nil)
	_ ext.JobSubmitted = (*MetricsExtension)(nil)
	_ ext.JobStarted   = (*MetricsExtension)(nil)
	_ ext.JobSucceeded = (*MetricsExtension)(nil)
	_ ext.JobFailed    = (*MetricsExtension)(nil)
	_ ext.JobRetrying  = (*MetricsExtension)(nil)
	_ ext.JobCancelled = (*MetricsExtension)(nil)
)

const meterName = "github.com/JadKHaddad-ORG/JobHub/observability"

// MetricsExtension records lifecycle counters. Every counter carries the
// job's unit as an attribute; failures also carry the failure kind.
type MetricsExtension struct {
	submitted metric.Int64Counter
	started   metric.Int64Counter
	succeeded metric.Int64Counter
	failed    metric.Int64Counter
	retried   metric.Int64Counter
	cancelled metric.Int64Counter
	runtime   metric.Float64Histogram
}

// NewMetricsExtension creates a MetricsExtension on the global
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension on meter.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		// On error the API returns a noop instrument.
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit("{job}"))
		return c
	}
	runtime, _ := meter.Float64Histogram("jobhub.job.runtime",
		metric.WithDescription("Time from start to success in seconds"),
		metric.WithUnit("s"),
	)
	return &MetricsExtension{
		submitted: counter("jobhub.job.submitted", "Jobs accepted as queued"),
		started:   counter("jobhub.job.started", "Jobs moved to running"),
		succeeded: counter("jobhub.job.succeeded", "Jobs that succeeded"),
		failed:    counter("jobhub.job.failed", "Jobs that failed"),
		retried:   counter("jobhub.job.retried", "Failed jobs succeeded by a new attempt"),
		cancelled: counter("jobhub.job.cancelled", "Jobs that were cancelled"),
		runtime:   runtime,
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func unit(j *job.Job) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("unit", j.Spec.Unit()))
}

// OnJobSubmitted implements ext.JobSubmitted.
func (m *MetricsExtension) OnJobSubmitted(ctx context.Context, j *job.Job) error {
	m.submitted.Add(ctx, 1, unit(j))
	return nil
}

// OnJobStarted implements ext.JobStarted.
func (m *MetricsExtension) OnJobStarted(ctx context.Context, j *job.Job) error {
	m.started.Add(ctx, 1, unit(j))
	return nil
}

// OnJobSucceeded implements ext.JobSucceeded.
func (m *MetricsExtension) OnJobSucceeded(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	m.succeeded.Add(ctx, 1, unit(j))
	m.runtime.Record(ctx, elapsed.Seconds(), unit(j))
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job, f *job.Failure) error {
	kind := ""
	if f != nil {
		kind = string(f.Kind)
	}
	m.failed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("unit", j.Spec.Unit()),
		attribute.String("kind", kind),
	))
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(ctx context.Context, j *job.Job, _ int) error {
	m.retried.Add(ctx, 1, unit(j))
	return nil
}

// OnJobCancelled implements ext.JobCancelled.
func (m *MetricsExtension) OnJobCancelled(ctx context.Context, j *job.Job) error {
	m.cancelled.Add(ctx, 1, unit(j))
	return nil
}
