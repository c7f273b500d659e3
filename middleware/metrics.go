package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/JadKHaddad-ORG/JobHub/job"
)

// Metrics uses the global MeterProvider.
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(instrumentationName))
}

// MetricsWithMeter records three instruments:
//
//	jobhub.attempt.duration  histogram, seconds, by unit and outcome
//	jobhub.attempt.count     counter, by unit and outcome
//	jobhub.attempt.running   up-down counter of attempts in flight
func MetricsWithMeter(meter metric.Meter) Middleware {
	// Instrument errors fall back to noop instruments.
	duration, _ := meter.Float64Histogram("jobhub.attempt.duration",
		metric.WithDescription("Wall time of one job attempt"),
		metric.WithUnit("s"),
	)
	count, _ := meter.Int64Counter("jobhub.attempt.count",
		metric.WithDescription("Finished job attempts"),
		metric.WithUnit("{attempt}"),
	)
	running, _ := meter.Int64UpDownCounter("jobhub.attempt.running",
		metric.WithDescription("Job attempts currently executing"),
		metric.WithUnit("{attempt}"),
	)

	return func(ctx context.Context, j *job.Job, next Handler) error {
		// The attempt context may be cancelled by the time we record.
		rec := context.WithoutCancel(ctx)
		unit := attribute.String("unit", j.Spec.Unit())

		running.Add(rec, 1, metric.WithAttributes(unit))
		start := time.Now()
		err := next(ctx)
		running.Add(rec, -1, metric.WithAttributes(unit))

		attrs := metric.WithAttributes(unit, attribute.String("outcome", string(Classify(ctx, err))))
		duration.Record(rec, time.Since(start).Seconds(), attrs)
		count.Add(rec, 1, attrs)
		return err
	}
}
