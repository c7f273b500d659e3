package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/JadKHaddad-ORG/JobHub/job"
)

const instrumentationName = "github.com/JadKHaddad-ORG/JobHub/middleware"

// Tracing uses the global TracerProvider.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(instrumentationName))
}

// TracingWithTracer runs every attempt inside a "jobhub.attempt" span.
// A cancelled attempt is not an error span; a timeout or a failure is.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		kind := "command"
		if j.Spec.Handler != "" {
			kind = "handler"
		}
		attrs := []attribute.KeyValue{
			attribute.String("jobhub.job.id", j.ID.String()),
			attribute.String("jobhub.job.owner", j.Owner),
			attribute.String("jobhub.job.unit", j.Spec.Unit()),
			attribute.String("jobhub.job.kind", kind),
			attribute.Int("jobhub.job.attempt", j.Attempt),
			attribute.Int("jobhub.job.priority", j.Spec.Priority),
		}
		if !j.RetryOf.IsNil() {
			attrs = append(attrs, attribute.String("jobhub.job.retry_of", j.RetryOf.String()))
		}

		ctx, span := tracer.Start(ctx, "jobhub.attempt", trace.WithAttributes(attrs...))
		defer span.End()

		err := next(ctx)
		o := Classify(ctx, err)
		span.SetAttributes(attribute.String("jobhub.attempt.outcome", string(o)))
		switch o {
		case OutcomeOK:
			span.SetStatus(codes.Ok, "")
		case OutcomeCancelled:
			span.AddEvent("cancel requested")
		default:
			span.RecordError(err)
			span.SetStatus(codes.Error, string(o))
		}
		return err
	}
}
