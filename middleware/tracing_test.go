package middleware_test

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/JadKHaddad-ORG/JobHub"
	mw "github.com/JadKHaddad-ORG/JobHub/middleware"
)

func runTraced(t *testing.T, ctx context.Context, err error) sdktrace.ReadOnlySpan {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	m := mw.TracingWithTracer(tp.Tracer("test"))

	if got := m(ctx, newTestJob(), func(context.Context) error { return err }); !errors.Is(got, err) {
		t.Fatalf("middleware changed the error: %v", got)
	}
	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("ended spans = %d", len(spans))
	}
	return spans[0]
}

func attrs(s sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	m := make(map[attribute.Key]attribute.Value)
	for _, kv := range s.Attributes() {
		m[kv.Key] = kv.Value
	}
	return m
}

func TestTracingSpanShape(t *testing.T) {
	t.Parallel()
	span := runTraced(t, context.Background(), nil)

	if span.Name() != "jobhub.attempt" {
		t.Errorf("name = %q", span.Name())
	}
	a := attrs(span)
	if a["jobhub.job.unit"].AsString() != "render" || a["jobhub.job.kind"].AsString() != "handler" {
		t.Errorf("unit/kind = %v/%v", a["jobhub.job.unit"], a["jobhub.job.kind"])
	}
	if a["jobhub.job.attempt"].AsInt64() != 2 || a["jobhub.job.priority"].AsInt64() != 5 {
		t.Errorf("attempt/priority = %v/%v", a["jobhub.job.attempt"], a["jobhub.job.priority"])
	}
	if _, ok := a["jobhub.job.retry_of"]; !ok {
		t.Error("retry_of missing on a retried attempt")
	}
	if span.Status().Code != codes.Ok {
		t.Errorf("status = %v", span.Status())
	}
}

func TestTracingStatusByOutcome(t *testing.T) {
	t.Parallel()
	cancelled, cancel := context.WithCancelCause(context.Background())
	cancel(jobhub.ErrCancelRequested)

	tests := []struct {
		name    string
		ctx     context.Context
		err     error
		code    codes.Code
		outcome string
	}{
		{"failure", context.Background(), errors.New("boom"), codes.Error, "error"},
		{"cancel", cancelled, context.Canceled, codes.Unset, "cancelled"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			span := runTraced(t, tt.ctx, tt.err)
			if span.Status().Code != tt.code {
				t.Errorf("status = %v, want %v", span.Status().Code, tt.code)
			}
			if got := attrs(span)["jobhub.attempt.outcome"].AsString(); got != tt.outcome {
				t.Errorf("outcome = %q, want %q", got, tt.outcome)
			}
		})
	}
}

func TestTracingPropagatesSpanContext(t *testing.T) {
	t.Parallel()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	m := mw.TracingWithTracer(tp.Tracer("test"))

	_ = m(context.Background(), newTestJob(), func(ctx context.Context) error {
		_, child := tp.Tracer("test").Start(ctx, "runner")
		child.End()
		return nil
	})

	spans := sr.Ended()
	if len(spans) != 2 {
		t.Fatalf("ended spans = %d", len(spans))
	}
	child, parent := spans[0], spans[1]
	if child.Parent().SpanID() != parent.SpanContext().SpanID() {
		t.Error("runner span is not a child of the attempt span")
	}
}
