package middleware_test

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/JadKHaddad-ORG/JobHub"
	mw "github.com/JadKHaddad-ORG/JobHub/middleware"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func outcomeOf(set attribute.Set) string {
	v, _ := set.Value("outcome")
	return v.AsString()
}

func TestMetricsCountsByOutcome(t *testing.T) {
	t.Parallel()
	reader := sdkmetric.NewManualReader()
	m := mw.MetricsWithMeter(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test"))

	timedOut, cancel := context.WithCancelCause(context.Background())
	cancel(jobhub.ErrJobTimeout)

	_ = m(context.Background(), newTestJob(), ok)
	_ = m(context.Background(), newTestJob(), ok)
	_ = m(context.Background(), newTestJob(), func(context.Context) error { return errors.New("boom") })
	_ = m(timedOut, newTestJob(), func(ctx context.Context) error { return context.Cause(ctx) })

	got := collect(t, reader)
	count, found := got["jobhub.attempt.count"]
	if !found {
		t.Fatal("jobhub.attempt.count not recorded")
	}
	sum := count.Data.(metricdata.Sum[int64])
	byOutcome := make(map[string]int64)
	for _, dp := range sum.DataPoints {
		byOutcome[outcomeOf(dp.Attributes)] += dp.Value
	}
	want := map[string]int64{"ok": 2, "error": 1, "timeout": 1}
	for k, v := range want {
		if byOutcome[k] != v {
			t.Errorf("count[%s] = %d, want %d (all: %v)", k, byOutcome[k], v, byOutcome)
		}
	}

	hist := got["jobhub.attempt.duration"].Data.(metricdata.Histogram[float64])
	var n uint64
	for _, dp := range hist.DataPoints {
		n += dp.Count
	}
	if n != 4 {
		t.Errorf("duration samples = %d, want 4", n)
	}
}

func TestMetricsRunningGauge(t *testing.T) {
	t.Parallel()
	reader := sdkmetric.NewManualReader()
	m := mw.MetricsWithMeter(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test"))

	running := func() int64 {
		data, found := collect(t, reader)["jobhub.attempt.running"]
		if !found {
			return 0
		}
		var total int64
		for _, dp := range data.Data.(metricdata.Sum[int64]).DataPoints {
			total += dp.Value
		}
		return total
	}

	var during int64
	_ = m(context.Background(), newTestJob(), func(context.Context) error {
		during = running()
		return nil
	})
	if during != 1 {
		t.Errorf("running during attempt = %d, want 1", during)
	}
	if after := running(); after != 0 {
		t.Errorf("running after attempt = %d, want 0", after)
	}
}
