package hub

import (
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/JadKHaddad-ORG/JobHub"
	"github.com/JadKHaddad-ORG/JobHub/backoff"
	"github.com/JadKHaddad-ORG/JobHub/ext"
	mw "github.com/JadKHaddad-ORG/JobHub/middleware"
	"github.com/JadKHaddad-ORG/JobHub/runner"
)

// Option configures a Hub.
type Option func(*Hub)

// WithConfig sets the hub configuration.
func WithConfig(cfg jobhub.Config) Option {
	return func(h *Hub) { h.cfg = cfg }
}

// WithLogger sets the logger used by the hub and its subsystems.
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) { h.logger = l }
}

// WithExtension registers a lifecycle extension.
func WithExtension(e ext.Extension) Option {
	return func(h *Hub) { h.exts = append(h.exts, e) }
}

// WithMiddleware appends middleware after the built-in recover, logging,
// tracing and metrics chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(h *Hub) { h.mws = append(h.mws, m) }
}

// WithBackoff sets the retry delay strategy.
func WithBackoff(b backoff.Strategy) Option {
	return func(h *Hub) { h.backoff = b }
}

// WithHandlers sets the registry of in-process handlers.
func WithHandlers(r *runner.Registry) Option {
	return func(h *Hub) { h.handlers = r }
}

// WithRunner replaces the default runner. Handler names are then not
// checked at submission.
func WithRunner(r runner.Runner) Option {
	return func(h *Hub) { h.runner = r }
}

// WithProcessOptions configures the process runner.
func WithProcessOptions(opts ...runner.ProcessOption) Option {
	return func(h *Hub) { h.processOpts = append(h.processOpts, opts...) }
}

// WithTracerProvider sets the TracerProvider used by the tracing
// middleware. The global provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(h *Hub) { h.tracerProvider = tp }
}

// WithMeterProvider sets the MeterProvider used by the metrics middleware
// and the observability extension. The global provider is used otherwise.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(h *Hub) { h.meterProvider = mp }
}
