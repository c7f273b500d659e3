// Package hub wires every JobHub subsystem together behind one facade. It
// owns the store, the stream broadcaster, the worker coordinator, the
// artifact packager, admission limiting and retention, and exposes the
// submit, query, cancel, subscribe and package operations that transport
// adapters call.
//
// Owner scoping: every operation takes the caller's owner. An empty owner
// is trusted and sees all jobs; any other owner sees only its own jobs,
// and a job of another owner is reported as not found.
package hub

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/JadKHaddad-ORG/JobHub"
	"github.com/JadKHaddad-ORG/JobHub/artifact"
	"github.com/JadKHaddad-ORG/JobHub/backoff"
	"github.com/JadKHaddad-ORG/JobHub/ext"
	"github.com/JadKHaddad-ORG/JobHub/id"
	"github.com/JadKHaddad-ORG/JobHub/janitor"
	"github.com/JadKHaddad-ORG/JobHub/limiter"
	mw "github.com/JadKHaddad-ORG/JobHub/middleware"
	"github.com/JadKHaddad-ORG/JobHub/observability"
	"github.com/JadKHaddad-ORG/JobHub/runner"
	"github.com/JadKHaddad-ORG/JobHub/store"
	"github.com/JadKHaddad-ORG/JobHub/stream"
	"github.com/JadKHaddad-ORG/JobHub/worker"
)

const instrumentationName = "github.com/JadKHaddad-ORG/JobHub"

// Hub is the job orchestration facade.
type Hub struct {
	cfg    jobhub.Config
	logger *slog.Logger

	store       store.Store
	rec         *store.Recorder
	broadcaster *stream.Broadcaster
	coordinator *worker.Coordinator
	packager    *artifact.Packager
	limits      *limiter.Manager
	janitor     *janitor.Janitor
	extensions  *ext.Registry
	handlers    *runner.Registry
	dataDir     string

	// Collected by options before the subsystems are built.
	exts           []ext.Extension
	mws            []mw.Middleware
	backoff        backoff.Strategy
	runner         runner.Runner
	processOpts    []runner.ProcessOption
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	mu      sync.Mutex
	started bool
	stopped bool
}

// New builds a hub over s. Nothing runs until Start.
func New(s store.Store, opts ...Option) (*Hub, error) {
	if s == nil {
		return nil, jobhub.ErrNoStore
	}
	h := &Hub{
		cfg:    jobhub.DefaultConfig(),
		logger: slog.Default(),
		store:  s,
	}
	for _, opt := range opts {
		opt(h)
	}
	if err := h.cfg.Validate(); err != nil {
		return nil, err
	}
	if h.backoff == nil {
		h.backoff = backoff.Default()
	}
	if h.handlers == nil {
		h.handlers = runner.NewRegistry()
	}

	dataDir, err := filepath.Abs(h.cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("hub: resolve data dir: %w", err)
	}
	h.dataDir = dataDir

	h.extensions = ext.NewRegistry(h.logger)
	if h.meterProvider != nil {
		h.extensions.Register(observability.NewMetricsExtensionWithMeter(
			h.meterProvider.Meter(instrumentationName + "/observability")))
	} else {
		h.extensions.Register(observability.NewMetricsExtension())
	}
	for _, e := range h.exts {
		h.extensions.Register(e)
	}

	h.broadcaster = stream.NewBroadcaster(s,
		stream.WithBufferSize(h.cfg.SubscriberBuffer),
		stream.WithReplayWindow(h.cfg.ReplayWindow),
		stream.WithLogger(h.logger),
	)
	h.rec = store.NewRecorder(s,
		store.WithSink(h.broadcaster),
		store.WithHooks(h.extensions),
		store.WithRecorderLogger(h.logger),
	)

	run := h.runner
	if run == nil {
		procOpts := append([]runner.ProcessOption{runner.WithWaitDelay(h.cfg.GracePeriod)}, h.processOpts...)
		run = runner.NewMux(h.handlers, runner.NewProcess(procOpts...))
	}
	h.coordinator = worker.NewCoordinator(h.rec, run,
		worker.WithConcurrency(h.cfg.Concurrency),
		worker.WithGracePeriod(h.cfg.GracePeriod),
		worker.WithDefaultTimeout(h.cfg.DefaultTimeout),
		worker.WithBackoff(h.backoff),
		worker.WithMiddleware(h.middleware()...),
		worker.WithOutput(h.broadcaster.PublishOutput),
		worker.WithWorkdirs(h.workdir),
		worker.WithLogger(h.logger),
	)

	h.packager = artifact.NewPackager(
		artifact.WithCacheSize(h.cfg.ArchiveCacheSize),
		artifact.WithLogger(h.logger),
	)
	h.limits = limiter.NewManager(limiter.Config{Rate: h.cfg.SubmitRate, Burst: h.cfg.SubmitBurst})
	h.janitor = janitor.New(s,
		janitor.WithSchedule(h.cfg.JanitorSchedule),
		janitor.WithJobRetention(h.cfg.JobRetention),
		janitor.WithEventRetention(h.cfg.EventRetention),
		janitor.WithLimiter(h.limits),
		janitor.WithLogger(h.logger),
	)
	return h, nil
}

// middleware builds the default chain: recover, tracing, metrics, logging,
// then anything added with WithMiddleware.
func (h *Hub) middleware() []mw.Middleware {
	tracing := mw.Tracing()
	if h.tracerProvider != nil {
		tracing = mw.TracingWithTracer(h.tracerProvider.Tracer(instrumentationName))
	}
	metrics := mw.Metrics()
	if h.meterProvider != nil {
		metrics = mw.MetricsWithMeter(h.meterProvider.Meter(instrumentationName))
	}

	all := []mw.Middleware{
		mw.Recover(h.logger),
		tracing,
		metrics,
		mw.Logging(h.logger),
	}
	return append(all, h.mws...)
}

func (h *Hub) workdir(jobID id.JobID) string {
	return filepath.Join(h.dataDir, "jobs", jobID.String())
}

// Start migrates and checks the store, primes the broadcaster, recovers
// jobs left behind by a previous process, and starts the coordinator and
// the janitor.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return jobhub.ErrShutdown
	}
	if h.started {
		return nil
	}

	if err := h.store.Migrate(ctx); err != nil {
		return fmt.Errorf("%w: %w", jobhub.ErrMigrationFailed, err)
	}
	if err := h.store.Ping(ctx); err != nil {
		return fmt.Errorf("hub: store unreachable: %w", err)
	}
	if err := h.broadcaster.Prime(ctx); err != nil {
		return fmt.Errorf("hub: prime broadcaster: %w", err)
	}
	if err := h.recoverJobs(ctx); err != nil {
		return err
	}
	if err := h.coordinator.Start(ctx); err != nil {
		return err
	}
	if err := h.janitor.Start(ctx); err != nil {
		return err
	}

	h.started = true
	h.logger.Info("hub started",
		slog.Int("concurrency", h.cfg.Concurrency),
		slog.String("data_dir", h.dataDir),
	)
	return nil
}

// Stop shuts the hub down. In-flight jobs get until ctx ends to finish,
// then they are interrupted and recorded as Failed. Queued jobs stay
// Queued in the store.
func (h *Hub) Stop(ctx context.Context) error {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return nil
	}
	h.stopped = true
	h.mu.Unlock()

	var g errgroup.Group
	g.Go(func() error { return h.janitor.Stop(ctx) })
	g.Go(func() error { return h.coordinator.Stop(ctx) })
	err := g.Wait()

	h.broadcaster.Close()
	h.extensions.EmitShutdown(ctx)
	if cerr := h.store.Close(); cerr != nil && err == nil {
		err = cerr
	}
	h.logger.Info("hub stopped")
	return err
}

// NewOwner issues a fresh owner identifier.
func NewOwner() string { return uuid.NewString() }

// Config returns the hub configuration.
func (h *Hub) Config() jobhub.Config { return h.cfg }

// Handlers returns the in-process handler registry.
func (h *Hub) Handlers() *runner.Registry { return h.handlers }

// Extensions returns the extension registry.
func (h *Hub) Extensions() *ext.Registry { return h.extensions }

// Stats is a snapshot of hub load.
type Stats struct {
	Workers  worker.Stats `json:"workers"`
	Stream   stream.Stats `json:"stream"`
	Archives int          `json:"archives"`
	Owners   int          `json:"owners"`
}

// Stats returns a snapshot of hub load.
func (h *Hub) Stats() Stats {
	return Stats{
		Workers:  h.coordinator.Stats(),
		Stream:   h.broadcaster.Stats(),
		Archives: h.packager.Len(),
		Owners:   h.limits.Len(),
	}
}
