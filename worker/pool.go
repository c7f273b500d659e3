// Package worker runs queued jobs: a Coordinator holds the waiting queue
// and a fixed number of execution slots, moves each dequeued job to
// Running, and applies its terminal transition when the unit of work
// returns, is cancelled, or times out.
package worker

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/JadKHaddad-ORG/JobHub"
	"github.com/JadKHaddad-ORG/JobHub/backoff"
	"github.com/JadKHaddad-ORG/JobHub/id"
	"github.com/JadKHaddad-ORG/JobHub/job"
	"github.com/JadKHaddad-ORG/JobHub/middleware"
	"github.com/JadKHaddad-ORG/JobHub/runner"
	"github.com/JadKHaddad-ORG/JobHub/store"
	"github.com/JadKHaddad-ORG/JobHub/stream"
)

// Defaults applied by NewCoordinator.
const (
	DefaultConcurrency    = 4
	DefaultGracePeriod    = 10 * time.Second
	DefaultTimeout        = 10 * time.Minute
	defaultWorkdirSubpath = "jobhub"
)

// Coordinator dispatches queued jobs onto at most K concurrent executions.
// A job is popped only when a slot is free, and popping registers its
// execution in the same critical section, so no more than K jobs are ever
// Running.
type Coordinator struct {
	rec     *store.Recorder
	runner  runner.Runner
	mw      middleware.Middleware
	backoff backoff.Strategy
	output  func(*stream.OutputChunk)
	workdir func(id.JobID) string
	logger  *slog.Logger

	slots          int
	grace          time.Duration
	defaultTimeout time.Duration

	mu       sync.Mutex
	queue    *Queue
	active   map[string]*execution
	timers   map[*time.Timer]struct{}
	started  bool
	stopping bool

	wake   chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithConcurrency sets the number of execution slots.
func WithConcurrency(n int) Option {
	return func(c *Coordinator) { c.slots = n }
}

// WithGracePeriod sets how long a cancelled or timed-out unit may take to
// return before it is abandoned.
func WithGracePeriod(d time.Duration) Option {
	return func(c *Coordinator) { c.grace = d }
}

// WithDefaultTimeout sets the timeout for jobs whose spec sets none. Zero
// leaves such jobs unbounded.
func WithDefaultTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.defaultTimeout = d }
}

// WithBackoff sets the delay strategy for retries.
func WithBackoff(s backoff.Strategy) Option {
	return func(c *Coordinator) { c.backoff = s }
}

// WithMiddleware sets the chain wrapped around every execution.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(c *Coordinator) { c.mw = middleware.Chain(mws...) }
}

// WithOutput sets the destination of live process output.
func WithOutput(f func(*stream.OutputChunk)) Option {
	return func(c *Coordinator) { c.output = f }
}

// WithWorkdirs sets how retries get a fresh working directory.
func WithWorkdirs(f func(id.JobID) string) Option {
	return func(c *Coordinator) { c.workdir = f }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// NewCoordinator creates a coordinator that records transitions through
// rec and runs units with r.
func NewCoordinator(rec *store.Recorder, r runner.Runner, opts ...Option) *Coordinator {
	c := &Coordinator{
		rec:            rec,
		runner:         r,
		mw:             middleware.Chain(),
		backoff:        backoff.Default(),
		logger:         slog.Default(),
		slots:          DefaultConcurrency,
		grace:          DefaultGracePeriod,
		defaultTimeout: DefaultTimeout,
		queue:          NewQueue(),
		active:         make(map[string]*execution),
		timers:         make(map[*time.Timer]struct{}),
		wake:           make(chan struct{}, 1),
		stopCh:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.slots < 1 {
		c.slots = 1
	}
	if c.workdir == nil {
		base := filepath.Join(os.TempDir(), defaultWorkdirSubpath)
		c.workdir = func(jobID id.JobID) string { return filepath.Join(base, jobID.String()) }
	}
	return c
}

// Start launches the dispatch loop. It returns immediately.
func (c *Coordinator) Start(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopping {
		return jobhub.ErrShutdown
	}
	if c.started {
		return nil
	}
	c.started = true

	c.logger.Info("coordinator starting",
		slog.Int("slots", c.slots),
		slog.Int("queued", c.queue.Len()),
	)

	c.wg.Add(1)
	go c.dispatchLoop()
	return nil
}

// Stop stops dispatching and waits for in-flight executions. When ctx ends
// first, the remaining executions are interrupted; they still reach a
// terminal state within the grace period. Queued jobs stay Queued.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.stopping {
		c.mu.Unlock()
		return nil
	}
	c.stopping = true
	for t := range c.timers {
		t.Stop()
		c.wg.Done()
	}
	clear(c.timers)
	c.mu.Unlock()

	c.logger.Info("coordinator stopping")
	close(c.stopCh)

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("coordinator stopped gracefully")
	case <-ctx.Done():
		c.logger.Warn("coordinator shutdown timed out, interrupting active jobs")
		c.interruptAll(jobhub.ErrShutdown)
		<-done
	}
	return nil
}

// Enqueue adds a Queued job to the waiting queue. Enqueueing a job that is
// already waiting is a no-op.
func (c *Coordinator) Enqueue(j *job.Job) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopping {
		return jobhub.ErrShutdown
	}
	c.queue.Push(j.ID, j.Spec.Priority)
	c.signal()
	return nil
}

// Dequeue removes a waiting job. It reports whether the job was waiting.
func (c *Coordinator) Dequeue(jobID id.JobID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.Remove(jobID)
}

// Interrupt requests cancellation of an in-flight execution. It reports
// whether one was found.
func (c *Coordinator) Interrupt(jobID id.JobID) bool {
	c.mu.Lock()
	x, ok := c.active[jobID.String()]
	c.mu.Unlock()
	if ok {
		x.cancel(jobhub.ErrCancelRequested)
	}
	return ok
}

// Stats reports queue depth and slot usage.
type Stats struct {
	Queued  int `json:"queued"`
	Running int `json:"running"`
	Slots   int `json:"slots"`
}

// Stats returns a snapshot of the coordinator's load.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Queued: c.queue.Len(), Running: len(c.active), Slots: c.slots}
}

func (c *Coordinator) dispatchLoop() {
	defer c.wg.Done()

	for {
		c.mu.Lock()
		for !c.stopping && len(c.active) < c.slots && c.queue.Len() > 0 {
			jobID, _ := c.queue.Pop()
			x := newExecution(jobID)
			c.active[jobID.String()] = x
			c.wg.Add(1)
			go c.execute(x)
		}
		stopping := c.stopping
		c.mu.Unlock()
		if stopping {
			return
		}

		select {
		case <-c.wake:
		case <-c.stopCh:
			return
		}
	}
}

// release frees x's slot.
func (c *Coordinator) release(x *execution) {
	c.mu.Lock()
	delete(c.active, x.jobID.String())
	c.signal()
	c.mu.Unlock()
	x.cancel(context.Canceled)
}

// signal wakes the dispatch loop. Callers hold c.mu.
func (c *Coordinator) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Coordinator) interruptAll(cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, x := range c.active {
		c.logger.Warn("interrupting active job", slog.String("job_id", key))
		x.cancel(cause)
	}
}

// enqueueAfter queues j once delay has passed.
func (c *Coordinator) enqueueAfter(j *job.Job, delay time.Duration) {
	if delay <= 0 {
		if err := c.Enqueue(j); err != nil {
			c.logger.Warn("retry left queued in store",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopping {
		return
	}
	var t *time.Timer
	c.wg.Add(1)
	t = time.AfterFunc(delay, func() {
		c.mu.Lock()
		if _, ok := c.timers[t]; !ok {
			// Stop already accounted for this timer.
			c.mu.Unlock()
			return
		}
		delete(c.timers, t)
		if !c.stopping {
			c.queue.Push(j.ID, j.Spec.Priority)
			c.signal()
		}
		c.mu.Unlock()
		c.wg.Done()
	})
	c.timers[t] = struct{}{}
}
