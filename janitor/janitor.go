// Package janitor enforces retention on a cron schedule: terminal jobs
// older than the job retention are deleted together with their work
// directories, the event log is trimmed to the event retention, and idle
// rate-limit buckets are dropped.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/JadKHaddad-ORG/JobHub/job"
	"github.com/JadKHaddad-ORG/JobHub/limiter"
	"github.com/JadKHaddad-ORG/JobHub/store"
)

// DefaultSchedule runs a sweep every minute.
const DefaultSchedule = "@every 1m"

// idleOwner is how long an owner's rate bucket survives without use.
const idleOwner = time.Hour

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// Report summarizes one sweep.
type Report struct {
	Jobs     int `json:"jobs"`
	Workdirs int `json:"workdirs"`
	Events   int `json:"events"`
	Owners   int `json:"owners"`
}

// Janitor runs retention sweeps.
type Janitor struct {
	store          store.Store
	limits         *limiter.Manager
	logger         *slog.Logger
	schedule       string
	jobRetention   time.Duration
	eventRetention int
	now            func() time.Time

	mu   sync.Mutex
	cron *cronlib.Cron
}

// Option configures a Janitor.
type Option func(*Janitor)

// WithSchedule sets the cron expression for sweeps.
func WithSchedule(expr string) Option {
	return func(j *Janitor) { j.schedule = expr }
}

// WithJobRetention sets how long terminal jobs are kept. Zero keeps them.
func WithJobRetention(d time.Duration) Option {
	return func(j *Janitor) { j.jobRetention = d }
}

// WithEventRetention sets how many trailing events are kept. Zero keeps
// them all.
func WithEventRetention(n int) Option {
	return func(j *Janitor) { j.eventRetention = n }
}

// WithLimiter lets sweeps prune idle rate buckets.
func WithLimiter(m *limiter.Manager) Option {
	return func(j *Janitor) { j.limits = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(j *Janitor) { j.logger = l }
}

// New creates a janitor over s.
func New(s store.Store, opts ...Option) *Janitor {
	j := &Janitor{
		store:    s,
		logger:   slog.Default(),
		schedule: DefaultSchedule,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Start schedules sweeps. It returns an error for a bad schedule.
func (j *Janitor) Start(_ context.Context) error {
	sched, err := ParseSchedule(j.schedule)
	if err != nil {
		return fmt.Errorf("janitor: parse schedule %q: %w", j.schedule, err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cron != nil {
		return nil
	}
	j.cron = cronlib.New(cronlib.WithChain(cronlib.SkipIfStillRunning(cronlib.DiscardLogger)))
	j.cron.Schedule(sched, cronlib.FuncJob(func() {
		if _, err := j.Sweep(context.Background()); err != nil {
			j.logger.Error("retention sweep failed", slog.String("error", err.Error()))
		}
	}))
	j.cron.Start()
	j.logger.Info("janitor started", slog.String("schedule", j.schedule))
	return nil
}

// Stop stops scheduling and waits for a running sweep, or until ctx ends.
func (j *Janitor) Stop(ctx context.Context) error {
	j.mu.Lock()
	c := j.cron
	j.cron = nil
	j.mu.Unlock()
	if c == nil {
		return nil
	}

	select {
	case <-c.Stop().Done():
		j.logger.Info("janitor stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sweep runs one retention pass.
func (j *Janitor) Sweep(ctx context.Context) (Report, error) {
	var r Report

	if j.jobRetention > 0 {
		cutoff := j.now().Add(-j.jobRetention)
		expired, err := j.store.ListJobs(ctx, job.Filter{FinishedBefore: cutoff})
		if err != nil {
			return r, fmt.Errorf("janitor: list expired jobs: %w", err)
		}
		for _, jb := range expired {
			if jb.Workdir == "" {
				continue
			}
			if err := os.RemoveAll(jb.Workdir); err != nil {
				j.logger.Warn("failed to remove workdir",
					slog.String("job_id", jb.ID.String()),
					slog.String("error", err.Error()),
				)
				continue
			}
			r.Workdirs++
		}
		n, err := j.store.DeleteJobs(ctx, cutoff)
		if err != nil {
			return r, fmt.Errorf("janitor: delete jobs: %w", err)
		}
		r.Jobs = n
	}

	if j.eventRetention > 0 {
		last, err := j.store.LastSeq(ctx)
		if err != nil {
			return r, fmt.Errorf("janitor: last seq: %w", err)
		}
		if last > uint64(j.eventRetention) {
			n, err := j.store.TrimEvents(ctx, last-uint64(j.eventRetention)+1)
			if err != nil {
				return r, fmt.Errorf("janitor: trim events: %w", err)
			}
			r.Events = n
		}
	}

	if j.limits != nil {
		r.Owners = j.limits.Prune(idleOwner)
	}

	if r != (Report{}) {
		j.logger.Info("retention sweep",
			slog.Int("jobs", r.Jobs),
			slog.Int("workdirs", r.Workdirs),
			slog.Int("events", r.Events),
			slog.Int("owners", r.Owners),
		)
	}
	return r, nil
}
