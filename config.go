package jobhub

import (
	"fmt"
	"time"
)

// Config holds configuration for the hub and its subsystems.
type Config struct {
	// Concurrency is the number of execution slots.
	Concurrency int `yaml:"concurrency"`

	// GracePeriod is how long a cancelled or timed-out job may take to
	// acknowledge before it is force-terminated.
	GracePeriod time.Duration `yaml:"grace_period"`

	// DefaultTimeout applies to jobs that do not set one. Zero disables it.
	DefaultTimeout time.Duration `yaml:"default_timeout"`

	// MaxTimeout caps the timeout a job spec may request.
	MaxTimeout time.Duration `yaml:"max_timeout"`

	// MaxAttempts caps the attempt limit a job spec may request.
	MaxAttempts int `yaml:"max_attempts"`

	// MaxPriority bounds the magnitude of a job's priority. Zero leaves
	// priority unbounded.
	MaxPriority int `yaml:"max_priority"`

	// SubscriberBuffer is the per-subscription delivery buffer.
	SubscriberBuffer int `yaml:"subscriber_buffer"`

	// ReplayWindow is how many recent events are kept for resumption.
	ReplayWindow int `yaml:"replay_window"`

	// JobRetention is how long terminal jobs are kept before eviction.
	// Zero keeps them forever.
	JobRetention time.Duration `yaml:"job_retention"`

	// EventRetention is how many events the durable log keeps.
	EventRetention int `yaml:"event_retention"`

	// JanitorSchedule is the cron expression for retention sweeps.
	JanitorSchedule string `yaml:"janitor_schedule"`

	// DataDir is the root under which job work directories live.
	DataDir string `yaml:"data_dir"`

	// ArchiveCacheSize is the number of packaged archives kept in memory.
	ArchiveCacheSize int `yaml:"archive_cache_size"`

	// SubmitRate and SubmitBurst bound submissions per owner. A zero
	// rate disables admission limiting.
	SubmitRate  float64 `yaml:"submit_rate"`
	SubmitBurst int     `yaml:"submit_burst"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:      4,
		GracePeriod:      10 * time.Second,
		DefaultTimeout:   10 * time.Minute,
		MaxTimeout:       time.Hour,
		MaxAttempts:      5,
		MaxPriority:      1000,
		SubscriberBuffer: 256,
		ReplayWindow:     4096,
		JobRetention:     15 * time.Minute,
		EventRetention:   100_000,
		JanitorSchedule:  "@every 1m",
		DataDir:          "data",
		ArchiveCacheSize: 32,
		ShutdownTimeout:  30 * time.Second,
	}
}

// Validate reports the first nonsensical setting.
func (c Config) Validate() error {
	switch {
	case c.Concurrency < 1:
		return fmt.Errorf("jobhub: concurrency must be at least 1, got %d", c.Concurrency)
	case c.GracePeriod < 0:
		return fmt.Errorf("jobhub: grace period must not be negative")
	case c.SubscriberBuffer < 1:
		return fmt.Errorf("jobhub: subscriber buffer must be at least 1, got %d", c.SubscriberBuffer)
	case c.ReplayWindow < 1:
		return fmt.Errorf("jobhub: replay window must be at least 1, got %d", c.ReplayWindow)
	case c.MaxPriority < 0:
		return fmt.Errorf("jobhub: max priority must not be negative, got %d", c.MaxPriority)
	case c.MaxTimeout > 0 && c.DefaultTimeout > c.MaxTimeout:
		return fmt.Errorf("jobhub: default timeout %s exceeds max timeout %s", c.DefaultTimeout, c.MaxTimeout)
	case c.DataDir == "":
		return fmt.Errorf("jobhub: data dir must be set")
	}
	return nil
}
