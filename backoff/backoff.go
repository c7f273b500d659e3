// Package backoff computes the delay before a failed job's successor is
// queued. Strategies are stateless and safe for concurrent use.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before a retry.
type Strategy interface {
	// Delay returns how long to wait before the job's attempt-th retry
	// (1-indexed: 1 is the first retry after the initial failure).
	Delay(attempt int) time.Duration
}

// Func adapts a function to Strategy.
type Func func(attempt int) time.Duration

// Delay calls f(attempt).
func (f Func) Delay(attempt int) time.Duration { return f(attempt) }

// None retries immediately.
var None Strategy = Func(func(int) time.Duration { return 0 })

// Constant always waits Interval.
type Constant struct {
	Interval time.Duration
}

// Delay returns the fixed interval.
func (c Constant) Delay(int) time.Duration { return c.Interval }

// Exponential doubles the delay each attempt up to Max:
// min(Initial * 2^(attempt-1), Max). With Jitter set, the result is drawn
// uniformly from [0, that bound] so simultaneous failures spread out.
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
	Jitter  bool
}

// Delay implements Strategy.
func (e Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	bound := float64(e.Initial) * math.Pow(2, float64(attempt-1))
	if e.Max > 0 && bound > float64(e.Max) {
		bound = float64(e.Max)
	}
	if e.Jitter {
		return time.Duration(rand.Float64() * bound) //nolint:gosec // jitter does not need crypto rand
	}
	return time.Duration(bound)
}

// Default is the coordinator's strategy: jittered exponential from 1s,
// capped at 1m.
func Default() Strategy {
	return Exponential{Initial: time.Second, Max: time.Minute, Jitter: true}
}
