// Package limiter bounds how fast each owner may submit jobs.
//
// Every owner gets its own token bucket (golang.org/x/time/rate). A
// default rate applies to all owners; individual owners can be given a
// different rate or exempted with [Manager.SetOwnerConfig]. Buckets of
// owners that have been idle for a while are dropped by [Manager.Prune].
//
//	m := limiter.NewManager(limiter.Config{Rate: 5, Burst: 10})
//	if !m.Allow(owner) {
//	    return jobhub.ErrRateLimited
//	}
package limiter

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config is one token-bucket setting.
type Config struct {
	// Rate is the sustained submissions per second. Zero disables
	// limiting.
	Rate float64

	// Burst is the bucket size. Defaults to 1 if Rate is set but Burst is
	// zero.
	Burst int
}

func (c Config) newLimiter() *rate.Limiter {
	if c.Rate <= 0 {
		return nil
	}
	burst := c.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(c.Rate), burst)
}

type ownerState struct {
	limiter  *rate.Limiter
	custom   bool
	lastSeen time.Time
}

// Manager holds per-owner token buckets. It is safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	defaults Config
	owners   map[string]*ownerState
	now      func() time.Time
}

// NewManager creates a Manager applying def to every owner without its own
// config.
func NewManager(def Config) *Manager {
	return &Manager{
		defaults: def,
		owners:   make(map[string]*ownerState),
		now:      time.Now,
	}
}

// Allow reports whether owner may submit now and consumes a token if so.
// The empty owner shares one bucket.
func (m *Manager) Allow(owner string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	st := m.owners[owner]
	if st == nil {
		lim := m.defaults.newLimiter()
		if lim == nil {
			return true
		}
		st = &ownerState{limiter: lim}
		m.owners[owner] = st
	}
	st.lastSeen = now
	if st.limiter == nil {
		return true
	}
	return st.limiter.AllowN(now, 1)
}

// SetOwnerConfig replaces the bucket for one owner. A zero Rate exempts
// the owner.
func (m *Manager) SetOwnerConfig(owner string, cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.owners[owner] = &ownerState{limiter: cfg.newLimiter(), custom: true, lastSeen: m.now()}
}

// Prune drops default buckets idle for longer than idle and returns how
// many were removed. Owners with their own config are kept.
func (m *Manager) Prune(idle time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-idle)
	n := 0
	for owner, st := range m.owners {
		if !st.custom && st.lastSeen.Before(cutoff) {
			delete(m.owners, owner)
			n++
		}
	}
	return n
}

// Len returns the number of tracked owners.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.owners)
}
