package limiter

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeClock lets tests refill buckets without sleeping.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestManager(def Config) (*Manager, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	m := NewManager(def)
	m.now = clk.now
	return m, clk
}

func TestDisabledAlwaysAllows(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(Config{})
	for range 100 {
		if !m.Allow("owner") {
			t.Fatal("zero rate should never limit")
		}
	}
	if m.Len() != 0 {
		t.Errorf("disabled manager tracked %d owners", m.Len())
	}
}

func TestBurstThenThrottle(t *testing.T) {
	t.Parallel()
	m, clk := newTestManager(Config{Rate: 1, Burst: 3})

	for i := range 3 {
		if !m.Allow("a") {
			t.Fatalf("submission %d should be within burst", i)
		}
	}
	if m.Allow("a") {
		t.Fatal("fourth submission should be limited")
	}

	clk.advance(time.Second)
	if !m.Allow("a") {
		t.Fatal("token should have refilled")
	}
}

func TestBurstDefaultsToOne(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(Config{Rate: 1})
	if !m.Allow("a") {
		t.Fatal("first submission should pass")
	}
	if m.Allow("a") {
		t.Fatal("burst of one should limit the second submission")
	}
}

func TestOwnersAreIsolated(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(Config{Rate: 1, Burst: 1})

	if !m.Allow("a") || m.Allow("a") {
		t.Fatal("owner a should get exactly one")
	}
	if !m.Allow("b") {
		t.Fatal("owner b must not be affected by owner a")
	}
}

func TestOwnerConfig(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(Config{Rate: 1, Burst: 1})

	m.SetOwnerConfig("trusted", Config{})
	for range 10 {
		if !m.Allow("trusted") {
			t.Fatal("exempt owner was limited")
		}
	}

	m.SetOwnerConfig("strict", Config{Rate: 0.001, Burst: 2})
	if !m.Allow("strict") || !m.Allow("strict") {
		t.Fatal("strict owner should get its burst")
	}
	if m.Allow("strict") {
		t.Fatal("strict owner should be limited after its burst")
	}
}

func TestPrune(t *testing.T) {
	t.Parallel()
	m, clk := newTestManager(Config{Rate: 1, Burst: 1})

	m.Allow("idle")
	m.SetOwnerConfig("custom", Config{Rate: 5})
	clk.advance(time.Hour)
	m.Allow("active")

	if n := m.Prune(time.Minute); n != 1 {
		t.Fatalf("pruned %d, want 1", n)
	}
	if m.Len() != 2 {
		t.Errorf("Len = %d, want 2", m.Len())
	}
}

func TestConcurrentAllow(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(Config{Rate: 1, Burst: 50})

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for range 200 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.Allow("shared") {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	if got := allowed.Load(); got != 50 {
		t.Errorf("allowed %d, want 50", got)
	}
}
