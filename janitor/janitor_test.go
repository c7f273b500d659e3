package janitor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/JadKHaddad-ORG/JobHub/job"
	"github.com/JadKHaddad-ORG/JobHub/limiter"
	"github.com/JadKHaddad-ORG/JobHub/store/memory"
	"github.com/JadKHaddad-ORG/JobHub/store/storetest"
)

var base = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// finished creates a job that reached Cancelled at the given time and
// gives it a workdir on disk.
func finished(t *testing.T, s *memory.Store, at time.Time) *job.Job {
	t.Helper()
	ctx := context.Background()
	j := storetest.NewJob("owner", at.Add(-time.Minute))
	j.Workdir = filepath.Join(t.TempDir(), j.ID.String())
	if err := os.MkdirAll(j.Workdir, 0o755); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateJob(ctx, j); err != nil {
		t.Fatal(err)
	}
	out, _, err := s.CompareAndTransition(ctx, j.ID, job.StateQueued, job.StateCancelled, job.Patch{At: at})
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func TestSweepDeletesExpiredJobs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memory.New()

	old := finished(t, s, base.Add(-time.Hour))
	recent := finished(t, s, base.Add(-time.Minute))
	queued := storetest.NewJob("owner", base.Add(-2*time.Hour))
	if _, err := s.CreateJob(ctx, queued); err != nil {
		t.Fatal(err)
	}

	j := New(s, WithJobRetention(15*time.Minute))
	j.now = func() time.Time { return base }

	r, err := j.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if r.Jobs != 1 || r.Workdirs != 1 {
		t.Fatalf("report = %+v, want one job and one workdir", r)
	}
	if _, err := os.Stat(old.Workdir); !os.IsNotExist(err) {
		t.Errorf("expired workdir still present: %v", err)
	}
	if _, err := os.Stat(recent.Workdir); err != nil {
		t.Errorf("recent workdir removed: %v", err)
	}
	for _, keep := range []*job.Job{recent, queued} {
		if _, err := s.GetJob(ctx, keep.ID); err != nil {
			t.Errorf("job %s should be kept: %v", keep.ID, err)
		}
	}
}

func TestSweepTrimsEvents(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memory.New()
	for range 5 {
		finished(t, s, base) // two events each
	}

	j := New(s, WithEventRetention(4))
	r, err := j.Sweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if r.Events != 6 {
		t.Errorf("trimmed %d events, want 6", r.Events)
	}
	evts, err := s.Events(ctx, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(evts) != 4 || evts[0].Seq != 7 {
		t.Errorf("remaining events start at %d (n=%d), want 7 (n=4)", evts[0].Seq, len(evts))
	}
}

func TestSweepPrunesOwners(t *testing.T) {
	t.Parallel()
	m := limiter.NewManager(limiter.Config{Rate: 1, Burst: 1})
	m.Allow("someone")

	// Buckets idle for less than an hour survive.
	r, err := New(memory.New(), WithLimiter(m)).Sweep(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if r.Owners != 0 || m.Len() != 1 {
		t.Errorf("fresh bucket pruned: %+v, len %d", r, m.Len())
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	t.Parallel()
	j := New(memory.New(), WithSchedule("not a schedule"))
	if err := j.Start(context.Background()); err == nil {
		t.Fatal("expected an error for a bad schedule")
	}
}

func TestStartStop(t *testing.T) {
	t.Parallel()
	j := New(memory.New(), WithSchedule("@every 10ms"), WithJobRetention(time.Minute))
	if err := j.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := j.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := j.Stop(ctx); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}
