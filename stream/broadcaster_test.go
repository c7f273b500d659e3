package stream

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/JadKHaddad-ORG/JobHub/event"
	"github.com/JadKHaddad-ORG/JobHub/id"
	"github.com/JadKHaddad-ORG/JobHub/job"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// sliceLog is an in-memory event.Log for broadcaster tests.
type sliceLog struct {
	mu     sync.Mutex
	events []*event.Event
}

func (l *sliceLog) append(e *event.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *sliceLog) Events(_ context.Context, afterSeq uint64, limit int) ([]*event.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*event.Event
	for _, e := range l.events {
		if e.Seq > afterSeq {
			out = append(out, e)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (l *sliceLog) LastSeq(context.Context) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.events) == 0 {
		return 0, nil
	}
	return l.events[len(l.events)-1].Seq, nil
}

func (l *sliceLog) TrimEvents(context.Context, uint64) (int, error) { return 0, nil }

func testEvent(seq uint64, jobID id.JobID, owner string) *event.Event {
	return &event.Event{
		Seq:   seq,
		JobID: jobID,
		Owner: owner,
		From:  job.StateQueued,
		To:    job.StateRunning,
		At:    time.Now().UTC(),
	}
}

func recv(t *testing.T, sub *Subscription) *Message {
	t.Helper()
	select {
	case m, ok := <-sub.C():
		if !ok {
			t.Fatalf("subscription closed: %v", sub.Err())
		}
		return m
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
	return nil
}

func expectEmpty(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case m := <-sub.C():
		t.Fatalf("unexpected message %+v", m)
	default:
	}
}

func TestBroadcasterDeliversInOrder(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(nil, WithLogger(testLogger()))
	sub, err := b.Subscribe(Filter{}, SubscribeOptions{})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	jobID := id.NewJobID()
	for seq := uint64(1); seq <= 5; seq++ {
		b.Publish(testEvent(seq, jobID, "alice"))
	}
	for want := uint64(1); want <= 5; want++ {
		m := recv(t, sub)
		if m.Kind != KindEvent || m.Event.Seq != want {
			t.Fatalf("got %s seq %d, want event seq %d", m.Kind, m.Event.Seq, want)
		}
	}
	if sub.Cursor() != 5 {
		t.Errorf("Cursor = %d, want 5", sub.Cursor())
	}
}

func TestBroadcasterDropsDuplicates(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(nil, WithLogger(testLogger()))
	sub, _ := b.Subscribe(Filter{}, SubscribeOptions{})

	jobID := id.NewJobID()
	b.Publish(testEvent(1, jobID, ""))
	b.Publish(testEvent(1, jobID, ""))

	recv(t, sub)
	expectEmpty(t, sub)
}

func TestBroadcasterFillsOutOfOrderFromLog(t *testing.T) {
	t.Parallel()

	log := &sliceLog{}
	b := NewBroadcaster(log, WithLogger(testLogger()))
	if err := b.Prime(context.Background()); err != nil {
		t.Fatalf("prime: %v", err)
	}
	sub, _ := b.Subscribe(Filter{}, SubscribeOptions{})

	jobID := id.NewJobID()
	e1, e2, e3 := testEvent(1, jobID, ""), testEvent(2, jobID, ""), testEvent(3, jobID, "")
	log.append(e1)
	log.append(e2)
	log.append(e3)

	// Commit order 1,2,3 but publication order 3,1,2.
	b.Publish(e3)
	b.Publish(e1)
	b.Publish(e2)

	for want := uint64(1); want <= 3; want++ {
		if m := recv(t, sub); m.Event.Seq != want {
			t.Fatalf("seq = %d, want %d", m.Event.Seq, want)
		}
	}
	expectEmpty(t, sub)
}

func TestBroadcasterFilters(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(nil, WithLogger(testLogger()))
	a, other := id.NewJobID(), id.NewJobID()

	byJob, _ := b.Subscribe(Filter{JobID: a}, SubscribeOptions{})
	byOwner, _ := b.Subscribe(Filter{Owner: "bob"}, SubscribeOptions{})

	b.Publish(testEvent(1, a, "alice"))
	b.Publish(testEvent(2, other, "bob"))

	if m := recv(t, byJob); !m.Event.JobID.Equal(a) {
		t.Errorf("job subscription got %s", m.Event.JobID)
	}
	expectEmpty(t, byJob)
	if byJob.Cursor() != 2 {
		t.Errorf("job subscription Cursor = %d, want 2", byJob.Cursor())
	}

	if m := recv(t, byOwner); m.Event.Owner != "bob" {
		t.Errorf("owner subscription got owner %q", m.Event.Owner)
	}
	expectEmpty(t, byOwner)
}

func TestBroadcasterDegradesSlowSubscriber(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(nil, WithLogger(testLogger()), WithBufferSize(2))
	slow, _ := b.Subscribe(Filter{}, SubscribeOptions{})
	fast, _ := b.Subscribe(Filter{}, SubscribeOptions{})

	jobID := id.NewJobID()
	for seq := uint64(1); seq <= 2; seq++ {
		b.Publish(testEvent(seq, jobID, ""))
	}
	// Drain fast so only slow overflows.
	recv(t, fast)
	recv(t, fast)
	b.Publish(testEvent(3, jobID, ""))
	recv(t, fast)

	var got []uint64
	for m := range slow.C() {
		got = append(got, m.Event.Seq)
	}
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("slow subscriber drained %v, want [1 2]", got)
	}
	if !slow.Degraded() {
		t.Errorf("Err = %v, want ErrDegraded", slow.Err())
	}
	if slow.Cursor() != 2 {
		t.Errorf("Cursor = %d, want 2", slow.Cursor())
	}
	if fast.Degraded() {
		t.Error("fast subscriber degraded")
	}

	stats := b.Stats()
	if stats.Degraded != 1 || stats.Subscribers != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestBroadcasterResumeReplaysExactlyOnce(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(nil, WithLogger(testLogger()), WithReplayWindow(10))
	jobID := id.NewJobID()
	for seq := uint64(1); seq <= 5; seq++ {
		b.Publish(testEvent(seq, jobID, ""))
	}

	sub, err := b.Subscribe(Filter{}, SubscribeOptions{Resume: true, After: 2})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	b.Publish(testEvent(6, jobID, ""))

	for want := uint64(3); want <= 6; want++ {
		m := recv(t, sub)
		if m.Kind != KindEvent || m.Event.Seq != want {
			t.Fatalf("got %s seq %d, want %d", m.Kind, m.Event.Seq, want)
		}
	}
	expectEmpty(t, sub)
}

func TestBroadcasterResumeOutsideWindowSendsGap(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(nil, WithLogger(testLogger()), WithReplayWindow(3))
	jobID := id.NewJobID()
	for seq := uint64(1); seq <= 6; seq++ {
		b.Publish(testEvent(seq, jobID, ""))
	}

	tests := []struct {
		name  string
		after uint64
	}{
		{name: "evicted", after: 1},
		{name: "future", after: 42},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub, err := b.Subscribe(Filter{}, SubscribeOptions{Resume: true, After: tt.after})
			if err != nil {
				t.Fatalf("subscribe: %v", err)
			}
			defer b.Unsubscribe(sub)

			m := recv(t, sub)
			if m.Kind != KindGap {
				t.Fatalf("first message kind = %s, want gap", m.Kind)
			}
			if m.Gap.After != tt.after || m.Gap.Oldest != 4 || m.Gap.Latest != 6 {
				t.Errorf("gap = %+v", m.Gap)
			}
			expectEmpty(t, sub)
		})
	}
}

func TestBroadcasterPrimeLoadsWindow(t *testing.T) {
	t.Parallel()

	log := &sliceLog{}
	jobID := id.NewJobID()
	for seq := uint64(1); seq <= 4; seq++ {
		log.append(testEvent(seq, jobID, ""))
	}

	b := NewBroadcaster(log, WithLogger(testLogger()))
	if err := b.Prime(context.Background()); err != nil {
		t.Fatalf("prime: %v", err)
	}
	if b.LastSeq() != 4 {
		t.Fatalf("LastSeq = %d, want 4", b.LastSeq())
	}

	sub, _ := b.Subscribe(Filter{}, SubscribeOptions{Resume: true, After: 3})
	if m := recv(t, sub); m.Event.Seq != 4 {
		t.Errorf("replayed seq %d, want 4", m.Event.Seq)
	}

	// Already-released events are ignored after priming.
	b.Publish(testEvent(2, jobID, ""))
	expectEmpty(t, sub)
}

func TestBroadcasterPrimeAfterPublishHoldsEachSeqOnce(t *testing.T) {
	t.Parallel()

	log := &sliceLog{}
	jobID := id.NewJobID()
	b := NewBroadcaster(log, WithLogger(testLogger()))

	// An event published before Prime is also in the log Prime reads.
	first := testEvent(1, jobID, "")
	log.append(first)
	b.Publish(first)
	if err := b.Prime(context.Background()); err != nil {
		t.Fatalf("prime: %v", err)
	}
	second := testEvent(2, jobID, "")
	log.append(second)
	b.Publish(second)

	sub, err := b.Subscribe(Filter{}, SubscribeOptions{Resume: true, After: 0})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	for want := uint64(1); want <= 2; want++ {
		m := recv(t, sub)
		if m.Kind != KindEvent || m.Event.Seq != want {
			t.Fatalf("got %s seq %d, want event seq %d", m.Kind, m.Event.Seq, want)
		}
	}
	expectEmpty(t, sub)
}

func TestBroadcasterOutputIsOptIn(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(nil, WithLogger(testLogger()), WithBufferSize(1))
	jobID := id.NewJobID()
	plain, _ := b.Subscribe(Filter{JobID: jobID}, SubscribeOptions{})
	withOutput, _ := b.Subscribe(Filter{JobID: jobID, Output: true}, SubscribeOptions{})

	b.PublishOutput(&OutputChunk{JobID: jobID, Stream: Stdout, Data: []byte("hello\n")})
	// Buffer is full: dropped, subscription stays open.
	b.PublishOutput(&OutputChunk{JobID: jobID, Stream: Stderr, Data: []byte("lost\n")})

	expectEmpty(t, plain)
	m := recv(t, withOutput)
	if m.Kind != KindOutput || string(m.Output.Data) != "hello\n" {
		t.Errorf("got %+v", m)
	}
	if withOutput.Err() != nil {
		t.Errorf("output overflow ended subscription: %v", withOutput.Err())
	}
	if got := b.Stats().DroppedOutput; got != 1 {
		t.Errorf("DroppedOutput = %d, want 1", got)
	}
}

func TestBroadcasterClose(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(nil, WithLogger(testLogger()))
	sub, _ := b.Subscribe(Filter{}, SubscribeOptions{})
	b.Close()

	if _, ok := <-sub.C(); ok {
		t.Fatal("channel still open after Close")
	}
	if !errors.Is(sub.Err(), ErrClosed) {
		t.Errorf("Err = %v, want ErrClosed", sub.Err())
	}
	if _, err := b.Subscribe(Filter{}, SubscribeOptions{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Subscribe after Close = %v, want ErrClosed", err)
	}
	b.Publish(testEvent(1, id.NewJobID(), ""))
}

func TestParseTopic(t *testing.T) {
	t.Parallel()

	jobID := id.NewJobID()
	tests := []struct {
		topic   string
		want    id.JobID
		wantErr bool
	}{
		{topic: "jobs"},
		{topic: "*"},
		{topic: ""},
		{topic: JobTopic(jobID), want: jobID},
		{topic: "job:nope", wantErr: true},
		{topic: "workflows", wantErr: true},
	}
	for _, tt := range tests {
		f, err := ParseTopic(tt.topic)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseTopic(%q) succeeded", tt.topic)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseTopic(%q): %v", tt.topic, err)
			continue
		}
		if f.JobID.String() != tt.want.String() {
			t.Errorf("ParseTopic(%q).JobID = %s, want %s", tt.topic, f.JobID, tt.want)
		}
	}
}
