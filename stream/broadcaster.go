package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JadKHaddad-ORG/JobHub/event"
)

var _ event.Sink = (*Broadcaster)(nil)

// DefaultBufferSize is the default per-subscription buffer.
const DefaultBufferSize = 256

// DefaultReplayWindow is the default number of retained events.
const DefaultReplayWindow = 4096

// fillTimeout bounds the log read used to close an out-of-order gap.
const fillTimeout = 5 * time.Second

// Broadcaster releases committed events in sequence order to every
// matching subscription. Producers never block on subscribers.
type Broadcaster struct {
	log    event.Log
	logger *slog.Logger

	mu     sync.Mutex
	window *ring
	next   uint64 // next sequence number to release
	primed bool
	subs   map[string]*Subscription
	closed bool

	bufferSize   int
	replayWindow int

	published     atomic.Int64
	droppedOutput atomic.Int64
	degraded      atomic.Int64
}

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithBufferSize sets the per-subscription buffer size.
func WithBufferSize(size int) Option {
	return func(b *Broadcaster) { b.bufferSize = size }
}

// WithReplayWindow sets how many recent events are kept for resumption.
func WithReplayWindow(n int) Option {
	return func(b *Broadcaster) { b.replayWindow = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Broadcaster) { b.logger = l }
}

// NewBroadcaster creates a broadcaster. log is used to prime the replay
// window and to fill sequence holes; it may be nil.
func NewBroadcaster(log event.Log, opts ...Option) *Broadcaster {
	b := &Broadcaster{
		log:          log,
		logger:       slog.Default(),
		subs:         make(map[string]*Subscription),
		bufferSize:   DefaultBufferSize,
		replayWindow: DefaultReplayWindow,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.bufferSize < 1 {
		b.bufferSize = 1
	}
	if b.replayWindow < 1 {
		b.replayWindow = 1
	}
	b.window = newRing(b.replayWindow)
	return b
}

// Prime loads the tail of the event log into the replay window and aligns
// the expected sequence number with it. The window is rebuilt from the log,
// so events published before Prime are not held twice.
func (b *Broadcaster) Prime(ctx context.Context) error {
	if b.log == nil {
		return nil
	}
	last, err := b.log.LastSeq(ctx)
	if err != nil {
		return fmt.Errorf("stream: prime: %w", err)
	}
	var after uint64
	if last > uint64(b.replayWindow) {
		after = last - uint64(b.replayWindow)
	}
	tail, err := b.log.Events(ctx, after, b.replayWindow)
	if err != nil {
		return fmt.Errorf("stream: prime: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.window = newRing(b.replayWindow)
	for _, e := range tail {
		b.window.push(e)
	}
	b.next = last + 1
	b.primed = true
	return nil
}

// Publish releases e, and any missing predecessors, to subscribers. Events
// already released are ignored, so duplicates and late arrivals are safe.
func (b *Broadcaster) Publish(e *event.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	if !b.primed {
		b.next = e.Seq
		b.primed = true
	}
	if e.Seq < b.next {
		return
	}
	if e.Seq > b.next {
		b.fillLocked(e.Seq)
	}
	b.releaseLocked(e)
}

// fillLocked releases committed events in [next, upTo) from the log. Every
// store assigns sequence numbers inside the mutation, so anything below a
// committed event is committed too.
func (b *Broadcaster) fillLocked(upTo uint64) {
	if b.log != nil {
		ctx, cancel := context.WithTimeout(context.Background(), fillTimeout)
		missing, err := b.log.Events(ctx, b.next-1, int(upTo-b.next))
		cancel()
		if err != nil {
			b.logger.Warn("stream: fill sequence gap", slog.String("error", err.Error()))
		}
		for _, m := range missing {
			if m.Seq >= b.next && m.Seq < upTo {
				b.releaseLocked(m)
			}
		}
	}
	if b.next < upTo {
		b.logger.Warn("stream: skipping unrecoverable events",
			slog.Uint64("from", b.next),
			slog.Uint64("to", upTo-1),
		)
	}
}

func (b *Broadcaster) releaseLocked(e *event.Event) {
	b.window.push(e)
	b.next = e.Seq + 1
	b.published.Add(1)

	msg := &Message{Kind: KindEvent, Event: e}
	for key, sub := range b.subs {
		if !sub.filter.MatchEvent(e) {
			sub.cursor.Store(e.Seq)
			continue
		}
		if !sub.trySend(msg) {
			b.degraded.Add(1)
			b.logger.Warn("stream: subscription degraded",
				slog.String("subscription_id", key),
				slog.Uint64("cursor", sub.Cursor()),
			)
			delete(b.subs, key)
			sub.close(ErrDegraded)
		}
	}
}

// PublishOutput delivers a process output chunk. Chunks are best-effort
// and are dropped for subscribers whose buffer is full.
func (b *Broadcaster) PublishOutput(c *OutputChunk) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	msg := &Message{Kind: KindOutput, Output: c}
	for _, sub := range b.subs {
		if sub.filter.MatchOutput(c) && !sub.trySend(msg) {
			b.droppedOutput.Add(1)
		}
	}
}

// SubscribeOptions controls where a new subscription starts.
type SubscribeOptions struct {
	// Resume replays retained events with Seq > After before live ones.
	Resume bool
	// After is the last sequence number the observer has seen.
	After uint64
}

// Subscribe registers a subscription. With Resume set, matching events
// after opts.After are queued first, atomically with registration; if the
// window no longer covers opts.After the first message is a gap.
func (b *Broadcaster) Subscribe(f Filter, opts SubscribeOptions) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	var (
		replay []*event.Event
		gap    *Gap
	)
	latest := b.lastSeqLocked()
	if opts.Resume && opts.After < latest {
		oldest := b.window.oldest()
		if oldest == 0 || opts.After+1 < oldest {
			gap = &Gap{After: opts.After, Oldest: oldest, Latest: latest}
		} else {
			for _, e := range b.window.after(opts.After) {
				if f.MatchEvent(e) {
					replay = append(replay, e)
				}
			}
		}
	} else if opts.Resume && opts.After > latest {
		// The observer saw events this log never produced.
		gap = &Gap{After: opts.After, Oldest: b.window.oldest(), Latest: latest}
	}

	capacity := b.bufferSize + len(replay)
	if gap != nil {
		capacity++
	}
	sub := newSubscription(f, capacity)
	if gap != nil {
		sub.trySend(&Message{Kind: KindGap, Gap: gap})
	}
	for _, e := range replay {
		sub.trySend(&Message{Kind: KindEvent, Event: e})
	}
	// Every matching event up to latest is now queued.
	sub.cursor.Store(latest)
	b.subs[sub.id.String()] = sub
	return sub, nil
}

// Unsubscribe removes sub and closes its channel.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, sub.id.String())
	sub.close(nil)
}

// Close ends every subscription with ErrClosed and rejects new ones.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for key, sub := range b.subs {
		delete(b.subs, key)
		sub.close(ErrClosed)
	}
}

// LastSeq returns the sequence number of the last released event.
func (b *Broadcaster) LastSeq() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastSeqLocked()
}

func (b *Broadcaster) lastSeqLocked() uint64 {
	if b.next == 0 {
		return 0
	}
	return b.next - 1
}

// Stats contains broadcaster metrics.
type Stats struct {
	Subscribers   int    `json:"subscribers"`
	Published     int64  `json:"published"`
	DroppedOutput int64  `json:"dropped_output"`
	Degraded      int64  `json:"degraded"`
	OldestSeq     uint64 `json:"oldest_seq"`
	LastSeq       uint64 `json:"last_seq"`
}

// Stats returns broadcaster statistics.
func (b *Broadcaster) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Subscribers:   len(b.subs),
		Published:     b.published.Load(),
		DroppedOutput: b.droppedOutput.Load(),
		Degraded:      b.degraded.Load(),
		OldestSeq:     b.window.oldest(),
		LastSeq:       b.lastSeqLocked(),
	}
}
