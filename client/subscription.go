package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/JadKHaddad-ORG/JobHub/event"
	"github.com/JadKHaddad-ORG/JobHub/stream"
	"github.com/JadKHaddad-ORG/JobHub/wire"
)

// KindDegraded is delivered last on a subscription the server closed for
// falling behind, when the client does not resume on its own.
const KindDegraded stream.Kind = "degraded"

var errDegraded = stream.ErrDegraded

// subscriptionBuffer is the channel capacity of a client subscription.
const subscriptionBuffer = 256

// Message is one pushed payload.
type Message struct {
	Kind     stream.Kind
	Seq      uint64
	Event    *event.Event
	Output   *stream.OutputChunk
	Gap      *stream.Gap
	Degraded *wire.Degraded
}

// Subscription is a live subscription on a Conn.
type Subscription struct {
	conn *Conn
	req  wire.SubscribeRequest

	id     atomic.Value // string
	cursor atomic.Uint64

	ch   chan *Message
	done chan struct{}
	once sync.Once

	// mu guards ch against close while deliver is sending.
	mu     sync.RWMutex
	closed bool
	err    error
}

func newSubscription(cn *Conn, req wire.SubscribeRequest) *Subscription {
	s := &Subscription{
		conn: cn,
		req:  req,
		ch:   make(chan *Message, subscriptionBuffer),
		done: make(chan struct{}),
	}
	s.id.Store("")
	s.cursor.Store(req.After)
	return s
}

// ID returns the server-side subscription id. It changes when the
// subscription is resumed on a new connection.
func (s *Subscription) ID() string { return s.id.Load().(string) }

// C returns the message channel. It is closed when the subscription ends.
func (s *Subscription) C() <-chan *Message { return s.ch }

// Cursor returns the sequence number of the last event delivered.
func (s *Subscription) Cursor() uint64 { return s.cursor.Load() }

// Err returns why the subscription ended, or nil while it is open or after
// a clean Close.
func (s *Subscription) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Close unsubscribes and closes the channel.
func (s *Subscription) Close(ctx context.Context) error {
	subID := s.ID()
	s.conn.takeSub(subID)
	s.close(nil)
	if subID == "" || s.conn.closed.Load() {
		return nil
	}
	return s.conn.unsubscribe(ctx, subID)
}

func (s *Subscription) bind(subID string, cursor uint64) {
	s.id.Store(subID)
	if cursor > s.cursor.Load() {
		s.cursor.Store(cursor)
	}
}

// deliver blocks until m is queued or the subscription ends.
func (s *Subscription) deliver(m *Message) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- m:
		if m.Kind == stream.KindEvent && m.Seq > s.cursor.Load() {
			s.cursor.Store(m.Seq)
		}
	case <-s.done:
	}
}

func (s *Subscription) close(err error) {
	s.once.Do(func() {
		close(s.done)
		s.mu.Lock()
		s.closed = true
		s.err = err
		close(s.ch)
		s.mu.Unlock()
	})
}

func decodePush(f *wire.Frame) (*Message, error) {
	m := &Message{Seq: f.Seq}
	var target any
	switch f.Method {
	case wire.MethodEvent:
		m.Kind = stream.KindEvent
		m.Event = &event.Event{}
		target = m.Event
	case wire.MethodOutput:
		m.Kind = stream.KindOutput
		m.Output = &stream.OutputChunk{}
		target = m.Output
	case wire.MethodGap:
		m.Kind = stream.KindGap
		m.Gap = &stream.Gap{}
		target = m.Gap
	case wire.MethodDegraded:
		m.Kind = KindDegraded
		m.Degraded = &wire.Degraded{}
		target = m.Degraded
	default:
		return nil, fmt.Errorf("unknown push method %q", f.Method)
	}
	if err := json.Unmarshal(f.Data, target); err != nil {
		return nil, fmt.Errorf("decode %s push: %w", f.Method, err)
	}
	if m.Event != nil && m.Seq == 0 {
		m.Seq = m.Event.Seq
	}
	return m, nil
}
