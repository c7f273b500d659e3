package stream

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/JadKHaddad-ORG/JobHub/id"
)

var (
	// ErrDegraded is reported by a subscription that fell behind. The
	// observer should resubscribe from Cursor.
	ErrDegraded = errors.New("stream: subscription degraded")
	// ErrClosed is reported by subscriptions closed with the broadcaster.
	ErrClosed = errors.New("stream: broadcaster closed")
)

// Subscription is one observer's position in the event stream. All sends
// and the final close happen under the broadcaster lock.
type Subscription struct {
	id     id.SubscriptionID
	filter Filter
	ch     chan *Message

	// cursor is the sequence number of the last event queued for delivery.
	cursor atomic.Uint64

	mu     sync.Mutex
	err    error
	closed bool
}

func newSubscription(f Filter, buffer int) *Subscription {
	return &Subscription{
		id:     id.NewSubscriptionID(),
		filter: f,
		ch:     make(chan *Message, buffer),
	}
}

// ID returns the subscription identifier.
func (s *Subscription) ID() id.SubscriptionID { return s.id }

// Filter returns the subscription filter.
func (s *Subscription) Filter() Filter { return s.filter }

// C returns the delivery channel. It is closed when the subscription ends.
func (s *Subscription) C() <-chan *Message { return s.ch }

// Cursor returns the sequence number up to which every matching event has
// been queued on C. Resume from it after a degraded close.
func (s *Subscription) Cursor() uint64 { return s.cursor.Load() }

// Err reports why the subscription ended: ErrDegraded, ErrClosed, or nil
// for an explicit unsubscribe or a subscription still open.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Degraded reports whether the subscription was dropped for falling behind.
func (s *Subscription) Degraded() bool { return errors.Is(s.Err(), ErrDegraded) }

// trySend queues m without blocking.
func (s *Subscription) trySend(m *Message) bool {
	select {
	case s.ch <- m:
		if m.Kind == KindEvent {
			s.cursor.Store(m.Event.Seq)
		}
		return true
	default:
		return false
	}
}

// close ends the subscription with reason. Safe to call more than once.
func (s *Subscription) close(reason error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = reason
	close(s.ch)
}
