package stream

import "github.com/JadKHaddad-ORG/JobHub/event"

// ring holds the most recent events in ascending sequence order.
type ring struct {
	buf   []*event.Event
	start int
	n     int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]*event.Event, capacity)}
}

func (r *ring) push(e *event.Event) {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = e
		r.n++
		return
	}
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) at(i int) *event.Event { return r.buf[(r.start+i)%len(r.buf)] }

// oldest returns the lowest retained sequence number, or 0 when empty.
func (r *ring) oldest() uint64 {
	if r.n == 0 {
		return 0
	}
	return r.at(0).Seq
}

// after returns retained events with Seq > seq.
func (r *ring) after(seq uint64) []*event.Event {
	var out []*event.Event
	for i := 0; i < r.n; i++ {
		if e := r.at(i); e.Seq > seq {
			out = append(out, e)
		}
	}
	return out
}
