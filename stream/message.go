// Package stream fans committed job events out to live subscriptions.
//
// Events are released in sequence order, kept in a bounded replay window,
// and delivered through bounded per-subscription buffers. A subscription
// whose buffer overflows is degraded and closed; the observer resumes from
// its cursor, or receives a gap message when the window no longer covers it.
package stream

import (
	"github.com/JadKHaddad-ORG/JobHub/event"
	"github.com/JadKHaddad-ORG/JobHub/id"
)

// Kind identifies the payload a Message carries.
type Kind string

const (
	// KindEvent carries a sequenced job event.
	KindEvent Kind = "event"
	// KindOutput carries a chunk of process output. Never sequenced.
	KindOutput Kind = "output"
	// KindGap tells a resuming subscriber the window no longer covers its
	// cursor. The subscriber should re-list jobs.
	KindGap Kind = "gap"
)

// IOStream names a process output stream.
type IOStream string

const (
	Stdout IOStream = "stdout"
	Stderr IOStream = "stderr"
)

// Valid reports whether s is a known stream.
func (s IOStream) Valid() bool { return s == Stdout || s == Stderr }

// OutputChunk is a piece of a running job's output.
type OutputChunk struct {
	JobID  id.JobID `json:"job_id"`
	Owner  string   `json:"owner,omitempty"`
	Stream IOStream `json:"stream"`
	Data   []byte   `json:"data"`
}

// Gap reports that events after After are no longer available.
type Gap struct {
	After  uint64 `json:"after"`
	Oldest uint64 `json:"oldest"`
	Latest uint64 `json:"latest"`
}

// Message is the unit delivered on a subscription channel.
type Message struct {
	Kind   Kind         `json:"kind"`
	Event  *event.Event `json:"event,omitempty"`
	Output *OutputChunk `json:"output,omitempty"`
	Gap    *Gap         `json:"gap,omitempty"`
}
