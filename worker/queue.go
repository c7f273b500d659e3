package worker

import (
	"container/heap"

	"github.com/JadKHaddad-ORG/JobHub/id"
)

// Queue orders waiting job ids by priority, highest first, then by
// enqueue order. It is not safe for concurrent use; the coordinator
// guards it with its own mutex.
type Queue struct {
	h    entryHeap
	byID map[string]*entry
	seq  uint64
}

type entry struct {
	jobID    id.JobID
	priority int
	seq      uint64
	index    int
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{byID: make(map[string]*entry)}
}

// Push adds jobID. It reports false if jobID is already queued.
func (q *Queue) Push(jobID id.JobID, priority int) bool {
	key := jobID.String()
	if _, ok := q.byID[key]; ok {
		return false
	}
	q.seq++
	e := &entry{jobID: jobID, priority: priority, seq: q.seq}
	heap.Push(&q.h, e)
	q.byID[key] = e
	return true
}

// Pop removes and returns the next job id.
func (q *Queue) Pop() (id.JobID, bool) {
	if len(q.h) == 0 {
		return id.JobID{}, false
	}
	e := heap.Pop(&q.h).(*entry)
	delete(q.byID, e.jobID.String())
	return e.jobID, true
}

// Remove deletes jobID from the queue. It reports whether it was present.
func (q *Queue) Remove(jobID id.JobID) bool {
	key := jobID.String()
	e, ok := q.byID[key]
	if !ok {
		return false
	}
	heap.Remove(&q.h, e.index)
	delete(q.byID, key)
	return true
}

// Contains reports whether jobID is waiting.
func (q *Queue) Contains(jobID id.JobID) bool {
	_, ok := q.byID[jobID.String()]
	return ok
}

// Len returns the number of waiting jobs.
func (q *Queue) Len() int { return len(q.h) }

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
