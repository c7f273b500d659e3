package worker

import (
	"testing"

	"github.com/JadKHaddad-ORG/JobHub/id"
)

func TestQueueOrder(t *testing.T) {
	t.Parallel()
	q := NewQueue()

	a, b, c, d := id.NewJobID(), id.NewJobID(), id.NewJobID(), id.NewJobID()
	q.Push(a, 0)
	q.Push(b, 0)
	q.Push(c, 10)
	q.Push(d, -1)
	if q.Push(a, 99) {
		t.Fatal("duplicate Push accepted")
	}

	want := []id.JobID{c, a, b, d}
	for i, w := range want {
		got, ok := q.Pop()
		if !ok || !got.Equal(w) {
			t.Fatalf("pop %d = %s, want %s", i, got, w)
		}
	}
	if _, ok := q.Pop(); ok {
		t.Fatal("Pop on empty queue succeeded")
	}
}

func TestQueueRemove(t *testing.T) {
	t.Parallel()
	q := NewQueue()

	ids := []id.JobID{id.NewJobID(), id.NewJobID(), id.NewJobID()}
	for _, jobID := range ids {
		q.Push(jobID, 0)
	}
	if !q.Remove(ids[1]) {
		t.Fatal("Remove of queued id = false")
	}
	if q.Remove(ids[1]) || q.Contains(ids[1]) {
		t.Fatal("id still present after Remove")
	}
	if q.Len() != 2 {
		t.Fatalf("Len = %d, want 2", q.Len())
	}
	first, _ := q.Pop()
	second, _ := q.Pop()
	if !first.Equal(ids[0]) || !second.Equal(ids[2]) {
		t.Errorf("order after Remove = %s, %s", first, second)
	}
}
