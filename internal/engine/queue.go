package engine

import (
	"container/heap"

	"github.com/NamanBalaji/gdl/internal/common"
	"github.com/NamanBalaji/gdl/internal/downloader"
)

// entry is a download owned by a group together with the group's own view
// of its state.
type entry struct {
	d        *downloader.Download
	listener downloader.Listener
	seq      uint64
	index    int // position in the admission queue, -1 when not queued

	state    common.State
	frozen   bool
	admitted bool
	waiting  bool
}

func (e *entry) queued() bool { return e.index >= 0 }

// current is the state the group reports for e. Until a download has been
// admitted and moved past ENQUEUED the group-local tag is authoritative.
func (e *entry) current() common.State {
	if e.queued() || e.frozen {
		return e.state
	}
	if st := e.d.GetStatus(); st != common.StateEnqueued {
		return st
	}
	return e.state
}

// holdsSlot reports whether e occupies one of the group's concurrency slots.
func (e *entry) holdsSlot() bool {
	if !e.admitted {
		return false
	}
	st := e.d.GetStatus()
	return st == common.StateRunning || st == common.StatePaused
}

// admissionQueue implements heap.Interface as a min-heap by enqueue order,
// so a download re-queued after a freeze keeps its original place.
type admissionQueue []*entry

func (q admissionQueue) Len() int           { return len(q) }
func (q admissionQueue) Less(i, j int) bool { return q[i].seq < q[j].seq }
func (q admissionQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index, q[j].index = i, j
}

func (q *admissionQueue) Push(x any) {
	e := x.(*entry)
	e.index = len(*q)
	*q = append(*q, e)
}

func (q *admissionQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*q = old[:n-1]
	return e
}

func (q *admissionQueue) enqueue(e *entry) {
	if e.queued() {
		return
	}
	heap.Push(q, e)
}

func (q *admissionQueue) dequeue() *entry {
	return heap.Pop(q).(*entry)
}

func (q *admissionQueue) remove(e *entry) {
	if !e.queued() {
		return
	}
	heap.Remove(q, e.index)
}
