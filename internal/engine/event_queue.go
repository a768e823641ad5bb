package engine

import (
	"io"

	"github.com/roach88/tempo/internal/ir"
	"github.com/roach88/tempo/internal/pool"
	"github.com/roach88/tempo/internal/pqueue"
)

// eventEntry is the event queue's view of a pending event. The event body
// lives in the scheduler's event arena under ref.
type eventEntry struct {
	ref pool.Ref
	tag ir.Tag
	seq int64
}

// EventTime extracts the timestamp used for stop-time comparisons.
func (e eventEntry) EventTime() ir.Instant { return e.tag.Time }

func eventLess(a, b eventEntry) bool {
	if c := a.tag.Compare(b.tag); c != 0 {
		return c < 0
	}
	return a.seq < b.seq
}

// eventQueue orders pending events by tag, then by insertion order.
type eventQueue struct {
	q *pqueue.Queue[pool.Ref, eventEntry]
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		q: pqueue.New(eventLess, func(e eventEntry) pool.Ref { return e.ref }),
	}
}

func (eq *eventQueue) push(e eventEntry) error {
	return eq.q.Insert(e)
}

// nextTag returns the smallest pending tag.
func (eq *eventQueue) nextTag() (ir.Tag, bool) {
	e, ok := eq.q.PeekMin()
	if !ok {
		return ir.Tag{}, false
	}
	return e.tag, true
}

// popAt removes and returns the next event if its tag equals tag.
func (eq *eventQueue) popAt(tag ir.Tag) (eventEntry, bool) {
	e, ok := eq.q.PeekMin()
	if !ok || e.tag != tag {
		return eventEntry{}, false
	}
	return eq.q.PopMin()
}

func (eq *eventQueue) remove(ref pool.Ref) (eventEntry, bool) {
	return eq.q.Remove(ref)
}

func (eq *eventQueue) contains(ref pool.Ref) bool {
	return eq.q.Contains(ref)
}

func (eq *eventQueue) len() int {
	return eq.q.Len()
}

func (eq *eventQueue) sorted() []eventEntry {
	return eq.q.Sorted()
}

func (eq *eventQueue) dump(w io.Writer, printFn func(io.Writer, eventEntry)) {
	eq.q.Dump(w, printFn)
}

func (eq *eventQueue) clear(fn func(eventEntry)) {
	eq.q.Clear(fn)
}
