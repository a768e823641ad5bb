package engine

import (
	"github.com/roach88/tempo/internal/ir"
	"github.com/roach88/tempo/internal/pqueue"
)

type reactionEntry struct {
	id       ReactionID
	priority int64
}

// reactionQueue holds the reactions ready in the current instant, ordered by
// priority. Priority is also the identity: a second reaction with a queued
// priority collides in the side table, which is how duplicates are caught.
type reactionQueue struct {
	q *pqueue.Queue[int64, reactionEntry]
}

func newReactionQueue() *reactionQueue {
	return &reactionQueue{
		q: pqueue.New(
			func(a, b reactionEntry) bool { return a.priority < b.priority },
			func(r reactionEntry) int64 { return r.priority },
		),
	}
}

// insert queues r. Re-inserting the same reaction is a no-op; a different
// reaction with the same priority is a DUPLICATE_PRIORITY error.
func (rq *reactionQueue) insert(p *Program, tag ir.Tag, r reactionEntry) error {
	queued, ok := rq.q.Get(r.priority)
	if ok {
		if queued.id == r.id {
			return nil
		}
		return newDuplicatePriorityError(tag, r.priority, p.reactionName(queued.id), p.reactionName(r.id))
	}
	return rq.q.Insert(r)
}

func (rq *reactionQueue) pop() (reactionEntry, bool) {
	return rq.q.PopMin()
}

func (rq *reactionQueue) len() int {
	return rq.q.Len()
}

func (rq *reactionQueue) clear() {
	rq.q.Clear(nil)
}
