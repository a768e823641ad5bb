// Package pqueue provides the indexed binary heap behind tempo's event and
// reaction queues.
//
// A Queue is parameterized by an ordering function and an identity function.
// Heap positions live in a side table keyed by identity, so entries need no
// bookkeeping fields and any entry can be removed or re-sifted in O(log n).
package pqueue

import (
	"container/heap"
	"errors"
	"io"
	"slices"
)

// ErrDuplicateKey is returned by Insert when an entry with the same identity
// is already queued.
var ErrDuplicateKey = errors.New("pqueue: duplicate key")

// Queue is a min-heap of V ordered by less and indexed by key.
// It is not safe for concurrent use.
type Queue[K comparable, V any] struct {
	h inner[K, V]
}

// New creates an empty queue. less reports whether a must pop before b;
// key returns the identity used by Remove, Fix, Get and Contains.
func New[K comparable, V any](less func(a, b V) bool, key func(V) K) *Queue[K, V] {
	return &Queue[K, V]{h: inner[K, V]{
		less:  less,
		key:   key,
		index: make(map[K]int),
	}}
}

// Insert adds v. O(log n).
func (q *Queue[K, V]) Insert(v V) error {
	k := q.h.key(v)
	if _, ok := q.h.index[k]; ok {
		return ErrDuplicateKey
	}
	heap.Push(&q.h, v)
	return nil
}

// PopMin removes and returns the minimum entry. O(log n).
func (q *Queue[K, V]) PopMin() (V, bool) {
	if len(q.h.items) == 0 {
		var zero V
		return zero, false
	}
	return heap.Pop(&q.h).(V), true
}

// PeekMin returns the minimum entry without removing it. O(1).
func (q *Queue[K, V]) PeekMin() (V, bool) {
	if len(q.h.items) == 0 {
		var zero V
		return zero, false
	}
	return q.h.items[0], true
}

// Remove deletes the entry with identity k. O(log n).
func (q *Queue[K, V]) Remove(k K) (V, bool) {
	i, ok := q.h.index[k]
	if !ok {
		var zero V
		return zero, false
	}
	return heap.Remove(&q.h, i).(V), true
}

// Update replaces the entry with identity key(v) and restores heap order.
// It reports false if no such entry is queued.
func (q *Queue[K, V]) Update(v V) bool {
	i, ok := q.h.index[q.h.key(v)]
	if !ok {
		return false
	}
	q.h.items[i] = v
	heap.Fix(&q.h, i)
	return true
}

// Fix restores heap order after the entry with identity k changed priority
// through a pointer held by the caller.
func (q *Queue[K, V]) Fix(k K) bool {
	i, ok := q.h.index[k]
	if !ok {
		return false
	}
	heap.Fix(&q.h, i)
	return true
}

// Get returns the queued entry with identity k.
func (q *Queue[K, V]) Get(k K) (V, bool) {
	i, ok := q.h.index[k]
	if !ok {
		var zero V
		return zero, false
	}
	return q.h.items[i], true
}

// Contains reports whether an entry with identity k is queued.
func (q *Queue[K, V]) Contains(k K) bool {
	_, ok := q.h.index[k]
	return ok
}

// Len returns the number of queued entries.
func (q *Queue[K, V]) Len() int {
	return len(q.h.items)
}

// Each calls fn for every entry in heap order (not sorted order) until fn
// returns false. fn must not mutate the queue.
func (q *Queue[K, V]) Each(fn func(V) bool) {
	for _, v := range q.h.items {
		if !fn(v) {
			return
		}
	}
}

// Sorted returns a copy of the entries in pop order. O(n log n).
func (q *Queue[K, V]) Sorted() []V {
	out := slices.Clone(q.h.items)
	slices.SortStableFunc(out, func(a, b V) int {
		switch {
		case q.h.less(a, b):
			return -1
		case q.h.less(b, a):
			return 1
		}
		return 0
	})
	return out
}

// Dump writes every entry in pop order using printFn.
func (q *Queue[K, V]) Dump(w io.Writer, printFn func(io.Writer, V)) {
	for _, v := range q.Sorted() {
		printFn(w, v)
	}
}

// Clear removes every entry, calling fn (if non-nil) on each.
func (q *Queue[K, V]) Clear(fn func(V)) {
	if fn != nil {
		for _, v := range q.h.items {
			fn(v)
		}
	}
	clear(q.h.items)
	q.h.items = q.h.items[:0]
	clear(q.h.index)
}

// inner implements heap.Interface and keeps the position side table current.
type inner[K comparable, V any] struct {
	items []V
	index map[K]int
	less  func(a, b V) bool
	key   func(V) K
}

func (h *inner[K, V]) Len() int { return len(h.items) }

func (h *inner[K, V]) Less(i, j int) bool { return h.less(h.items[i], h.items[j]) }

func (h *inner[K, V]) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.index[h.key(h.items[i])] = i
	h.index[h.key(h.items[j])] = j
}

func (h *inner[K, V]) Push(x any) {
	v := x.(V)
	h.index[h.key(v)] = len(h.items)
	h.items = append(h.items, v)
}

func (h *inner[K, V]) Pop() any {
	n := len(h.items) - 1
	v := h.items[n]
	var zero V
	h.items[n] = zero
	h.items = h.items[:n]
	delete(h.index, h.key(v))
	return v
}
