// Package pool provides generation-counted arenas for the scheduler's event
// nodes and payload buffers.
//
// Slots are addressed by Ref, a (slot, generation) pair. Releasing a slot
// zeroes it and bumps its generation, so every Ref to the previous occupant
// stops resolving. A recycled slot is reissued only through Alloc.
package pool

import (
	"errors"
	"fmt"

	"github.com/eapache/queue"
)

// ErrStale is returned when a Ref no longer names a live slot.
var ErrStale = errors.New("pool: stale reference")

// Ref names one occupant of an arena slot. The zero Ref is never valid.
type Ref struct {
	slot uint32
	gen  uint32
}

// IsZero reports whether r is the zero Ref.
func (r Ref) IsZero() bool { return r.gen == 0 }

func (r Ref) String() string {
	if r.IsZero() {
		return "ref(nil)"
	}
	return fmt.Sprintf("ref(%d@%d)", r.slot, r.gen)
}

// Stats counts arena activity. Fresh counts slots grown from the heap;
// Reused counts allocations satisfied from the free list.
type Stats struct {
	Fresh    int64 `json:"fresh"`
	Reused   int64 `json:"reused"`
	Released int64 `json:"released"`
	Live     int   `json:"live"`
}

type slot[T any] struct {
	val  T
	gen  uint32
	live bool
}

// Arena stores values of type T in reusable slots.
// It is not safe for concurrent use.
type Arena[T any] struct {
	name  string
	slots []slot[T]
	free  *queue.Queue
	stats Stats
}

// NewArena creates an empty arena. name appears in error messages.
func NewArena[T any](name string) *Arena[T] {
	return &Arena[T]{name: name, free: queue.New()}
}

// Alloc stores v in a free slot, reusing a released one when available.
func (a *Arena[T]) Alloc(v T) Ref {
	var idx uint32
	if a.free.Length() > 0 {
		idx = a.free.Remove().(uint32)
		a.stats.Reused++
	} else {
		a.slots = append(a.slots, slot[T]{})
		idx = uint32(len(a.slots) - 1)
		a.stats.Fresh++
	}
	s := &a.slots[idx]
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	s.val = v
	s.live = true
	a.stats.Live++
	return Ref{slot: idx, gen: s.gen}
}

func (a *Arena[T]) lookup(r Ref) (*slot[T], error) {
	if r.IsZero() || int(r.slot) >= len(a.slots) {
		return nil, fmt.Errorf("%s %s: %w", a.name, r, ErrStale)
	}
	s := &a.slots[r.slot]
	if !s.live || s.gen != r.gen {
		return nil, fmt.Errorf("%s %s: %w", a.name, r, ErrStale)
	}
	return s, nil
}

// Get returns the value stored under r.
func (a *Arena[T]) Get(r Ref) (T, error) {
	s, err := a.lookup(r)
	if err != nil {
		var zero T
		return zero, err
	}
	return s.val, nil
}

// Set overwrites the value stored under r.
func (a *Arena[T]) Set(r Ref, v T) error {
	s, err := a.lookup(r)
	if err != nil {
		return err
	}
	s.val = v
	return nil
}

// Valid reports whether r names a live slot.
func (a *Arena[T]) Valid(r Ref) bool {
	_, err := a.lookup(r)
	return err == nil
}

// Release zeroes the slot behind r and returns it to the free list.
// Releasing a stale Ref is an error and leaves the arena unchanged.
func (a *Arena[T]) Release(r Ref) error {
	s, err := a.lookup(r)
	if err != nil {
		return err
	}
	var zero T
	s.val = zero
	s.live = false
	// Bump now so the released Ref is stale even before the slot is reissued.
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	a.free.Add(r.slot)
	a.stats.Released++
	a.stats.Live--
	return nil
}

// Live returns the number of occupied slots.
func (a *Arena[T]) Live() int { return a.stats.Live }

// Free returns the number of slots waiting for reuse.
func (a *Arena[T]) Free() int { return a.free.Length() }

// Stats returns a snapshot of the arena counters.
func (a *Arena[T]) Stats() Stats { return a.stats }

// Reset releases every live slot. Counters are kept.
func (a *Arena[T]) Reset() {
	for i := range a.slots {
		if a.slots[i].live {
			_ = a.Release(Ref{slot: uint32(i), gen: a.slots[i].gen})
		}
	}
}
