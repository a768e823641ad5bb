package engine

import (
	"github.com/roach88/tempo/internal/ir"
	"github.com/roach88/tempo/internal/pool"
)

// event is the body of a scheduled event, stored in the event arena.
type event struct {
	tag     ir.Tag
	trigger TriggerID
	value   pool.Ref
	handle  Handle
}

// triggerState is the per-instant view of a trigger plus the bookkeeping
// needed for min-spacing policies.
type triggerState struct {
	present bool
	value   pool.Ref

	// last is the most recently scheduled event; it may already be consumed.
	last    pool.Ref
	lastTag ir.Tag
	hasLast bool
}

// pools owns the event arena (recycle pool) and the value arena (free pool).
//
// Ownership: a value ref belongs to exactly one event until the event is
// popped, then to its trigger for the rest of the instant. Events popped in
// an instant are released when the instant ends; so are trigger values.
type pools struct {
	events *pool.Arena[event]
	values *pool.Arena[any]
}

func newPools() *pools {
	return &pools{
		events: pool.NewArena[event]("events"),
		values: pool.NewArena[any]("values"),
	}
}

// allocValue stores v. A nil payload needs no slot.
func (p *pools) allocValue(v any) pool.Ref {
	if v == nil {
		return pool.Ref{}
	}
	return p.values.Alloc(v)
}

func (p *pools) value(r pool.Ref) any {
	if r.IsZero() {
		return nil
	}
	v, err := p.values.Get(r)
	if err != nil {
		return nil
	}
	return v
}

func (p *pools) releaseValue(r pool.Ref) error {
	if r.IsZero() {
		return nil
	}
	return p.values.Release(r)
}

// releaseEvent returns the event slot and, if it still owns one, its value.
func (p *pools) releaseEvent(r pool.Ref, withValue bool) error {
	ev, err := p.events.Get(r)
	if err != nil {
		return err
	}
	if withValue {
		if err := p.releaseValue(ev.value); err != nil {
			return err
		}
	}
	return p.events.Release(r)
}

func (p *pools) stats() (events, values pool.Stats) {
	return p.events.Stats(), p.values.Stats()
}
