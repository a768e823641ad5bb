package engine

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/tempo/internal/ir"
)

// ReactionContext is a reaction's view of the scheduler during its dispatch.
// It must not be retained after the body returns.
type ReactionContext struct {
	s        *Scheduler
	reaction ReactionID
	tag      ir.Tag
}

// Reaction returns the name of the dispatching reaction.
func (rc *ReactionContext) Reaction() string { return rc.s.prog.reactionName(rc.reaction) }

// Tag returns the tag of the current instant.
func (rc *ReactionContext) Tag() ir.Tag { return rc.tag }

// LogicalTime returns the current logical instant.
func (rc *ReactionContext) LogicalTime() ir.Instant { return rc.tag.Time }

// ElapsedLogicalTime returns the logical time since the start of the run.
func (rc *ReactionContext) ElapsedLogicalTime() ir.Interval { return rc.s.clock.ElapsedLogicalTime() }

// PhysicalTime samples the physical clock.
func (rc *ReactionContext) PhysicalTime() ir.Instant { return rc.s.clock.PhysicalTime() }

// ElapsedPhysicalTime returns physical time elapsed since the run started.
func (rc *ReactionContext) ElapsedPhysicalTime() ir.Interval { return rc.s.clock.ElapsedPhysicalTime() }

// StartTime returns the logical start of the run.
func (rc *ReactionContext) StartTime() ir.Instant { return rc.s.clock.StartTime() }

// Logger returns the scheduler's logger annotated with the reaction name.
func (rc *ReactionContext) Logger() *slog.Logger {
	return rc.s.log.With("reaction", rc.Reaction(), "tag", rc.tag)
}

// Lookup resolves a trigger name.
func (rc *ReactionContext) Lookup(name string) (TriggerID, bool) {
	return rc.s.prog.TriggerByName(name)
}

// IsPresent reports whether trigger has an event in this instant.
func (rc *ReactionContext) IsPresent(trigger TriggerID) bool {
	if !rc.s.prog.validTrigger(trigger) {
		return false
	}
	return rc.s.triggers[trigger].present
}

// Get returns the trigger's value in this instant. The second result is
// false if the trigger is absent.
func (rc *ReactionContext) Get(trigger TriggerID) (any, bool) {
	if !rc.IsPresent(trigger) {
		return nil, false
	}
	return rc.s.pools.value(rc.s.triggers[trigger].value), true
}

func (rc *ReactionContext) checkEffect(trigger TriggerID) (TriggerSpec, error) {
	spec, ok := rc.s.prog.Trigger(trigger)
	if !ok {
		return TriggerSpec{}, newUnknownTriggerError(trigger)
	}
	if !rc.s.prog.effects[rc.reaction][trigger] {
		return TriggerSpec{}, &RuntimeError{
			Code:     ErrCodeUndeclaredEffect,
			Message:  fmt.Sprintf("trigger %q is not a declared effect", spec.Name),
			Reaction: rc.Reaction(),
			Trigger:  spec.Name,
		}
	}
	return spec, nil
}

// Set writes value to port for the rest of the instant. Downstream
// reactions are queued when the body returns (or earlier through
// ScheduleOutputReactions).
func (rc *ReactionContext) Set(port TriggerID, value any) error {
	spec, err := rc.checkEffect(port)
	if err != nil {
		return err
	}
	if spec.Kind != KindPort {
		return &RuntimeError{
			Code:     ErrCodeNotSchedulable,
			Message:  fmt.Sprintf("%s trigger %q cannot be set; schedule it instead", spec.Kind, spec.Name),
			Reaction: rc.Reaction(),
			Trigger:  spec.Name,
		}
	}
	s := rc.s
	s.markPresent(port, s.pools.allocValue(value))
	if !slices.Contains(s.produced[rc.reaction], port) {
		s.produced[rc.reaction] = append(s.produced[rc.reaction], port)
	}
	return nil
}

// Schedule posts an event for one of the reaction's effect actions. See
// Scheduler.Schedule for timing and errors.
func (rc *ReactionContext) Schedule(action TriggerID, delay ir.Interval, value any) (Handle, error) {
	if _, err := rc.checkEffect(action); err != nil {
		return 0, err
	}
	return rc.s.Schedule(action, delay, value)
}

// ScheduleOutputReactions queues the reactions downstream of the ports this
// reaction has set so far.
func (rc *ReactionContext) ScheduleOutputReactions() error {
	return rc.s.ScheduleOutputReactions(rc.reaction)
}

// RequestStop ends the run after the current instant.
func (rc *ReactionContext) RequestStop() { rc.s.RequestStop() }

// ScheduleShutdown ends the run at the current logical time plus delay.
// Events later than that are never processed. A zero delay is RequestStop.
func (rc *ReactionContext) ScheduleShutdown(delay ir.Interval) {
	if delay <= 0 {
		rc.s.RequestStop()
		return
	}
	rc.s.clock.tightenStop(rc.tag.Time.Add(delay))
}

// SleepPhysical blocks on the physical clock. Reactions use it to model work
// that takes real time.
func (rc *ReactionContext) SleepPhysical(d ir.Interval) {
	rc.s.cfg.phys.Sleep(d.Duration())
}
