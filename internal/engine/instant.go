package engine

import (
	"context"

	"github.com/roach88/tempo/internal/ir"
	"github.com/roach88/tempo/internal/pool"
)

// Step processes at most one instant. It reports false once the run should
// end: stop was requested, the stop time was reached, or the event queue is
// empty without keepalive. Step blocks while waiting for physical time or,
// under keepalive, for input.
func (s *Scheduler) Step(ctx context.Context) (bool, error) {
	if !s.initialized {
		if err := s.Initialize(); err != nil {
			return false, err
		}
	}
	if s.finished {
		return false, nil
	}
	defer s.flush(context.WithoutCancel(ctx))

	for {
		s.drainIngress()
		if s.clock.StopRequested() {
			return false, nil
		}

		next, ok := s.events.nextTag()
		stop, hasStop := s.clock.StopTime()
		if ok && hasStop && next.Time > stop {
			// Only reachable after ScheduleShutdown pulled the stop time in.
			s.stopAt(stop)
			s.RequestStop()
			return false, nil
		}

		if !ok {
			if !s.cfg.keepAlive {
				s.log.Debug("event queue empty, terminating", "tag", s.clock.CurrentTag())
				s.RequestStop()
				return false, nil
			}
			switch s.waitFor(ctx, stop, hasStop) {
			case wakeInput:
				continue
			case wakeDue:
				s.stopAt(stop)
				s.RequestStop()
				return false, nil
			case wakeStop:
				return false, nil
			case wakeCancel:
				s.RequestStop()
				return false, ctx.Err()
			}
			continue
		}

		if !s.cfg.fast {
			switch s.waitFor(ctx, next.Time, true) {
			case wakeInput:
				// An async event may precede next.
				continue
			case wakeStop:
				return false, nil
			case wakeCancel:
				s.RequestStop()
				return false, ctx.Err()
			}
		}

		if err := s.processInstant(next, nil); err != nil {
			s.aborted = true
			s.RequestStop()
			return false, err
		}
		if hasStop && next.Time >= stop {
			s.RequestStop()
			return false, nil
		}
		return true, nil
	}
}

// processInstant advances the clock to tag, marks every trigger with an
// event at tag (plus extra) present, and dispatches the resulting reactions
// in priority order. The instant's events and values are recycled before it
// returns, even on error.
func (s *Scheduler) processInstant(tag ir.Tag, extra []TriggerID) error {
	s.clock.advance(tag)
	s.processedCurrent = true
	seq := s.stats.Instants
	s.stats.Instants++

	var names []string
	var err error
	activate := func(trigger TriggerID, value pool.Ref) {
		if s.markPresent(trigger, value) {
			names = append(names, s.prog.triggers[trigger].Name)
		}
		if err == nil {
			err = s.enqueueReactions(trigger)
		}
	}

	for {
		e, ok := s.events.popAt(tag)
		if !ok {
			break
		}
		s.consumed = append(s.consumed, e.ref)
		ev, gerr := s.pools.events.Get(e.ref)
		if gerr != nil {
			s.log.Error("queued event is stale", "ref", e.ref, "error", gerr)
			continue
		}
		spec := s.prog.triggers[ev.trigger]
		if spec.Kind == KindTimer && spec.Period > 0 {
			if _, perr := s.enqueue(ev.trigger, ir.TagAt(tag.Time.Add(spec.Period)), nil, s.nextHandle()); perr != nil {
				s.log.Debug("timer not re-armed", "trigger", spec.Name, "error", perr)
			}
		}
		activate(ev.trigger, ev.value)
	}
	for _, t := range extra {
		activate(t, pool.Ref{})
	}

	s.log.Debug("instant", "tag", tag, "triggers", names, "reactions", s.reactions.len())
	s.record(ir.InstantRecord{
		RunID:    s.runID,
		Seq:      seq,
		Tag:      tag,
		Elapsed:  tag.Since(s.clock.StartTime()),
		Triggers: names,
	})

	if err == nil {
		err = s.dispatchAll(seq)
	}
	s.reactions.clear()
	s.endInstant()
	return err
}

// markPresent hands value to trigger for the rest of the instant. A later
// event for the same trigger replaces the earlier value. It reports whether
// the trigger was newly present.
func (s *Scheduler) markPresent(trigger TriggerID, value pool.Ref) bool {
	st := &s.triggers[trigger]
	if st.present {
		if err := s.pools.releaseValue(st.value); err != nil {
			s.log.Error("release overwritten value", "trigger", s.prog.triggerName(trigger), "error", err)
		}
		st.value = value
		return false
	}
	st.present = true
	st.value = value
	s.present = append(s.present, trigger)
	return true
}

func (s *Scheduler) dispatchAll(instant int64) error {
	for {
		r, ok := s.reactions.pop()
		if !ok {
			return nil
		}
		s.inDispatch = true
		s.dispatching = r
		if err := s.dispatch(r, instant); err != nil {
			return err
		}
	}
}

func (s *Scheduler) dispatch(r reactionEntry, instant int64) error {
	spec := s.prog.reactions[r.id]
	tag := s.clock.CurrentTag()
	lag := s.clock.lag(tag.Time)
	rc := &ReactionContext{s: s, reaction: r.id, tag: tag}

	missed := spec.Deadline > 0 && lag > spec.Deadline
	if missed {
		v := DeadlineViolation{Reaction: spec.Name, Tag: tag, Deadline: spec.Deadline, Lag: lag}
		s.stats.DeadlineMisses++
		s.log.Warn("deadline violated",
			"reaction", spec.Name,
			"tag", tag,
			"deadline", spec.Deadline,
			"lag", lag,
		)
		if s.cfg.onDeadline != nil {
			s.cfg.onDeadline(v)
		}
		if spec.OnDeadline != nil {
			spec.OnDeadline(rc, v)
		}
	}

	s.record(ir.DispatchRecord{
		RunID:    s.runID,
		Seq:      s.stats.Dispatches,
		Instant:  instant,
		Tag:      tag,
		Reaction: spec.Name,
		Priority: spec.Priority,
		Lag:      lag,
		Missed:   missed,
	})
	s.stats.Dispatches++

	if err := spec.Body(rc); err != nil {
		// Log and continue: a failing body does not change the ordering of
		// the rest of the instant.
		s.log.Error("reaction failed",
			"reaction", spec.Name,
			"tag", tag,
			"error", err,
		)
	}
	if s.fatal != nil {
		return s.fatal
	}
	return s.ScheduleOutputReactions(r.id)
}

// endInstant recycles everything consumed in the instant.
func (s *Scheduler) endInstant() {
	for _, t := range s.present {
		st := &s.triggers[t]
		if err := s.pools.releaseValue(st.value); err != nil {
			s.log.Error("release trigger value", "trigger", s.prog.triggerName(t), "error", err)
		}
		st.present = false
		st.value = pool.Ref{}
	}
	s.present = s.present[:0]

	for _, ref := range s.consumed {
		if err := s.pools.releaseEvent(ref, false); err != nil {
			s.log.Error("release consumed event", "ref", ref, "error", err)
		}
	}
	s.consumed = s.consumed[:0]

	clear(s.produced)
	s.inDispatch = false
	s.dispatching = reactionEntry{}
	s.fatal = nil
}

// Shutdown ends the run: it fires shutdown triggers in a final instant
// (unless the run aborted), discards undelivered events, and records the
// run's end. Idempotent.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	if !s.initialized || s.finished {
		return nil
	}
	s.RequestStop()
	ctx = context.WithoutCancel(ctx)

	var err error
	if !s.aborted {
		var shutdowns []TriggerID
		for i, spec := range s.prog.triggers {
			if spec.Kind == KindShutdown {
				shutdowns = append(shutdowns, TriggerID(i))
			}
		}
		if len(shutdowns) > 0 {
			err = s.processInstant(s.shutdownTag(), shutdowns)
		}
	}

	for _, req := range s.ingress.Close() {
		s.dropAsync(req, "run finished")
	}
	if n := s.events.len(); n > 0 {
		first, _ := s.events.nextTag()
		s.log.Warn("unprocessed future events",
			"count", n,
			"first_elapsed", first.Since(s.clock.StartTime()),
		)
	}
	s.events.clear(func(e eventEntry) {
		if rerr := s.pools.releaseEvent(e.ref, true); rerr != nil {
			s.log.Error("release pending event", "ref", e.ref, "error", rerr)
		}
	})

	s.finished = true
	stats := s.Stats()
	s.record(runEnd{runID: s.runID, stats: stats})
	s.flush(ctx)

	s.log.Info("scheduler stopped",
		"run_id", s.runID,
		"final_tag", stats.FinalTag,
		"elapsed_logical", s.clock.ElapsedLogicalTime(),
		"elapsed_physical", s.clock.ElapsedPhysicalTime(),
		"instants", stats.Instants,
		"dispatches", stats.Dispatches,
		"scheduled", stats.Scheduled,
		"dropped", stats.Dropped,
		"deadline_misses", stats.DeadlineMisses,
		"event_reuses", stats.EventReuses,
	)
	return err
}

// shutdownTag is the tag of the final instant: the stop time if the run
// waited until it, otherwise one microstep after the last instant.
func (s *Scheduler) shutdownTag() ir.Tag {
	if s.shutdownAt != nil {
		return *s.shutdownAt
	}
	cur := s.clock.CurrentTag()
	if !s.processedCurrent {
		return cur
	}
	return cur.Delay(0)
}
