package engine

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/roach88/tempo/internal/ir"
	"github.com/roach88/tempo/internal/pool"
)

// Scheduler is the driver of one run of a Program.
//
// Thread-safety model:
//   - Initialize, Schedule, Step, Run, Shutdown: driver goroutine only
//   - ScheduleAsync, RequestStop and the clock readers: any goroutine
//
// Reaction bodies run synchronously on the driver goroutine and may call
// back into the scheduler through their ReactionContext.
type Scheduler struct {
	prog  *Program
	cfg   config
	log   *slog.Logger
	clock *Clock

	handles *Sequence
	ingress *ingress
	stopCh  chan struct{}
	started atomic.Bool

	events    *eventQueue
	reactions *reactionQueue
	pools     *pools
	triggers  []triggerState

	runID            string
	initialized      bool
	finished         bool
	aborted          bool
	processedCurrent bool
	shutdownAt       *ir.Tag
	insertSeq        int64

	// Per-instant state, reset by endInstant.
	present     []TriggerID
	consumed    []pool.Ref
	produced    map[ReactionID][]TriggerID
	inDispatch  bool
	dispatching reactionEntry
	fatal       error

	stats       ir.RunStats
	scheduleSeq int64
	records     []any
}

// New creates a scheduler for prog. Call Initialize (or Run) before
// scheduling.
func New(prog *Program, opts ...Option) *Scheduler {
	cfg := config{
		phys:   SystemClock(),
		logger: slog.Default(),
		runIDs: UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Scheduler{
		prog:    prog,
		cfg:     cfg,
		log:     cfg.logger,
		clock:   newClock(cfg.phys),
		handles: NewSequenceAt(cfg.handleStart),
		ingress: newIngress(),
		stopCh:  make(chan struct{}),
	}
}

// Initialize sets up the clock, both queues and both pools, and schedules
// startup and timer triggers. It must be called exactly once; a second call
// returns ErrAlreadyInitialized and changes nothing.
func (s *Scheduler) Initialize() error {
	if s.initialized {
		return ErrAlreadyInitialized
	}
	if err := s.prog.Validate(); err != nil {
		return err
	}

	physStart := s.cfg.phys.Now()
	start := ir.InstantOf(physStart)
	if s.cfg.hasStartTime {
		start = s.cfg.startTime
	}
	s.clock.reset(start, physStart, s.cfg.duration)

	s.events = newEventQueue()
	s.reactions = newReactionQueue()
	s.pools = newPools()
	s.triggers = make([]triggerState, s.prog.NumTriggers())
	s.produced = make(map[ReactionID][]TriggerID)
	s.runID = s.cfg.runIDs.Generate()
	s.initialized = true
	s.started.Store(true)

	stop, _ := s.clock.StopTime()
	s.record(ir.RunInfo{
		ID:        s.runID,
		Program:   s.prog.Name,
		StartTime: start,
		StopTime:  stop,
		KeepAlive: s.cfg.keepAlive,
		Fast:      s.cfg.fast,
		Version:   ir.EngineVersion,
	})

	for i, spec := range s.prog.triggers {
		id := TriggerID(i)
		var tag ir.Tag
		switch spec.Kind {
		case KindStartup:
			tag = ir.TagAt(start)
		case KindTimer:
			tag = ir.TagAt(start.Add(spec.Offset))
		default:
			continue
		}
		if _, err := s.enqueue(id, tag, nil, s.nextHandle()); err != nil {
			s.log.Debug("initial event not scheduled", "trigger", spec.Name, "error", err)
		}
	}

	s.log.Info("scheduler initialized",
		"run_id", s.runID,
		"program", s.prog.Name,
		"start", start,
		"stop", stop,
		"keepalive", s.cfg.keepAlive,
		"fast", s.cfg.fast,
	)
	return nil
}

func (s *Scheduler) nextHandle() Handle {
	return Handle(s.handles.Next())
}

// checkSchedulable validates a scheduling request common to Schedule and
// ScheduleAsync.
func (s *Scheduler) checkSchedulable(trigger TriggerID, delay ir.Interval, async bool) (TriggerSpec, error) {
	if !s.started.Load() {
		return TriggerSpec{}, newNotInitializedError()
	}
	spec, ok := s.prog.Trigger(trigger)
	if !ok {
		return TriggerSpec{}, newUnknownTriggerError(trigger)
	}
	if delay < 0 {
		return TriggerSpec{}, newInvalidDelayError(spec.Name, delay)
	}
	switch {
	case spec.Kind == KindPhysicalAction:
	case spec.Kind == KindLogicalAction && !async:
	default:
		return TriggerSpec{}, &RuntimeError{
			Code:    ErrCodeNotSchedulable,
			Message: spec.Kind.String() + " triggers cannot be scheduled here",
			Trigger: spec.Name,
		}
	}
	if s.clock.StopRequested() {
		return TriggerSpec{}, newStopRequestedError(spec.Name)
	}
	return spec, nil
}

// Schedule posts a future event for trigger and returns its handle.
//
// A logical action lands at the current tag delayed by its minimum delay
// plus delay; a zero total delay yields the next microstep. A physical
// action lands at the current physical time plus the same delay. value is
// owned by the scheduler until the trigger's instant ends.
//
// Errors: INVALID_DELAY for a negative delay, PAST_STOP when the tag is
// beyond the stop time (the event is dropped), STOP_REQUESTED after stop.
// A min-spacing policy may drop or merge the event; the handle is then 0.
func (s *Scheduler) Schedule(trigger TriggerID, delay ir.Interval, value any) (Handle, error) {
	spec, err := s.checkSchedulable(trigger, delay, false)
	if err != nil {
		return 0, err
	}
	var tag ir.Tag
	if spec.Kind == KindPhysicalAction {
		tag = s.physicalTag(spec.Offset+delay, s.clock.ElapsedPhysicalTime())
	} else {
		tag = s.clock.CurrentTag().Delay(spec.Offset + delay)
	}
	return s.enqueue(trigger, tag, value, s.nextHandle())
}

// ScheduleAsync posts a physical action from any goroutine. The event's tag
// is derived from the physical time of this call; the driver inserts it at
// the next instant boundary (waking up if it is blocked). Rejections found
// at insertion time, such as PAST_STOP, are logged and recorded, not
// returned.
func (s *Scheduler) ScheduleAsync(trigger TriggerID, delay ir.Interval, value any) (Handle, error) {
	spec, err := s.checkSchedulable(trigger, delay, true)
	if err != nil {
		return 0, err
	}
	h := s.nextHandle()
	req := asyncRequest{
		trigger:  trigger,
		delay:    delay,
		value:    value,
		handle:   h,
		physical: s.clock.ElapsedPhysicalTime(),
	}
	if !s.ingress.Enqueue(req) {
		return 0, newStopRequestedError(spec.Name)
	}
	return h, nil
}

// physicalTag maps physical elapsed time plus d onto a tag that is not
// earlier than the current instant.
func (s *Scheduler) physicalTag(d ir.Interval, elapsed ir.Interval) ir.Tag {
	cur := s.clock.CurrentTag()
	tag := ir.TagAt(s.clock.StartTime().Add(elapsed).Add(d))
	if tag.Before(cur) || (tag == cur && s.processedCurrent) {
		tag = cur.Delay(d)
	}
	return tag
}

func (s *Scheduler) drainIngress() {
	for _, req := range s.ingress.Drain() {
		spec := s.prog.triggers[req.trigger]
		if s.clock.StopRequested() {
			s.dropAsync(req, "stop requested")
			continue
		}
		tag := s.physicalTag(spec.Offset+req.delay, req.physical)
		if _, err := s.enqueue(req.trigger, tag, req.value, req.handle); err != nil {
			s.log.Warn("async event rejected",
				"trigger", spec.Name,
				"handle", req.handle,
				"error", err,
			)
		}
	}
}

func (s *Scheduler) dropAsync(req asyncRequest, reason string) {
	s.stats.Dropped++
	s.recordSchedule(req.handle, req.trigger, s.clock.CurrentTag(), req.value, ir.OutcomeDropped)
	s.log.Warn("async event dropped",
		"trigger", s.prog.triggerName(req.trigger),
		"handle", req.handle,
		"reason", reason,
	)
}

// enqueue applies the trigger's min-spacing policy and the stop bound, then
// inserts the event. A rejected event leaves the queue untouched.
func (s *Scheduler) enqueue(trigger TriggerID, tag ir.Tag, value any, handle Handle) (Handle, error) {
	spec := s.prog.triggers[trigger]
	st := &s.triggers[trigger]
	outcome := ir.OutcomeScheduled
	replace := false

	isAction := spec.Kind == KindLogicalAction || spec.Kind == KindPhysicalAction
	if isAction && st.hasLast {
		pending := s.events.contains(st.last)
		earliest := st.lastTag.Time.Add(spec.MinSpacing)
		var conflict bool
		if spec.MinSpacing > 0 {
			conflict = tag.Time < earliest
		} else {
			conflict = tag == st.lastTag && spec.Policy != PolicyDefer
		}

		if conflict {
			deferTo := func() {
				if d := ir.TagAt(earliest); d.After(tag) {
					tag = d
				}
			}
			switch spec.Policy {
			case PolicyDrop:
				s.stats.Dropped++
				s.recordSchedule(handle, trigger, tag, value, ir.OutcomeDropped)
				s.log.Debug("event dropped by min spacing", "trigger", spec.Name, "tag", tag)
				return 0, nil
			case PolicyUpdate:
				if pending {
					return 0, s.updatePending(trigger, st.last, value, handle)
				}
				deferTo()
			case PolicyReplace:
				if pending {
					// Removed only once the new event passes the stop bound.
					replace = true
				} else {
					deferTo()
				}
			default:
				deferTo()
			}
		}
	}

	// (stop, 0) is the last tag the run processes; a zero-delay event
	// scheduled at the stop time would land after it.
	if stop, ok := s.clock.StopTime(); ok && tag.After(ir.TagAt(stop)) {
		s.stats.Dropped++
		s.recordSchedule(handle, trigger, tag, value, ir.OutcomePastStop)
		s.log.Debug("event past stop time dropped", "trigger", spec.Name, "tag", tag, "stop", stop)
		return 0, newPastStopError(spec.Name, tag, stop)
	}

	if replace {
		s.events.remove(st.last)
		if err := s.pools.releaseEvent(st.last, true); err != nil {
			s.log.Error("release replaced event", "trigger", spec.Name, "error", err)
		}
		outcome = ir.OutcomeReplaced
	}

	ref := s.pools.events.Alloc(event{
		tag:     tag,
		trigger: trigger,
		value:   s.pools.allocValue(value),
		handle:  handle,
	})
	s.insertSeq++
	if err := s.events.push(eventEntry{ref: ref, tag: tag, seq: s.insertSeq}); err != nil {
		_ = s.pools.releaseEvent(ref, true)
		return 0, err
	}
	st.last, st.lastTag, st.hasLast = ref, tag, true

	s.stats.Scheduled++
	s.recordSchedule(handle, trigger, tag, value, outcome)
	s.log.Debug("event scheduled",
		"trigger", spec.Name,
		"tag", tag,
		"handle", handle,
		"outcome", outcome,
	)
	return handle, nil
}

// updatePending overwrites the payload of a queued event in place.
func (s *Scheduler) updatePending(trigger TriggerID, ref pool.Ref, value any, handle Handle) error {
	ev, err := s.pools.events.Get(ref)
	if err != nil {
		return err
	}
	if err := s.pools.releaseValue(ev.value); err != nil {
		return err
	}
	ev.value = s.pools.allocValue(value)
	if err := s.pools.events.Set(ref, ev); err != nil {
		return err
	}
	s.recordSchedule(handle, trigger, ev.tag, value, ir.OutcomeUpdated)
	return nil
}

// ScheduleOutputReactions enqueues, for the current instant, the reactions
// downstream of every port the dispatching reaction r has set. Reactions
// already queued are not queued twice. It may only be called while r is
// being dispatched.
func (s *Scheduler) ScheduleOutputReactions(r ReactionID) error {
	if !s.prog.validReaction(r) {
		return &RuntimeError{
			Code:    ErrCodeUnknownReaction,
			Message: "reaction is not registered",
		}
	}
	if !s.inDispatch || s.dispatching.id != r {
		return &RuntimeError{
			Code:     ErrCodeUnknownReaction,
			Message:  "reaction is not being dispatched",
			Reaction: s.prog.reactionName(r),
		}
	}
	for _, port := range s.produced[r] {
		if err := s.enqueueReactions(port); err != nil {
			if IsFatal(err) && s.fatal == nil {
				s.fatal = err
			}
			return err
		}
	}
	return nil
}

// enqueueReactions queues every reaction sensitive to trigger.
func (s *Scheduler) enqueueReactions(trigger TriggerID) error {
	tag := s.clock.CurrentTag()
	for _, rid := range s.prog.sensitive[trigger] {
		r := s.prog.reactions[rid]
		if s.inDispatch && r.Priority <= s.dispatching.priority {
			return newPriorityInversionError(tag,
				s.prog.reactionName(s.dispatching.id), s.dispatching.priority, r.Name, r.Priority)
		}
		if err := s.reactions.insert(s.prog, tag, reactionEntry{id: rid, priority: r.Priority}); err != nil {
			return err
		}
	}
	return nil
}

// RequestStop asks the run to end after the current instant. Safe from any
// goroutine, including deadline handlers and reaction bodies.
func (s *Scheduler) RequestStop() {
	if s.clock.RequestStop() {
		close(s.stopCh)
		s.log.Info("stop requested", "tag", s.clock.CurrentTag())
	}
}

// StopRequested reports whether stop has been requested.
func (s *Scheduler) StopRequested() bool { return s.clock.StopRequested() }

// stopAt records that the run ended because logical time reached t.
func (s *Scheduler) stopAt(t ir.Instant) {
	if tag := ir.TagAt(t); tag.After(s.clock.CurrentTag()) {
		s.shutdownAt = &tag
	}
}

// Clock returns the run's clock.
func (s *Scheduler) Clock() *Clock { return s.clock }

// Program returns the program being run.
func (s *Scheduler) Program() *Program { return s.prog }

// RunID returns the run identifier assigned by Initialize.
func (s *Scheduler) RunID() string { return s.runID }

// LogicalTime returns the current logical instant.
func (s *Scheduler) LogicalTime() ir.Instant { return s.clock.LogicalTime() }

// ElapsedLogicalTime returns the current logical time minus the start time.
func (s *Scheduler) ElapsedLogicalTime() ir.Interval { return s.clock.ElapsedLogicalTime() }

// PhysicalTime samples the physical clock.
func (s *Scheduler) PhysicalTime() ir.Instant { return s.clock.PhysicalTime() }

// ElapsedPhysicalTime returns physical time elapsed since Initialize.
func (s *Scheduler) ElapsedPhysicalTime() ir.Interval { return s.clock.ElapsedPhysicalTime() }

// CurrentTag returns the tag of the current instant.
func (s *Scheduler) CurrentTag() ir.Tag { return s.clock.CurrentTag() }

// StopTime returns the stop instant if the run is bounded.
func (s *Scheduler) StopTime() (ir.Instant, bool) { return s.clock.StopTime() }

// KeepAlive reports whether the run waits for input on an empty queue.
func (s *Scheduler) KeepAlive() bool { return s.cfg.keepAlive }

// PendingEvents returns the number of queued events.
func (s *Scheduler) PendingEvents() int {
	if s.events == nil {
		return 0
	}
	return s.events.len()
}

// Stats returns counters for the run so far.
func (s *Scheduler) Stats() ir.RunStats {
	st := s.stats
	if s.pools != nil {
		ev, val := s.pools.stats()
		st.EventAllocs = ev.Fresh
		st.EventReuses = ev.Reused
		st.ValueAllocs = val.Fresh
		st.ValueReuses = val.Reused
	}
	st.FinalTag = s.clock.CurrentTag()
	return st
}

// Run initializes the scheduler if needed, processes instants until the run
// ends, then runs the shutdown instant. A fatal error aborts the run without
// a shutdown instant. Context cancellation is treated as a stop request and
// returned.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.initialized {
		if err := s.Initialize(); err != nil {
			return err
		}
	}
	s.log.Info("scheduler starting", "run_id", s.runID)

	var runErr error
	for {
		more, err := s.Step(ctx)
		if err != nil {
			runErr = err
			break
		}
		if !more {
			break
		}
	}

	if err := s.Shutdown(ctx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}
