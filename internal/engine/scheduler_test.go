package engine

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tempo/internal/ir"
	"github.com/roach88/tempo/internal/testutil"
)

var testStart = ir.InstantOf(testutil.Epoch)

// newTestScheduler returns a deterministic scheduler: fixed start time,
// manual physical clock, fast mode, silent logger. opts override these.
func newTestScheduler(p *Program, opts ...Option) *Scheduler {
	base := []Option{
		WithLogger(testutil.DiscardLogger()),
		WithStartTime(testStart),
		WithPhysicalClock(testutil.NewManualClock(testutil.Epoch)),
		WithRunIDGenerator(testutil.NewFixedRunID("")),
		WithFast(true),
	}
	return New(p, append(base, opts...)...)
}

// observation is what a reaction saw when it ran.
type observation struct {
	reaction string
	tag      ir.Tag
	value    any
	present  bool
}

type observer struct {
	seen []observation
}

// body returns a reaction body that records the value of trigger.
func (o *observer) body(trigger TriggerID) ReactionBody {
	return func(rc *ReactionContext) error {
		v, ok := rc.Get(trigger)
		o.seen = append(o.seen, observation{reaction: rc.Reaction(), tag: rc.Tag(), value: v, present: ok})
		return nil
	}
}

func (o *observer) reactions() []string {
	out := make([]string, len(o.seen))
	for i, s := range o.seen {
		out[i] = s.reaction
	}
	return out
}

func mustTrigger(t *testing.T, p *Program, spec TriggerSpec) TriggerID {
	t.Helper()
	id, err := p.AddTrigger(spec)
	require.NoError(t, err)
	return id
}

func mustReaction(t *testing.T, p *Program, spec ReactionSpec) ReactionID {
	t.Helper()
	id, err := p.AddReaction(spec)
	require.NoError(t, err)
	return id
}

func TestScheduler_ZeroDelayDispatchesAtStartTime(t *testing.T) {
	p := NewProgram("zero")
	act := mustTrigger(t, p, TriggerSpec{Name: "t", Kind: KindLogicalAction})
	var obs observer
	mustReaction(t, p, ReactionSpec{Name: "r", Priority: 1, Triggers: []TriggerID{act}, Body: obs.body(act)})

	s := newTestScheduler(p)
	require.NoError(t, s.Initialize())

	h, err := s.Schedule(act, 0, 5)
	require.NoError(t, err)
	assert.Equal(t, Handle(1), h)

	more, err := s.Step(context.Background())
	require.NoError(t, err)
	assert.True(t, more)

	require.Len(t, obs.seen, 1)
	assert.Equal(t, 5, obs.seen[0].value)
	assert.Equal(t, testStart, obs.seen[0].tag.Time)
	assert.Equal(t, uint32(1), obs.seen[0].tag.Microstep)
	assert.Equal(t, testStart, s.LogicalTime())

	more, err = s.Step(context.Background())
	require.NoError(t, err)
	assert.False(t, more)
}

func TestScheduler_SameTagEventsShareOneInstant(t *testing.T) {
	p := NewProgram("same")
	act := mustTrigger(t, p, TriggerSpec{Name: "t", Kind: KindLogicalAction})
	var obs observer
	mustReaction(t, p, ReactionSpec{Name: "r", Priority: 1, Triggers: []TriggerID{act}, Body: obs.body(act)})

	s := newTestScheduler(p)
	require.NoError(t, s.Initialize())

	_, err := s.Schedule(act, 10*ir.Msec, "A")
	require.NoError(t, err)
	_, err = s.Schedule(act, 10*ir.Msec, "B")
	require.NoError(t, err)

	events := s.Events()
	require.Len(t, events, 2)
	assert.Equal(t, events[0].Tag, events[1].Tag)
	assert.Equal(t, "A", events[0].Value)
	assert.Equal(t, "B", events[1].Value)

	more, err := s.Step(context.Background())
	require.NoError(t, err)
	assert.True(t, more)

	// Both events are consumed by one instant; the reaction runs once and
	// sees the later value.
	assert.Equal(t, 0, s.PendingEvents())
	assert.Equal(t, int64(1), s.Stats().Instants)
	require.Len(t, obs.seen, 1)
	assert.Equal(t, "B", obs.seen[0].value)
	assert.Equal(t, testStart.Add(10*ir.Msec), obs.seen[0].tag.Time)
}

func TestScheduler_PastStopIsDropped(t *testing.T) {
	p := NewProgram("bounded")
	act := mustTrigger(t, p, TriggerSpec{Name: "t", Kind: KindLogicalAction})
	mustReaction(t, p, ReactionSpec{Name: "r", Priority: 1, Triggers: []TriggerID{act}, Body: nop})

	s := newTestScheduler(p, WithDuration(100*ir.Msec))
	require.NoError(t, s.Initialize())

	h, err := s.Schedule(act, 150*ir.Msec, nil)
	require.Error(t, err)
	assert.True(t, IsPastStop(err))
	assert.Equal(t, Handle(0), h)
	assert.Equal(t, 0, s.PendingEvents())

	require.NoError(t, s.Run(context.Background()))
	stop, ok := s.StopTime()
	require.True(t, ok)
	assert.LessOrEqual(t, s.LogicalTime(), stop)
	assert.Equal(t, int64(1), s.Stats().Dropped)
}

func TestScheduler_ZeroDelayAtStopTimeIsPastStop(t *testing.T) {
	for _, withShutdown := range []bool{false, true} {
		name := "no shutdown trigger"
		if withShutdown {
			name = "shutdown trigger"
		}
		t.Run(name, func(t *testing.T) {
			p := NewProgram("stop-microstep")
			start := mustTrigger(t, p, TriggerSpec{Name: "start", Kind: KindStartup})
			act := mustTrigger(t, p, TriggerSpec{Name: "act", Kind: KindLogicalAction})
			mustReaction(t, p, ReactionSpec{
				Name: "plan", Priority: 1, Triggers: []TriggerID{start}, Effects: []TriggerID{act},
				Body: func(rc *ReactionContext) error {
					_, err := rc.Schedule(act, 100*ir.Msec, "first")
					return err
				},
			})
			var (
				runs   int
				handle Handle
				again  error
			)
			mustReaction(t, p, ReactionSpec{
				Name: "r", Priority: 2, Triggers: []TriggerID{act}, Effects: []TriggerID{act},
				Body: func(rc *ReactionContext) error {
					runs++
					if runs == 1 {
						handle, again = rc.Schedule(act, 0, "again")
					}
					return nil
				},
			})
			if withShutdown {
				shutdown := mustTrigger(t, p, TriggerSpec{Name: "shutdown", Kind: KindShutdown})
				mustReaction(t, p, ReactionSpec{Name: "bye", Priority: 3, Triggers: []TriggerID{shutdown}, Body: nop})
			}

			s := newTestScheduler(p, WithDuration(100*ir.Msec))
			require.NoError(t, s.Run(context.Background()))

			require.Error(t, again)
			assert.True(t, IsPastStop(again))
			assert.Equal(t, Handle(0), handle)
			assert.Equal(t, 1, runs)
			assert.Equal(t, int64(1), s.Stats().Dropped)
		})
	}
}

func TestScheduler_EmptyQueueTerminatesImmediately(t *testing.T) {
	p := NewProgram("empty")
	act := mustTrigger(t, p, TriggerSpec{Name: "t", Kind: KindLogicalAction})
	mustReaction(t, p, ReactionSpec{Name: "r", Priority: 1, Triggers: []TriggerID{act}, Body: nop})

	// Real-time mode: nothing to wait for, so no blocking either.
	s := newTestScheduler(p, WithFast(false))

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run blocked with an empty event queue")
	}
	assert.Equal(t, int64(0), s.Stats().Instants)
	assert.True(t, s.StopRequested())
}

func TestScheduler_InstantsInTagOrder(t *testing.T) {
	p := NewProgram("order")
	act := mustTrigger(t, p, TriggerSpec{Name: "t", Kind: KindLogicalAction})
	var tags []ir.Tag
	mustReaction(t, p, ReactionSpec{
		Name:     "r",
		Priority: 1,
		Triggers: []TriggerID{act},
		Effects:  []TriggerID{act},
		Body: func(rc *ReactionContext) error {
			tags = append(tags, rc.Tag())
			assert.Equal(t, rc.LogicalTime().Sub(rc.StartTime()), rc.ElapsedLogicalTime())
			if rc.Tag().Microstep < 2 {
				// Zero-delay follow-up lands on the next microstep.
				_, err := rc.Schedule(act, 0, nil)
				return err
			}
			return nil
		},
	})

	s := newTestScheduler(p)
	require.NoError(t, s.Initialize())

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 50; i++ {
		_, err := s.Schedule(act, ir.Interval(rng.Intn(20))*ir.Msec, i)
		require.NoError(t, err)
	}
	require.NoError(t, s.Run(context.Background()))

	require.NotEmpty(t, tags)
	for i := 1; i < len(tags); i++ {
		assert.True(t, tags[i-1].Before(tags[i]), "instant %s not after %s", tags[i], tags[i-1])
	}
}

func TestScheduler_ReactionsRunInPriorityOrder(t *testing.T) {
	p := NewProgram("prio")
	start := mustTrigger(t, p, TriggerSpec{Name: "start", Kind: KindStartup})
	var obs observer
	for _, r := range []struct {
		name string
		prio int64
	}{{"c", 30}, {"a", 10}, {"b", 20}} {
		mustReaction(t, p, ReactionSpec{Name: r.name, Priority: r.prio, Triggers: []TriggerID{start}, Body: obs.body(start)})
	}

	s := newTestScheduler(p)
	require.NoError(t, s.Run(context.Background()))

	assert.Equal(t, []string{"a", "b", "c"}, obs.reactions())
	for _, o := range obs.seen {
		assert.Equal(t, ir.TagAt(testStart), o.tag)
		assert.True(t, o.present)
	}
}

func TestScheduler_DuplicatePriorityAbortsRun(t *testing.T) {
	p := NewProgram("dup")
	start := mustTrigger(t, p, TriggerSpec{Name: "start", Kind: KindStartup})
	shutdown := mustTrigger(t, p, TriggerSpec{Name: "shutdown", Kind: KindShutdown})
	mustReaction(t, p, ReactionSpec{Name: "a", Priority: 1, Triggers: []TriggerID{start}, Body: nop})
	mustReaction(t, p, ReactionSpec{Name: "b", Priority: 1, Triggers: []TriggerID{start}, Body: nop})
	var obs observer
	mustReaction(t, p, ReactionSpec{Name: "bye", Priority: 9, Triggers: []TriggerID{shutdown}, Body: obs.body(shutdown)})

	s := newTestScheduler(p)
	err := s.Run(context.Background())
	require.Error(t, err)
	assert.True(t, IsDuplicatePriority(err))
	assert.Empty(t, obs.seen, "aborted runs skip the shutdown instant")
	assert.Equal(t, int64(0), s.Stats().Dispatches)
}

func TestScheduler_TimerStaysWithinStopTime(t *testing.T) {
	p := NewProgram("timer")
	tick := mustTrigger(t, p, TriggerSpec{Name: "tick", Kind: KindTimer, Offset: 0, Period: 25 * ir.Msec})
	var obs observer
	mustReaction(t, p, ReactionSpec{Name: "r", Priority: 1, Triggers: []TriggerID{tick}, Body: obs.body(tick)})

	s := newTestScheduler(p, WithDuration(100*ir.Msec))
	require.NoError(t, s.Run(context.Background()))

	require.Len(t, obs.seen, 5)
	for i, o := range obs.seen {
		assert.Equal(t, ir.TagAt(testStart.Add(ir.Interval(i)*25*ir.Msec)), o.tag)
	}
	stop, _ := s.StopTime()
	assert.Equal(t, stop, s.LogicalTime())
	assert.Equal(t, 0, s.PendingEvents())
}

func TestScheduler_ValuesAreRecycledWithoutStaleReads(t *testing.T) {
	p := NewProgram("chain")
	start := mustTrigger(t, p, TriggerSpec{Name: "start", Kind: KindStartup})
	act := mustTrigger(t, p, TriggerSpec{Name: "a", Kind: KindLogicalAction})
	mustReaction(t, p, ReactionSpec{
		Name: "kick", Priority: 1, Triggers: []TriggerID{start}, Effects: []TriggerID{act},
		Body: func(rc *ReactionContext) error {
			_, err := rc.Schedule(act, ir.Msec, 0)
			return err
		},
	})
	var seen []any
	mustReaction(t, p, ReactionSpec{
		Name: "step", Priority: 2, Triggers: []TriggerID{act, start}, Effects: []TriggerID{act},
		Body: func(rc *ReactionContext) error {
			v, ok := rc.Get(act)
			if !ok {
				// Startup instant: the action is absent, not stale.
				assert.Nil(t, v)
				return nil
			}
			seen = append(seen, v)
			if n := v.(int); n < 5 {
				_, err := rc.Schedule(act, ir.Msec, n+1)
				return err
			}
			return nil
		},
	})

	s := newTestScheduler(p)
	require.NoError(t, s.Run(context.Background()))

	assert.Equal(t, []any{0, 1, 2, 3, 4, 5}, seen)
	st := s.Stats()
	assert.Positive(t, st.EventReuses)
	assert.Positive(t, st.ValueReuses)
}

func TestScheduler_Ports(t *testing.T) {
	p := NewProgram("ports")
	start := mustTrigger(t, p, TriggerSpec{Name: "start", Kind: KindStartup})
	out := mustTrigger(t, p, TriggerSpec{Name: "out", Kind: KindPort})
	mustReaction(t, p, ReactionSpec{
		Name: "src", Priority: 1, Triggers: []TriggerID{start}, Effects: []TriggerID{out},
		Body: func(rc *ReactionContext) error { return rc.Set(out, 42) },
	})
	var obs observer
	mustReaction(t, p, ReactionSpec{Name: "sink", Priority: 2, Triggers: []TriggerID{out}, Body: obs.body(out)})

	s := newTestScheduler(p)
	require.NoError(t, s.Run(context.Background()))

	require.Len(t, obs.seen, 1)
	assert.Equal(t, 42, obs.seen[0].value)
	assert.Equal(t, ir.TagAt(testStart), obs.seen[0].tag)
}

func TestScheduler_PortOrderingCheckedAtInitialize(t *testing.T) {
	p := NewProgram("inverted")
	start := mustTrigger(t, p, TriggerSpec{Name: "start", Kind: KindStartup})
	out := mustTrigger(t, p, TriggerSpec{Name: "out", Kind: KindPort})
	mustReaction(t, p, ReactionSpec{Name: "src", Priority: 5, Triggers: []TriggerID{start}, Effects: []TriggerID{out}, Body: nop})
	mustReaction(t, p, ReactionSpec{Name: "sink", Priority: 3, Triggers: []TriggerID{out}, Body: nop})

	s := newTestScheduler(p)
	err := s.Initialize()
	requireCode(t, err, ErrCodeInvalidProgram)
	assert.Equal(t, 0, s.PendingEvents())
}

func TestScheduler_EffectChecks(t *testing.T) {
	p := NewProgram("effects")
	start := mustTrigger(t, p, TriggerSpec{Name: "start", Kind: KindStartup})
	out := mustTrigger(t, p, TriggerSpec{Name: "out", Kind: KindPort})
	act := mustTrigger(t, p, TriggerSpec{Name: "act", Kind: KindLogicalAction})

	var setErr, schedErr, setActionErr error
	mustReaction(t, p, ReactionSpec{
		Name: "r", Priority: 1, Triggers: []TriggerID{start}, Effects: []TriggerID{act},
		Body: func(rc *ReactionContext) error {
			setErr = rc.Set(out, 1)
			setActionErr = rc.Set(act, 1)
			_, schedErr = rc.Schedule(out, 0, nil)
			return nil
		},
	})

	s := newTestScheduler(p)
	require.NoError(t, s.Run(context.Background()))

	requireCode(t, setErr, ErrCodeUndeclaredEffect)
	requireCode(t, setActionErr, ErrCodeNotSchedulable)
	requireCode(t, schedErr, ErrCodeUndeclaredEffect)
}

func TestScheduler_BodyErrorDoesNotStopInstant(t *testing.T) {
	p := NewProgram("errors")
	start := mustTrigger(t, p, TriggerSpec{Name: "start", Kind: KindStartup})
	var obs observer
	mustReaction(t, p, ReactionSpec{
		Name: "fails", Priority: 1, Triggers: []TriggerID{start},
		Body: func(*ReactionContext) error { return errors.New("boom") },
	})
	mustReaction(t, p, ReactionSpec{Name: "after", Priority: 2, Triggers: []TriggerID{start}, Body: obs.body(start)})

	s := newTestScheduler(p)
	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, []string{"after"}, obs.reactions())
	assert.Equal(t, int64(2), s.Stats().Dispatches)
}

func TestScheduler_ScheduleErrors(t *testing.T) {
	p := NewProgram("errs")
	act := mustTrigger(t, p, TriggerSpec{Name: "act", Kind: KindLogicalAction})
	start := mustTrigger(t, p, TriggerSpec{Name: "start", Kind: KindStartup})
	mustReaction(t, p, ReactionSpec{Name: "r", Priority: 1, Triggers: []TriggerID{act, start}, Body: nop})

	s := newTestScheduler(p)

	_, err := s.Schedule(act, 0, nil)
	requireCode(t, err, ErrCodeNotInitialized)

	require.NoError(t, s.Initialize())
	assert.ErrorIs(t, s.Initialize(), ErrAlreadyInitialized)

	_, err = s.Schedule(act, -1, nil)
	assert.True(t, IsInvalidDelay(err))

	_, err = s.Schedule(start, 0, nil)
	requireCode(t, err, ErrCodeNotSchedulable)

	_, err = s.Schedule(TriggerID(99), 0, nil)
	requireCode(t, err, ErrCodeUnknownTrigger)

	_, err = s.ScheduleAsync(act, 0, nil)
	requireCode(t, err, ErrCodeNotSchedulable)

	s.RequestStop()
	_, err = s.Schedule(act, 0, nil)
	assert.True(t, IsStopRequested(err))
}

func TestScheduler_ShutdownInstant(t *testing.T) {
	p := NewProgram("shutdown")
	start := mustTrigger(t, p, TriggerSpec{Name: "start", Kind: KindStartup})
	shutdown := mustTrigger(t, p, TriggerSpec{Name: "shutdown", Kind: KindShutdown})
	var obs observer
	mustReaction(t, p, ReactionSpec{Name: "hello", Priority: 1, Triggers: []TriggerID{start}, Body: obs.body(start)})
	mustReaction(t, p, ReactionSpec{Name: "bye", Priority: 2, Triggers: []TriggerID{shutdown}, Body: obs.body(shutdown)})

	s := newTestScheduler(p)
	require.NoError(t, s.Run(context.Background()))

	require.Equal(t, []string{"hello", "bye"}, obs.reactions())
	assert.Equal(t, ir.Tag{Time: testStart, Microstep: 1}, obs.seen[1].tag)

	// Idempotent.
	require.NoError(t, s.Shutdown(context.Background()))
	assert.Len(t, obs.seen, 2)
}

func TestScheduler_ScheduleShutdownPullsStopIn(t *testing.T) {
	p := NewProgram("early-stop")
	start := mustTrigger(t, p, TriggerSpec{Name: "start", Kind: KindStartup})
	shutdown := mustTrigger(t, p, TriggerSpec{Name: "shutdown", Kind: KindShutdown})
	act := mustTrigger(t, p, TriggerSpec{Name: "act", Kind: KindLogicalAction})
	mustReaction(t, p, ReactionSpec{
		Name: "plan", Priority: 1, Triggers: []TriggerID{start}, Effects: []TriggerID{act},
		Body: func(rc *ReactionContext) error {
			if _, err := rc.Schedule(act, 10*ir.Msec, "early"); err != nil {
				return err
			}
			if _, err := rc.Schedule(act, 50*ir.Msec, "late"); err != nil {
				return err
			}
			rc.ScheduleShutdown(30 * ir.Msec)
			return nil
		},
	})
	var obs observer
	mustReaction(t, p, ReactionSpec{Name: "use", Priority: 2, Triggers: []TriggerID{act}, Body: obs.body(act)})
	mustReaction(t, p, ReactionSpec{Name: "bye", Priority: 3, Triggers: []TriggerID{shutdown}, Body: obs.body(shutdown)})

	s := newTestScheduler(p)
	require.NoError(t, s.Run(context.Background()))

	require.Equal(t, []string{"use", "bye"}, obs.reactions())
	assert.Equal(t, "early", obs.seen[0].value)
	assert.Equal(t, ir.TagAt(testStart.Add(30*ir.Msec)), obs.seen[1].tag)
}

func TestScheduler_RequestStopFromReaction(t *testing.T) {
	p := NewProgram("stop")
	tick := mustTrigger(t, p, TriggerSpec{Name: "tick", Kind: KindTimer, Period: ir.Msec})
	count := 0
	mustReaction(t, p, ReactionSpec{
		Name: "r", Priority: 1, Triggers: []TriggerID{tick},
		Body: func(rc *ReactionContext) error {
			count++
			if count == 3 {
				rc.RequestStop()
			}
			return nil
		},
	})

	s := newTestScheduler(p)
	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, 3, count)
	assert.Equal(t, testStart.Add(2*ir.Msec), s.LogicalTime())
}

func TestScheduler_StatsAndRunID(t *testing.T) {
	p := NewProgram("stats")
	tick := mustTrigger(t, p, TriggerSpec{Name: "tick", Kind: KindTimer, Period: 10 * ir.Msec})
	mustReaction(t, p, ReactionSpec{Name: "r", Priority: 1, Triggers: []TriggerID{tick}, Body: nop})

	s := newTestScheduler(p, WithDuration(30*ir.Msec), WithRunIDGenerator(testutil.NewFixedRunID("run-7")))
	require.NoError(t, s.Run(context.Background()))

	st := s.Stats()
	assert.Equal(t, "run-7", s.RunID())
	assert.Equal(t, int64(4), st.Instants)
	assert.Equal(t, int64(4), st.Dispatches)
	// Four firings plus the re-arm past the stop time, which is dropped.
	assert.Equal(t, int64(4), st.Scheduled)
	assert.Equal(t, int64(1), st.Dropped)
	assert.Equal(t, ir.TagAt(testStart.Add(30*ir.Msec)), st.FinalTag)
	assert.Equal(t, 30*ir.Msec, s.ElapsedLogicalTime())
}

func TestScheduler_ScheduleOutputReactionsEarly(t *testing.T) {
	p := NewProgram("early")
	start := mustTrigger(t, p, TriggerSpec{Name: "start", Kind: KindStartup})
	out := mustTrigger(t, p, TriggerSpec{Name: "out", Kind: KindPort})
	var obs observer
	src := mustReaction(t, p, ReactionSpec{
		Name: "src", Priority: 1, Triggers: []TriggerID{start}, Effects: []TriggerID{out},
		Body: func(rc *ReactionContext) error {
			if err := rc.Set(out, "first"); err != nil {
				return err
			}
			if err := rc.ScheduleOutputReactions(); err != nil {
				return err
			}
			// Downstream has not run yet, so the latest value is what it sees.
			return rc.Set(out, "second")
		},
	})
	mustReaction(t, p, ReactionSpec{Name: "sink", Priority: 2, Triggers: []TriggerID{out}, Body: obs.body(out)})

	s := newTestScheduler(p)
	require.NoError(t, s.Initialize())
	requireCode(t, s.ScheduleOutputReactions(src), ErrCodeUnknownReaction)

	require.NoError(t, s.Run(context.Background()))
	require.Len(t, obs.seen, 1)
	assert.Equal(t, "second", obs.seen[0].value)
}
