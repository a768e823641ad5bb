package compiler

import (
	"log/slog"
	"slices"

	"github.com/roach88/tempo/internal/engine"
	"github.com/roach88/tempo/internal/ir"
)

// bodyArgs is a BodyDecl resolved against the program.
type bodyArgs struct {
	triggers   []engine.TriggerID
	target     engine.TriggerID
	hasTarget  bool
	targetKind engine.TriggerKind
	from       engine.TriggerID
	hasFrom    bool
	delay      ir.Interval
	value      any
	message    string
	limit      int64
	names      func(engine.TriggerID) string
}

type builtinInfo struct {
	needsTarget bool
	needsDelay  bool
	build       func(a bodyArgs) engine.ReactionBody
}

// builtins is the closed set of reaction bodies a program file can name.
var builtins = map[string]builtinInfo{
	"log":      {build: logBody},
	"forward":  {needsTarget: true, build: forwardBody},
	"schedule": {needsTarget: true, build: scheduleBody},
	"count":    {build: countBody},
	"stop":     {build: stopBody},
	"sleep":    {needsDelay: true, build: sleepBody},
}

// BuiltinNames returns the builtin body names, sorted.
func BuiltinNames() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// presentValues returns name/value pairs for the reaction's present
// triggers, ready to pass to a logger.
func presentValues(rc *engine.ReactionContext, a bodyArgs) []any {
	var attrs []any
	for _, t := range a.triggers {
		if v, ok := rc.Get(t); ok {
			if v == nil {
				v = ir.IRNull{}
			}
			attrs = append(attrs, slog.Any(a.names(t), v))
		}
	}
	return attrs
}

// logBody logs the message and the values of present triggers.
func logBody(a bodyArgs) engine.ReactionBody {
	msg := a.message
	if msg == "" {
		msg = "reaction fired"
	}
	return func(rc *engine.ReactionContext) error {
		rc.Logger().Info(msg, presentValues(rc, a)...)
		return nil
	}
}

// emit writes v to the target: set for ports, schedule for actions.
func emit(rc *engine.ReactionContext, a bodyArgs, v any) error {
	if a.targetKind == engine.KindPort {
		return rc.Set(a.target, v)
	}
	_, err := rc.Schedule(a.target, a.delay, v)
	return err
}

// forwardBody copies the value of From (or the first present trigger) to the
// target.
func forwardBody(a bodyArgs) engine.ReactionBody {
	return func(rc *engine.ReactionContext) error {
		if a.hasFrom {
			v, ok := rc.Get(a.from)
			if !ok {
				return nil
			}
			return emit(rc, a, v)
		}
		for _, t := range a.triggers {
			if v, ok := rc.Get(t); ok {
				return emit(rc, a, v)
			}
		}
		return nil
	}
}

// scheduleBody schedules the target with the configured value, at most
// Limit times when Limit is set.
func scheduleBody(a bodyArgs) engine.ReactionBody {
	var n int64
	return func(rc *engine.ReactionContext) error {
		if a.limit > 0 && n >= a.limit {
			return nil
		}
		n++
		_, err := rc.Schedule(a.target, a.delay, a.value)
		return err
	}
}

// countBody counts its invocations and writes the running count to the
// target, if any. Reaching Limit requests stop.
func countBody(a bodyArgs) engine.ReactionBody {
	var n int64
	return func(rc *engine.ReactionContext) error {
		n++
		rc.Logger().Debug("count", "n", n)
		if a.hasTarget {
			if err := emit(rc, a, ir.IRInt(n)); err != nil {
				return err
			}
		}
		if a.limit > 0 && n >= a.limit {
			rc.RequestStop()
		}
		return nil
	}
}

// stopBody ends the run now, or Delay from now.
func stopBody(a bodyArgs) engine.ReactionBody {
	return func(rc *engine.ReactionContext) error {
		rc.ScheduleShutdown(a.delay)
		return nil
	}
}

// sleepBody occupies the driver for Delay of physical time. Programs use it
// to provoke deadline violations.
func sleepBody(a bodyArgs) engine.ReactionBody {
	return func(rc *engine.ReactionContext) error {
		rc.SleepPhysical(a.delay)
		return nil
	}
}

// deadlineHandler builds the handler named by on_deadline.
func deadlineHandler(name string) engine.DeadlineHandler {
	switch name {
	case "log":
		return func(rc *engine.ReactionContext, v engine.DeadlineViolation) {
			rc.Logger().Warn("deadline handler", "deadline", v.Deadline, "lag", v.Lag)
		}
	case "stop":
		return func(rc *engine.ReactionContext, v engine.DeadlineViolation) {
			rc.Logger().Warn("deadline handler stopping run", "deadline", v.Deadline, "lag", v.Lag)
			rc.RequestStop()
		}
	}
	return nil
}
