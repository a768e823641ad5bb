package compiler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/tempo/internal/engine"
	"github.com/roach88/tempo/internal/ir"
)

// RunSettings are a program's default run settings, parsed.
type RunSettings struct {
	Timeout   ir.Interval
	KeepAlive bool
	Fast      bool
}

// InitialEvent is an event scheduled right after initialization.
type InitialEvent struct {
	Trigger engine.TriggerID
	Delay   ir.Interval
	Value   ir.IRValue
}

// Compiled is a program ready to run.
type Compiled struct {
	Spec      *ir.ProgramSpec
	Program   *engine.Program
	Run       RunSettings
	Schedules []InitialEvent
}

// ValidationErrors is returned by Compile when Validate finds problems.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, v := range e {
		msgs[i] = v.Error()
	}
	return strings.Join(msgs, "; ")
}

// BodyWrapper decorates the body built for a reaction declaration.
type BodyWrapper func(decl ir.ReactionDecl, body engine.ReactionBody) engine.ReactionBody

// Compile validates spec and builds its engine program. Payload values are
// converted to IR values so reactions see the same types whichever format
// the program was written in.
func Compile(spec *ir.ProgramSpec) (*Compiled, error) {
	return CompileWith(spec, nil)
}

// CompileWith is Compile with every reaction body passed through wrap.
func CompileWith(spec *ir.ProgramSpec, wrap BodyWrapper) (*Compiled, error) {
	if errs := Validate(spec); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	c := &Compiled{Spec: spec, Program: engine.NewProgram(spec.Name)}
	var err error
	if c.Run, err = ParseRunConfig(spec.Run); err != nil {
		return nil, err
	}

	for _, t := range spec.Triggers {
		ts := engine.TriggerSpec{Name: t.Name}
		if ts.Kind, err = engine.ParseTriggerKind(t.Kind); err != nil {
			return nil, err
		}
		if ts.Policy, err = engine.ParsePolicy(t.Policy); err != nil {
			return nil, err
		}
		if ts.Offset, err = optionalInterval(t.Offset); err != nil {
			return nil, err
		}
		if ts.Period, err = optionalInterval(t.Period); err != nil {
			return nil, err
		}
		if ts.MinSpacing, err = optionalInterval(t.MinSpacing); err != nil {
			return nil, err
		}
		if _, err := c.Program.AddTrigger(ts); err != nil {
			return nil, fmt.Errorf("trigger %q: %w", t.Name, err)
		}
	}

	priorities, err := assignPriorities(spec)
	if err != nil {
		return nil, err
	}
	for _, r := range spec.Reactions {
		rs, err := c.reactionSpec(r)
		if err != nil {
			return nil, err
		}
		rs.Priority = priorities[r.Name]
		if wrap != nil {
			rs.Body = wrap(r, rs.Body)
		}
		if _, err := c.Program.AddReaction(rs); err != nil {
			return nil, fmt.Errorf("reaction %q: %w", r.Name, err)
		}
	}
	if err := c.Program.Validate(); err != nil {
		return nil, err
	}

	for _, s := range spec.Schedules {
		id, _ := c.Program.TriggerByName(s.Trigger)
		delay, err := optionalInterval(s.Delay)
		if err != nil {
			return nil, err
		}
		value, err := ir.FromGo(s.Value)
		if err != nil {
			return nil, err
		}
		c.Schedules = append(c.Schedules, InitialEvent{Trigger: id, Delay: delay, Value: nullToNil(value)})
	}
	return c, nil
}

func (c *Compiled) reactionSpec(r ir.ReactionDecl) (engine.ReactionSpec, error) {
	rs := engine.ReactionSpec{Name: r.Name, OnDeadline: deadlineHandler(r.OnDeadline)}
	var err error
	if rs.Deadline, err = optionalInterval(r.Deadline); err != nil {
		return rs, err
	}
	for _, name := range r.Triggers {
		id, _ := c.Program.TriggerByName(name)
		rs.Triggers = append(rs.Triggers, id)
	}
	for _, name := range r.Effects {
		id, _ := c.Program.TriggerByName(name)
		rs.Effects = append(rs.Effects, id)
	}

	args := bodyArgs{
		triggers: rs.Triggers,
		message:  r.Body.Message,
		limit:    r.Body.Limit,
		names: func(id engine.TriggerID) string {
			spec, _ := c.Program.Trigger(id)
			return spec.Name
		},
	}
	if args.delay, err = optionalInterval(r.Body.Delay); err != nil {
		return rs, err
	}
	if r.Body.Target != "" {
		args.target, args.hasTarget = c.Program.TriggerByName(r.Body.Target)
		spec, _ := c.Program.Trigger(args.target)
		args.targetKind = spec.Kind
	}
	if r.Body.From != "" {
		args.from, args.hasFrom = c.Program.TriggerByName(r.Body.From)
	}
	value, err := ir.FromGo(r.Body.Value)
	if err != nil {
		return rs, err
	}
	args.value = nullToNil(value)

	rs.Body = builtins[r.Body.Builtin].build(args)
	return rs, nil
}

// assignPriorities returns explicit priorities unchanged, or derives them:
// reactions are numbered 1..n in an order where port writers precede their
// readers and declaration order breaks ties.
func assignPriorities(spec *ir.ProgramSpec) (map[string]int64, error) {
	out := make(map[string]int64, len(spec.Reactions))
	if len(spec.Reactions) > 0 && spec.Reactions[0].Priority != nil {
		for _, r := range spec.Reactions {
			out[r.Name] = *r.Priority
		}
		return out, nil
	}
	order, err := topoOrder(spec)
	if err != nil {
		return nil, err
	}
	for i, name := range order {
		out[name] = int64(i + 1)
	}
	return out, nil
}

// ScheduleInitial posts the program's initial events. PAST_STOP rejections
// are skipped: the run is shorter than the program's plan.
func (c *Compiled) ScheduleInitial(s *engine.Scheduler) error {
	for _, ev := range c.Schedules {
		spec, _ := c.Program.Trigger(ev.Trigger)
		if _, err := s.Schedule(ev.Trigger, ev.Delay, ev.Value); err != nil && !engine.IsPastStop(err) {
			return fmt.Errorf("initial schedule of %q: %w", spec.Name, err)
		}
	}
	return nil
}

// ParseRunConfig parses declared run settings.
func ParseRunConfig(rc ir.RunConfig) (RunSettings, error) {
	timeout, err := optionalInterval(rc.Timeout)
	if err != nil {
		return RunSettings{}, fmt.Errorf("run timeout: %w", err)
	}
	return RunSettings{Timeout: timeout, KeepAlive: rc.KeepAlive, Fast: rc.Fast}, nil
}

// Options returns engine options for the program's run settings.
func (r RunSettings) Options() []engine.Option {
	return []engine.Option{
		engine.WithDuration(r.Timeout),
		engine.WithKeepAlive(r.KeepAlive),
		engine.WithFast(r.Fast),
	}
}

func optionalInterval(s string) (ir.Interval, error) {
	if s == "" {
		return 0, nil
	}
	return ir.ParseInterval(s)
}

// nullToNil maps an absent payload to a nil value so triggers without a
// payload carry none.
func nullToNil(v ir.IRValue) ir.IRValue {
	if _, ok := v.(ir.IRNull); ok {
		return nil
	}
	return v
}

// AsValidationErrors extracts validation errors from a Compile error.
func AsValidationErrors(err error) (ValidationErrors, bool) {
	var verrs ValidationErrors
	if errors.As(err, &verrs) {
		return verrs, true
	}
	return nil, false
}
