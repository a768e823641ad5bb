package compiler

import (
	"fmt"
	"strings"

	"github.com/roach88/tempo/internal/engine"
	"github.com/roach88/tempo/internal/ir"
)

// Validation error codes (E100-E199)
const (
	ErrProgramNameEmpty  = "E101" // name is required
	ErrNoReactions       = "E102" // at least one reaction required
	ErrInvalidInterval   = "E103" // interval string does not parse
	ErrInvalidKind       = "E104" // unknown trigger kind
	ErrDuplicateName     = "E105" // duplicate trigger/reaction name
	ErrUnknownTrigger    = "E106" // reference to an undeclared trigger
	ErrInvalidPolicy     = "E107" // unknown min-spacing policy
	ErrInvalidBody       = "E108" // unknown builtin or missing argument
	ErrInvalidEffect     = "E109" // effect is not a port or action
	ErrMixedPriorities   = "E110" // some reactions have priorities, some not
	ErrCausalityLoop     = "E111" // port dependency cycle
	ErrInvalidOnDeadline = "E112" // unknown deadline handler
	ErrNotSchedulable    = "E113" // initial schedule of a non-action trigger
	ErrUndeclaredTarget  = "E114" // body target missing from effects
	ErrInvalidValue      = "E115" // payload cannot be represented
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks a program document. It returns all errors found (does not
// fail fast). An empty result means Compile will not reject the document for
// any of these reasons.
func Validate(spec *ir.ProgramSpec) []ValidationError {
	var errs []ValidationError
	add := func(field, code, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Code: code, Message: fmt.Sprintf(format, args...)})
	}
	interval := func(field, s string) {
		if s == "" {
			return
		}
		if _, err := ir.ParseInterval(s); err != nil {
			add(field, ErrInvalidInterval, "%v", err)
		}
	}

	// E101: name is required
	if strings.TrimSpace(spec.Name) == "" {
		add("name", ErrProgramNameEmpty, "program name is required and must be non-empty")
	}
	interval("run.timeout", spec.Run.Timeout)

	kinds := make(map[string]engine.TriggerKind, len(spec.Triggers))
	for i, t := range spec.Triggers {
		field := fmt.Sprintf("triggers[%d]", i)
		if _, dup := kinds[t.Name]; dup {
			add(field+".name", ErrDuplicateName, "duplicate trigger name: %q", t.Name)
		}
		kind, err := engine.ParseTriggerKind(t.Kind)
		if err != nil {
			add(field+".kind", ErrInvalidKind, "trigger %q: %v", t.Name, err)
		}
		kinds[t.Name] = kind
		if _, err := engine.ParsePolicy(t.Policy); err != nil {
			add(field+".policy", ErrInvalidPolicy, "trigger %q: %v", t.Name, err)
		}
		interval(field+".offset", t.Offset)
		interval(field+".period", t.Period)
		interval(field+".min_spacing", t.MinSpacing)
	}

	// E102: at least one reaction required
	if len(spec.Reactions) == 0 {
		add("reactions", ErrNoReactions, "at least one reaction is required")
	}

	names := make(map[string]bool, len(spec.Reactions))
	explicit := 0
	for i, r := range spec.Reactions {
		field := fmt.Sprintf("reactions[%d]", i)
		if names[r.Name] {
			add(field+".name", ErrDuplicateName, "duplicate reaction name: %q", r.Name)
		}
		names[r.Name] = true
		if r.Priority != nil {
			explicit++
		}
		interval(field+".deadline", r.Deadline)

		for j, t := range r.Triggers {
			if _, ok := kinds[t]; !ok {
				add(fmt.Sprintf("%s.triggers[%d]", field, j), ErrUnknownTrigger, "reaction %q: unknown trigger %q", r.Name, t)
			}
		}
		effects := make(map[string]bool, len(r.Effects))
		for j, e := range r.Effects {
			effects[e] = true
			kind, ok := kinds[e]
			switch {
			case !ok:
				add(fmt.Sprintf("%s.effects[%d]", field, j), ErrUnknownTrigger, "reaction %q: unknown effect %q", r.Name, e)
			case kind != engine.KindPort && kind != engine.KindLogicalAction && kind != engine.KindPhysicalAction:
				add(fmt.Sprintf("%s.effects[%d]", field, j), ErrInvalidEffect, "reaction %q: %s trigger %q cannot be an effect", r.Name, kind, e)
			}
		}

		switch r.OnDeadline {
		case "", "log", "stop":
		default:
			add(field+".on_deadline", ErrInvalidOnDeadline, "reaction %q: unknown deadline handler %q (want log or stop)", r.Name, r.OnDeadline)
		}

		errs = append(errs, validateBody(field+".body", r, kinds, effects)...)
	}

	// E110: priorities are all explicit or all derived
	if explicit > 0 && explicit < len(spec.Reactions) {
		add("reactions", ErrMixedPriorities, "%d of %d reactions set a priority; set all or none", explicit, len(spec.Reactions))
	}

	// E111: port dependency cycles
	for _, loop := range AnalyzeCausality(spec) {
		add("reactions", ErrCausalityLoop, "%s", loop.Message)
	}

	for i, s := range spec.Schedules {
		field := fmt.Sprintf("schedules[%d]", i)
		interval(field+".delay", s.Delay)
		kind, ok := kinds[s.Trigger]
		switch {
		case !ok:
			add(field+".trigger", ErrUnknownTrigger, "unknown trigger %q", s.Trigger)
		case kind != engine.KindLogicalAction && kind != engine.KindPhysicalAction:
			add(field+".trigger", ErrNotSchedulable, "%s trigger %q cannot be scheduled", kind, s.Trigger)
		}
		if _, err := ir.FromGo(s.Value); err != nil {
			add(field+".value", ErrInvalidValue, "%v", err)
		}
	}

	return errs
}

// validateBody checks a reaction body against its builtin's requirements.
func validateBody(field string, r ir.ReactionDecl, kinds map[string]engine.TriggerKind, effects map[string]bool) []ValidationError {
	var errs []ValidationError
	add := func(sub, code, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field + sub, Code: code, Message: fmt.Sprintf(format, args...)})
	}

	b := r.Body
	info, ok := builtins[b.Builtin]
	if !ok {
		add(".builtin", ErrInvalidBody, "reaction %q: unknown builtin %q (want one of %s)", r.Name, b.Builtin, strings.Join(BuiltinNames(), ", "))
		return errs
	}
	if info.needsTarget && b.Target == "" {
		add(".target", ErrInvalidBody, "reaction %q: builtin %q requires a target", r.Name, b.Builtin)
	}
	if info.needsDelay && b.Delay == "" {
		add(".delay", ErrInvalidBody, "reaction %q: builtin %q requires a delay", r.Name, b.Builtin)
	}
	if b.Delay != "" {
		if _, err := ir.ParseInterval(b.Delay); err != nil {
			add(".delay", ErrInvalidInterval, "%v", err)
		}
	}
	if b.Target != "" {
		if _, ok := kinds[b.Target]; !ok {
			add(".target", ErrUnknownTrigger, "reaction %q: unknown target %q", r.Name, b.Target)
		} else if !effects[b.Target] {
			add(".target", ErrUndeclaredTarget, "reaction %q: target %q is not a declared effect", r.Name, b.Target)
		}
	}
	if b.From != "" {
		if _, ok := kinds[b.From]; !ok {
			add(".from", ErrUnknownTrigger, "reaction %q: unknown trigger %q", r.Name, b.From)
		}
	}
	if _, err := ir.FromGo(b.Value); err != nil {
		add(".value", ErrInvalidValue, "%v", err)
	}
	return errs
}
