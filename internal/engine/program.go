package engine

import (
	"fmt"

	"github.com/roach88/tempo/internal/ir"
)

// TriggerID is the stable index of a trigger within its Program.
type TriggerID int

// ReactionID is the stable index of a reaction within its Program.
type ReactionID int

// Handle identifies one scheduling call. Handles come from a monotonic
// counter and are never reused; 0 means nothing was scheduled.
type Handle int64

// TriggerKind is the closed set of trigger sources.
type TriggerKind int

const (
	// KindLogicalAction is scheduled relative to the current logical tag.
	KindLogicalAction TriggerKind = iota
	// KindPhysicalAction is scheduled relative to physical time, usually
	// from outside the driver via ScheduleAsync.
	KindPhysicalAction
	// KindTimer fires at start+Offset and then every Period.
	KindTimer
	// KindStartup fires once in the first instant.
	KindStartup
	// KindShutdown fires once in the final instant.
	KindShutdown
	// KindPort is set by a reaction and read by downstream reactions in the
	// same instant.
	KindPort
)

var kindNames = map[TriggerKind]string{
	KindLogicalAction:  "logical",
	KindPhysicalAction: "physical",
	KindTimer:          "timer",
	KindStartup:        "startup",
	KindShutdown:       "shutdown",
	KindPort:           "port",
}

func (k TriggerKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseTriggerKind parses the names printed by TriggerKind.String.
func ParseTriggerKind(s string) (TriggerKind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown trigger kind %q", s)
}

// Policy decides what happens when an action is scheduled closer than
// MinSpacing to its previous event.
type Policy int

const (
	// PolicyDefer moves the new event to the earliest allowed tag.
	PolicyDefer Policy = iota
	// PolicyDrop discards the new event.
	PolicyDrop
	// PolicyUpdate overwrites the value of the pending event.
	PolicyUpdate
	// PolicyReplace removes the pending event and inserts the new one.
	PolicyReplace
)

var policyNames = map[Policy]string{
	PolicyDefer:   "defer",
	PolicyDrop:    "drop",
	PolicyUpdate:  "update",
	PolicyReplace: "replace",
}

func (p Policy) String() string {
	if s, ok := policyNames[p]; ok {
		return s
	}
	return fmt.Sprintf("policy(%d)", int(p))
}

// ParsePolicy parses the names printed by Policy.String. Empty means defer.
func ParsePolicy(s string) (Policy, error) {
	if s == "" {
		return PolicyDefer, nil
	}
	for p, name := range policyNames {
		if name == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown policy %q", s)
}

// TriggerSpec declares a trigger.
type TriggerSpec struct {
	Name string
	Kind TriggerKind
	// Offset is the timer's first firing relative to start, or the action's
	// minimum delay.
	Offset ir.Interval
	// Period re-arms a timer after each firing. Zero fires once.
	Period ir.Interval
	// MinSpacing is the minimum time between two events of an action.
	MinSpacing ir.Interval
	Policy     Policy
}

// ReactionBody is the business logic of a reaction. A returned error is
// logged and the instant continues.
type ReactionBody func(rc *ReactionContext) error

// DeadlineViolation describes a reaction that started later than its deadline.
type DeadlineViolation struct {
	Reaction string
	Tag      ir.Tag
	Deadline ir.Interval
	Lag      ir.Interval
}

// DeadlineHandler is notified of deadline violations. It runs before the
// reaction body, which still executes.
type DeadlineHandler func(rc *ReactionContext, v DeadlineViolation)

// ReactionSpec declares a reaction.
type ReactionSpec struct {
	Name string
	// Priority is the reaction's rank in the dependency graph. Reactions
	// ready in the same instant must have distinct priorities.
	Priority int64
	// Deadline, if positive, bounds how late after its instant's logical
	// time the reaction may start.
	Deadline ir.Interval
	Triggers []TriggerID
	// Effects lists the ports the reaction may set and the actions it may
	// schedule.
	Effects    []TriggerID
	Body       ReactionBody
	OnDeadline DeadlineHandler
}

// Program is the registry of triggers and reactions a Scheduler runs.
// IDs are indices assigned in registration order.
type Program struct {
	Name string

	triggers       []TriggerSpec
	reactions      []ReactionSpec
	triggerByName  map[string]TriggerID
	reactionByName map[string]ReactionID
	sensitive      [][]ReactionID
	effects        []map[TriggerID]bool
}

// NewProgram creates an empty program.
func NewProgram(name string) *Program {
	return &Program{
		Name:           name,
		triggerByName:  make(map[string]TriggerID),
		reactionByName: make(map[string]ReactionID),
	}
}

func invalidProgram(format string, args ...any) *RuntimeError {
	return &RuntimeError{Code: ErrCodeInvalidProgram, Message: fmt.Sprintf(format, args...)}
}

// AddTrigger registers a trigger and returns its ID.
func (p *Program) AddTrigger(spec TriggerSpec) (TriggerID, error) {
	if spec.Name == "" {
		return 0, invalidProgram("trigger name is required")
	}
	if _, dup := p.triggerByName[spec.Name]; dup {
		return 0, invalidProgram("duplicate trigger %q", spec.Name)
	}
	if _, ok := kindNames[spec.Kind]; !ok {
		return 0, invalidProgram("trigger %q: invalid kind %d", spec.Name, spec.Kind)
	}
	if spec.Offset < 0 || spec.Period < 0 || spec.MinSpacing < 0 {
		return 0, invalidProgram("trigger %q: offset, period and min spacing must be non-negative", spec.Name)
	}
	if spec.Period > 0 && spec.Kind != KindTimer {
		return 0, invalidProgram("trigger %q: only timers have a period", spec.Name)
	}
	if spec.MinSpacing > 0 && spec.Kind != KindLogicalAction && spec.Kind != KindPhysicalAction {
		return 0, invalidProgram("trigger %q: only actions have a min spacing", spec.Name)
	}

	id := TriggerID(len(p.triggers))
	p.triggers = append(p.triggers, spec)
	p.triggerByName[spec.Name] = id
	p.sensitive = append(p.sensitive, nil)
	return id, nil
}

// AddReaction registers a reaction and returns its ID.
func (p *Program) AddReaction(spec ReactionSpec) (ReactionID, error) {
	if spec.Name == "" {
		return 0, invalidProgram("reaction name is required")
	}
	if _, dup := p.reactionByName[spec.Name]; dup {
		return 0, invalidProgram("duplicate reaction %q", spec.Name)
	}
	if spec.Body == nil {
		return 0, invalidProgram("reaction %q has no body", spec.Name)
	}
	if spec.Deadline < 0 {
		return 0, invalidProgram("reaction %q: deadline must be non-negative", spec.Name)
	}
	if len(spec.Triggers) == 0 {
		return 0, invalidProgram("reaction %q has no triggers", spec.Name)
	}
	for _, t := range spec.Triggers {
		if !p.validTrigger(t) {
			return 0, invalidProgram("reaction %q: unknown trigger id %d", spec.Name, t)
		}
	}
	eff := make(map[TriggerID]bool, len(spec.Effects))
	for _, t := range spec.Effects {
		if !p.validTrigger(t) {
			return 0, invalidProgram("reaction %q: unknown effect id %d", spec.Name, t)
		}
		switch p.triggers[t].Kind {
		case KindPort, KindLogicalAction, KindPhysicalAction:
		default:
			return 0, invalidProgram("reaction %q: %s trigger %q cannot be an effect",
				spec.Name, p.triggers[t].Kind, p.triggers[t].Name)
		}
		eff[t] = true
	}

	id := ReactionID(len(p.reactions))
	p.reactions = append(p.reactions, spec)
	p.reactionByName[spec.Name] = id
	p.effects = append(p.effects, eff)
	for _, t := range spec.Triggers {
		p.sensitive[t] = append(p.sensitive[t], id)
	}
	return id, nil
}

// Validate checks whole-program constraints that single registrations
// cannot: a port's downstream reactions must rank after every writer.
func (p *Program) Validate() error {
	for rid, r := range p.reactions {
		for t := range p.effects[rid] {
			if p.triggers[t].Kind != KindPort {
				continue
			}
			for _, down := range p.sensitive[t] {
				if p.reactions[down].Priority <= r.Priority {
					return invalidProgram("reaction %q (priority %d) sets port %q read by %q (priority %d)",
						r.Name, r.Priority, p.triggers[t].Name, p.reactions[down].Name, p.reactions[down].Priority)
				}
			}
		}
	}
	return nil
}

func (p *Program) validTrigger(id TriggerID) bool {
	return id >= 0 && int(id) < len(p.triggers)
}

func (p *Program) validReaction(id ReactionID) bool {
	return id >= 0 && int(id) < len(p.reactions)
}

// Trigger returns the spec registered under id.
func (p *Program) Trigger(id TriggerID) (TriggerSpec, bool) {
	if !p.validTrigger(id) {
		return TriggerSpec{}, false
	}
	return p.triggers[id], true
}

// Reaction returns the spec registered under id.
func (p *Program) Reaction(id ReactionID) (ReactionSpec, bool) {
	if !p.validReaction(id) {
		return ReactionSpec{}, false
	}
	return p.reactions[id], true
}

// TriggerByName looks up a trigger ID.
func (p *Program) TriggerByName(name string) (TriggerID, bool) {
	id, ok := p.triggerByName[name]
	return id, ok
}

// ReactionByName looks up a reaction ID.
func (p *Program) ReactionByName(name string) (ReactionID, bool) {
	id, ok := p.reactionByName[name]
	return id, ok
}

// NumTriggers returns the number of registered triggers.
func (p *Program) NumTriggers() int { return len(p.triggers) }

// NumReactions returns the number of registered reactions.
func (p *Program) NumReactions() int { return len(p.reactions) }

// Sensitive returns the reactions triggered by id, in registration order.
func (p *Program) Sensitive(id TriggerID) []ReactionID {
	if !p.validTrigger(id) {
		return nil
	}
	return p.sensitive[id]
}

func (p *Program) triggerName(id TriggerID) string {
	if !p.validTrigger(id) {
		return fmt.Sprintf("trigger#%d", id)
	}
	return p.triggers[id].Name
}

func (p *Program) reactionName(id ReactionID) string {
	if !p.validReaction(id) {
		return fmt.Sprintf("reaction#%d", id)
	}
	return p.reactions[id].Name
}
