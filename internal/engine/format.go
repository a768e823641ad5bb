package engine

import (
	"fmt"
	"io"
	"strings"

	"github.com/roach88/tempo/internal/ir"
)

// EventInfo is a read-only snapshot of a pending event.
type EventInfo struct {
	Handle  Handle
	Trigger string
	Tag     ir.Tag
	Value   any
}

// ReactionInfo is a read-only snapshot of a registered reaction.
type ReactionInfo struct {
	ID       ReactionID
	Name     string
	Priority int64
	Deadline ir.Interval
	Triggers []string
	Effects  []string
}

// PrintEvent writes one line describing e.
func PrintEvent(w io.Writer, e EventInfo) {
	fmt.Fprintf(w, "event %s trigger=%s handle=%d", e.Tag, e.Trigger, e.Handle)
	if e.Value != nil {
		fmt.Fprintf(w, " value=%v", e.Value)
	}
	fmt.Fprintln(w)
}

// PrintReaction writes one line describing r.
func PrintReaction(w io.Writer, r ReactionInfo) {
	fmt.Fprintf(w, "reaction %s priority=%d", r.Name, r.Priority)
	if r.Deadline > 0 {
		fmt.Fprintf(w, " deadline=%s", r.Deadline)
	}
	fmt.Fprintf(w, " triggers=[%s]", strings.Join(r.Triggers, ","))
	if len(r.Effects) > 0 {
		fmt.Fprintf(w, " effects=[%s]", strings.Join(r.Effects, ","))
	}
	fmt.Fprintln(w)
}

// ReactionInfo returns a snapshot of reaction id.
func (p *Program) ReactionInfo(id ReactionID) (ReactionInfo, bool) {
	r, ok := p.Reaction(id)
	if !ok {
		return ReactionInfo{}, false
	}
	info := ReactionInfo{ID: id, Name: r.Name, Priority: r.Priority, Deadline: r.Deadline}
	for _, t := range r.Triggers {
		info.Triggers = append(info.Triggers, p.triggerName(t))
	}
	for _, t := range r.Effects {
		info.Effects = append(info.Effects, p.triggerName(t))
	}
	return info, true
}

func (s *Scheduler) eventInfo(e eventEntry) EventInfo {
	ev, err := s.pools.events.Get(e.ref)
	if err != nil {
		return EventInfo{Trigger: "<stale>", Tag: e.tag}
	}
	return EventInfo{
		Handle:  ev.handle,
		Trigger: s.prog.triggerName(ev.trigger),
		Tag:     ev.tag,
		Value:   s.pools.value(ev.value),
	}
}

// Events returns the pending events in delivery order.
func (s *Scheduler) Events() []EventInfo {
	if s.events == nil {
		return nil
	}
	entries := s.events.sorted()
	out := make([]EventInfo, len(entries))
	for i, e := range entries {
		out[i] = s.eventInfo(e)
	}
	return out
}

// DumpEvents prints the pending events in delivery order.
func (s *Scheduler) DumpEvents(w io.Writer) {
	if s.events == nil {
		return
	}
	s.events.dump(w, func(w io.Writer, e eventEntry) {
		PrintEvent(w, s.eventInfo(e))
	})
}
