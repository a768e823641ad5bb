package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/tempo/internal/ir"
)

// ErrAlreadyInitialized is returned by a second call to Initialize.
var ErrAlreadyInitialized = errors.New("scheduler already initialized")

// RuntimeError represents an error detected by the scheduler.
//
// Recoverable errors (INVALID_DELAY, PAST_STOP, STOP_REQUESTED, ...) are
// returned to the caller of Schedule and leave the scheduler state unchanged.
// Fatal errors (see IsFatal) abort the run.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Trigger names the trigger involved, if any.
	Trigger string

	// Reaction names the reaction involved, if any.
	Reaction string

	// Tag is the tag involved, if any.
	Tag *ir.Tag

	// Details contains additional context.
	Details map[string]string
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeInvalidDelay indicates a negative scheduling delay.
	ErrCodeInvalidDelay RuntimeErrorCode = "INVALID_DELAY"

	// ErrCodePastStop indicates an event tag beyond the stop time. The event
	// was dropped.
	ErrCodePastStop RuntimeErrorCode = "PAST_STOP"

	// ErrCodeDuplicatePriority indicates two distinct reactions with the same
	// priority became ready in one instant.
	ErrCodeDuplicatePriority RuntimeErrorCode = "DUPLICATE_PRIORITY"

	// ErrCodePriorityInversion indicates a reaction enqueued a downstream
	// reaction whose priority does not exceed its own.
	ErrCodePriorityInversion RuntimeErrorCode = "PRIORITY_INVERSION"

	// ErrCodeUnknownTrigger indicates a trigger ID not in the program.
	ErrCodeUnknownTrigger RuntimeErrorCode = "UNKNOWN_TRIGGER"

	// ErrCodeUnknownReaction indicates a reaction ID not in the program.
	ErrCodeUnknownReaction RuntimeErrorCode = "UNKNOWN_REACTION"

	// ErrCodeNotSchedulable indicates a trigger kind that cannot be
	// scheduled (startup, shutdown, timer, port).
	ErrCodeNotSchedulable RuntimeErrorCode = "NOT_SCHEDULABLE"

	// ErrCodeUndeclaredEffect indicates a reaction wrote to or scheduled a
	// trigger it did not declare as an effect.
	ErrCodeUndeclaredEffect RuntimeErrorCode = "UNDECLARED_EFFECT"

	// ErrCodeStopRequested indicates scheduling after stop was requested.
	ErrCodeStopRequested RuntimeErrorCode = "STOP_REQUESTED"

	// ErrCodeNotInitialized indicates use before Initialize.
	ErrCodeNotInitialized RuntimeErrorCode = "NOT_INITIALIZED"

	// ErrCodeInvalidProgram indicates a malformed program definition.
	ErrCodeInvalidProgram RuntimeErrorCode = "INVALID_PROGRAM"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	switch {
	case e.Reaction != "" && e.Tag != nil:
		return fmt.Sprintf("%s: %s (reaction=%s, tag=%s)", e.Code, e.Message, e.Reaction, e.Tag)
	case e.Trigger != "" && e.Tag != nil:
		return fmt.Sprintf("%s: %s (trigger=%s, tag=%s)", e.Code, e.Message, e.Trigger, e.Tag)
	case e.Reaction != "":
		return fmt.Sprintf("%s: %s (reaction=%s)", e.Code, e.Message, e.Reaction)
	case e.Trigger != "":
		return fmt.Sprintf("%s: %s (trigger=%s)", e.Code, e.Message, e.Trigger)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsInvalidDelay returns true if err is a negative-delay error.
func IsInvalidDelay(err error) bool { return hasCode(err, ErrCodeInvalidDelay) }

// IsPastStop returns true if err reports an event dropped past the stop time.
func IsPastStop(err error) bool { return hasCode(err, ErrCodePastStop) }

// IsDuplicatePriority returns true if err reports two reactions sharing a
// priority in one instant.
func IsDuplicatePriority(err error) bool { return hasCode(err, ErrCodeDuplicatePriority) }

// IsStopRequested returns true if err reports scheduling after stop.
func IsStopRequested(err error) bool { return hasCode(err, ErrCodeStopRequested) }

// IsFatal returns true if err means the run cannot continue: the reaction
// graph is malformed and the instant cannot be safely ordered.
func IsFatal(err error) bool {
	var re *RuntimeError
	if !errors.As(err, &re) {
		return false
	}
	switch re.Code {
	case ErrCodeDuplicatePriority, ErrCodePriorityInversion, ErrCodeInvalidProgram:
		return true
	}
	return false
}

func newInvalidDelayError(trigger string, delay ir.Interval) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeInvalidDelay,
		Message: fmt.Sprintf("delay must be non-negative, got %d", delay),
		Trigger: trigger,
		Details: map[string]string{"delay": fmt.Sprintf("%d", delay)},
	}
}

func newPastStopError(trigger string, tag ir.Tag, stop ir.Instant) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodePastStop,
		Message: "event dropped: tag is past the stop time",
		Trigger: trigger,
		Tag:     &tag,
		Details: map[string]string{"stop_time": stop.String()},
	}
}

func newDuplicatePriorityError(tag ir.Tag, priority int64, queued, incoming string) *RuntimeError {
	return &RuntimeError{
		Code:     ErrCodeDuplicatePriority,
		Message:  fmt.Sprintf("reactions %s and %s share priority %d", queued, incoming, priority),
		Reaction: incoming,
		Tag:      &tag,
		Details: map[string]string{
			"priority": fmt.Sprintf("%d", priority),
			"queued":   queued,
		},
	}
}

func newPriorityInversionError(tag ir.Tag, upstream string, upstreamPrio int64, downstream string, downstreamPrio int64) *RuntimeError {
	return &RuntimeError{
		Code: ErrCodePriorityInversion,
		Message: fmt.Sprintf("downstream reaction %s (priority %d) does not follow %s (priority %d)",
			downstream, downstreamPrio, upstream, upstreamPrio),
		Reaction: upstream,
		Tag:      &tag,
	}
}

func newStopRequestedError(trigger string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeStopRequested,
		Message: "stop has been requested; no further events are accepted",
		Trigger: trigger,
	}
}

func newNotInitializedError() *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeNotInitialized,
		Message: "Initialize must be called before scheduling",
	}
}

func newUnknownTriggerError(id TriggerID) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeUnknownTrigger,
		Message: fmt.Sprintf("trigger id %d is not registered", id),
	}
}
