package harness

import (
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/roach88/tempo/internal/ir"
)

// AssertionError is returned when an assertion fails.
// It includes the dispatch sequence to help debug the failure.
type AssertionError struct {
	Type       string // Assertion type for categorization
	Expected   string // Human-readable expected outcome
	Actual     string // Human-readable actual outcome
	Dispatches []ir.DispatchRecord
	Start      ir.Instant
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Dispatches) > 0 {
		fmt.Fprintf(&buf, "\nDispatches:\n")
		for _, d := range e.Dispatches {
			fmt.Fprintf(&buf, "  [%d] %s instant=%d at=(%s, %d)\n",
				d.Seq, d.Reaction, d.Instant, d.Tag.Since(e.Start), d.Tag.Microstep)
		}
	}
	return buf.String()
}

func failure(result *Result, typ, expected, actual string) *AssertionError {
	return &AssertionError{
		Type:       typ,
		Expected:   expected,
		Actual:     actual,
		Dispatches: result.Trace.Dispatches,
		Start:      result.Trace.Run.Info.StartTime,
	}
}

// assertDispatchOrder checks that the listed reactions dispatch in order.
// Other dispatches may interleave. With Instant set, the instant's dispatch
// sequence must equal the list exactly.
func assertDispatchOrder(result *Result, a Assertion) error {
	if a.Instant != nil {
		var got []string
		for _, d := range result.Trace.Dispatches {
			if d.Instant == *a.Instant {
				got = append(got, d.Reaction)
			}
		}
		if !slices.Equal(got, a.Reactions) {
			return failure(result, AssertDispatchOrder,
				fmt.Sprintf("instant %d dispatches %v", *a.Instant, a.Reactions),
				fmt.Sprintf("%v", got))
		}
		return nil
	}

	next := 0
	for _, d := range result.Trace.Dispatches {
		if next < len(a.Reactions) && d.Reaction == a.Reactions[next] {
			next++
		}
	}
	if next < len(a.Reactions) {
		return failure(result, AssertDispatchOrder,
			fmt.Sprintf("reactions in order: %v", a.Reactions),
			fmt.Sprintf("%s not dispatched after %v", a.Reactions[next], a.Reactions[:next]))
	}
	return nil
}

// assertDispatchCount checks the reaction dispatched exactly Count times.
func assertDispatchCount(result *Result, a Assertion) error {
	count := 0
	for _, d := range result.Trace.Dispatches {
		if d.Reaction == a.Reaction {
			count++
		}
	}
	if count != a.Count {
		return failure(result, AssertDispatchCount,
			fmt.Sprintf("%d dispatches of %s", a.Count, a.Reaction),
			fmt.Sprintf("%d dispatches", count))
	}
	return nil
}

// assertValueSeen checks that the reaction saw the trigger present, with
// the value, elapsed time and microstep when given.
func assertValueSeen(result *Result, a Assertion) error {
	var want ir.IRValue
	if a.Value != nil {
		var err error
		if want, err = ir.FromGo(a.Value); err != nil {
			return fmt.Errorf("value_seen: %w", err)
		}
	}
	var at *ir.Interval
	if a.At != "" {
		d, err := ir.ParseInterval(a.At)
		if err != nil {
			return fmt.Errorf("value_seen: %w", err)
		}
		at = &d
	}

	var seen []string
	for _, o := range result.Observations {
		if o.Reaction != a.Reaction || o.Trigger != a.Trigger {
			continue
		}
		seen = append(seen, fmt.Sprintf("%s at (%s, %d)", describeValue(o.Value), o.Elapsed, o.Microstep))
		if want != nil && !reflect.DeepEqual(o.Value, want) {
			continue
		}
		if at != nil && o.Elapsed != *at {
			continue
		}
		if a.Microstep != nil && o.Microstep != *a.Microstep {
			continue
		}
		return nil
	}

	expected := fmt.Sprintf("%s to see %s", a.Reaction, a.Trigger)
	if want != nil {
		expected += " = " + describeValue(want)
	}
	if at != nil {
		expected += fmt.Sprintf(" at %s", *at)
	}
	if a.Microstep != nil {
		expected += fmt.Sprintf(" microstep %d", *a.Microstep)
	}
	actual := "never present"
	if len(seen) > 0 {
		actual = "saw " + strings.Join(seen, ", ")
	}
	return failure(result, AssertValueSeen, expected, actual)
}

// assertFinalTime checks the final tag of the run.
func assertFinalTime(result *Result, a Assertion) error {
	final := result.Stats().FinalTag
	elapsed := final.Since(result.Trace.Run.Info.StartTime)
	actual := fmt.Sprintf("(%s, %d)", elapsed, final.Microstep)

	if a.Max != "" {
		limit, err := ir.ParseInterval(a.Max)
		if err != nil {
			return fmt.Errorf("final_time: %w", err)
		}
		if elapsed > limit {
			return failure(result, AssertFinalTime, fmt.Sprintf("final time at most %s", limit), actual)
		}
		return nil
	}

	at, err := ir.ParseInterval(a.At)
	if err != nil {
		return fmt.Errorf("final_time: %w", err)
	}
	if elapsed != at || (a.Microstep != nil && final.Microstep != *a.Microstep) {
		expected := fmt.Sprintf("final time %s", at)
		if a.Microstep != nil {
			expected = fmt.Sprintf("final tag (%s, %d)", at, *a.Microstep)
		}
		return failure(result, AssertFinalTime, expected, actual)
	}
	return nil
}

func assertStat(result *Result, a Assertion, name string, got int64) error {
	if got != int64(a.Count) {
		return failure(result, a.Type,
			fmt.Sprintf("%d %s", a.Count, name),
			fmt.Sprintf("%d %s", got, name))
	}
	return nil
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, a := range assertions {
		var err error
		stats := result.Stats()

		switch a.Type {
		case AssertDispatchOrder:
			err = assertDispatchOrder(result, a)
		case AssertDispatchCount:
			err = assertDispatchCount(result, a)
		case AssertValueSeen:
			err = assertValueSeen(result, a)
		case AssertFinalTime:
			err = assertFinalTime(result, a)
		case AssertInstants:
			err = assertStat(result, a, "instants", stats.Instants)
		case AssertDropped:
			err = assertStat(result, a, "dropped events", stats.Dropped)
		case AssertDeadlineViolations:
			err = assertStat(result, a, "deadline violations", stats.DeadlineMisses)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}

func describeValue(v ir.IRValue) string {
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
