package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/tempo/internal/ir"
)

// Snapshot renders the deterministic part of a result as canonical JSON:
// instants, dispatches, schedules, observations and counters. Run IDs,
// physical lag and absolute times are left out; times are elapsed.
func Snapshot(name string, result *Result) ([]byte, error) {
	start := result.Trace.Run.Info.StartTime
	elapsed := func(t ir.Tag) ir.IRString { return ir.IRString(t.Since(start).String()) }

	instants := make(ir.IRArray, len(result.Trace.Instants))
	for i, in := range result.Trace.Instants {
		triggers := make(ir.IRArray, len(in.Triggers))
		for j, name := range in.Triggers {
			triggers[j] = ir.IRString(name)
		}
		instants[i] = ir.IRObject{
			"at":        elapsed(in.Tag),
			"microstep": ir.IRInt(in.Tag.Microstep),
			"triggers":  triggers,
		}
	}

	dispatches := make(ir.IRArray, len(result.Trace.Dispatches))
	for i, d := range result.Trace.Dispatches {
		dispatches[i] = ir.IRObject{
			"instant":  ir.IRInt(d.Instant),
			"priority": ir.IRInt(d.Priority),
			"reaction": ir.IRString(d.Reaction),
		}
	}

	schedules := make(ir.IRArray, len(result.Trace.Schedules))
	for i, s := range result.Trace.Schedules {
		payload := s.Payload
		if payload == nil {
			payload = ir.IRNull{}
		}
		schedules[i] = ir.IRObject{
			"at":        elapsed(s.Tag),
			"handle":    ir.IRInt(s.Handle),
			"microstep": ir.IRInt(s.Tag.Microstep),
			"outcome":   ir.IRString(s.Outcome),
			"payload":   payload,
			"trigger":   ir.IRString(s.Trigger),
		}
	}

	observations := make(ir.IRArray, len(result.Observations))
	for i, o := range result.Observations {
		observations[i] = ir.IRObject{
			"at":        ir.IRString(o.Elapsed.String()),
			"microstep": ir.IRInt(o.Microstep),
			"reaction":  ir.IRString(o.Reaction),
			"trigger":   ir.IRString(o.Trigger),
			"value":     o.Value,
		}
	}

	stats := result.Stats()
	snap := ir.IRObject{
		"scenario":     ir.IRString(name),
		"instants":     instants,
		"dispatches":   dispatches,
		"schedules":    schedules,
		"observations": observations,
		"stats": ir.IRObject{
			"instants":        ir.IRInt(stats.Instants),
			"dispatches":      ir.IRInt(stats.Dispatches),
			"scheduled":       ir.IRInt(stats.Scheduled),
			"dropped":         ir.IRInt(stats.Dropped),
			"deadline_misses": ir.IRInt(stats.DeadlineMisses),
		},
	}
	if result.RunError != "" {
		snap["run_error"] = ir.IRString(result.RunError)
	}

	data, err := ir.MarshalCanonical(snap)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can make further checks; the comparison
// itself fails t through goldie.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an already computed result against its golden file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	data, err := Snapshot(name, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}
