// Package harness runs tempo programs against YAML scenarios and checks the
// resulting trace.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	program: ../programs/pipeline.yaml   # or an inline program mapping
//	run: {timeout: 100 msec, fast: true} # optional; overrides the program's run settings
//	inject:
//	  - trigger: poke
//	    delay: 10 msec
//	    value: {id: 1}
//	    expect_error: PAST_STOP          # optional
//	expect_error: DUPLICATE_PRIORITY     # optional; the run must abort with this code
//	assertions:
//	  - type: dispatch_order
//	    reactions: [counter, show]
//	  - type: dispatch_count
//	    reaction: counter
//	    count: 3
//	  - type: value_seen
//	    reaction: show
//	    trigger: sample
//	    value: 3
//	    at: 20 msec
//
// # Assertion Types
//
//   - dispatch_order: the listed reactions dispatch in this order (other
//     dispatches may interleave); with instant set, the instant's dispatches
//     must be exactly the list
//   - dispatch_count: a reaction dispatched exactly count times
//   - value_seen: a reaction saw a trigger present, optionally with a value
//     and at an elapsed time and microstep
//   - final_time: the run's final tag, exactly (at, microstep) or at most max
//   - instants: exactly count instants were processed
//   - dropped: exactly count events were dropped
//   - deadline_violations: exactly count deadlines were missed
//
// # Deterministic Testing
//
// Every scenario runs with:
//   - a manual physical clock starting at testutil.Epoch, also the start time
//   - a fixed run ID (scenario run_id, or "test-run-default")
//   - a fresh in-memory SQLite trace store
//
// so identical scenarios yield identical traces, which RunWithGolden compares
// against testdata/golden.
package harness
