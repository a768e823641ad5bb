// Package ir provides the shared value and time types for tempo.
//
// This package contains type definitions only. All other internal packages
// import ir; ir imports nothing internal. It holds:
//   - Instant / Interval: nanosecond logical time
//   - Tag: superdense (time, microstep) pairs ordering instants
//   - IRValue: the constrained payload values carried by program files
//   - Trace records shared by the scheduler and the trace store
//
// Key design constraints:
//   - NO float types in payload values - use int64 for numbers
//   - All JSON tags use snake_case
//   - Trace order uses logical sequence numbers, never wall-clock timestamps
package ir
