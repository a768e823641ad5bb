// Package store provides SQLite-backed durable storage for tempo run traces.
//
// A trace is append-only and made of:
//   - Runs: one row per scheduler execution, finished with summary stats
//   - Instants: every processed tag, in processing order
//   - Dispatches: every reaction invocation, in dispatch order
//   - Schedules: every scheduling request and its outcome
//
// # Ordering
//
// Every table is keyed by (run_id, seq). seq is assigned by the scheduler
// and is the only ordering column: queries ORDER BY seq ASC and never by
// wall-clock time, so a trace reads back identically on every machine.
//
// # Idempotency
//
// Writes use ON CONFLICT DO NOTHING. Re-recording a record with an existing
// (run_id, seq) is silently ignored.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Payloads are stored as RFC 8785 canonical JSON produced by
// ir.MarshalCanonical.
package store
