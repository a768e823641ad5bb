// Package engine implements tempo's logical-time scheduler.
//
// ARCHITECTURE:
//
// Single-Writer Driver:
// One goroutine drives the instant loop. Reaction bodies run synchronously
// on it, so the queues, pools and clock need no locking. Other goroutines
// interact only through ScheduleAsync (ingress queue), RequestStop and the
// clock readers.
//
// Instant Processing (Step):
//  1. Drain asynchronous input into the event queue
//  2. Stop if requested, or if the queue is empty without keepalive
//  3. Wait for physical time to reach the next tag (unless fast)
//  4. Advance the clock and pop every event at exactly that tag
//  5. Dispatch the triggered reactions in priority order; ports set by a
//     reaction queue their downstream reactions in the same instant
//  6. Recycle the instant's events and values
//  7. Request stop once logical time reaches the stop time
//
// CRITICAL PATTERNS:
//
// Superdense time:
// Tags order by (time, microstep). Zero-delay scheduling advances the
// microstep, never the time. Logical time never decreases.
//
// Unique priorities:
// Two distinct reactions with the same priority in one instant cannot be
// ordered; the run aborts with DUPLICATE_PRIORITY.
//
// Generation-counted pools:
// Events and payloads live in pool.Arena slots. A released slot's old Ref
// stops resolving, so recycled memory cannot be read through a stale
// reference.
package engine
