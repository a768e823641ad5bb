package engine

import (
	"log/slog"

	"github.com/roach88/tempo/internal/ir"
)

// config holds run configuration applied by Options.
type config struct {
	duration     ir.Interval
	keepAlive    bool
	fast         bool
	startTime    ir.Instant
	hasStartTime bool
	phys         PhysicalClock
	logger       *slog.Logger
	onDeadline   func(DeadlineViolation)
	recorder     Recorder
	runIDs       RunIDGenerator
	handleStart  int64
}

// Option configures a Scheduler.
type Option func(*config)

// WithDuration bounds the run: events later than start+d are dropped and the
// run stops once logical time reaches it. Zero means unbounded.
func WithDuration(d ir.Interval) Option {
	return func(c *config) {
		c.duration = d
	}
}

// WithKeepAlive keeps the scheduler waiting for ScheduleAsync input when the
// event queue is empty instead of terminating.
func WithKeepAlive(keepAlive bool) Option {
	return func(c *config) {
		c.keepAlive = keepAlive
	}
}

// WithFast disables waiting for physical time to reach each tag.
func WithFast(fast bool) Option {
	return func(c *config) {
		c.fast = fast
	}
}

// WithStartTime fixes the logical start instead of sampling physical time.
// Runs with the same start time produce identical tags.
func WithStartTime(t ir.Instant) Option {
	return func(c *config) {
		c.startTime = t
		c.hasStartTime = true
	}
}

// WithPhysicalClock replaces the host clock.
func WithPhysicalClock(pc PhysicalClock) Option {
	return func(c *config) {
		c.phys = pc
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// WithDeadlineHandler receives every deadline violation of the run, in
// addition to any reaction-level handler.
func WithDeadlineHandler(fn func(DeadlineViolation)) Option {
	return func(c *config) {
		c.onDeadline = fn
	}
}

// WithRecorder persists the run's trace.
func WithRecorder(r Recorder) Option {
	return func(c *config) {
		c.recorder = r
	}
}

// WithRunIDGenerator sets the run ID source. Default: UUIDv7Generator.
func WithRunIDGenerator(g RunIDGenerator) Option {
	return func(c *config) {
		c.runIDs = g
	}
}

// WithHandleStart makes the first handle start+1.
func WithHandleStart(start int64) Option {
	return func(c *config) {
		c.handleStart = start
	}
}
