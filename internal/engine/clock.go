package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/tempo/internal/ir"
)

// PhysicalClock is the source of physical time. The default reads the host
// clock; tests substitute a manual clock so real-time runs are reproducible.
type PhysicalClock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	Sleep(d time.Duration)
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (systemClock) Sleep(d time.Duration)                  { time.Sleep(d) }

// SystemClock returns the host's physical clock.
func SystemClock() PhysicalClock { return systemClock{} }

// Clock tracks logical time for one run and relates it to physical time.
//
// The current tag is written only by the driver; readers may call from any
// goroutine. The stop flag is one-way.
type Clock struct {
	phys PhysicalClock

	mu        sync.RWMutex
	current   ir.Tag
	start     ir.Instant
	stop      ir.Instant
	hasStop   bool
	physStart time.Time

	stopRequested atomic.Bool
}

func newClock(phys PhysicalClock) *Clock {
	return &Clock{phys: phys}
}

// reset starts a run at start. physStart anchors elapsed physical time.
func (c *Clock) reset(start ir.Instant, physStart time.Time, duration ir.Interval) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.start = start
	c.current = ir.TagAt(start)
	c.physStart = physStart
	c.hasStop = duration > 0
	c.stop = ir.Forever
	if c.hasStop {
		c.stop = start.Add(duration)
	}
}

func (c *Clock) advance(tag ir.Tag) {
	c.mu.Lock()
	c.current = tag
	c.mu.Unlock()
}

// tightenStop moves the stop time earlier. A later instant is ignored.
func (c *Clock) tightenStop(at ir.Instant) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasStop || at < c.stop {
		c.stop = at
		c.hasStop = true
	}
}

// CurrentTag returns the tag of the current (or last processed) instant.
func (c *Clock) CurrentTag() ir.Tag {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// LogicalTime returns the current logical instant.
func (c *Clock) LogicalTime() ir.Instant {
	return c.CurrentTag().Time
}

// StartTime returns the logical start of the run.
func (c *Clock) StartTime() ir.Instant {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.start
}

// StopTime returns the configured stop instant, if any.
func (c *Clock) StopTime() (ir.Instant, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stop, c.hasStop
}

// ElapsedLogicalTime returns current - start.
func (c *Clock) ElapsedLogicalTime() ir.Interval {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current.Time.Sub(c.start)
}

// PhysicalTime samples the physical clock.
func (c *Clock) PhysicalTime() ir.Instant {
	return ir.InstantOf(c.phys.Now())
}

// ElapsedPhysicalTime returns the physical time since the run started.
func (c *Clock) ElapsedPhysicalTime() ir.Interval {
	c.mu.RLock()
	physStart := c.physStart
	c.mu.RUnlock()
	return ir.Interval(c.phys.Now().Sub(physStart))
}

// physicalInstant maps the current physical time onto the logical time line.
func (c *Clock) physicalInstant() ir.Instant {
	return c.StartTime().Add(c.ElapsedPhysicalTime())
}

// untilPhysical returns how long physical time must advance before it
// reaches the logical instant t. Non-positive means t is already due.
func (c *Clock) untilPhysical(t ir.Instant) time.Duration {
	return time.Duration(t.Sub(c.StartTime()) - c.ElapsedPhysicalTime())
}

// lag returns how far physical time runs behind (negative) or ahead
// (positive) of the logical instant t.
func (c *Clock) lag(t ir.Instant) ir.Interval {
	return c.ElapsedPhysicalTime() - t.Sub(c.StartTime())
}

// RequestStop sets the one-way stop flag. It reports whether this call set it.
func (c *Clock) RequestStop() bool {
	return c.stopRequested.CompareAndSwap(false, true)
}

// StopRequested reports whether stop has been requested.
func (c *Clock) StopRequested() bool {
	return c.stopRequested.Load()
}
