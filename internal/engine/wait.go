package engine

import (
	"context"
	"time"

	"github.com/roach88/tempo/internal/ir"
)

type wakeReason int

const (
	// wakeDue: physical time reached the target.
	wakeDue wakeReason = iota
	// wakeInput: ScheduleAsync delivered something.
	wakeInput
	// wakeStop: RequestStop was called.
	wakeStop
	// wakeCancel: the context was cancelled.
	wakeCancel
)

// waitFor blocks until physical time reaches the logical instant target
// (when bounded), input arrives, stop is requested or ctx is done. These are
// the scheduler's only blocking points.
func (s *Scheduler) waitFor(ctx context.Context, target ir.Instant, bounded bool) wakeReason {
	var timer <-chan time.Time
	if bounded {
		d := s.clock.untilPhysical(target)
		if d <= 0 {
			return wakeDue
		}
		s.log.Debug("waiting for physical time", "target", target, "wait", d)
		timer = s.cfg.phys.After(d)
	} else {
		s.log.Debug("waiting for input")
	}

	select {
	case <-ctx.Done():
		return wakeCancel
	case <-s.stopCh:
		return wakeStop
	case _, ok := <-s.ingress.Wait():
		if !ok {
			return wakeStop
		}
		return wakeInput
	case <-timer:
		return wakeDue
	}
}
