package engine

import (
	"sync"

	"github.com/roach88/tempo/internal/ir"
)

// asyncRequest is a scheduling request submitted from outside the driver
// goroutine. Physical is the physical elapsed time sampled at submission.
type asyncRequest struct {
	trigger  TriggerID
	delay    ir.Interval
	value    any
	handle   Handle
	physical ir.Interval
}

// ingress is the goroutine-safe inbox between ScheduleAsync callers and the
// driver. It is unbounded so that producers never block.
//
// The signal channel (buffered, size 1) lets the driver wait for input in a
// select alongside timers and context cancellation.
type ingress struct {
	mu       sync.Mutex
	requests []asyncRequest
	closed   bool
	signal   chan struct{}
}

func newIngress() *ingress {
	return &ingress{
		requests: make([]asyncRequest, 0, 16),
		signal:   make(chan struct{}, 1),
	}
}

// Enqueue adds a request. Returns false if the ingress is closed.
// Safe from any goroutine.
func (q *ingress) Enqueue(r asyncRequest) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.requests = append(q.requests, r)

	// Non-blocking: the buffer of 1 coalesces signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// Drain removes and returns every pending request in submission order.
func (q *ingress) Drain() []asyncRequest {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.requests) == 0 {
		return nil
	}
	out := q.requests
	q.requests = make([]asyncRequest, 0, cap(out))
	return out
}

// Wait returns a channel that fires when requests may be available.
func (q *ingress) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of pending requests.
func (q *ingress) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.requests)
}

// Close rejects further requests and returns whatever was still pending.
func (q *ingress) Close() []asyncRequest {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	close(q.signal)
	out := q.requests
	q.requests = nil
	return out
}
