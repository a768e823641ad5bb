package engine

import "sync/atomic"

// Sequence is a monotonic counter used for handles, event insertion order
// and trace sequence numbers.
//
// Handles must stay unique even when ScheduleAsync is called from other
// goroutines, so Sequence is safe for concurrent use.
type Sequence struct {
	seq atomic.Int64
}

// NewSequence creates a counter whose first Next() returns 1.
func NewSequence() *Sequence {
	return &Sequence{}
}

// NewSequenceAt creates a counter whose first Next() returns start+1.
// Used to keep handles unique across runs that share a trace store.
func NewSequenceAt(start int64) *Sequence {
	s := &Sequence{}
	s.seq.Store(start)
	return s
}

// Next returns the next value and increments the counter.
func (s *Sequence) Next() int64 {
	return s.seq.Add(1)
}

// Current returns the last value handed out without incrementing.
func (s *Sequence) Current() int64 {
	return s.seq.Load()
}
