package ir

import (
	"fmt"
	"math"
)

// Tag identifies a logical instant in superdense time.
//
// Tags are totally ordered: first by Time, then by Microstep. Several
// instants may share a Time and differ only in Microstep.
type Tag struct {
	Time      Instant `json:"time"`
	Microstep uint32  `json:"microstep"`
}

var (
	// NeverTag precedes every tag.
	NeverTag = Tag{Time: Never}
	// ForeverTag follows every tag.
	ForeverTag = Tag{Time: Forever, Microstep: math.MaxUint32}
)

// TagAt returns the tag (t, 0).
func TagAt(t Instant) Tag {
	return Tag{Time: t}
}

// Compare returns -1, 0 or +1 when t is before, equal to or after o.
func (t Tag) Compare(o Tag) int {
	switch {
	case t.Time < o.Time:
		return -1
	case t.Time > o.Time:
		return 1
	case t.Microstep < o.Microstep:
		return -1
	case t.Microstep > o.Microstep:
		return 1
	}
	return 0
}

// Before reports whether t precedes o.
func (t Tag) Before(o Tag) bool { return t.Compare(o) < 0 }

// After reports whether t follows o.
func (t Tag) After(o Tag) bool { return t.Compare(o) > 0 }

// Delay returns the tag d after t.
//
// A zero delay yields the next microstep at the same time. A positive delay
// advances Time and resets the microstep to zero. Negative delays are the
// caller's error; Delay treats them as zero.
func (t Tag) Delay(d Interval) Tag {
	if d <= 0 {
		if t.Microstep == math.MaxUint32 {
			return Tag{Time: t.Time.Add(Nsec)}
		}
		return Tag{Time: t.Time, Microstep: t.Microstep + 1}
	}
	return Tag{Time: t.Time.Add(d)}
}

// Since returns the elapsed interval between origin and t.Time.
func (t Tag) Since(origin Instant) Interval {
	return t.Time.Sub(origin)
}

func (t Tag) String() string {
	return fmt.Sprintf("[%s+%d]", t.Time, t.Microstep)
}
