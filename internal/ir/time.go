package ir

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Instant is a point in logical time, in nanoseconds since the Unix epoch
// (or since an arbitrary fixed origin when a run is configured with one).
type Instant int64

// Interval is a span of logical time in nanoseconds.
type Interval int64

const (
	// Never is earlier than any real instant.
	Never Instant = math.MinInt64
	// Forever is later than any real instant.
	Forever Instant = math.MaxInt64
)

// Interval units.
const (
	Nsec   Interval = 1
	Usec            = 1000 * Nsec
	Msec            = 1000 * Usec
	Sec             = 1000 * Msec
	Minute          = 60 * Sec
	Hour            = 60 * Minute
	Day             = 24 * Hour
	Week            = 7 * Day
)

// InstantOf converts a wall-clock time to an Instant.
func InstantOf(t time.Time) Instant {
	return Instant(t.UnixNano())
}

// Add returns i+d, saturating at Forever/Never instead of overflowing.
func (i Instant) Add(d Interval) Instant {
	if d > 0 && i > Forever-Instant(d) {
		return Forever
	}
	if d < 0 && i < Never-Instant(d) {
		return Never
	}
	return i + Instant(d)
}

// Sub returns the interval i-j.
func (i Instant) Sub(j Instant) Interval {
	return Interval(i - j)
}

func (i Instant) String() string {
	switch i {
	case Never:
		return "NEVER"
	case Forever:
		return "FOREVER"
	}
	return strconv.FormatInt(int64(i), 10)
}

// Duration converts the interval to a time.Duration.
func (d Interval) Duration() time.Duration {
	return time.Duration(d)
}

func (d Interval) String() string {
	return time.Duration(d).String()
}

// unitTable maps unit spellings (singular, plural and abbreviated) to intervals.
var unitTable = map[string]Interval{
	"ns": Nsec, "nsec": Nsec, "nsecs": Nsec, "nanosecond": Nsec, "nanoseconds": Nsec,
	"us": Usec, "usec": Usec, "usecs": Usec, "microsecond": Usec, "microseconds": Usec,
	"ms": Msec, "msec": Msec, "msecs": Msec, "millisecond": Msec, "milliseconds": Msec,
	"s": Sec, "sec": Sec, "secs": Sec, "second": Sec, "seconds": Sec,
	"min": Minute, "mins": Minute, "minute": Minute, "minutes": Minute,
	"h": Hour, "hour": Hour, "hours": Hour,
	"d": Day, "day": Day, "days": Day,
	"week": Week, "weeks": Week,
}

// ParseInterval parses "<n> <unit>" or "<n><unit>" into an Interval.
//
// Units: nsec, usec, msec, sec, min(ute), hour, day, week, their plurals and
// the short forms ns/us/ms/s/h/d. A bare "0" is accepted without a unit.
// Negative values are rejected.
func ParseInterval(s string) (Interval, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty interval")
	}

	split := len(s)
	for i, r := range s {
		if r < '0' || r > '9' {
			split = i
			break
		}
	}
	numPart := s[:split]
	unitPart := strings.ToLower(strings.TrimSpace(s[split:]))

	if numPart == "" {
		return 0, fmt.Errorf("invalid interval %q: missing magnitude", s)
	}
	n, err := strconv.ParseInt(numPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q: %w", s, err)
	}

	if unitPart == "" {
		if n == 0 {
			return 0, nil
		}
		return 0, fmt.Errorf("invalid interval %q: missing unit", s)
	}
	unit, ok := unitTable[unitPart]
	if !ok {
		return 0, fmt.Errorf("invalid interval %q: unknown unit %q", s, unitPart)
	}
	if n > int64(math.MaxInt64/unit) {
		return 0, fmt.Errorf("invalid interval %q: overflows int64 nanoseconds", s)
	}
	return Interval(n) * unit, nil
}
