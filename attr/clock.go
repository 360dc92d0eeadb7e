package attr

import (
	"math"
	"time"
)

// Clock selects how absolute deadlines given in seconds are interpreted.
type Clock int

const (
	ClockRealtime Clock = iota
	ClockMonotonic
)

// origin anchors the monotonic clock; it carries Go's monotonic reading.
var origin = time.Now()

func (c Clock) String() string {
	if c == ClockMonotonic {
		return "monotonic"
	}
	return "realtime"
}

// Now returns the current reading of c in seconds.
func (c Clock) Now() float64 {
	if c == ClockMonotonic {
		return time.Since(origin).Seconds()
	}
	return float64(time.Now().UnixNano()) / 1e9
}

// Deadline converts an absolute reading of c into a time.Time.
func (c Clock) Deadline(seconds float64) time.Time {
	whole, frac := math.Modf(seconds)
	d := time.Duration(whole)*time.Second + time.Duration(frac*1e9)
	if c == ClockMonotonic {
		return origin.Add(d)
	}
	return time.Unix(0, 0).Add(d)
}

// ParseClock resolves a clock name.
func ParseClock(name string) (Clock, error) {
	return parseEnum("clock", "clock", name, clockNames)
}
