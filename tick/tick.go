// Package tick defines the kernel's notion of time: a monotonic,
// unsigned tick counter and the signed duration between two points on
// it. Every other package that needs to reason about time point (a
// deadline) or duration (a timeout, a quantum) builds on these two
// types; nothing in this package touches a real clock, since the tick
// source itself is a Port responsibility.
package tick

// Count is a monotonically non-decreasing tick counter. It rolls over
// only at 2^64 ticks, which in practice never happens within the
// lifetime of a running system.
type Count uint64

// Duration is a signed number of ticks. Negative durations only arise as
// intermediate values (e.g. "ticks remaining" going negative just before
// a timeout fires) and are never meaningful as an input.
type Duration int64

// TimePoint is an absolute point on the tick timeline, i.e. the value a
// Count had at some past or future instant.
type TimePoint = Count

// Add returns the time point Duration d after t.
func (t TimePoint) Add(d Duration) TimePoint {
	return TimePoint(int64(t) + int64(d))
}

// Sub returns the duration from u to t (t - u), positive if t is later.
func (t TimePoint) Sub(u TimePoint) Duration {
	return Duration(int64(t) - int64(u))
}

// Before reports whether t is strictly earlier than u.
func (t TimePoint) Before(u TimePoint) bool {
	return int64(t) < int64(u)
}

// After reports whether t is strictly later than u.
func (t TimePoint) After(u TimePoint) bool {
	return int64(t) > int64(u)
}
