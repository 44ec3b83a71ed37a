// Package timer implements the software-timer supervisor: a sorted list
// of pending timers, ascending by expiry, serviced from the tick
// handler. It is deliberately independent of the scheduler - a timer's
// Run function is an arbitrary closure, so the scheduler arms timeout
// timers whose Run unblocks a thread without this package needing to
// know what a thread is. This mirrors the original's split between
// SoftwareTimerSupervisor (generic) and the scheduler's use of it purely
// for blockUntil timeouts.
package timer

import (
	"github.com/embedded-go/rtoscore/klist"
	"github.com/embedded-go/rtoscore/tick"
)

// Timer is one pending (or armed-but-not-yet-pending) software timer.
// The zero value is a stopped, one-shot timer; use New to associate a
// Run function.
type Timer struct {
	node      klist.Node[Timer]
	timePoint tick.TimePoint
	period    tick.Duration // 0 = one-shot
	run       func()
}

// New constructs a Timer that invokes run when it fires.
func New(run func()) *Timer {
	t := &Timer{run: run}
	t.node.Init(t)
	return t
}

// IsRunning reports whether the timer is currently armed: either linked
// into a Supervisor's active list, or periodic (a periodic timer is
// "running" between the moment it fires and the moment it is re-armed
// for its next period, per the original's isRunning contract).
func (t *Timer) IsRunning() bool {
	return t.node.Linked() || t.period != 0
}

// TimePoint returns the absolute tick at which the timer is scheduled to
// fire next.
func (t *Timer) TimePoint() tick.TimePoint {
	return t.timePoint
}

// Supervisor owns the sorted list of pending timers and fires them from
// Tick. All methods must be called with the caller's critical section
// already held - the supervisor performs no locking of its own.
type Supervisor struct {
	active klist.SortedList[Timer]
}

// NewSupervisor constructs an empty Supervisor.
func NewSupervisor() *Supervisor {
	s := &Supervisor{}
	s.active.Init(func(a, b *Timer) bool { return a.timePoint < b.timePoint })
	return s
}

// Start arms t to fire once at timePoint. If period is non-zero, the
// timer re-arms itself every period ticks after firing (drift-free: the
// next time point is computed from the previous one, not from "now",
// so a late tick handler never compounds). Starting an already-running
// timer first stops it.
func (s *Supervisor) Start(t *Timer, timePoint tick.TimePoint, period tick.Duration) {
	s.Stop(t)
	t.timePoint = timePoint
	t.period = period
	s.active.Insert(&t.node, false)
}

// Stop disarms t. It is a no-op if t is not running.
func (s *Supervisor) Stop(t *Timer) {
	s.active.Remove(&t.node)
	t.period = 0
}

// Tick fires every timer whose time point has been reached as of now,
// draining the whole due prefix of the active list in one pass so a
// tick handler that runs late never leaves a timer pending past the
// next tick needlessly. Periodic timers are re-armed before their Run
// function is invoked (old time point + period, not now + period), so
// jitter in the handler's own latency never shifts the periodic rate.
func (s *Supervisor) Tick(now tick.TimePoint) {
	for {
		t := s.active.Front()
		if t == nil || t.timePoint.After(now) {
			return
		}
		s.active.Remove(&t.node)
		if t.period != 0 {
			t.timePoint = t.timePoint.Add(t.period)
			s.active.Insert(&t.node, false)
		} else {
			t.period = 0
		}
		t.run()
	}
}
