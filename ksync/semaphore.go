// Package ksync implements the blocking primitives built on top of the
// scheduler's block/unblock substrate: a counting semaphore, a condition
// variable, a one-shot call-once flag, and a one-shot barrier. None of
// these hold scheduler-internal locks directly; they compose the
// exported BlockIf/WakeOrUpdate/WakeAll primitives sched.Scheduler
// provides specifically so a counting or predicate-gated primitive can
// make its own state change atomic with the block/wake decision.
package ksync

import (
	"github.com/embedded-go/rtoscore/errcode"
	"github.com/embedded-go/rtoscore/klist"
	"github.com/embedded-go/rtoscore/sched"
	"github.com/embedded-go/rtoscore/tick"
)

// Semaphore is a counting semaphore with a configurable maximum value.
type Semaphore struct {
	sched   *sched.Scheduler
	waiters klist.SortedList[sched.TCB]
	count   uint32
	max     uint32
}

// NewSemaphore constructs a semaphore starting at initial, bounded by
// max. initial must not exceed max.
func NewSemaphore(s *sched.Scheduler, initial, max uint32) *Semaphore {
	sem := &Semaphore{sched: s, count: initial, max: max}
	sem.waiters.Init(sched.TCBLess)
	return sem
}

// Value returns the semaphore's current count. Racy the instant it is
// observed against a concurrent Post/Wait, as with any such snapshot;
// useful for diagnostics, not synchronization.
func (sem *Semaphore) Value() uint32 {
	var v uint32
	sem.sched.Atomic(func() { v = sem.count })
	return v
}

// Post increments the semaphore, or - if a thread is already waiting -
// hands the unit directly to the highest-priority waiter without ever
// touching count. Returns ErrOverflow if count is already at max and
// nobody is waiting.
func (sem *Semaphore) Post(self *sched.TCB) error {
	return sem.sched.WakeOrUpdate(self, &sem.waiters, sched.UnblockRequest, func() error {
		if sem.count >= sem.max {
			return errcode.ErrOverflow
		}
		sem.count++
		return nil
	})
}

// Wait decrements the semaphore, blocking until count is positive.
func (sem *Semaphore) Wait(self *sched.TCB) error {
	return sem.sched.BlockIf(self, sem.tryDecrement, &sem.waiters, sched.BlockedOnSemaphore, nil)
}

// TryWait decrements the semaphore if positive, else returns ErrBusy
// without blocking.
func (sem *Semaphore) TryWait(self *sched.TCB) error {
	if sem.sched.TryIf(sem.tryDecrement) {
		return nil
	}
	return errcode.ErrBusy
}

// TryWaitUntil blocks until count is positive or deadline elapses,
// returning ErrTimedOut in the latter case.
func (sem *Semaphore) TryWaitUntil(self *sched.TCB, deadline tick.TimePoint) error {
	return sem.sched.BlockIfUntil(self, sem.tryDecrement, &sem.waiters, sched.BlockedOnSemaphore, deadline, nil)
}

// TryWaitFor is TryWaitUntil relative to the scheduler's current tick.
func (sem *Semaphore) TryWaitFor(self *sched.TCB, d tick.Duration) error {
	return sem.TryWaitUntil(self, tick.TimePoint(sem.sched.TickCount()).Add(d))
}

func (sem *Semaphore) tryDecrement() bool {
	if sem.count > 0 {
		sem.count--
		return true
	}
	return false
}

