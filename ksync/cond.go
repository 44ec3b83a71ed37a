package ksync

import (
	"github.com/embedded-go/rtoscore/klist"
	"github.com/embedded-go/rtoscore/sched"
	"github.com/embedded-go/rtoscore/tick"
)

// ConditionVariable is a waiters list associated with (but not owning) a
// Mutex supplied at each call. Wait atomically releases the mutex and
// blocks self; the mutex is re-acquired before Wait returns, regardless
// of whether it returns due to notification, spurious wake, or timeout.
// A notifier need not hold the mutex.
type ConditionVariable struct {
	sched   *sched.Scheduler
	waiters klist.SortedList[sched.TCB]
}

// NewConditionVariable constructs an empty condition variable driven by
// s.
func NewConditionVariable(s *sched.Scheduler) *ConditionVariable {
	cv := &ConditionVariable{sched: s}
	cv.waiters.Init(sched.TCBLess)
	return cv
}

// Wait releases m and blocks self on this condition variable, then
// re-acquires m before returning. Spurious wake-ups are permitted: a
// caller must always re-check its own predicate in a loop (see the
// WaitPredicate overload, or roll one's own).
func (cv *ConditionVariable) Wait(self *sched.TCB, m *sched.Mutex) error {
	waitErr := m.WaitRelease(self, &cv.waiters)
	if lockErr := m.Lock(self); lockErr != nil {
		return lockErr
	}
	return waitErr
}

// WaitUntil is Wait with a deadline: if neither a notification nor a
// spurious wake arrives first, it returns ErrTimedOut (with m already
// re-acquired).
func (cv *ConditionVariable) WaitUntil(self *sched.TCB, m *sched.Mutex, deadline tick.TimePoint) error {
	waitErr := m.WaitReleaseUntil(self, &cv.waiters, deadline)
	if lockErr := m.Lock(self); lockErr != nil {
		return lockErr
	}
	return waitErr
}

// WaitPredicate calls Wait in a loop until pred reports true, re-checking
// it each time m is reacquired (covering both genuine notifications and
// permitted spurious wake-ups).
func (cv *ConditionVariable) WaitPredicate(self *sched.TCB, m *sched.Mutex, pred func() bool) error {
	for !pred() {
		if err := cv.Wait(self, m); err != nil {
			return err
		}
	}
	return nil
}

// WaitPredicateUntil is WaitPredicate with a deadline, returning
// ErrTimedOut if pred has not become true by the time it elapses.
func (cv *ConditionVariable) WaitPredicateUntil(self *sched.TCB, m *sched.Mutex, pred func() bool, deadline tick.TimePoint) error {
	for !pred() {
		if err := cv.WaitUntil(self, m, deadline); err != nil {
			return err
		}
	}
	return nil
}

// NotifyOne unblocks the highest-priority thread waiting on this
// condition variable (the longest-waiting one among equal priorities),
// if any. The caller need not hold the associated mutex.
func (cv *ConditionVariable) NotifyOne(self *sched.TCB) {
	cv.sched.WakeOrUpdate(self, &cv.waiters, sched.UnblockRequest, func() error { return nil })
}

// NotifyAll unblocks every thread currently waiting on this condition
// variable. The caller need not hold the associated mutex.
func (cv *ConditionVariable) NotifyAll(self *sched.TCB) {
	cv.sched.WakeAll(self, &cv.waiters, sched.UnblockRequest)
}
