package ksync

import (
	"github.com/embedded-go/rtoscore/klist"
	"github.com/embedded-go/rtoscore/sched"
)

// Barrier is a one-shot rendezvous point for a fixed number of threads:
// the first n-1 arrivals block, and the nth arrival releases all of
// them (itself included) without blocking, and without ever blocking
// again afterward. Grounded on the same "release every waiter at once"
// shape ConditionVariable.NotifyAll uses; unlike a condition variable it
// needs no associated mutex and cannot be reused once tripped.
type Barrier struct {
	sched   *sched.Scheduler
	waiters klist.SortedList[sched.TCB]
	pending uint32
	tripped bool
}

// NewBarrier constructs a barrier that releases once n threads have
// called Arrive. n must be at least 1.
func NewBarrier(s *sched.Scheduler, n uint32) *Barrier {
	b := &Barrier{sched: s, pending: n}
	b.waiters.Init(sched.TCBLess)
	return b
}

// Arrive blocks self until the configured number of threads have all
// called Arrive, then returns for every one of them. Calling Arrive
// again on an already-tripped barrier returns immediately.
func (b *Barrier) Arrive(self *sched.TCB) error {
	var last bool
	b.sched.Atomic(func() {
		if b.tripped {
			return
		}
		b.pending--
		if b.pending == 0 {
			b.tripped = true
			last = true
		}
	})
	if last {
		b.sched.WakeAll(self, &b.waiters, sched.UnblockRequest)
		return nil
	}
	return b.sched.BlockIf(self, func() bool { return b.tripped }, &b.waiters, sched.BlockedOnConditionVariable, nil)
}
