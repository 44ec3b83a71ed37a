package ksync

import (
	"sync/atomic"

	"github.com/embedded-go/rtoscore/sched"
)

// OnceFlag guards a function so that only the first caller across all
// threads actually invokes it; every other caller, whether arriving
// before or after that invocation completes, blocks until it is done and
// then returns without invoking it again.
type OnceFlag struct {
	done  atomic.Bool
	guard *sched.Mutex
}

// NewOnceFlag constructs an unfired OnceFlag driven by s.
func NewOnceFlag(s *sched.Scheduler) *OnceFlag {
	return &OnceFlag{guard: sched.NewMutex(s, sched.Normal, sched.None, 0)}
}

// CallOnce invokes fn exactly once across every call to CallOnce sharing
// this flag, across every thread. Every caller - the one that runs fn
// and every one that raced in behind it - blocks until fn has returned
// at least once, and only then does CallOnce itself return.
func (o *OnceFlag) CallOnce(self *sched.TCB, fn func()) error {
	if o.done.Load() {
		return nil
	}
	if err := o.guard.Lock(self); err != nil {
		return err
	}
	defer o.guard.Unlock(self)
	if !o.done.Load() {
		fn()
		o.done.Store(true)
	}
	return nil
}

// Done reports whether fn has already run to completion.
func (o *OnceFlag) Done() bool { return o.done.Load() }
