// Package sched implements the scheduler core: the runnable/suspended
// thread lists, priority dispatch, round-robin quantum accounting, and
// the mutex subsystem with priority inheritance and priority-ceiling
// protocols. ThreadControlBlock and MutexControlBlock live in the same
// package because they are mutually referential (a TCB owns a list of
// mutexes, a mutex's waiters and owner are TCBs); the original breaks
// this cycle with forward declarations, which Go does not have across
// package boundaries (see SPEC_FULL.md §9).
package sched

import (
	"sync"
	"sync/atomic"

	"github.com/embedded-go/rtoscore/errcode"
	"github.com/embedded-go/rtoscore/internal/klog"
	"github.com/embedded-go/rtoscore/klist"
	"github.com/embedded-go/rtoscore/port"
	"github.com/embedded-go/rtoscore/tick"
	"github.com/embedded-go/rtoscore/timer"
)

// TCBLess orders TCBs by descending effective priority, for use as the
// comparator of any klist.SortedList[TCB] a primitive outside this
// package keeps (a mutex/semaphore/condition-variable waiters list),
// so every such list orders identically to the scheduler's own runnable
// and suspended lists. FIFO tie-break among equals comes from
// SortedList's insertion-order behavior.
func TCBLess(a, b *TCB) bool {
	return a.EffectivePriority() > b.EffectivePriority()
}

// priorityLess is the internal alias used by the scheduler's own lists.
func priorityLess(a, b *TCB) bool { return TCBLess(a, b) }

// Option configures a Scheduler at construction.
type Option func(*Scheduler)

// WithLogger overrides the default klog logger used for diagnostic and
// fatal events.
func WithLogger(l *klog.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// WithStackGuard enables the stack guard region check for every TCB
// started via Scheduler.NewThread.
func WithStackGuard(enabled bool) Option {
	return func(s *Scheduler) { s.guardEnabled = enabled }
}

// WithTickRate programs the Port's tick source at construction time, at
// the given rate, wired to this scheduler's TickInterruptHandler.
func WithTickRate(ticksPerSecond uint32) Option {
	return func(s *Scheduler) { s.tickRate = ticksPerSecond }
}

// Scheduler holds the runnable and suspended thread lists, the current
// thread, the tick and context-switch counters, and the software-timer
// supervisor.
//
// Every mutating operation holds mu for its entire body, including the
// resulting unblock-functor invocation and Port.RequestContextSwitch
// call - mu is this package's Go-native stand-in for "interrupts
// masked" (§5), and the original kernel performs exactly this kind of
// bookkeeping with interrupts still masked too. The one exception is a
// thread parking on its own baton waiting to be dispatched again, which
// necessarily happens with mu released (see TCB.baton).
type Scheduler struct {
	mu sync.Mutex

	port         port.Port
	log          *klog.Logger
	guardEnabled bool
	tickRate     uint32

	runnable  klist.SortedList[TCB]
	suspended klist.SortedList[TCB]
	sleeping  klist.SortedList[TCB]
	current   *TCB

	supervisor *timer.Supervisor

	tickCount          atomic.Uint64
	contextSwitchCount atomic.Uint64
}

// New constructs a Scheduler bound to p. If a tick rate was configured
// via WithTickRate, the Port's tick source is programmed immediately.
func New(p port.Port, opts ...Option) *Scheduler {
	s := &Scheduler{
		port: p,
		log:  klog.Default,
	}
	s.runnable.Init(priorityLess)
	s.suspended.Init(priorityLess)
	s.sleeping.Init(priorityLess)
	s.supervisor = timer.NewSupervisor()
	for _, opt := range opts {
		opt(s)
	}
	if s.tickRate != 0 {
		p.SetTickSource(s.tickRate, func() { s.TickInterruptHandler() })
	}
	return s
}

// Current returns the thread the scheduler currently considers running,
// or nil if none has been dispatched yet.
func (s *Scheduler) Current() *TCB {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// TickCount returns the number of ticks observed so far.
func (s *Scheduler) TickCount() uint64 { return s.tickCount.Load() }

// ContextSwitchCount returns the number of times the runnable head has
// changed, monotonically increasing.
func (s *Scheduler) ContextSwitchCount() uint64 { return s.contextSwitchCount.Load() }

// park blocks the calling goroutine, with mu already released by the
// caller, until self is dispatched (becomes current). A no-op for a nil
// self (a non-thread caller: boot context, tick driver) and for a self
// that is already current.
func (s *Scheduler) park(self *TCB) {
	if self == nil {
		return
	}
	for {
		s.mu.Lock()
		isCurrent := s.current == self
		s.mu.Unlock()
		if isCurrent {
			return
		}
		<-self.baton
	}
}

// dispatchLocked re-evaluates the runnable head and, if it differs from
// the current thread, switches to it and hands off the baton. Must be
// called with mu held. Reports whether the current thread changed.
func (s *Scheduler) dispatchLocked() bool {
	head := s.runnable.Front()
	if head == s.current {
		return false
	}
	s.current = head
	s.contextSwitchCount.Add(1)
	if head != nil {
		select {
		case head.baton <- struct{}{}:
		default:
			// Single-token protocol: a detached TCB never already holds
			// a pending baton. Never block dispatch on it regardless.
		}
	}
	return true
}

// requestSwitchLocked asks the Port to perform a context switch if
// switched is true. Called with mu held, matching how the original
// performs this call as part of the same masked critical section.
func (s *Scheduler) requestSwitchLocked(switched bool) {
	if switched {
		s.port.RequestContextSwitch()
	}
}

// NewThread constructs a TCB using this scheduler's configured stack
// guard setting and immediately Adds it; a convenience wrapper over
// sched.New + Scheduler.Add for callers that don't need to separate
// construction from start.
func (s *Scheduler) NewThread(name string, priority uint8, policy Policy, buf []byte, entry func(self *TCB)) (*TCB, error) {
	t := New(name, priority, policy, buf, s.guardEnabled, entry)
	if err := s.Add(t); err != nil {
		return nil, err
	}
	return t, nil
}

// Add transitions t from Created to Runnable, inserts it into the
// runnable list, initializes its stack, spawns the goroutine that will
// run its entry point once dispatched, and switches to it immediately if
// it outranks whatever is current.
func (s *Scheduler) Add(t *TCB) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.state != Created {
		return errcode.ErrInvalid
	}
	t.stack.Initialize(s.port, func() { t.entry(t) })
	t.state = Runnable
	t.quantum.Reset()
	t.link(&s.runnable, false)
	go s.run(t)
	s.requestSwitchLocked(s.dispatchLocked())
	return nil
}

// run is the goroutine body backing every added TCB: wait for the first
// baton, execute the thread's entry point, then terminate it.
func (s *Scheduler) run(t *TCB) {
	<-t.baton
	t.entry(t)
	s.finish(t)
}

// finish transitions t to Terminated (or Detached, if Detach was
// already called on it), unlinks it from any list, wakes every thread
// blocked in Join on t, and dispatches the next thread. Called once a
// thread's entry point returns, or via Exit for an early, explicit
// termination.
func (s *Scheduler) finish(t *TCB) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.unlink()
	if t.detached {
		t.state = Detached
	} else {
		t.state = Terminated
	}
	for {
		target := t.joiners.Front()
		if target == nil {
			break
		}
		fn, switched := s.unblockLocked(target, UnblockRequest)
		if fn != nil {
			fn(target, UnblockRequest)
		}
		s.requestSwitchLocked(switched)
	}
	s.requestSwitchLocked(s.dispatchLocked())
}

// Exit terminates the calling thread immediately and never returns.
func (s *Scheduler) Exit(self *TCB) {
	s.finish(self)
	s.park(self)
	klog.Fatal(s.log, "rtoscore: terminated thread resumed", nil)
	select {}
}

// Block removes self from the runnable list, links it onto list under
// state, records functor, and parks the calling goroutine until another
// operation unblocks it. The return value reflects the UnblockReason the
// thread was resumed with.
func (s *Scheduler) Block(self *TCB, list *klist.SortedList[TCB], state State, functor UnblockFunctor) error {
	return s.blockImpl(self, list, state, nil, functor)
}

// BlockUntil is Block plus a software timer armed for deadline: if
// nothing else unblocks self first, it is woken at deadline with
// UnblockTimeout.
func (s *Scheduler) BlockUntil(self *TCB, list *klist.SortedList[TCB], state State, deadline tick.TimePoint, functor UnblockFunctor) error {
	return s.blockImpl(self, list, state, &deadline, functor)
}

func (s *Scheduler) blockImpl(self *TCB, list *klist.SortedList[TCB], state State, deadline *tick.TimePoint, functor UnblockFunctor) error {
	s.mu.Lock()
	self.unblock = functor
	self.state = state
	self.unlink()
	self.link(list, false)
	if deadline != nil {
		self.timeout = timer.New(func() { s.timeoutLocked(self) })
		s.supervisor.Start(self.timeout, *deadline, 0)
	}
	s.requestSwitchLocked(s.dispatchLocked())
	s.mu.Unlock()

	s.park(self)

	s.mu.Lock()
	if self.timeout != nil {
		s.supervisor.Stop(self.timeout)
		self.timeout = nil
	}
	reason := self.lastUnblock
	s.mu.Unlock()

	switch reason {
	case UnblockTimeout:
		return errcode.ErrTimedOut
	case UnblockSignal:
		return errcode.ErrInterrupted
	default:
		return nil
	}
}

// Atomic runs fn with the scheduler's lock held, so a primitive can read
// or mutate its own state without racing a concurrent block/unblock
// decision. fn must not call back into the scheduler and must not block.
func (s *Scheduler) Atomic(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

// TryIf evaluates cond under the lock and reports its result, without
// ever linking self onto any list - the non-blocking counterpart to
// BlockIf, for try_wait-style operations that must never block.
func (s *Scheduler) TryIf(cond func() bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cond()
}

// BlockIf evaluates cond under the scheduler's lock; if it reports true
// (having already mutated whatever primitive-owned state made it true,
// e.g. decrementing a semaphore count), BlockIf returns nil without
// blocking. Otherwise self is linked onto list under state and blocked,
// exactly as Block. This is the building block counting primitives
// (Semaphore, Barrier) use to make "check resource, else wait" atomic
// with their own state, without needing access to the scheduler's
// internal lock.
func (s *Scheduler) BlockIf(self *TCB, cond func() bool, list *klist.SortedList[TCB], state State, functor UnblockFunctor) error {
	return s.blockIfImpl(self, cond, list, state, nil, functor)
}

// BlockIfUntil is BlockIf with a deadline.
func (s *Scheduler) BlockIfUntil(self *TCB, cond func() bool, list *klist.SortedList[TCB], state State, deadline tick.TimePoint, functor UnblockFunctor) error {
	return s.blockIfImpl(self, cond, list, state, &deadline, functor)
}

func (s *Scheduler) blockIfImpl(self *TCB, cond func() bool, list *klist.SortedList[TCB], state State, deadline *tick.TimePoint, functor UnblockFunctor) error {
	s.mu.Lock()
	if cond() {
		s.mu.Unlock()
		return nil
	}
	self.unblock = functor
	self.state = state
	self.unlink()
	self.link(list, false)
	if deadline != nil {
		self.timeout = timer.New(func() { s.timeoutLocked(self) })
		s.supervisor.Start(self.timeout, *deadline, 0)
	}
	s.requestSwitchLocked(s.dispatchLocked())
	s.mu.Unlock()

	s.park(self)

	s.mu.Lock()
	if self.timeout != nil {
		s.supervisor.Stop(self.timeout)
		self.timeout = nil
	}
	reason := self.lastUnblock
	s.mu.Unlock()

	switch reason {
	case UnblockTimeout:
		return errcode.ErrTimedOut
	case UnblockSignal:
		return errcode.ErrInterrupted
	default:
		return nil
	}
}

// WakeOrUpdate atomically: if list is non-empty, pops and unblocks its
// highest-priority member with reason, transferring the resource to it
// directly; otherwise calls update, under the same lock, to mutate the
// primitive's own state (e.g. incrementing a semaphore count), returning
// whatever error update reports. This is Post/notify_one's building
// block, the update-side counterpart to BlockIf.
func (s *Scheduler) WakeOrUpdate(self *TCB, list *klist.SortedList[TCB], reason UnblockReason, update func() error) error {
	s.mu.Lock()
	target := list.Front()
	if target == nil {
		err := update()
		s.mu.Unlock()
		return err
	}
	fn, switched := s.unblockLocked(target, reason)
	if fn != nil {
		fn(target, reason)
	}
	s.requestSwitchLocked(switched)
	s.mu.Unlock()

	s.park(self)
	return nil
}

// WakeAll unblocks every thread currently on list, in priority order,
// with reason. Used by notify_all.
func (s *Scheduler) WakeAll(self *TCB, list *klist.SortedList[TCB], reason UnblockReason) {
	s.mu.Lock()
	for {
		target := list.Front()
		if target == nil {
			break
		}
		fn, switched := s.unblockLocked(target, reason)
		if fn != nil {
			fn(target, reason)
		}
		s.requestSwitchLocked(switched)
	}
	s.mu.Unlock()

	s.park(self)
}

// BlockThread blocks an arbitrary runnable thread other than self onto
// list under state, without affecting dispatch unless target happened to
// be the head of runnable.
func (s *Scheduler) BlockThread(target *TCB, list *klist.SortedList[TCB], state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if target == s.current || target.state != Runnable {
		return errcode.ErrInvalid
	}
	target.unlink()
	target.state = state
	target.link(list, false)
	s.requestSwitchLocked(s.dispatchLocked())
	return nil
}

// unblockLocked performs the unblock state transition assuming mu is
// already held: moves target from whatever list it is on back to
// runnable, resets its quantum, and reports its stored unblock functor
// so the caller can invoke it. A target already Runnable or Terminated
// is left untouched (fn is nil), so a timeout racing a normal unblock is
// harmless.
func (s *Scheduler) unblockLocked(target *TCB, reason UnblockReason) (fn UnblockFunctor, switched bool) {
	if target.state == Runnable || target.state == Terminated || target.state == Detached {
		return nil, false
	}
	target.blockingMutex = nil
	target.unlink()
	target.state = Runnable
	target.lastUnblock = reason
	target.quantum.Reset()
	target.link(&s.runnable, false)
	fn, target.unblock = target.unblock, nil
	return fn, s.dispatchLocked()
}

// timeoutLocked is the run function armed by blockImpl/Mutex.lock for a
// timed wait; it is always invoked by SoftwareTimerSupervisor.Tick from
// within TickInterruptHandler, which already holds mu, so it must not
// re-lock.
func (s *Scheduler) timeoutLocked(target *TCB) {
	fn, switched := s.unblockLocked(target, UnblockTimeout)
	if fn != nil {
		fn(target, UnblockTimeout)
	}
	s.requestSwitchLocked(switched)
}

// Unblock moves target from whatever list it is blocked on back to
// runnable, resets its round-robin quantum, and invokes its stored
// unblock functor with reason. A target already Runnable or Terminated
// is left untouched.
func (s *Scheduler) Unblock(target *TCB, reason UnblockReason) {
	s.UnblockAs(nil, target, reason)
}

// UnblockAs is Unblock, but additionally parks self (if non-nil)
// afterward if unblocking target cost self the baton - the case of a
// thread unblocking a higher-priority peer (e.g. Mutex.Unlock
// transferring ownership) and thereby rotating itself out.
func (s *Scheduler) UnblockAs(self, target *TCB, reason UnblockReason) {
	s.mu.Lock()
	fn, switched := s.unblockLocked(target, reason)
	if fn != nil {
		fn(target, reason)
	}
	s.requestSwitchLocked(switched)
	s.mu.Unlock()

	s.park(self)
}

// Suspend blocks self onto the suspended list until a matching Resume.
func (s *Scheduler) Suspend(self *TCB) error {
	return s.Block(self, &s.suspended, Suspended, nil)
}

// Resume unblocks target from the suspended list. Returns ErrInvalid if
// target is not currently Suspended.
func (s *Scheduler) Resume(target *TCB) error {
	return s.ResumeAs(nil, target)
}

// ResumeAs is Resume, but additionally parks self (if non-nil) afterward
// if resuming target costs self the baton.
func (s *Scheduler) ResumeAs(self, target *TCB) error {
	s.mu.Lock()
	if target.state != Suspended {
		s.mu.Unlock()
		return errcode.ErrInvalid
	}
	fn, switched := s.unblockLocked(target, UnblockRequest)
	if fn != nil {
		fn(target, UnblockRequest)
	}
	s.requestSwitchLocked(switched)
	s.mu.Unlock()

	s.park(self)
	return nil
}

// Yield rotates self behind its equal-priority peers and, if that
// changes the runnable head, parks self until it is dispatched again.
func (s *Scheduler) Yield(self *TCB) {
	s.mu.Lock()
	self.unlink()
	self.quantum.Reset()
	self.link(&s.runnable, false)
	s.requestSwitchLocked(s.dispatchLocked())
	s.mu.Unlock()

	s.park(self)
}

// Join blocks self until target terminates (a suspension point per §5),
// reusing BlockedOnConditionVariable since target.joiners is woken
// exactly like a condition variable's waiters: one list, drained
// wholesale on the triggering event rather than a dedicated state. If
// target has already terminated, Join returns immediately without
// blocking. Returns ErrInvalid if target == self or target has been
// Detach-ed; per the original, calling Join and Detach concurrently on
// the same target, or calling either of them twice, is undefined.
func (s *Scheduler) Join(self *TCB, target *TCB) error {
	if target == self {
		return errcode.ErrInvalid
	}
	s.mu.Lock()
	if target.detached {
		s.mu.Unlock()
		return errcode.ErrInvalid
	}
	if target.state == Terminated {
		s.mu.Unlock()
		return nil
	}
	self.state = BlockedOnConditionVariable
	self.unlink()
	self.link(&target.joiners, false)
	s.requestSwitchLocked(s.dispatchLocked())
	s.mu.Unlock()

	s.park(self)
	return nil
}

// Detach marks target as non-joinable: any Join on it, now or later,
// returns ErrInvalid instead of blocking. If target has already
// terminated, its state becomes Detached (rather than remaining
// Terminated) to mark that its TCB is now fully disowned - nothing will
// ever join it - and may be reclaimed by the caller. Returns ErrInvalid
// if target is already detached.
func (s *Scheduler) Detach(target *TCB) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if target.detached {
		return errcode.ErrInvalid
	}
	target.detached = true
	if target.state == Terminated {
		target.state = Detached
	}
	return nil
}

// SleepFor blocks self for at least d ticks (this_thread.sleep_for): one
// additional tick is always added to compensate for the partial current
// tick (§5), so the elapsed ticks on return are always ≥ d.
func (s *Scheduler) SleepFor(self *TCB, d tick.Duration) error {
	deadline := tick.TimePoint(s.TickCount()).Add(d).Add(1)
	return s.SleepUntil(self, deadline)
}

// SleepUntil blocks self until deadline (this_thread.sleep_until).
// Unlike Block/BlockUntil, a Sleeping thread's timer firing is its
// normal, successful completion rather than a failure - there is
// nothing else that could unblock it - so SleepUntil reports nil rather
// than ErrTimedOut for that case.
func (s *Scheduler) SleepUntil(self *TCB, deadline tick.TimePoint) error {
	err := s.blockImpl(self, &s.sleeping, Sleeping, &deadline, nil)
	if err == errcode.ErrTimedOut {
		return nil
	}
	return err
}

// SwitchContext is the entry point a bare-metal Port invokes from its
// context-switch trap: it stores sp as the outgoing thread's saved stack
// pointer, checks its guard region, picks the new runnable head, and
// returns its saved stack pointer. Unlike Block/Unblock/Yield, it never
// parks a goroutine - it is the literal, spec-shaped API for a Port that
// performs real register-level context switches, rather than the
// goroutine-baton emulation this repository's own tests exercise
// instead (see SPEC_FULL.md §9).
func (s *Scheduler) SwitchContext(sp uintptr) uintptr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if out := s.current; out != nil {
		out.stack.SetPointer(sp)
		if out.stack.GuardViolated() {
			klog.Fatal(s.log, "rtoscore: stack guard violated", map[string]any{"thread": out.name})
		}
	}
	s.dispatchLocked()
	if s.current == nil {
		return 0
	}
	return s.current.stack.Pointer()
}

// TickInterruptHandler advances the tick count, services the software
// timer supervisor, and - if the current thread uses RoundRobin and its
// quantum just expired - rotates it behind its equal-priority peers. It
// reports whether a context switch is now needed, matching the Port
// contract that calls it from a tick ISR; it never parks a goroutine,
// since it is not itself a thread.
func (s *Scheduler) TickInterruptHandler() bool {
	now := s.tickCount.Add(1)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.supervisor.Tick(tick.TimePoint(now))

	switched := false
	if cur := s.current; cur != nil && cur.policy == RoundRobin {
		if cur.quantum.Tick() {
			cur.unlink()
			cur.quantum.Reset()
			cur.link(&s.runnable, false)
			switched = s.dispatchLocked()
		}
	}
	s.requestSwitchLocked(switched)
	return switched
}
