package sched

import (
	"math"

	"github.com/embedded-go/rtoscore/errcode"
	"github.com/embedded-go/rtoscore/internal/klog"
	"github.com/embedded-go/rtoscore/klist"
	"github.com/embedded-go/rtoscore/tick"
	"github.com/embedded-go/rtoscore/timer"
)

// MutexType selects recursion behavior when the owner re-locks.
type MutexType uint8

const (
	// Normal re-locking by the owner is undefined behavior in the
	// original; this port promotes it to a fatal error rather than
	// silently deadlocking or silently becoming recursive (see
	// SPEC_FULL.md/DESIGN.md Open Question decision).
	Normal MutexType = iota
	// ErrorCheck returns ErrDeadlock when the owner re-locks.
	ErrorCheck
	// Recursive counts nested locks by the owner; each Lock must be
	// matched by an Unlock.
	Recursive
)

// MutexProtocol selects how a mutex's owner is boosted against priority
// inversion.
type MutexProtocol uint8

const (
	// None applies no priority protocol.
	None MutexProtocol = iota
	// PriorityInheritance boosts the owner to the effective priority of
	// the highest-priority waiter, for as long as that waiter blocks.
	PriorityInheritance
	// PriorityProtect (Immediate Ceiling Priority Protocol) boosts the
	// owner to the mutex's configured ceiling immediately on lock.
	PriorityProtect
)

// Mutex is the scheduler's lock primitive: ownership, recursion,
// the selected protocol, and the sorted waiters list are all here
// because the priority-boost algorithm needs direct access to TCB
// internals (see the package doc comment for why this isn't its own
// package).
type Mutex struct {
	sched *Scheduler

	// link is this mutex's membership node in its owner's
	// ownedMutexes list; present regardless of protocol, but only
	// linked into a TCB's list when protocol != None, since a None
	// mutex never contributes to any boost computation.
	link klist.Node[Mutex]

	waiters klist.SortedList[TCB]
	owner   *TCB
	locks   uint16

	typ      MutexType
	protocol MutexProtocol
	ceiling  uint8
}

// NewMutex constructs an unlocked mutex. ceiling is meaningful only for
// PriorityProtect.
func NewMutex(s *Scheduler, typ MutexType, protocol MutexProtocol, ceiling uint8) *Mutex {
	m := &Mutex{sched: s, typ: typ, protocol: protocol, ceiling: ceiling}
	m.link.Init(m)
	m.waiters.Init(priorityLess)
	return m
}

// Type reports the mutex's recursion type.
func (m *Mutex) Type() MutexType { return m.typ }

// Protocol reports the mutex's priority protocol.
func (m *Mutex) Protocol() MutexProtocol { return m.protocol }

// Owner returns the current owner, or nil if unlocked.
func (m *Mutex) Owner() *TCB {
	m.sched.mu.Lock()
	defer m.sched.mu.Unlock()
	return m.owner
}

// Lock blocks self until the mutex is acquired.
func (m *Mutex) Lock(self *TCB) error {
	return m.lock(self, blockingLock, nil)
}

// TryLock attempts to acquire the mutex without blocking, returning
// ErrBusy if it is currently held by another thread.
func (m *Mutex) TryLock(self *TCB) error {
	return m.lock(self, tryLock, nil)
}

// LockUntil blocks self until the mutex is acquired or deadline elapses,
// returning ErrTimedOut in the latter case.
func (m *Mutex) LockUntil(self *TCB, deadline tick.TimePoint) error {
	return m.lock(self, timedLock, &deadline)
}

type lockMode uint8

const (
	blockingLock lockMode = iota
	tryLock
	timedLock
)

func (m *Mutex) lock(self *TCB, mode lockMode, deadline *tick.TimePoint) error {
	s := m.sched
	s.mu.Lock()

	if m.owner == self {
		defer s.mu.Unlock()
		switch m.typ {
		case Recursive:
			if m.locks == math.MaxUint16 {
				return errcode.ErrBusy
			}
			m.locks++
			return nil
		case ErrorCheck:
			return errcode.ErrDeadlock
		default:
			// Normal mutex re-locked by its owner: undefined behavior in
			// the original (§9 Open Question). This port promotes it to
			// a fatal error rather than silently deadlocking or silently
			// becoming recursive; klog.Fatal panics, and the deferred
			// Unlock above runs during unwind.
			klog.Fatal(s.log, "rtoscore: normal mutex re-locked by owner", map[string]any{"thread": self.name})
			return errcode.ErrDeadlock
		}
	}

	if m.owner == nil {
		if m.protocol == PriorityProtect && self.EffectivePriority() > m.ceiling {
			s.mu.Unlock()
			return errcode.ErrInvalid
		}
		m.acquire(self)
		s.mu.Unlock()
		return nil
	}

	if mode == tryLock {
		s.mu.Unlock()
		return errcode.ErrBusy
	}

	self.unlink()
	self.link(&m.waiters, false)
	self.state = BlockedOnMutex
	if m.protocol == PriorityInheritance {
		self.blockingMutex = m
		m.propagateBoost()
	}
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
	granted := m.owner == self
	if !granted && m.protocol == PriorityInheritance {
		// self left the waiters list without the lock (timed out), so
		// the owner's inherited boost is re-derived from who still waits.
		m.propagateBoost()
	}
	s.mu.Unlock()

	if reason == UnblockTimeout && !granted {
		return errcode.ErrTimedOut
	}
	return nil
}

// acquire grants the mutex to t unconditionally; t must not already own
// it. Called both for an uncontended lock and for ownership transfer on
// Unlock.
func (m *Mutex) acquire(t *TCB) {
	m.owner = t
	m.locks = 1
	if m.protocol != None {
		t.ownedMutexes.PushBack(&m.link)
		t.recomputeBoost()
	}
}

// propagateBoost recomputes the owner's boosted priority (now that a new
// waiter may be the highest-priority one) and, if the owner is itself
// blocked on another inheritance mutex, walks the chain upward. Mirrors
// the original's requirement that a boost "propagate recursively".
func (m *Mutex) propagateBoost() {
	owner := m.owner
	for owner != nil && owner.recomputeBoost() {
		next := owner.blockingMutex
		if next == nil {
			return
		}
		owner = next.owner
	}
}

// Unlock releases the mutex. If other threads are waiting, ownership
// transfers directly to the highest-priority waiter rather than passing
// through Free.
func (m *Mutex) Unlock(self *TCB) error {
	s := m.sched
	s.mu.Lock()

	if m.owner != self {
		s.mu.Unlock()
		return errcode.ErrPermission
	}
	m.locks--
	if m.locks > 0 {
		s.mu.Unlock()
		return nil
	}

	if m.protocol != None {
		self.ownedMutexes.Remove(&m.link)
		self.recomputeBoost()
	}

	if m.waiters.Empty() {
		m.owner = nil
		s.mu.Unlock()
		return nil
	}

	next := m.waiters.PopFront()
	m.acquire(next)
	next.blockingMutex = nil
	fn, switched := s.unblockLocked(next, UnblockRequest)
	if fn != nil {
		fn(next, UnblockRequest)
	}
	s.requestSwitchLocked(switched)
	s.mu.Unlock()

	s.park(self)
	return nil
}

// WaitRelease atomically releases m (transferring it to the
// highest-priority waiter, if any, exactly as Unlock) and links self
// onto list under BlockedOnConditionVariable, all within one critical
// section - this is what lets ConditionVariable.Wait avoid the lost
// wakeup a separate Unlock-then-Block pair would have: a notifier can
// only act once it has acquired m itself, which cannot happen until this
// whole operation has completed and released the scheduler's lock.
func (m *Mutex) WaitRelease(self *TCB, list *klist.SortedList[TCB]) error {
	return m.waitRelease(self, list, nil)
}

// WaitReleaseUntil is WaitRelease with a deadline; it returns ErrTimedOut
// if woken by the deadline rather than a notification.
func (m *Mutex) WaitReleaseUntil(self *TCB, list *klist.SortedList[TCB], deadline tick.TimePoint) error {
	return m.waitRelease(self, list, &deadline)
}

func (m *Mutex) waitRelease(self *TCB, list *klist.SortedList[TCB], deadline *tick.TimePoint) error {
	s := m.sched
	s.mu.Lock()

	if m.owner != self {
		s.mu.Unlock()
		return errcode.ErrPermission
	}

	var transferee *TCB
	m.locks--
	if m.locks == 0 {
		if m.protocol != None {
			self.ownedMutexes.Remove(&m.link)
			self.recomputeBoost()
		}
		if !m.waiters.Empty() {
			transferee = m.waiters.PopFront()
			m.acquire(transferee)
			transferee.blockingMutex = nil
		} else {
			m.owner = nil
		}
	}

	self.state = BlockedOnConditionVariable
	self.unlink()
	self.link(list, false)
	if deadline != nil {
		self.timeout = timer.New(func() { s.timeoutLocked(self) })
		s.supervisor.Start(self.timeout, *deadline, 0)
	}

	var fn UnblockFunctor
	var switched bool
	if transferee != nil {
		fn, switched = s.unblockLocked(transferee, UnblockRequest)
	} else {
		switched = s.dispatchLocked()
	}
	if fn != nil {
		fn(transferee, UnblockRequest)
	}
	s.requestSwitchLocked(switched)
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
