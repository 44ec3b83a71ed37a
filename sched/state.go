package sched

// State is the state of a thread, always consistent with whatever list
// the thread's TCB is currently linked into (or detached, for Created,
// Terminated and Detached).
type State uint8

const (
	// Created is the state of a TCB that has not yet been given to
	// Scheduler.Add.
	Created State = iota
	// Runnable threads are linked on the scheduler's runnable list.
	Runnable
	// Sleeping threads are blocked on a private list, woken by a
	// software timer armed by Scheduler.SleepFor/SleepUntil.
	Sleeping
	// BlockedOnSemaphore threads are linked on a Semaphore's waiters list.
	BlockedOnSemaphore
	// BlockedOnMutex threads are linked on a Mutex's waiters list.
	BlockedOnMutex
	// BlockedOnConditionVariable threads are linked on a
	// ConditionVariable's waiters list, a Barrier's waiters list, or the
	// joiners list of a thread they are Join-ing.
	BlockedOnConditionVariable
	// WaitingForSignal threads are blocked awaiting delivery of an
	// unmasked signal. No signal delivery mechanism is implemented (see
	// SPEC_FULL.md Non-goals); the state exists because the
	// UnblockReason contract names it.
	WaitingForSignal
	// Suspended threads are linked on the scheduler's suspended list.
	Suspended
	// Terminated threads have exited and are linked on no list.
	Terminated
	// Detached is the terminal state of a TCB that was Terminated while
	// (or after) Scheduler.Detach was called on it: nothing will ever
	// Join it, so its resources may be reclaimed once observed.
	Detached
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Runnable:
		return "runnable"
	case Sleeping:
		return "sleeping"
	case BlockedOnSemaphore:
		return "blockedOnSemaphore"
	case BlockedOnMutex:
		return "blockedOnMutex"
	case BlockedOnConditionVariable:
		return "blockedOnConditionVariable"
	case WaitingForSignal:
		return "waitingForSignal"
	case Suspended:
		return "suspended"
	case Terminated:
		return "terminated"
	case Detached:
		return "detached"
	default:
		return "unknown"
	}
}

// Policy selects how a thread behaves relative to equal-priority peers.
type Policy uint8

const (
	// Fifo threads never self-rotate: once scheduled, they run until
	// they block, terminate, or a higher-priority thread preempts them.
	Fifo Policy = iota
	// RoundRobin threads are rotated behind equal-priority peers when
	// their quantum expires.
	RoundRobin
)

func (p Policy) String() string {
	if p == RoundRobin {
		return "roundRobin"
	}
	return "fifo"
}

// UnblockReason is observed by a thread's UnblockFunctor (and reflected
// into the error returned by a blocking call) to distinguish why it was
// unblocked.
type UnblockReason uint8

const (
	// UnblockRequest is a normal, explicit unblock - the awaited resource
	// became available, or another thread asked for this thread to
	// resume (e.g. Resume after Suspend).
	UnblockRequest UnblockReason = iota
	// UnblockTimeout means a software timer armed by BlockUntil fired
	// before the thread was otherwise unblocked.
	UnblockTimeout
	// UnblockSignal means an unmasked signal was delivered. No signal
	// delivery mechanism exists in this core; reserved for parity with
	// the UnblockFunctor contract.
	UnblockSignal
)
