package sched

import (
	"github.com/embedded-go/rtoscore/klist"
	"github.com/embedded-go/rtoscore/stack"
	"github.com/embedded-go/rtoscore/timer"
)

// UnblockFunctor is invoked as a blocked thread returns to Runnable, to
// report why: a normal unblock, a timeout, or (reserved, see
// SPEC_FULL.md Non-goals) a delivered signal.
type UnblockFunctor func(t *TCB, reason UnblockReason)

// TCB is the per-thread state the scheduler manipulates. A TCB is
// allocated by New and held by the caller; the scheduler never frees
// one and only links and unlinks it via the embedded node.
type TCB struct {
	node klist.Node[TCB]

	id   Identifier
	name string

	priority        uint8
	boostedPriority uint8
	policy          Policy
	quantum         RoundRobinQuantum
	state           State

	list          *klist.SortedList[TCB]
	ownedMutexes  klist.List[Mutex]
	blockingMutex *Mutex
	unblock       UnblockFunctor
	lastUnblock   UnblockReason
	timeout       *timer.Timer

	// joiners holds every thread currently blocked in Join on this TCB,
	// woken with UnblockRequest once it terminates.
	joiners  klist.SortedList[TCB]
	detached bool

	// baton is the goroutine handoff token: a TCB's own goroutine may
	// execute kernel-visible code, including returning from a blocking
	// call, only while holding it. Scheduler.dispatchLocked sends into exactly
	// one TCB's baton whenever the runnable head changes. Go has no
	// architectural preemption hook a Port could drive directly (see
	// SPEC_FULL.md §9 "context switch as longjmp"), so this channel is
	// the host-emulation stand-in for a real context switch.
	baton chan struct{}

	stack *stack.Stack
	entry func(self *TCB)
}

// New constructs a Created TCB. buf becomes the thread's stack; it must
// not be reused elsewhere while this TCB exists. entry is the function
// the thread begins executing once Scheduler.Add starts it, and is
// handed the TCB itself so the thread body can identify itself to
// blocking calls (Block, Suspend, Yield, Mutex.Lock, ...).
func New(name string, priority uint8, policy Policy, buf []byte, guardEnabled bool, entry func(self *TCB)) *TCB {
	t := &TCB{
		name:     name,
		priority: priority,
		policy:   policy,
		quantum:  NewRoundRobinQuantum(defaultInterval),
		state:    Created,
		stack:    stack.New(buf, guardEnabled),
		entry:    entry,
		baton:    make(chan struct{}, 1),
	}
	t.node.Init(t)
	t.ownedMutexes.Init()
	t.joiners.Init(priorityLess)
	t.id = Identifier{tcb: t, sequence: nextSequence()}
	return t
}

// Identifier returns the thread's stable identity pair.
func (t *TCB) Identifier() Identifier { return t.id }

// Name returns the diagnostic name supplied at construction.
func (t *TCB) Name() string { return t.name }

// Priority returns the thread's base (unboosted) priority.
func (t *TCB) Priority() uint8 { return t.priority }

// BoostedPriority returns the thread's current priority-protocol boost,
// or 0 if none is in effect.
func (t *TCB) BoostedPriority() uint8 { return t.boostedPriority }

// EffectivePriority is the value used for every scheduling and ordering
// decision: the greater of the base and boosted priorities.
func (t *TCB) EffectivePriority() uint8 {
	if t.boostedPriority > t.priority {
		return t.boostedPriority
	}
	return t.priority
}

// State reports the thread's current lifecycle state.
func (t *TCB) State() State { return t.state }

// Policy reports the thread's scheduling policy.
func (t *TCB) Policy() Policy { return t.policy }

// Stack returns the thread's stack, for high-water-mark or guard
// inspection.
func (t *TCB) Stack() *stack.Stack { return t.stack }

// Detached reports whether Scheduler.Detach has been called on t.
func (t *TCB) Detached() bool { return t.detached }

// setBoostedPriority updates the boost and reports whether the
// effective priority changed, so the caller (always the scheduler, holding
// the critical section) knows whether the thread needs repositioning on
// whatever list it currently sits on.
func (t *TCB) setBoostedPriority(boosted uint8) (changed bool) {
	before := t.EffectivePriority()
	t.boostedPriority = boosted
	return t.EffectivePriority() != before
}

// recomputeBoost derives the thread's boosted priority from the mutexes
// it currently owns: the ceiling of every owned PriorityProtect mutex,
// and the effective priority of the highest-priority waiter on every
// owned PriorityInheritance mutex. If the effective priority changes, t
// is repositioned on whatever list it currently sits on. Reports whether
// it changed, so a caller walking a blocking-mutex chain knows whether
// to keep propagating upward.
func (t *TCB) recomputeBoost() bool {
	var boosted uint8
	t.ownedMutexes.Each(func(m *Mutex) {
		switch m.protocol {
		case PriorityProtect:
			if m.ceiling > boosted {
				boosted = m.ceiling
			}
		case PriorityInheritance:
			if w := m.waiters.Front(); w != nil {
				if p := w.EffectivePriority(); p > boosted {
					boosted = p
				}
			}
		}
	})
	changed := t.setBoostedPriority(boosted)
	if changed {
		t.reposition()
	}
	return changed
}

// link places t on list, recording list so a later priority change can
// find and reposition it.
func (t *TCB) link(list *klist.SortedList[TCB], before bool) {
	t.list = list
	list.Insert(&t.node, before)
}

// unlink removes t from whatever list it is currently linked into. A
// no-op if t is already detached.
func (t *TCB) unlink() {
	if t.list != nil {
		t.list.Remove(&t.node)
		t.list = nil
	}
}

// reposition re-sorts t within its current list after an effective
// priority change. A no-op if t is not linked.
func (t *TCB) reposition() {
	if t.list != nil {
		t.list.Reposition(&t.node)
	}
}
