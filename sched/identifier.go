package sched

import "sync/atomic"

// sequenceCounter hands out the sequence half of every Identifier.
// Combined with the TCB's own address, it prevents ABA confusion when a
// terminated TCB's memory is reused for a new thread.
var sequenceCounter atomic.Uint64

func nextSequence() uint64 {
	return sequenceCounter.Add(1)
}

// Identifier uniquely names a thread across its lifetime: the pair of a
// TCB pointer and the sequence number assigned when that TCB was
// constructed. Two identifiers compare equal only if both components
// match, so a stale Identifier for a terminated, reused TCB never
// collides with the thread that now occupies it.
type Identifier struct {
	tcb      *TCB
	sequence uint64
}

// Equal reports whether id and other name the same thread.
func (id Identifier) Equal(other Identifier) bool {
	return id.tcb == other.tcb && id.sequence == other.sequence
}

// IsZero reports whether id is the zero Identifier (never assigned to a
// thread).
func (id Identifier) IsZero() bool {
	return id.tcb == nil
}
