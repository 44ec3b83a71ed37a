// Package queue implements the bounded FIFO and priority message queues
// built on the two-semaphore pattern: pushSem counts free slots, popSem
// counts used slots. A push waits on pushSem, writes under a guard
// mutex that serializes concurrent producers/consumers against the
// underlying storage, then posts popSem; pop is symmetric. A
// MessageQueue additionally keeps its storage sorted by priority at
// insert (an O(n) enqueue), so dequeue always takes the front element,
// the highest priority; dequeue is also O(n), since the remaining
// elements are shifted down. Mailbox is the single-slot specialization
// of FifoQueue.
package queue

import (
	"github.com/embedded-go/rtoscore/ksync"
	"github.com/embedded-go/rtoscore/sched"
	"github.com/embedded-go/rtoscore/tick"
)

// FifoQueue is a bounded, blocking FIFO queue of T.
type FifoQueue[T any] struct {
	guard   *sched.Mutex
	buf     []T
	head    int
	tail    int
	pushSem *ksync.Semaphore
	popSem  *ksync.Semaphore
}

// NewFifoQueue constructs a queue with the given fixed capacity.
func NewFifoQueue[T any](s *sched.Scheduler, capacity int) *FifoQueue[T] {
	return &FifoQueue[T]{
		guard:   sched.NewMutex(s, sched.Normal, sched.None, 0),
		buf:     make([]T, capacity),
		pushSem: ksync.NewSemaphore(s, uint32(capacity), uint32(capacity)),
		popSem:  ksync.NewSemaphore(s, 0, uint32(capacity)),
	}
}

// Push blocks until a free slot is available, then enqueues v.
func (q *FifoQueue[T]) Push(self *sched.TCB, v T) error {
	if err := q.pushSem.Wait(self); err != nil {
		return err
	}
	return q.commitPush(self, v)
}

// PushUntil is Push with a deadline, returning ErrTimedOut if no slot
// frees up in time.
func (q *FifoQueue[T]) PushUntil(self *sched.TCB, v T, deadline tick.TimePoint) error {
	if err := q.pushSem.TryWaitUntil(self, deadline); err != nil {
		return err
	}
	return q.commitPush(self, v)
}

// TryPush enqueues v without blocking, returning ErrBusy if the queue is
// full.
func (q *FifoQueue[T]) TryPush(self *sched.TCB, v T) error {
	if err := q.pushSem.TryWait(self); err != nil {
		return err
	}
	return q.commitPush(self, v)
}

func (q *FifoQueue[T]) commitPush(self *sched.TCB, v T) error {
	if err := q.guard.Lock(self); err != nil {
		return err
	}
	q.buf[q.tail] = v
	q.tail = (q.tail + 1) % len(q.buf)
	if err := q.guard.Unlock(self); err != nil {
		return err
	}
	return q.popSem.Post(self)
}

// Pop blocks until an element is available, then dequeues it.
func (q *FifoQueue[T]) Pop(self *sched.TCB) (T, error) {
	if err := q.popSem.Wait(self); err != nil {
		var zero T
		return zero, err
	}
	return q.commitPop(self)
}

// PopUntil is Pop with a deadline, returning ErrTimedOut if nothing
// arrives in time.
func (q *FifoQueue[T]) PopUntil(self *sched.TCB, deadline tick.TimePoint) (T, error) {
	if err := q.popSem.TryWaitUntil(self, deadline); err != nil {
		var zero T
		return zero, err
	}
	return q.commitPop(self)
}

// TryPop dequeues without blocking, returning ErrBusy if empty.
func (q *FifoQueue[T]) TryPop(self *sched.TCB) (T, error) {
	if err := q.popSem.TryWait(self); err != nil {
		var zero T
		return zero, err
	}
	return q.commitPop(self)
}

func (q *FifoQueue[T]) commitPop(self *sched.TCB) (T, error) {
	var zero T
	if err := q.guard.Lock(self); err != nil {
		return zero, err
	}
	v := q.buf[q.head]
	q.buf[q.head] = zero
	q.head = (q.head + 1) % len(q.buf)
	if err := q.guard.Unlock(self); err != nil {
		return zero, err
	}
	if err := q.pushSem.Post(self); err != nil {
		return zero, err
	}
	return v, nil
}

// Len reports the number of elements currently queued. Racy the instant
// it is observed against a concurrent push/pop, as with Semaphore.Value.
func (q *FifoQueue[T]) Len() int {
	return int(q.popSem.Value())
}

// Capacity reports the queue's fixed maximum length.
func (q *FifoQueue[T]) Capacity() int {
	return len(q.buf)
}

// Message pairs a queued value with the priority it was enqueued at.
type Message[T any] struct {
	Value    T
	Priority uint8
}

// MessageQueue is a bounded priority queue: Pop always returns the
// highest-priority pending message, breaking ties in FIFO order among
// equal priorities. Push is O(n) in the current queue length, scanning
// for its sorted insertion point; Pop is also O(n), shifting the
// remaining messages down by one slot.
type MessageQueue[T any] struct {
	guard   *sched.Mutex
	items   []Message[T]
	pushSem *ksync.Semaphore
	popSem  *ksync.Semaphore
}

// NewMessageQueue constructs a message queue with the given fixed
// capacity.
func NewMessageQueue[T any](s *sched.Scheduler, capacity int) *MessageQueue[T] {
	return &MessageQueue[T]{
		guard:   sched.NewMutex(s, sched.Normal, sched.None, 0),
		items:   make([]Message[T], 0, capacity),
		pushSem: ksync.NewSemaphore(s, uint32(capacity), uint32(capacity)),
		popSem:  ksync.NewSemaphore(s, 0, uint32(capacity)),
	}
}

// Push blocks until a free slot is available, then inserts v in
// priority order.
func (q *MessageQueue[T]) Push(self *sched.TCB, v T, priority uint8) error {
	if err := q.pushSem.Wait(self); err != nil {
		return err
	}
	return q.commitPush(self, v, priority)
}

// TryPush inserts v without blocking, returning ErrBusy if full.
func (q *MessageQueue[T]) TryPush(self *sched.TCB, v T, priority uint8) error {
	if err := q.pushSem.TryWait(self); err != nil {
		return err
	}
	return q.commitPush(self, v, priority)
}

func (q *MessageQueue[T]) commitPush(self *sched.TCB, v T, priority uint8) error {
	if err := q.guard.Lock(self); err != nil {
		return err
	}
	i := 0
	for i < len(q.items) && q.items[i].Priority >= priority {
		i++
	}
	q.items = append(q.items, Message[T]{})
	copy(q.items[i+1:], q.items[i:])
	q.items[i] = Message[T]{Value: v, Priority: priority}
	if err := q.guard.Unlock(self); err != nil {
		return err
	}
	return q.popSem.Post(self)
}

// Pop blocks until a message is available, then dequeues the
// highest-priority one.
func (q *MessageQueue[T]) Pop(self *sched.TCB) (Message[T], error) {
	if err := q.popSem.Wait(self); err != nil {
		var zero Message[T]
		return zero, err
	}
	return q.commitPop(self)
}

// TryPop dequeues without blocking, returning ErrBusy if empty.
func (q *MessageQueue[T]) TryPop(self *sched.TCB) (Message[T], error) {
	if err := q.popSem.TryWait(self); err != nil {
		var zero Message[T]
		return zero, err
	}
	return q.commitPop(self)
}

func (q *MessageQueue[T]) commitPop(self *sched.TCB) (Message[T], error) {
	var zero Message[T]
	if err := q.guard.Lock(self); err != nil {
		return zero, err
	}
	m := q.items[0]
	copy(q.items, q.items[1:])
	q.items = q.items[:len(q.items)-1]
	if err := q.guard.Unlock(self); err != nil {
		return zero, err
	}
	if err := q.pushSem.Post(self); err != nil {
		return zero, err
	}
	return m, nil
}

// Len reports the number of messages currently queued.
func (q *MessageQueue[T]) Len() int {
	return int(q.popSem.Value())
}

// Mailbox is the single-slot specialization of FifoQueue: at most one
// message may be pending at a time.
type Mailbox[T any] struct {
	q *FifoQueue[T]
}

// NewMailbox constructs an empty mailbox.
func NewMailbox[T any](s *sched.Scheduler) *Mailbox[T] {
	return &Mailbox[T]{q: NewFifoQueue[T](s, 1)}
}

// Post blocks until the mailbox is empty, then deposits v.
func (b *Mailbox[T]) Post(self *sched.TCB, v T) error { return b.q.Push(self, v) }

// TryPost deposits v without blocking, returning ErrBusy if occupied.
func (b *Mailbox[T]) TryPost(self *sched.TCB, v T) error { return b.q.TryPush(self, v) }

// Receive blocks until a message is available, then consumes it.
func (b *Mailbox[T]) Receive(self *sched.TCB) (T, error) { return b.q.Pop(self) }

// TryReceive consumes the pending message without blocking, returning
// ErrBusy if empty.
func (b *Mailbox[T]) TryReceive(self *sched.TCB) (T, error) { return b.q.TryPop(self) }
