// Package klist implements intrusive doubly-linked lists: the link
// lives inside the element (a Node[T] field embedded in T), so linking
// and unlinking never allocate and are O(1). A SortedList on top keeps
// elements ordered under a caller-supplied comparator, used by the
// scheduler's runnable/suspended lists (ordered by effective priority)
// and the timer supervisor's active list (ordered by expiry).
//
// Go has no pointer-to-member, so unlike the C++ original a Node[T]
// carries an explicit back-pointer to its owner rather than being found
// by subtracting a field offset; the contract is otherwise the same: a
// node belongs to at most one List[T] at a time, and every mutation must
// happen with the caller's critical section already held (see
// package port).
package klist

// Node is the link embedded inside a list element. Its zero value is a
// detached node; Init must be called once, supplying the node's owner,
// before the node is used.
type Node[T any] struct {
	next, prev *Node[T]
	list       *List[T]
	owner      *T
}

// Init binds the node to its enclosing value. It must be called exactly
// once, typically from the constructor of the owning type.
func (n *Node[T]) Init(owner *T) {
	n.owner = owner
}

// Owner returns the element this node is embedded in.
func (n *Node[T]) Owner() *T {
	return n.owner
}

// List reports which list n currently belongs to, or nil if detached.
func (n *Node[T]) List() *List[T] {
	return n.list
}

// Linked reports whether n is currently a member of any list.
func (n *Node[T]) Linked() bool {
	return n.list != nil
}

// List is a circular doubly-linked list with a sentinel root node.
// The zero value is not ready to use; call Init first.
type List[T any] struct {
	root   Node[T]
	length int
}

// Init prepares an empty list for use, or clears an existing one without
// unlinking its members' list pointers (callers must not do this on a
// non-empty list they still care about).
func (l *List[T]) Init() {
	l.root.next = &l.root
	l.root.prev = &l.root
	l.length = 0
}

// Len returns the number of elements currently linked.
func (l *List[T]) Len() int {
	return l.length
}

// Empty reports whether the list has no elements.
func (l *List[T]) Empty() bool {
	return l.length == 0
}

// Front returns the first element, or nil if the list is empty.
func (l *List[T]) Front() *T {
	if l.Empty() {
		return nil
	}
	return l.root.next.owner
}

// FrontNode returns the node of the first element, or nil if empty.
func (l *List[T]) FrontNode() *Node[T] {
	if l.Empty() {
		return nil
	}
	return l.root.next
}

// insertBefore links n immediately before mark.
func (l *List[T]) insertBefore(n, mark *Node[T]) {
	n.prev = mark.prev
	n.next = mark
	mark.prev.next = n
	mark.prev = n
	n.list = l
	l.length++
}

// PushFront links n as the new first element.
func (l *List[T]) PushFront(n *Node[T]) {
	l.insertBefore(n, l.root.next)
}

// PushBack links n as the new last element.
func (l *List[T]) PushBack(n *Node[T]) {
	l.insertBefore(n, &l.root)
}

// Remove unlinks n from whichever list it is currently on. It is a
// no-op if n is already detached.
func (l *List[T]) Remove(n *Node[T]) {
	if n.list == nil {
		return
	}
	n.prev.next = n.next
	n.next.prev = n.prev
	n.next = nil
	n.prev = nil
	n.list.length--
	n.list = nil
}

// PopFront unlinks and returns the first element, or nil if empty.
func (l *List[T]) PopFront() *T {
	n := l.FrontNode()
	if n == nil {
		return nil
	}
	l.Remove(n)
	return n.owner
}

// Each calls fn for every element currently on the list, from front to
// back. fn may unlink the element it is given (the next node is read
// before fn runs); it must not link or unlink any other element.
func (l *List[T]) Each(fn func(*T)) {
	for n := l.root.next; n != &l.root; {
		next := n.next
		fn(n.owner)
		n = next
	}
}

// SortedList keeps its elements ordered by a caller-supplied comparator.
// Less(a, b) must report whether a belongs strictly before b; elements
// for which neither Less(a,b) nor Less(b,a) hold are "equal" and are
// ordered among themselves by insertion order (FIFO), matching the
// scheduler's priority-band tie-break rule.
type SortedList[T any] struct {
	List[T]
	Less func(a, b *T) bool
}

// Init prepares an empty sorted list using the given comparator.
func (l *SortedList[T]) Init(less func(a, b *T) bool) {
	l.List.Init()
	l.Less = less
}

// Reposition removes and reinserts n, for when the caller-observable
// ordering key of an already-linked element changes (e.g. a thread's
// effective priority changes while it sits on a runnable or waiters
// list). The FIFO tie-break among the element's new peers is the same
// as a fresh insert with before=false.
func (l *SortedList[T]) Reposition(n *Node[T]) {
	l.Remove(n)
	l.Insert(n, false)
}

// Insert places n in sorted order. When before is false (the common
// case), n is inserted after every element it is tied with, preserving
// FIFO order among equals - this is the placement used when a new
// element joins a priority band, or a thread's priority is raised.
// When before is true, n is inserted ahead of every tied element instead
// - used when lowering a thread's priority with "always run before
// peers of the new, lower band" semantics.
func (l *SortedList[T]) Insert(n *Node[T], before bool) {
	for mark := l.root.next; mark != &l.root; mark = mark.next {
		if before {
			if !l.Less(mark.owner, n.owner) {
				l.insertBefore(n, mark)
				return
			}
		} else {
			if l.Less(n.owner, mark.owner) {
				l.insertBefore(n, mark)
				return
			}
		}
	}
	l.insertBefore(n, &l.root)
}
