// Package stack models a thread's stack: a caller-owned byte buffer
// that gets a synthetic "fresh thread" frame written into it by the
// Port, plus the bookkeeping needed to answer "how much of this was
// ever touched" and "did this thread run off the end". The actual frame
// layout and the meaning of the returned stack pointer are entirely a
// Port concern (see package port); this package only keeps the buffer,
// the current stack pointer, and the guard/high-water-mark sentinel
// scan.
package stack

import "github.com/embedded-go/rtoscore/port"

// sentinel fills the stack buffer before use so HighWaterMark can later
// detect how much of it was never touched. 0x5a is arbitrary but should
// never look like a plausible zero-initialized value, so untouched
// regions are unambiguous.
const sentinel = 0x5a

// guardWords is the number of sentinel-checked bytes at the low end of
// the buffer treated as the guard region, when guard checking is
// enabled.
const guardWords = 32

// Stack owns a buffer and the saved stack pointer for one thread.
type Stack struct {
	buf          []byte
	pointer      uintptr
	guardEnabled bool
}

// New wraps buf as a thread's stack. buf is not copied; the caller must
// not reuse it while the owning thread exists.
func New(buf []byte, guardEnabled bool) *Stack {
	for i := range buf {
		buf[i] = sentinel
	}
	return &Stack{buf: buf, guardEnabled: guardEnabled}
}

// Initialize asks p to write a fresh-thread frame into the buffer for
// entry, and records the resulting stack pointer.
func (s *Stack) Initialize(p port.Port, entry func()) {
	s.pointer = p.StackInitialize(s.buf, entry)
}

// Pointer returns the most recently saved stack pointer.
func (s *Stack) Pointer() uintptr {
	return s.pointer
}

// SetPointer records a new stack pointer, as observed by
// Scheduler.SwitchContext when a thread is switched out.
func (s *Stack) SetPointer(sp uintptr) {
	s.pointer = sp
}

// Size returns the capacity of the underlying buffer.
func (s *Stack) Size() int {
	return len(s.buf)
}

// HighWaterMark scans the buffer from the low end for the first byte
// that no longer matches the sentinel fill, and returns how many bytes
// from the high end have been touched at least once. A freshly
// initialized, never-run stack reports 0.
func (s *Stack) HighWaterMark() int {
	i := 0
	for i < len(s.buf) && s.buf[i] == sentinel {
		i++
	}
	return len(s.buf) - i
}

// GuardViolated reports whether the guard region at the low end of the
// buffer has been touched, which indicates a stack overflow. It always
// returns false when guard checking is disabled for this stack.
func (s *Stack) GuardViolated() bool {
	if !s.guardEnabled {
		return false
	}
	n := guardWords
	if n > len(s.buf) {
		n = len(s.buf)
	}
	for i := 0; i < n; i++ {
		if s.buf[i] != sentinel {
			return true
		}
	}
	return false
}
