// Package hostport is a reference Port for running the kernel core on a
// host OS thread instead of real hardware: EnterCritical/ExitCritical
// serialize on a plain mutex (there is no real interrupt mask to
// manipulate), StackInitialize ignores the entry closure (package sched
// starts each thread's goroutine and calls its entry itself), and the
// tick source is a background goroutine sleeping between ticks with
// unix.Nanosleep rather than a hardware timer peripheral. It exists for
// driving the kernel on a development machine; it is not itself part
// of the kernel core.
package hostport

import (
	"sync"

	"golang.org/x/sys/unix"

	"github.com/embedded-go/rtoscore/port"
)

// Port is a host-OS-thread-backed implementation of port.Port.
type Port struct {
	mu sync.Mutex

	tickHandler func()
	tickRate    uint32
	stopTick    chan struct{}

	fatal func(msg string)
}

// New constructs a host Port. fatal is invoked (and must not return) on
// an unrecoverable internal error reported via FatalError; if nil, it
// panics.
func New(fatal func(msg string)) *Port {
	return &Port{fatal: fatal}
}

// EnterCritical masks nothing real; it serializes against a concurrent
// EnterCritical from another OS thread, the closest host analogue to
// "interrupts masked" this Port can offer.
func (p *Port) EnterCritical() port.Cookie {
	p.mu.Lock()
	return nil
}

// ExitCritical releases the critical section entered by EnterCritical.
func (p *Port) ExitCritical(port.Cookie) {
	p.mu.Unlock()
}

// RequestContextSwitch is a no-op: the goroutine-baton model in package
// sched performs the actual handoff without needing an asynchronous
// architecture trap.
func (p *Port) RequestContextSwitch() {}

// StackInitialize ignores buf (host threads of execution are real Go
// goroutines, not restored register frames) and returns a stack pointer
// value derived from buf purely so callers that log or compare it see a
// stable, buffer-specific value.
func (p *Port) StackInitialize(buf []byte, entry func()) uintptr {
	return uintptr(len(buf))
}

// SetTickSource spawns a background goroutine that sleeps for
// 1/ticksPerSecond seconds between calls to handler, using
// unix.Nanosleep as the wall-clock primitive in place of a hardware
// timer peripheral. Calling SetTickSource again replaces the previous
// tick source.
func (p *Port) SetTickSource(ticksPerSecond uint32, handler func()) {
	p.mu.Lock()
	if p.stopTick != nil {
		close(p.stopTick)
	}
	stop := make(chan struct{})
	p.stopTick = stop
	p.tickHandler = handler
	p.tickRate = ticksPerSecond
	p.mu.Unlock()

	if ticksPerSecond == 0 {
		return
	}
	period := unix.NsecToTimespec(int64(1e9 / ticksPerSecond))
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			rem := period
			for rem.Sec != 0 || rem.Nsec != 0 {
				if err := unix.Nanosleep(&rem, &rem); err != nil {
					break
				}
			}
			handler()
		}
	}()
}

// FatalError reports an unrecoverable internal error. It invokes the
// fatal callback supplied to New, or panics if none was given; both
// paths never return.
func (p *Port) FatalError(msg string) {
	if p.fatal != nil {
		p.fatal(msg)
		return
	}
	panic("hostport: " + msg)
}
