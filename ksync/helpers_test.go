package ksync_test

import (
	"sync"

	"github.com/embedded-go/rtoscore/port"
)

// fakePort is a minimal host-side Port: it never performs a real
// architecture context switch (the goroutine-baton model in package
// sched does that work directly), so RequestContextSwitch only counts
// calls for assertions, and StackInitialize need not synthesize a real
// frame since Scheduler.run invokes a TCB's entry point directly.
type fakePort struct {
	mu          sync.Mutex
	switches    int
	tickHandler func()
}

func (p *fakePort) EnterCritical() port.Cookie { return nil }
func (p *fakePort) ExitCritical(port.Cookie)   {}

func (p *fakePort) RequestContextSwitch() {
	p.mu.Lock()
	p.switches++
	p.mu.Unlock()
}

func (p *fakePort) StackInitialize(buf []byte, entry func()) uintptr {
	return uintptr(len(buf))
}

func (p *fakePort) SetTickSource(ticksPerSecond uint32, handler func()) {
	p.tickHandler = handler
}

func (p *fakePort) FatalError(msg string) { panic(msg) }
