package sched_test

import (
	"sync"
	"time"

	"github.com/embedded-go/rtoscore/port"
	"github.com/embedded-go/rtoscore/sched"
)

// fakePort is a minimal host-side Port: RequestContextSwitch only counts
// calls (the goroutine-baton model in package sched does the actual
// handoff), and StackInitialize need not synthesize a real frame since
// Scheduler.run invokes a TCB's entry point directly rather than via a
// restored stack pointer.
type fakePort struct {
	mu       sync.Mutex
	switches int
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

func (p *fakePort) SetTickSource(ticksPerSecond uint32, handler func()) {}

func (p *fakePort) FatalError(msg string) { panic(msg) }

// waitForState polls tcb's state until it matches want or a second
// elapses; used wherever a test needs to observe a real goroutine
// actually reach a blocked state before driving the next step.
func waitForState(tcb *sched.TCB, want sched.State) bool {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if tcb.State() == want {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return tcb.State() == want
}

// waitForCurrent polls Scheduler.Current() until it is want or a second
// elapses.
func waitForCurrent(s *sched.Scheduler, want *sched.TCB) bool {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if s.Current() == want {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return s.Current() == want
}
