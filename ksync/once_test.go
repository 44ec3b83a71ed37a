package ksync_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/embedded-go/rtoscore/ksync"
	"github.com/embedded-go/rtoscore/sched"
	"github.com/stretchr/testify/require"
)

func TestOnceFlag_RunsExactlyOnceAcrossRacingThreads(t *testing.T) {
	s := sched.New(&fakePort{})
	once := ksync.NewOnceFlag(s)

	const n = 5
	var calls atomic.Int32
	done := make(chan error, n)

	for i := 0; i < n; i++ {
		_, err := s.NewThread("caller", 1, sched.Fifo, make([]byte, 256), func(self *sched.TCB) {
			done <- once.CallOnce(self, func() { calls.Add(1) })
			s.Exit(self)
		})
		require.NoError(t, err)
	}

	for i := 0; i < n; i++ {
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("a CallOnce caller never returned")
		}
	}
	require.Equal(t, int32(1), calls.Load())
	require.True(t, once.Done())
}

func TestOnceFlag_FastPathSkipsAlreadyDone(t *testing.T) {
	s := sched.New(&fakePort{})
	once := ksync.NewOnceFlag(s)

	done := make(chan error, 1)
	_, err := s.NewThread("first", 1, sched.Fifo, make([]byte, 256), func(self *sched.TCB) {
		done <- once.CallOnce(self, func() {})
		s.Exit(self)
	})
	require.NoError(t, err)
	<-done
	require.True(t, once.Done())

	var ran bool
	done2 := make(chan error, 1)
	_, err = s.NewThread("second", 1, sched.Fifo, make([]byte, 256), func(self *sched.TCB) {
		done2 <- once.CallOnce(self, func() { ran = true })
		s.Exit(self)
	})
	require.NoError(t, err)
	require.NoError(t, <-done2)
	require.False(t, ran)
}
