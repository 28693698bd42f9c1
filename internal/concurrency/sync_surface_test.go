// File: internal/concurrency/sync_surface_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCrossThreadNotifyWakesParkedFiber(t *testing.T) {
	sched := NewScheduler("notify-wake")
	defer sched.Teardown()

	woke := make(chan struct{})

	target := sched.Spawn("park-target", func(self *Fiber) {
		self.BeginPark()
		self.SuspendUntilWakeup()
		close(woke)
		self.Scheduler().Close()
	})

	go func() {
		time.Sleep(10 * time.Millisecond)
		NotifyParked(sched.Main(), target)
	}()

	done := make(chan struct{})
	go func() {
		sched.Run()
		close(done)
	}()

	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("parked fiber was never woken by a cross-thread notify")
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not shut down after notified fiber closed it")
	}
}

// TestNotifyBeforeParkIsNotLost exercises the BeginPark guard: a notify
// that arrives before SuspendUntilWakeup has actually registered the
// fiber in the parking table must still prevent that call from blocking
// forever.
func TestNotifyBeforeParkIsNotLost(t *testing.T) {
	sched := NewScheduler("notify-before-park")
	defer sched.Teardown()

	startedParking := make(chan struct{})
	raceSignal := make(chan struct{})
	suspendReturned := make(chan struct{})

	target := sched.Spawn("race-target", func(self *Fiber) {
		self.BeginPark()
		close(startedParking)
		<-raceSignal
		self.SuspendUntilWakeup()
		close(suspendReturned)
		self.Scheduler().Close()
	})

	go func() {
		<-startedParking
		NotifyParked(sched.Main(), target)
		close(raceSignal)
	}()

	done := make(chan struct{})
	go func() {
		sched.Run()
		close(done)
	}()

	require.Eventually(t, func() bool {
		select {
		case <-suspendReturned:
			return true
		default:
			return false
		}
	}, time.Second, time.Millisecond, "SuspendUntilWakeup blocked despite a notify racing ahead of it")

	require.Eventually(t, func() bool {
		select {
		case <-done:
			return true
		default:
			return false
		}
	}, time.Second, time.Millisecond, "scheduler did not shut down")
}
