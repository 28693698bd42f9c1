// File: internal/concurrency/scheduler_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerSpawnRunsWorkerAndShutsDown(t *testing.T) {
	sched := NewScheduler("spawn-shutdown")
	defer sched.Teardown()

	var ran atomic.Bool
	sched.Spawn("worker", func(self *Fiber) {
		ran.Store(true)
		self.Scheduler().Close()
	})

	sched.Run()

	require.True(t, ran.Load(), "worker fiber never ran")
	assert.Equal(t, 0, sched.NumWorkerFibers())
}

func TestSchedulerYieldPreservesFIFOOrder(t *testing.T) {
	sched := NewScheduler("yield-order")
	defer sched.Teardown()

	var order []string

	sched.Spawn("a", func(self *Fiber) {
		order = append(order, "a1")
		self.Scheduler().Yield(self)
		order = append(order, "a2")
	})
	sched.Spawn("b", func(self *Fiber) {
		order = append(order, "b1")
		self.Scheduler().Close()
	})

	sched.Run()

	require.Equal(t, []string{"a1", "b1", "a2"}, order)
}

func TestSchedulerWaitUntilWakesAtDeadline(t *testing.T) {
	sched := NewScheduler("wait-until")
	defer sched.Teardown()

	start := time.Now()
	var woke time.Time

	sched.Spawn("sleeper", func(self *Fiber) {
		self.Scheduler().WaitUntil(self, time.Now().Add(30*time.Millisecond))
		woke = time.Now()
		self.Scheduler().Close()
	})

	sched.Run()

	assert.GreaterOrEqual(t, woke.Sub(start), 25*time.Millisecond)
}

func TestAddReadyIsIdempotent(t *testing.T) {
	sched := NewScheduler("add-ready-dup")
	defer sched.Teardown()

	fi := NewWorkerFiber("dup", func(*Fiber) {})
	sched.Attach(fi)

	sched.AddReady(fi)
	require.Equal(t, 1, sched.ready.Length())
	sched.AddReady(fi)
	assert.Equal(t, 1, sched.ready.Length())
}

func TestAttachCustomPolicyRejectsAfterClose(t *testing.T) {
	sched := NewScheduler("policy-after-close")
	defer sched.Teardown()

	sched.Close()
	err := sched.AttachCustomPolicy(NewEventLoopPolicy(sched))
	assert.ErrorIs(t, err, ErrSchedulerClosed)
}

func TestScheduleFromRemoteWakesIdleDispatcher(t *testing.T) {
	sched := NewScheduler("remote-wake")
	defer sched.Teardown()

	woken := make(chan struct{})

	target := NewWorkerFiber("remote-target", func(self *Fiber) {
		close(woken)
		self.Scheduler().Close()
	})
	sched.Attach(target)

	// No fiber is ready or sleeping yet, so the dispatcher parks on its
	// wake gate until this remote wakeup arrives.
	go func() {
		time.Sleep(5 * time.Millisecond)
		sched.ScheduleFromRemote(target)
	}()

	done := make(chan struct{})
	go func() {
		sched.Run()
		close(done)
	}()

	select {
	case <-woken:
	case <-time.After(time.Second):
		t.Fatal("remotely scheduled fiber never ran")
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not shut down after remote fiber closed it")
	}
}

func TestEventLoopPolicyHandlesConcurrentScheduleFromRemote(t *testing.T) {
	sched := NewScheduler("eventloop-concurrent-remote")
	defer sched.Teardown()
	require.NoError(t, sched.AttachCustomPolicy(NewEventLoopPolicy(sched)))

	const n = 50
	var ran atomic.Int32
	fibers := make([]*Fiber, n)
	for i := 0; i < n; i++ {
		fibers[i] = NewWorkerFiber("remote-worker", func(self *Fiber) {
			if ran.Add(1) == int32(n) {
				self.Scheduler().Close()
			}
		})
		sched.Attach(fibers[i])
	}

	// Every one of these goroutines calls ScheduleFromRemote concurrently
	// against the same EventLoopPolicy-driven scheduler, exercising
	// notifyQ as a genuine multi-producer queue rather than a single
	// remote caller.
	var wg sync.WaitGroup
	for _, fi := range fibers {
		wg.Add(1)
		go func(fi *Fiber) {
			defer wg.Done()
			sched.ScheduleFromRemote(fi)
		}(fi)
	}

	done := make(chan struct{})
	go func() {
		sched.Run()
		close(done)
	}()

	wg.Wait()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not shut down after all remotely scheduled fibers ran")
	}

	assert.EqualValues(t, n, ran.Load())
}
