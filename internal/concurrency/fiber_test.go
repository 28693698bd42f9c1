// File: internal/concurrency/fiber_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFiberJoinUnblocksAfterTermination(t *testing.T) {
	sched := NewScheduler("fiber-join")
	defer sched.Teardown()

	fi := sched.Spawn("worker", func(self *Fiber) {
		self.Scheduler().Close()
	})

	done := make(chan struct{})
	go func() {
		fi.Join()
		close(done)
	}()

	sched.Run()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Join did not unblock after fiber terminated")
	}
}

func TestFiberKindAndName(t *testing.T) {
	sched := NewScheduler("fiber-kind")
	defer sched.Teardown()

	assert.Equal(t, KindMain, sched.Main().Kind())
	assert.Equal(t, KindDispatch, sched.dispatch.Kind())

	var workerKind Kind
	fi := sched.Spawn("worker", func(self *Fiber) {
		workerKind = self.Kind()
		self.Scheduler().Close()
	})
	require.Equal(t, "worker", fi.Name())

	sched.Run()

	assert.Equal(t, KindWorker, workerKind)
}
