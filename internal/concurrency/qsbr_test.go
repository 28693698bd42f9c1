// File: internal/concurrency/qsbr_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQSBRSyncRequiresAllOnlineTrackersCaughtUp(t *testing.T) {
	a := registerQSBR(zerolog.Nop())
	b := registerQSBR(zerolog.Nop())
	defer unregisterQSBR(a)
	defer unregisterQSBR(b)

	target := bumpEpochForDefer()

	a.local.Store(target)
	assert.False(t, a.Sync(target), "Sync should fail while b has not reached target")

	b.local.Store(target)
	assert.True(t, a.Sync(target), "Sync should succeed once every tracker reached target")
}

func TestQSBROfflineTrackerDoesNotBlockSync(t *testing.T) {
	a := registerQSBR(zerolog.Nop())
	b := registerQSBR(zerolog.Nop())
	defer unregisterQSBR(a)
	defer unregisterQSBR(b)

	b.Offline()

	target := bumpEpochForDefer()
	a.local.Store(target)

	assert.True(t, a.Sync(target), "an offline tracker must not block Sync")
}

func TestRunDeferredRetiresOnlyAfterEveryTrackerCheckpoints(t *testing.T) {
	schedA := NewScheduler("qsbr-defer-a")
	schedB := NewScheduler("qsbr-defer-b")
	defer schedA.Teardown()
	defer schedB.Teardown()

	ran := false
	target := bumpEpochForDefer()
	schedA.Defer(target, func() { ran = true })

	schedA.RunDeferred()
	assert.False(t, ran, "deferred callback must not retire before every online tracker has checkpointed past target")

	schedB.qsbr.Checkpoint()
	schedA.RunDeferred()
	assert.True(t, ran, "deferred callback should retire once every tracker has checkpointed exactly one global epoch past the pre-bump value")
}

func TestRunDeferredDrainsAfterRealRehashAndCheckpoint(t *testing.T) {
	schedA := NewScheduler("qsbr-rehash-a")
	schedB := NewScheduler("qsbr-rehash-b")
	defer schedA.Teardown()
	defer schedB.Teardown()

	p := newParkingHT()
	const n = 200 // exceeds the initial 64-bucket load factor of 1.0, forcing a rehash

	for i := uint64(0); i < n; i++ {
		fi := NewWorkerFiber("waiter", func(*Fiber) {})
		schedA.Attach(fi)
		require.True(t, p.Emplace(schedA, i, fi, func() bool { return false }))
	}

	require.NotEmpty(t, schedA.deferred, "rehash should have registered a deferred bucket-array retirement")

	schedA.RunDeferred()
	assert.NotEmpty(t, schedA.deferred, "retirement must wait for schedB to checkpoint past the rehash's target epoch")

	schedB.qsbr.Checkpoint()
	schedA.RunDeferred()
	assert.Empty(t, schedA.deferred, "retirement should complete once every tracker has checkpointed past the target")
}

func TestUnregisterQSBRRemovesFromList(t *testing.T) {
	a := registerQSBR(zerolog.Nop())
	b := registerQSBR(zerolog.Nop())

	unregisterQSBR(a)

	found := false
	qsbrListMu.Lock()
	for p := qsbrHead; p != nil; p = p.next {
		if p == a {
			found = true
		}
	}
	qsbrListMu.Unlock()

	require.False(t, found, "unregistered tracker still present in global list")

	unregisterQSBR(b)
}
