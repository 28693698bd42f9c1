// File: internal/concurrency/qsbr.go
// Package concurrency implements quiescent-state-based reclamation for the
// global parking table's bucket arrays.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// One global epoch counter, incremented by 2 and kept permanently odd
// while any thread is online, plus a process-wide linked list of
// per-scheduler local epochs. A deferred callback registered for epoch E
// runs only once every online thread has observed an epoch >= E.

package concurrency

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

const qsbrEpochInc = 2

var qsbrGlobalEpoch atomic.Uint32

func init() {
	qsbrGlobalEpoch.Store(1)
}

// GlobalEpoch reports the current QSBR global epoch, for debug probes.
func GlobalEpoch() uint32 { return qsbrGlobalEpoch.Load() }

// qsbrTracker is one scheduler's membership entry in the global thread
// list. local == 0 means the scheduler's thread is offline (not
// observing any retired state).
type qsbrTracker struct {
	local  atomic.Uint32
	next   *qsbrTracker
	logger zerolog.Logger
}

var (
	qsbrListMu sync.Mutex
	qsbrHead   *qsbrTracker
)

// registerQSBR adds a new tracker to the global thread list and brings
// it online at the current global epoch. logger is the owning
// scheduler's logger, reused here so QSBR membership changes trace
// under the same "scheduler" field as the rest of that scheduler's
// diagnostics.
func registerQSBR(logger zerolog.Logger) *qsbrTracker {
	t := &qsbrTracker{logger: logger}
	epoch := qsbrGlobalEpoch.Load()
	t.local.Store(epoch)

	qsbrListMu.Lock()
	t.next = qsbrHead
	qsbrHead = t
	qsbrListMu.Unlock()
	logger.Debug().Uint32("epoch", epoch).Msg("qsbr: thread registered online")
	return t
}

// unregisterQSBR removes t from the global thread list.
func unregisterQSBR(t *qsbrTracker) {
	qsbrListMu.Lock()
	defer qsbrListMu.Unlock()
	if qsbrHead == t {
		qsbrHead = t.next
		t.logger.Debug().Msg("qsbr: thread unregistered")
		return
	}
	for p := qsbrHead; p != nil; p = p.next {
		if p.next == t {
			p.next = t.next
			t.logger.Debug().Msg("qsbr: thread unregistered")
			return
		}
	}
}

// Checkpoint syncs this thread's local epoch to the current global
// epoch. Call after any operation that might retire parking-table state.
func (t *qsbrTracker) Checkpoint() {
	t.local.Store(qsbrGlobalEpoch.Load())
}

// Offline marks this thread as not observing retired state.
func (t *qsbrTracker) Offline() {
	t.local.Store(0)
}

// Online brings this thread back to observing the current global epoch.
func (t *qsbrTracker) Online() {
	t.local.Store(qsbrGlobalEpoch.Load())
}

// Sync tries to establish that every online thread has reached target.
// If the global-list lock is contended it gives up immediately rather
// than blocking a scheduler's dispatch loop; otherwise it sets this
// thread's own local epoch to target and scans the list.
func (t *qsbrTracker) Sync(target uint32) bool {
	if !qsbrListMu.TryLock() {
		return false
	}
	defer qsbrListMu.Unlock()

	t.local.Store(target)
	for p := qsbrHead; p != nil; p = p.next {
		le := p.local.Load()
		if le != 0 && le != target {
			t.logger.Trace().Uint32("target", target).Uint32("lagging_local", le).Msg("qsbr: sync blocked on a tracker behind target")
			return false
		}
	}
	t.logger.Trace().Uint32("target", target).Msg("qsbr: sync reached target on every online tracker")
	return true
}

// bumpEpochForDefer advances the global epoch by one full increment and
// returns that new epoch as the target a deferred callback waits for:
// every online thread's next Checkpoint observes it and Sync succeeds.
func bumpEpochForDefer() uint32 {
	return qsbrGlobalEpoch.Add(qsbrEpochInc)
}
