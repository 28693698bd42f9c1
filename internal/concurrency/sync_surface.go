// File: internal/concurrency/sync_surface.go
// Package concurrency implements the fiber-facing wait/notify surface
// built on top of the global parking table.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import "unsafe"

// fiberToken derives a parking-table token from a fiber's identity.
func fiberToken(f *Fiber) uint64 {
	return uint64(uintptr(unsafe.Pointer(f)))
}

// clearParkingFlag resets kParkingInProgress on f, regardless of whether
// f was actually found parked: a notification that arrives before the
// target fiber finishes parking must still prevent it from suspending.
func clearParkingFlag(f *Fiber) {
	for {
		old := f.parkFlags.Load()
		next := old &^ kParkingInProgress
		if old == next || f.parkFlags.CompareAndSwap(old, next) {
			return
		}
	}
}

// BeginPark marks self as about to park, closing the window in which a
// concurrent NotifyParked could otherwise arrive before the fiber has
// registered itself in the parking table and be silently lost. Callers
// building higher-level primitives (mutexes, condvars) on SuspendUntilWakeup
// must call this before publishing themselves as the expected waiter.
func (f *Fiber) BeginPark() {
	f.parkFlags.Store(kParkingInProgress)
}

// SuspendUntilWakeup parks self under its own identity token and
// preempts to the scheduler. The caller is expected to have already set
// kParkingInProgress before some other thread can race to notify it;
// SuspendUntilWakeup's validate callback checks that flag so a
// notification that arrives before parking completes is not missed.
func (f *Fiber) SuspendUntilWakeup() {
	token := fiberToken(f)
	parked := globalParkingHT.Emplace(f.sched, token, f, func() bool {
		return f.parkFlags.Load()&kParkingInProgress == 0
	})
	if parked {
		f.sched.Preempt(f)
	}
}

// SuspendConditionally parks self under token unless validate reports
// true (meaning the wait condition no longer holds and parking should be
// skipped). Returns whether the fiber actually parked.
func (f *Fiber) SuspendConditionally(token uint64, validate func() bool) bool {
	parked := globalParkingHT.Emplace(f.sched, token, f, validate)
	if parked {
		f.sched.Preempt(f)
		return true
	}
	return false
}

// activateOther reschedules a removed waiter on its own scheduler. The
// remote path is always correct even when other happens to live on the
// calling thread's own scheduler, so no same-thread fast path is needed.
func activateOther(other *Fiber) {
	other.sched.ScheduleFromRemote(other)
}

// NotifyParked wakes a specific fiber that may be parked on its own
// identity token, typically from a different scheduler's thread. If
// other has not parked yet, its kParkingInProgress flag is cleared so it
// will skip suspension once it gets there, avoiding a missed wakeup.
func NotifyParked(caller *Fiber, other *Fiber) {
	token := fiberToken(other)
	removed := globalParkingHT.Remove(caller.sched, token,
		func(fi *Fiber) { clearParkingFlag(fi) },
		func() { clearParkingFlag(other) },
	)
	if removed == nil {
		return
	}
	activateOther(removed)
}

// NotifyParkedToken wakes exactly one fiber parked under token, if any,
// and returns it.
func NotifyParkedToken(caller *Fiber, token uint64) *Fiber {
	removed := globalParkingHT.Remove(caller.sched, token, func(*Fiber) {}, func() {})
	if removed != nil {
		activateOther(removed)
	}
	return removed
}

// NotifyAllParked wakes every fiber parked under token.
func NotifyAllParked(caller *Fiber, token uint64) {
	var woken []*Fiber
	globalParkingHT.RemoveAll(caller.sched, token, &woken)
	for _, fi := range woken {
		activateOther(fi)
	}
}
