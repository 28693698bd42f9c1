// File: internal/concurrency/fiber.go
// Package concurrency implements the cooperative fiber scheduler core.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Fiber models a single stackful coroutine. Go gives us no manual
// context-switch primitive, so each Fiber is backed by its own goroutine
// parked on an unbuffered channel: sending on resumeC hands control to the
// fiber, and the fiber hands control back by sending on the target's
// resumeC and blocking on its own. This is the "trampoline" pattern: the
// goroutine scheduler does the actual stack bookkeeping, we only need to
// guarantee that at most one fiber belonging to a given Scheduler is
// runnable at a time.

package concurrency

import (
	"sync/atomic"
)

// Kind distinguishes the roles a Fiber can play within a Scheduler.
type Kind int

const (
	// KindMain represents the goroutine that owns and drives a Scheduler.
	// It has no trampoline goroutine of its own.
	KindMain Kind = iota
	// KindDispatch is the scheduler's built-in dispatcher fiber.
	KindDispatch
	// KindWorker is an ordinary user fiber.
	KindWorker
)

const (
	kParkingInProgress uint32 = 1 << 0
)

// Fiber is a single cooperatively-scheduled unit of execution.
type Fiber struct {
	name string
	kind Kind
	sched *Scheduler

	resumeC chan struct{}
	resumer *Fiber // most recent fiber that switched into this one

	fn func(self *Fiber)

	listLinked  bool
	sleepLinked bool
	heapIndex   int
	wakeAt      int64 // UnixNano; only meaningful while sleepLinked

	parkToken uint64
	parkFlags atomic.Uint32

	refCount atomic.Int32
	joinC    chan struct{}
}

// NewMainFiber wraps the calling goroutine as the anchor fiber of a
// Scheduler. It never runs a trampoline of its own: switchTo-ing into it
// simply unblocks whatever call is parked on its resumeC.
func NewMainFiber(name string) *Fiber {
	return &Fiber{
		name:    name,
		kind:    KindMain,
		resumeC: make(chan struct{}),
		joinC:   make(chan struct{}),
	}
}

// newTrampolineFiber allocates a fiber and starts its backing goroutine,
// which blocks immediately until the first switchTo.
func newTrampolineFiber(name string, kind Kind, fn func(self *Fiber)) *Fiber {
	f := &Fiber{
		name:    name,
		kind:    kind,
		resumeC: make(chan struct{}),
		joinC:   make(chan struct{}),
		fn:      fn,
	}
	f.refCount.Store(1)
	go f.trampoline()
	return f
}

// NewWorkerFiber creates a worker fiber bound to fn; the fiber does not
// start running until the scheduler first switchTo's into it.
func NewWorkerFiber(name string, fn func(self *Fiber)) *Fiber {
	return newTrampolineFiber(name, KindWorker, fn)
}

// Name returns the fiber's diagnostic name.
func (f *Fiber) Name() string { return f.name }

// Kind returns the fiber's role.
func (f *Fiber) Kind() Kind { return f.kind }

// Scheduler returns the scheduler this fiber is attached to, or nil.
func (f *Fiber) Scheduler() *Scheduler { return f.sched }

// trampoline is the body of every non-main fiber's backing goroutine.
// The dispatcher fiber manages its own exit explicitly (it always ends
// by exitTo-ing the main fiber, mirroring the teacher's dispatcher,
// which switches back to main_cntx_ instead of an implicit caller
// return); worker fibers that simply return are terminated here.
func (f *Fiber) trampoline() {
	<-f.resumeC
	f.fn(f)
	if f.kind != KindDispatch {
		f.sched.onFiberFinished(f)
	}
}

// switchTo transfers control from the currently running fiber to target,
// blocking the caller until some other fiber switches back into it.
func switchTo(from, target *Fiber) {
	assertf(from != target, "switchTo: from and target are the same fiber (%s)", from.name)
	target.resumer = from
	target.resumeC <- struct{}{}
	<-from.resumeC
}

// exitTo transfers control to target without expecting to be resumed
// again. Used only when a fiber's function has returned and its backing
// goroutine is about to exit, so nothing will ever send on from.resumeC.
func exitTo(from, target *Fiber) {
	target.resumer = from
	target.resumeC <- struct{}{}
}

// Join blocks the caller's goroutine until f has terminated. It must not
// be called from inside a fiber hosted by f's own scheduler (that would
// deadlock the scheduler's single OS thread); it is meant for external
// goroutines awaiting a RuntimePool task.
func (f *Fiber) Join() {
	<-f.joinC
}

func (f *Fiber) release() {
	if f.refCount.Add(-1) == 0 {
		close(f.joinC)
	}
}
