// File: internal/concurrency/scheduler.go
// Package concurrency implements the cooperative fiber scheduler core.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Scheduler owns one dispatcher fiber and four queues: ready, sleep,
// remote-ready, and terminate. It is meant to live on exactly one OS
// thread (pin it via affinity.SetAffinity from the owning goroutine); all
// of its queue manipulation is single-threaded except ScheduleFromRemote,
// which producer threads call directly.

package concurrency

import (
	"container/heap"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/momentics/fibersched/api"
	"github.com/momentics/fibersched/pool"
)

// sleepHeap orders fibers by wake time; it implements container/heap and
// tracks each fiber's index so WaitUntil's early cancellation (AddReady
// waking a sleeper) can remove it in O(log n) instead of a linear scan.
type sleepHeap []*Fiber

func (h sleepHeap) Len() int            { return len(h) }
func (h sleepHeap) Less(i, j int) bool  { return h[i].wakeAt < h[j].wakeAt }
func (h sleepHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}
func (h *sleepHeap) Push(x any) {
	fi := x.(*Fiber)
	fi.heapIndex = len(*h)
	*h = append(*h, fi)
}
func (h *sleepHeap) Pop() any {
	old := *h
	n := len(old)
	fi := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	fi.heapIndex = -1
	return fi
}

type deferredEntry struct {
	epoch uint32
	fn    func()
}

// deferredPool recycles deferredEntry nodes across Defer/RunDeferred
// cycles instead of letting each one become garbage once retired; mirrors
// the teacher's use of pool.SyncPool for its own hot-path allocations.
var deferredPool = pool.NewSyncPool(func() *deferredEntry { return &deferredEntry{} })

// Scheduler multiplexes fibers cooperatively onto a single host thread.
type Scheduler struct {
	main   *Fiber
	dispatch *Fiber

	ready     *queue.Queue
	sleepQ    sleepHeap
	terminate *queue.Queue

	remoteMu    sync.Mutex
	remoteReady *queue.Queue

	numWorkerFibers atomic.Int32
	shutdown        atomic.Bool

	policy api.DispatchPolicy
	gate   *wakeGate

	deferred []*deferredEntry

	qsbr *qsbrTracker

	logger zerolog.Logger
}

// NewScheduler constructs a scheduler anchored on the calling goroutine,
// which becomes the scheduler's main fiber.
func NewScheduler(name string) *Scheduler {
	s := &Scheduler{
		main:        NewMainFiber(name + ".main"),
		ready:       queue.New(),
		terminate:   queue.New(),
		remoteReady: queue.New(),
		gate:        newWakeGate(),
		logger:      log.With().Str("scheduler", name).Logger(),
	}
	s.qsbr = registerQSBR(s.logger)
	acquireGlobalParkingHT()
	s.dispatch = newTrampolineFiber(name+".dispatch", KindDispatch, s.runDispatchLoop)
	s.main.sched = s
	s.dispatch.sched = s
	return s
}

// Main returns the scheduler's anchor fiber.
func (s *Scheduler) Main() *Fiber { return s.main }

// Policy returns the currently attached custom dispatch policy, or nil.
func (s *Scheduler) Policy() api.DispatchPolicy { return s.policy }

// IsShutdown reports whether Close has been requested.
func (s *Scheduler) IsShutdown() bool { return s.shutdown.Load() }

// NumWorkerFibers reports the live worker-fiber count.
func (s *Scheduler) NumWorkerFibers() int { return int(s.numWorkerFibers.Load()) }

// HasReady reports whether any fiber is ready to run.
func (s *Scheduler) HasReady() bool { return s.ready.Length() > 0 }

// ReadyLen reports the current ready-queue depth, for metrics.
func (s *Scheduler) ReadyLen() int { return s.ready.Length() }

// HasSleepingFibers reports whether any fiber is parked in the sleep queue.
func (s *Scheduler) HasSleepingFibers() bool { return s.sleepQ.Len() > 0 }

// SleepLen reports the current sleep-queue depth, for metrics.
func (s *Scheduler) SleepLen() int { return s.sleepQ.Len() }

// NextSleepPoint returns the wake time of the earliest sleeping fiber.
// Callers must check HasSleepingFibers first.
func (s *Scheduler) NextSleepPoint() time.Time {
	return time.Unix(0, s.sleepQ[0].wakeAt)
}

// AddReady enqueues fi onto the ready queue, removing it from the sleep
// queue first if it was parked there. Re-adding an already-ready fiber is
// a no-op (it panics instead when assertions are enabled): the ready queue
// never holds a fiber twice.
func (s *Scheduler) AddReady(fi *Fiber) {
	if fi.listLinked {
		assertf(false, "AddReady: fiber %s already linked", fi.name)
		return
	}
	if fi.sleepLinked {
		heap.Remove(&s.sleepQ, fi.heapIndex)
		fi.sleepLinked = false
	}
	s.ready.Add(fi)
	fi.listLinked = true
}

func (s *Scheduler) popReady() *Fiber {
	fi := s.ready.Remove().(*Fiber)
	fi.listLinked = false
	return fi
}

// ScheduleFromRemote is the MPSC entry point: any goroutine, on any
// thread, may call this to wake the scheduler and have fi considered
// ready. Safe to call concurrently with the scheduler's own thread.
func (s *Scheduler) ScheduleFromRemote(fi *Fiber) {
	s.remoteMu.Lock()
	s.remoteReady.Add(fi)
	s.remoteMu.Unlock()

	if s.policy != nil {
		s.policy.Notify()
	} else {
		s.gate.Notify()
	}
}

// ProcessRemoteReady drains the remote-ready queue into the ready queue.
// Must only be called from the scheduler's own thread.
func (s *Scheduler) ProcessRemoteReady() {
	for {
		s.remoteMu.Lock()
		if s.remoteReady.Length() == 0 {
			s.remoteMu.Unlock()
			return
		}
		fi := s.remoteReady.Remove().(*Fiber)
		s.remoteMu.Unlock()

		if fi.listLinked {
			// Already re-queued by a subsequent local AddReady; drop the
			// duplicate remote wakeup instead of scheduling fi twice.
			continue
		}
		s.AddReady(fi)
	}
}

// ProcessSleep moves every fiber whose deadline has elapsed into the
// ready queue.
func (s *Scheduler) ProcessSleep() {
	now := time.Now().UnixNano()
	for s.sleepQ.Len() > 0 {
		fi := s.sleepQ[0]
		if fi.wakeAt > now {
			break
		}
		heap.Pop(&s.sleepQ)
		fi.sleepLinked = false
		s.ready.Add(fi)
		fi.listLinked = true
	}
}

// Spawn creates a new worker fiber running fn, attaches it to this
// scheduler, and places it on the ready queue. Safe to call only from a
// fiber already hosted by this scheduler (including its main fiber).
func (s *Scheduler) Spawn(name string, fn func(self *Fiber)) *Fiber {
	fi := NewWorkerFiber(name, fn)
	s.Attach(fi)
	s.AddReady(fi)
	return fi
}

// Attach registers cntx with this scheduler, counting it as a worker
// fiber if applicable.
func (s *Scheduler) Attach(cntx *Fiber) {
	assertf(cntx.sched == nil || cntx.sched == s, "Attach: fiber %s already attached to another scheduler", cntx.name)
	cntx.sched = s
	if cntx.kind == KindWorker {
		s.numWorkerFibers.Add(1)
	}
}

// ScheduleTermination moves cntx onto the terminate queue so its stack
// (here: its goroutine) is guaranteed to have switched away before the
// scheduler releases it.
func (s *Scheduler) ScheduleTermination(cntx *Fiber) {
	s.terminate.Add(cntx)
	if cntx.kind == KindWorker {
		s.numWorkerFibers.Add(-1)
	}
}

// DestroyTerminated releases every fiber sitting in the terminate queue.
func (s *Scheduler) DestroyTerminated() {
	for s.terminate.Length() > 0 {
		fi := s.terminate.Remove().(*Fiber)
		s.logger.Debug().Str("fiber", fi.name).Msg("releasing terminated fiber")
		fi.release()
	}
}

// Preempt yields control from self to the next ready fiber, or to the
// dispatcher if none is ready.
func (s *Scheduler) Preempt(self *Fiber) {
	if s.ready.Length() == 0 {
		switchTo(self, s.dispatch)
		return
	}
	fi := s.popReady()
	switchTo(self, fi)
}

// Yield re-queues self and preempts to the next ready fiber.
func (s *Scheduler) Yield(self *Fiber) {
	s.AddReady(self)
	s.Preempt(self)
}

// WaitUntil parks self on the sleep queue until tp, then preempts.
func (s *Scheduler) WaitUntil(self *Fiber, tp time.Time) {
	self.wakeAt = tp.UnixNano()
	heap.Push(&s.sleepQ, self)
	self.sleepLinked = true
	s.Preempt(self)
}

// AttachCustomPolicy installs a custom dispatch policy, replacing the
// default condvar-style dispatcher. May only be called once.
func (s *Scheduler) AttachCustomPolicy(policy api.DispatchPolicy) error {
	if s.shutdown.Load() {
		return ErrSchedulerClosed
	}
	if s.policy != nil {
		return ErrPolicyAlreadySet
	}
	s.policy = policy
	return nil
}

// Defer registers fn to run once every online thread has reached epoch.
func (s *Scheduler) Defer(epoch uint32, fn func()) {
	e := deferredPool.Get()
	e.epoch = epoch
	e.fn = fn
	s.deferred = append(s.deferred, e)
}

// RunDeferred retires deferred callbacks whose epoch has become globally
// observed, oldest-registered-last (the list is a LIFO stack).
func (s *Scheduler) RunDeferred() {
	skipValidation := false
	for len(s.deferred) > 0 {
		last := s.deferred[len(s.deferred)-1]
		if !skipValidation {
			if !s.qsbr.Sync(last.epoch) {
				break
			}
			skipValidation = true
		}
		last.fn()
		s.deferred = s.deferred[:len(s.deferred)-1]
		last.fn = nil
		deferredPool.Put(last)
	}
}

// Run starts the scheduler's dispatch loop on the calling goroutine and
// blocks until Close has been called and every worker fiber has drained.
func (s *Scheduler) Run() {
	switchTo(s.main, s.dispatch)
}

// Close requests an orderly shutdown: the dispatcher will stop pulling
// new ready fibers once the worker-fiber count reaches zero.
func (s *Scheduler) Close() {
	s.shutdown.Store(true)
	s.gate.Notify()
	if s.policy != nil {
		s.policy.Notify()
	}
}

// Teardown releases this scheduler's share of the global parking table
// and QSBR thread-list membership. Call after Run has returned.
func (s *Scheduler) Teardown() {
	unregisterQSBR(s.qsbr)
	releaseGlobalParkingHT()
}

// onFiberFinished is invoked by a worker fiber's trampoline once its
// function returns naturally. Like Preempt, it hands control to the next
// ready fiber (the dispatcher re-queues itself before switching into a
// worker), or to the dispatcher if nothing is ready.
func (s *Scheduler) onFiberFinished(f *Fiber) {
	s.ScheduleTermination(f)
	next := s.dispatch
	if s.ready.Length() > 0 {
		next = s.popReady()
	}
	exitTo(f, next)
}
