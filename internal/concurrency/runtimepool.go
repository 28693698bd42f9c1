// File: internal/concurrency/runtimepool.go
// Package concurrency implements RuntimePool, a pool of pinned scheduler
// threads that accepts plain func() tasks and runs each as a fiber.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// This is the teacher's Executor/ThreadPool pair regrounded onto fiber
// scheduling: instead of one goroutine per task, each OS thread hosts
// exactly one Scheduler for its lifetime, and submitted tasks become
// worker fibers multiplexed onto that thread. Fibers never migrate
// between threads once spawned.

package concurrency

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/momentics/fibersched/affinity"
)

// TaskFunc is a unit of work submitted to a RuntimePool.
type TaskFunc func()

const poolPollInterval = time.Millisecond

type poolWorker struct {
	id     int
	sched  *Scheduler
	pump   *Fiber
	queue  *lockFreeQueue[TaskFunc]
	readyC chan struct{}
	doneC  chan struct{}

	submitted atomic.Int64
	completed atomic.Int64
}

// RuntimePool is a fixed-size set of pinned scheduler threads.
type RuntimePool struct {
	workers []*poolWorker
	next    atomic.Uint64
	closed  atomic.Bool
	logger  zerolog.Logger
}

// NewRuntimePool starts size OS-thread-pinned schedulers. numaNode < 0
// disables CPU pinning; otherwise worker i is pinned to CPU i % NumCPU.
func NewRuntimePool(size, numaNode int) (*RuntimePool, error) {
	if size <= 0 {
		return nil, ErrInvalidWorkerCount
	}
	p := &RuntimePool{logger: log.With().Str("component", "runtime_pool").Logger()}
	p.workers = make([]*poolWorker, size)
	for i := 0; i < size; i++ {
		w := &poolWorker{
			id:     i,
			queue:  NewLockFreeQueue[TaskFunc](1024),
			readyC: make(chan struct{}),
			doneC:  make(chan struct{}),
		}
		p.workers[i] = w
		go w.run(numaNode)
	}
	for _, w := range p.workers {
		<-w.readyC
	}
	return p, nil
}

func (w *poolWorker) run(numaNode int) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if numaNode >= 0 {
		if err := affinity.SetAffinity(w.id % runtime.NumCPU()); err != nil {
			log.Debug().Err(err).Int("worker", w.id).Msg("cpu affinity unavailable")
		}
	}

	w.sched = NewScheduler(fmt.Sprintf("runtimepool-%d", w.id))
	w.pump = w.sched.Spawn("pump", w.pumpLoop)
	close(w.readyC)

	w.sched.Run()
	w.sched.Teardown()
	close(w.doneC)
}

// pumpLoop drains this worker's local queue, spawning one fiber per
// task, and otherwise sleeps briefly (woken early by Submit's remote
// wakeup, or by the poll interval expiring).
func (w *poolWorker) pumpLoop(self *Fiber) {
	sched := self.Scheduler()
	for {
		if task, ok := w.queue.Dequeue(); ok {
			sched.Spawn("task", func(*Fiber) {
				task()
				w.completed.Add(1)
			})
			continue
		}
		if sched.IsShutdown() {
			return
		}
		sched.WaitUntil(self, time.Now().Add(poolPollInterval))
	}
}

// Submit enqueues task on a round-robin worker and wakes it.
func (p *RuntimePool) Submit(task TaskFunc) error {
	if p.closed.Load() {
		return ErrExecutorClosed
	}
	idx := int(p.next.Add(1) % uint64(len(p.workers)))
	w := p.workers[idx]
	if !w.queue.Enqueue(task) {
		return ErrTaskTimeout
	}
	w.submitted.Add(1)
	w.sched.ScheduleFromRemote(w.pump)
	return nil
}

// NumWorkers reports the fixed worker-thread count.
func (p *RuntimePool) NumWorkers() int { return len(p.workers) }

// Resize is a no-op: RuntimePool's threads are pinned for their
// lifetime and fibers never migrate between them (see the scheduler's
// Non-goals), so elastic resizing has nowhere to move work to.
func (p *RuntimePool) Resize(newCount int) {
	p.logger.Warn().Int("requested", newCount).Msg("RuntimePool does not support resizing")
}

// Shutdown implements api.GracefulShutdown: it closes every scheduler
// and blocks until each worker thread has drained and exited.
func (p *RuntimePool) Shutdown() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	for _, w := range p.workers {
		w.sched.Close()
	}
	for _, w := range p.workers {
		<-w.doneC
	}
	return nil
}

// Stats returns per-worker submission/completion counters plus each
// worker's scheduler queue depths, and the process-wide parking table
// and QSBR counters shared across every worker.
func (p *RuntimePool) Stats() map[string]int64 {
	out := make(map[string]int64, len(p.workers)*4+3)
	for _, w := range p.workers {
		out[fmt.Sprintf("worker_%d_submitted", w.id)] = w.submitted.Load()
		out[fmt.Sprintf("worker_%d_completed", w.id)] = w.completed.Load()
		out[fmt.Sprintf("worker_%d_ready_len", w.id)] = int64(w.sched.ReadyLen())
		out[fmt.Sprintf("worker_%d_sleep_len", w.id)] = int64(w.sched.SleepLen())
		out[fmt.Sprintf("worker_%d_fibers", w.id)] = int64(w.sched.NumWorkerFibers())
	}
	entries, buckets := ParkingTableStats()
	out["parking_entries"] = int64(entries)
	out["parking_buckets"] = int64(buckets)
	out["qsbr_global_epoch"] = int64(GlobalEpoch())
	return out
}
