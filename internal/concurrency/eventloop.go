// File: internal/concurrency/eventloop.go
// Package concurrency implements a spin/backoff alternative to the
// scheduler's default condvar-based dispatch policy.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// EventLoopPolicy never blocks on a mutex/condvar; it busy-polls the
// ready and remote-ready queues with an adaptive backoff, trading CPU for
// lower wakeup latency. Useful on dedicated cores where the scheduler's
// OS thread has nothing better to do anyway.

package concurrency

import (
	"runtime"
	"sync/atomic"
	"time"
)

const maxBackoffNs = 1_000_000

// EventLoopPolicy implements api.DispatchPolicy with a batched,
// adaptive-backoff spin loop instead of a blocking wait.
type EventLoopPolicy struct {
	sched     *Scheduler
	notifyQ   *lockFreeQueue[struct{}]
	backoffNs atomic.Int64
}

// NewEventLoopPolicy constructs a policy for sched. Attach it with
// sched.AttachCustomPolicy before sched.Run.
func NewEventLoopPolicy(sched *Scheduler) *EventLoopPolicy {
	p := &EventLoopPolicy{
		sched:   sched,
		notifyQ: NewLockFreeQueue[struct{}](256),
	}
	p.backoffNs.Store(1)
	return p
}

// Notify records a pending wakeup; Notify is ScheduleFromRemote's target
// and so must tolerate any number of concurrent callers, which is why
// notifyQ is the multi-producer ring from lock_free_queue.go. Dropped only if 256
// notifications are already queued without having been drained, which
// just means the next poll will see the ready queue directly instead.
func (p *EventLoopPolicy) Notify() {
	p.notifyQ.Enqueue(struct{}{})
}

// Run implements api.DispatchPolicy.
func (p *EventLoopPolicy) Run() {
	s := p.sched
	self := s.dispatch

	for {
		if s.shutdown.Load() && s.NumWorkerFibers() == 0 {
			break
		}

		s.ProcessRemoteReady()
		if s.HasSleepingFibers() {
			s.ProcessSleep()
		}

		if s.HasReady() {
			fi := s.popReady()
			s.AddReady(self)
			switchTo(self, fi)
			p.backoffNs.Store(1)
		} else {
			s.DestroyTerminated()
			p.drainOrBackoff()
		}
		s.RunDeferred()
	}
	s.DestroyTerminated()
}

func (p *EventLoopPolicy) drainOrBackoff() {
	drained := 0
	for {
		if _, ok := p.notifyQ.Dequeue(); ok {
			drained++
		} else {
			break
		}
	}
	if drained > 0 {
		p.backoffNs.Store(1)
		return
	}

	backoff := p.backoffNs.Load()
	if backoff < 1000 {
		time.Sleep(time.Microsecond)
	} else {
		runtime.Gosched()
	}
	next := backoff * 2
	if next > maxBackoffNs {
		next = maxBackoffNs
	}
	p.backoffNs.Store(next)
}
