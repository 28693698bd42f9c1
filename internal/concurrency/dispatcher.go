// File: internal/concurrency/dispatcher.go
// Package concurrency implements the scheduler's default dispatch policy.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The dispatcher fiber is what a Scheduler switches to whenever no
// worker fiber is ready. By default it runs defaultDispatch, a
// condvar-style loop lifted from the teacher's DispatcherImpl; a caller
// may instead AttachCustomPolicy an api.DispatchPolicy (see
// eventloop.go) before the scheduler starts.

package concurrency

import "time"

// wakeGate implements the dispatcher's blocking wait with edge-triggered
// wakeups, the Go equivalent of the teacher's mutex+condvar+bool flag.
type wakeGate struct {
	c chan struct{}
}

func newWakeGate() *wakeGate {
	return &wakeGate{c: make(chan struct{}, 1)}
}

func (g *wakeGate) Notify() {
	select {
	case g.c <- struct{}{}:
	default:
	}
}

func (g *wakeGate) WaitUntil(deadline time.Time, hasDeadline bool) {
	if !hasDeadline {
		<-g.c
		return
	}
	d := time.Until(deadline)
	if d <= 0 {
		select {
		case <-g.c:
		default:
		}
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-g.c:
	case <-t.C:
	}
}

func (s *Scheduler) runDispatchLoop(self *Fiber) {
	if s.policy != nil {
		s.policy.Run()
	} else {
		s.defaultDispatch(self)
	}
	s.logger.Debug().Msg("dispatcher exiting, switching to main")
	exitTo(self, s.main)
}

// defaultDispatch is the condvar-based policy described in the teacher's
// DispatcherImpl::DefaultDispatch: pull remote wakeups and expired
// sleepers into the ready queue, hand off to the next ready fiber by
// re-queuing itself first (so fairness among ready fibers and the
// dispatcher itself is plain FIFO order), and otherwise block until
// notified or until the next sleeper's deadline.
func (s *Scheduler) defaultDispatch(self *Fiber) {
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
		} else {
			s.DestroyTerminated()
			if s.HasSleepingFibers() {
				s.gate.WaitUntil(s.NextSleepPoint(), true)
			} else {
				s.gate.WaitUntil(time.Time{}, false)
			}
		}
		s.RunDeferred()
	}
	s.DestroyTerminated()
}
