// File: internal/concurrency/lock_free_queue.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// lockFreeQueue is a bounded multi-producer, single-consumer ring queue:
// any number of goroutines may Enqueue concurrently (RuntimePool.Submit may
// be called from anywhere), while only the owning pump fiber's goroutine
// calls Dequeue. Each cell carries its own sequence number (Vyukov's
// bounded queue scheme) so a consumer never observes a slot whose producer
// has claimed a position but not yet published its value.

package concurrency

import "sync/atomic"

type queueCell[T any] struct {
	sequence atomic.Uint64
	data     T
}

type lockFreeQueue[T any] struct {
	buf  []queueCell[T]
	mask uint64

	enqueuePos atomic.Uint64
	dequeuePos atomic.Uint64
}

// NewLockFreeQueue allocates a queue of the given power-of-two capacity.
func NewLockFreeQueue[T any](capacity int) *lockFreeQueue[T] {
	size := uint64(1)
	for size < uint64(capacity) {
		size <<= 1
	}
	q := &lockFreeQueue[T]{
		buf:  make([]queueCell[T], size),
		mask: size - 1,
	}
	for i := range q.buf {
		q.buf[i].sequence.Store(uint64(i))
	}
	return q
}

// Enqueue appends an item; returns false if the queue is full.
func (q *lockFreeQueue[T]) Enqueue(item T) bool {
	pos := q.enqueuePos.Load()
	for {
		cell := &q.buf[pos&q.mask]
		seq := cell.sequence.Load()
		switch {
		case seq == pos:
			if q.enqueuePos.CompareAndSwap(pos, pos+1) {
				cell.data = item
				cell.sequence.Store(pos + 1)
				return true
			}
			pos = q.enqueuePos.Load()
		case seq < pos:
			return false // consumer hasn't freed this slot yet: full
		default:
			pos = q.enqueuePos.Load()
		}
	}
}

// Dequeue removes and returns the oldest published item.
func (q *lockFreeQueue[T]) Dequeue() (T, bool) {
	pos := q.dequeuePos.Load()
	cell := &q.buf[pos&q.mask]
	seq := cell.sequence.Load()
	if seq != pos+1 {
		var zero T
		return zero, false
	}
	item := cell.data
	q.dequeuePos.Store(pos + 1)
	cell.sequence.Store(pos + q.mask + 1)
	return item, true
}

// Len reports the number of items currently queued.
func (q *lockFreeQueue[T]) Len() int {
	return int(q.enqueuePos.Load() - q.dequeuePos.Load())
}
