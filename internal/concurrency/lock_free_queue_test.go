// File: internal/concurrency/lock_free_queue_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockFreeQueueFIFO(t *testing.T) {
	q := NewLockFreeQueue[int](8)
	for i := 0; i < 5; i++ {
		require.True(t, q.Enqueue(i), "enqueue %d failed", i)
	}
	for i := 0; i < 5; i++ {
		v, ok := q.Dequeue()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	_, ok := q.Dequeue()
	assert.False(t, ok, "expected empty queue")
}

func TestLockFreeQueueFullReturnsFalse(t *testing.T) {
	q := NewLockFreeQueue[int](4)
	for i := 0; i < 4; i++ {
		require.True(t, q.Enqueue(i), "enqueue %d should have succeeded", i)
	}
	assert.False(t, q.Enqueue(99), "expected queue to report full")
}

func TestLockFreeQueueConcurrentProducers(t *testing.T) {
	const producers = 8
	const perProducer = 500
	q := NewLockFreeQueue[int](4096)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				for !q.Enqueue(base*perProducer + i) {
				}
			}
		}(p)
	}
	wg.Wait()

	seen := make(map[int]bool, producers*perProducer)
	for len(seen) < producers*perProducer {
		v, ok := q.Dequeue()
		require.True(t, ok, "queue drained early at %d items", len(seen))
		require.False(t, seen[v], "duplicate item %d", v)
		seen[v] = true
	}
}
