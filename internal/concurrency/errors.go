// File: internal/concurrency/errors.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import "errors"

var (
	// ErrExecutorClosed is returned by RuntimePool.Submit after Close.
	ErrExecutorClosed = errors.New("concurrency: executor closed")

	// ErrTaskTimeout is returned by RuntimePool.Submit when the chosen
	// worker's local queue is full; Submit does not wait for space.
	ErrTaskTimeout = errors.New("concurrency: task submission timed out")

	// ErrInvalidWorkerCount is returned by NewRuntimePool for a
	// non-positive worker count.
	ErrInvalidWorkerCount = errors.New("concurrency: invalid worker count")

	// ErrAffinityNotSupported names the lack of CPU pinning support. No
	// function in this package returns it: RuntimePool logs an affinity
	// failure and keeps the worker running unpinned.
	ErrAffinityNotSupported = errors.New("concurrency: affinity not supported")

	// ErrSchedulerClosed is returned by AttachCustomPolicy once the
	// scheduler has begun shutdown.
	ErrSchedulerClosed = errors.New("concurrency: scheduler closed")

	// ErrPolicyAlreadySet is returned by AttachCustomPolicy when a
	// scheduler already has a custom dispatch policy installed.
	ErrPolicyAlreadySet = errors.New("concurrency: custom dispatch policy already attached")
)
