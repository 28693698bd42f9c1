// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package concurrency implements a cooperative, single-threaded-per-core
// fiber scheduler: stackful coroutines multiplexed by hand-off rather than
// preemption, a global parking hash table for wait/notify between fibers on
// different OS threads, and a QSBR epoch scheme for safely recycling
// structures shared across those threads. RuntimePool wires a fixed set of
// pinned scheduler threads together into a plain func()-task executor.
//
// Everything in this package assumes a Scheduler is driven by exactly one
// goroutine for its entire lifetime; cross-thread interaction goes through
// ScheduleFromRemote, the parking table, or QSBR, never through direct
// manipulation of another scheduler's queues.
package concurrency
