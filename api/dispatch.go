// Package api
// Author: momentics
//
// DispatchPolicy contract: pluggable idle/blocking strategy for a Scheduler's
// host loop.

package api

// DispatchPolicy decides how a scheduler's host OS thread behaves when it
// has no ready fiber to run. Run is the entire dispatcher body: it is
// called exactly once, for the scheduler's whole lifetime, and is expected
// to loop internally — pulling remote and sleeping fibers, switching into
// whatever becomes ready, and otherwise blocking or spinning — until the
// scheduler has shut down and drained its last worker fiber. Notify is
// called from any thread to break Run out of a blocking wait.
type DispatchPolicy interface {
	// Run drives the scheduler until shutdown; it does not return until
	// every worker fiber has finished.
	Run()

	// Notify wakes a thread currently blocked inside Run.
	Notify()
}
