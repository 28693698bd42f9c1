// File: internal/concurrency/assert.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// assertEnabled gates a small panic-on-violation helper, the Go analogue
// of the original runtime's DCHECK/CHECK macros. It defaults to off so
// a release build pays nothing for invariant checks; facade.Runtime
// flips it on when its Config.DebugAssertions is set.

package concurrency

import (
	"fmt"
	"sync/atomic"
)

var assertEnabled atomic.Bool

// SetAssertionsEnabled toggles invariant checking across the package. It
// is wired to the debug-assertions flag on the root runtime config.
func SetAssertionsEnabled(enabled bool) {
	assertEnabled.Store(enabled)
}

// assertf panics with a formatted message if cond is false and
// assertions are currently enabled. Call it only for conditions that
// indicate a bug in this package, never for caller input validation.
func assertf(cond bool, format string, args ...any) {
	if cond || !assertEnabled.Load() {
		return
	}
	panic(fmt.Sprintf("concurrency: invariant violation: "+format, args...))
}
