// Package api
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Scheduler contract for timed job execution.

package api

import "time"

// Scheduler runs callbacks after a delay without holding a worker while waiting.
type Scheduler interface {
	// Schedule arranges for fn to run on a worker once delay has elapsed.
	Schedule(delay time.Duration, fn func()) (Cancelable, error)

	// Now returns monotonic time in nanoseconds.
	Now() int64
}

// Cancelable is a pending scheduled callback.
type Cancelable interface {
	// Cancel prevents the callback from running. It reports false when the
	// callback already fired or was cancelled before.
	Cancel() bool
}
