// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Error definitions for concurrency module.

package concurrency

import "errors"

var (
	// ErrExecutorClosed indicates the executor has been shut down
	ErrExecutorClosed = errors.New("executor is closed")

	// ErrSchedulerClosed indicates the scheduler no longer accepts timers
	ErrSchedulerClosed = errors.New("scheduler is closed")

	// ErrInvalidDelay indicates a negative scheduling delay
	ErrInvalidDelay = errors.New("invalid delay")
)
