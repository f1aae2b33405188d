// File: task/runner.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package task

import (
	"fmt"
	"time"

	"github.com/momentics/hioload-pkt/api"
)

// Runner binds pipelines to the worker executor and timer scheduler they
// run on. Sessions pass their own Runner; there is no package default.
type Runner struct {
	exec  api.Executor
	sched api.Scheduler
}

// NewRunner creates a Runner. A nil executor runs stages on the calling
// goroutine; a nil scheduler falls back to runtime timers.
func NewRunner(exec api.Executor, sched api.Scheduler) *Runner {
	return &Runner{exec: exec, sched: sched}
}

func (r *Runner) submit(fn func()) error {
	if r == nil || r.exec == nil {
		fn()
		return nil
	}
	if err := r.exec.Submit(fn); err != nil {
		return fmt.Errorf("%w: %w", ErrRejected, err)
	}
	return nil
}

func (r *Runner) after(d time.Duration, fn func()) error {
	if r == nil || r.sched == nil {
		time.AfterFunc(d, fn)
		return nil
	}
	_, err := r.sched.Schedule(d, fn)
	return err
}
