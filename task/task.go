// File: task/task.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Lazy pipelines of tagged stages. A pipeline is a list rooted at a supply
// stage; Map, Then and PauseFor append to it and Perform runs it exactly
// once through a single driver loop. Nothing executes before Perform.

package task

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

type stageKind uint8

const (
	stageSupply stageKind = iota
	stageMap
	stageTap
	stageDelay
	stageAwait
	stageTerminal
)

func (k stageKind) String() string {
	switch k {
	case stageSupply:
		return "supply"
	case stageMap:
		return "map"
	case stageTap:
		return "tap"
	case stageDelay:
		return "delay"
	case stageAwait:
		return "await"
	case stageTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// stage is one tagged step. out resolves with the value leaving the stage.
type stage struct {
	kind  stageKind
	fn    func(any) (any, error)
	delay time.Duration
	await func(in any, cb func(any, error))
	out   *promise
}

type pipeline struct {
	runner    *Runner
	mu        sync.Mutex
	stages    []*stage
	performed atomic.Bool
}

// Task is a handle on one position of a pipeline. Its Future resolves with
// the value produced at that position.
type Task[T any] struct {
	pl  *pipeline
	idx int
	out *promise
}

func newPipeline[T any](r *Runner, first *stage) *Task[T] {
	first.out = newPromise()
	pl := &pipeline{runner: r, stages: []*stage{first}}
	return &Task[T]{pl: pl, idx: 0, out: first.out}
}

// Supply starts a pipeline whose first value comes from fn.
func Supply[T any](r *Runner, fn func() (T, error)) *Task[T] {
	return newPipeline[T](r, &stage{kind: stageSupply, fn: func(any) (any, error) {
		return fn()
	}})
}

// Just starts a pipeline with a constant value.
func Just[T any](r *Runner, v T) *Task[T] {
	return newPipeline[T](r, &stage{kind: stageSupply, fn: func(any) (any, error) {
		return v, nil
	}})
}

// Failed starts a pipeline that fails with err once performed.
func Failed[T any](r *Runner, err error) *Task[T] {
	return newPipeline[T](r, &stage{kind: stageSupply, fn: func(any) (any, error) {
		return nil, err
	}})
}

// FromFuture starts a pipeline that suspends until f resolves.
func FromFuture[T any](r *Runner, f *Future[T]) *Task[T] {
	return newPipeline[T](r, &stage{kind: stageAwait, await: func(_ any, cb func(any, error)) {
		f.p.onComplete(cb)
	}})
}

// extend appends st after t's position. When t is not the tail, or the
// pipeline already runs, a continuation pipeline awaiting t is started
// instead so earlier handles keep their types and the original chain
// is never re-run.
func extend[R any](pl *pipeline, idx int, out *promise, st *stage) *Task[R] {
	st.out = newPromise()
	pl.mu.Lock()
	if !pl.performed.Load() && idx == len(pl.stages)-1 {
		pl.stages = append(pl.stages, st)
		n := len(pl.stages) - 1
		pl.mu.Unlock()
		return &Task[R]{pl: pl, idx: n, out: st.out}
	}
	pl.mu.Unlock()

	head := &stage{kind: stageAwait, out: newPromise(), await: func(_ any, cb func(any, error)) {
		pl.perform()
		out.onComplete(cb)
	}}
	cont := &pipeline{runner: pl.runner, stages: []*stage{head, st}}
	return &Task[R]{pl: cont, idx: 1, out: st.out}
}

// Map appends a transform stage.
func Map[T, R any](t *Task[T], fn func(T) (R, error)) *Task[R] {
	return extend[R](t.pl, t.idx, t.out, &stage{kind: stageMap, fn: func(in any) (any, error) {
		v, err := cast[T](in)
		if err != nil {
			return nil, err
		}
		return fn(v)
	}})
}

// Compose appends a stage that performs the task returned by fn and
// suspends until it resolves.
func Compose[T, R any](t *Task[T], fn func(T) (*Task[R], error)) *Task[R] {
	return extend[R](t.pl, t.idx, t.out, &stage{kind: stageAwait, await: func(in any, cb func(any, error)) {
		v, err := cast[T](in)
		if err != nil {
			cb(nil, err)
			return
		}
		next, err := safeCompose(fn, v)
		if err != nil {
			cb(nil, err)
			return
		}
		next.Perform()
		next.out.onComplete(cb)
	}})
}

func safeCompose[T, R any](fn func(T) (*Task[R], error), v T) (t *Task[R], err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrStagePanic, r)
		}
	}()
	t, err = fn(v)
	if err == nil && t == nil {
		err = fmt.Errorf("task: compose returned nil task")
	}
	return t, err
}

// Then appends a side-effecting stage; the value passes through unchanged.
func (t *Task[T]) Then(fn func(T)) *Task[T] {
	return extend[T](t.pl, t.idx, t.out, &stage{kind: stageTap, fn: func(in any) (any, error) {
		v, err := cast[T](in)
		if err != nil {
			return nil, err
		}
		fn(v)
		return in, nil
	}})
}

// PauseFor appends a delay. The chain is parked on the scheduler and holds
// no worker while it waits.
func (t *Task[T]) PauseFor(d time.Duration) *Task[T] {
	if d < 0 {
		d = 0
	}
	return extend[T](t.pl, t.idx, t.out, &stage{kind: stageDelay, delay: d})
}

// Perform starts the pipeline once; concurrent and repeated calls share
// the first run. It returns the future for t's position.
func (t *Task[T]) Perform() *Future[T] {
	t.pl.perform()
	return t.Future()
}

// Future returns the result cell for t's position without starting the
// pipeline.
func (t *Task[T]) Future() *Future[T] { return &Future[T]{p: t.out} }

// Performed reports whether the owning pipeline has been started.
func (t *Task[T]) Performed() bool { return t.pl.performed.Load() }

// Fail resolves t's future early. The stage at t's position and every
// stage after it are skipped, and later positions fail with err.
func (t *Task[T]) Fail(err error) bool { return t.Future().Fail(err) }

func (pl *pipeline) perform() {
	if pl.performed.Load() {
		return
	}
	pl.mu.Lock()
	if pl.performed.Load() {
		pl.mu.Unlock()
		return
	}
	pl.stages = append(pl.stages, &stage{kind: stageTerminal, out: newPromise()})
	pl.performed.Store(true)
	pl.mu.Unlock()

	if err := pl.runner.submit(func() { pl.drive(0, nil) }); err != nil {
		pl.fail(0, err)
	}
}

// drive interprets stages from i onward until the chain suspends, fails
// or reaches the terminal stage.
func (pl *pipeline) drive(i int, in any) {
	for ; i < len(pl.stages); i++ {
		if pl.aborted(i) {
			return
		}
		st := pl.stages[i]
		switch st.kind {
		case stageSupply, stageMap, stageTap:
			out, err := call(st.fn, in)
			if err != nil {
				pl.fail(i, err)
				return
			}
			if !pl.settle(i, out) {
				return
			}
			in = out
		case stageDelay:
			next, v := i, in
			if err := pl.runner.after(st.delay, func() { pl.resume(next, v) }); err != nil {
				pl.fail(i, err)
			}
			return
		case stageAwait:
			next := i
			var once sync.Once
			st.await(in, func(v any, err error) {
				once.Do(func() {
					if err != nil {
						pl.fail(next, err)
						return
					}
					pl.resume(next, v)
				})
			})
			return
		case stageTerminal:
			st.out.complete(in, nil)
			return
		}
	}
}

// resume completes suspended stage i with v and continues on a worker.
func (pl *pipeline) resume(i int, v any) {
	if !pl.settle(i, v) {
		return
	}
	if err := pl.runner.submit(func() { pl.drive(i+1, v) }); err != nil {
		pl.fail(i+1, err)
	}
}

// settle completes stage i with v. When the stage was already failed
// through its handle the failure is carried to every later stage and
// settle reports false.
func (pl *pipeline) settle(i int, v any) bool {
	out := pl.stages[i].out
	if out.complete(v, nil) {
		return true
	}
	if err := out.failure(); err != nil {
		pl.fail(i+1, err)
		return false
	}
	return true
}

// aborted reports whether any position from i up to the tail was resolved
// externally with an error; if so every pending position from i is failed
// with that cause.
func (pl *pipeline) aborted(i int) bool {
	last := len(pl.stages) - 2 // stage before the terminal
	for j := i; j <= last; j++ {
		if err := pl.stages[j].out.failure(); err != nil {
			pl.fail(i, err)
			return true
		}
	}
	return false
}

// fail resolves every stage from i onward with err.
func (pl *pipeline) fail(i int, err error) {
	for ; i < len(pl.stages); i++ {
		pl.stages[i].out.complete(nil, err)
	}
}

func call(fn func(any) (any, error), in any) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrStagePanic, r)
		}
	}()
	return fn(in)
}
