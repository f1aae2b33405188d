// File: task/future.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrStagePanic wraps a panic recovered from a pipeline stage.
	ErrStagePanic = errors.New("task: stage panicked")
	// ErrRejected reports that the executor refused to run a stage.
	ErrRejected = errors.New("task: executor rejected stage")
	// ErrTypeMismatch reports a completion value of the wrong type.
	ErrTypeMismatch = errors.New("task: completion value has unexpected type")
	// errNilFailure replaces a nil error passed to Fail.
	errNilFailure = errors.New("task: failed without cause")
)

// promise is the untyped, complete-once cell shared by Futures and stages.
type promise struct {
	mu        sync.Mutex
	done      chan struct{}
	completed bool
	value     any
	err       error
	callbacks []func(any, error)
}

func newPromise() *promise {
	return &promise{done: make(chan struct{})}
}

// complete resolves the promise. Only the first call wins.
func (p *promise) complete(v any, err error) bool {
	p.mu.Lock()
	if p.completed {
		p.mu.Unlock()
		return false
	}
	p.completed = true
	p.value, p.err = v, err
	cbs := p.callbacks
	p.callbacks = nil
	close(p.done)
	p.mu.Unlock()
	for _, cb := range cbs {
		cb(v, err)
	}
	return true
}

func (p *promise) isDone() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// failure returns the error the promise was resolved with, nil while it is
// pending or when it succeeded.
func (p *promise) failure() error {
	if !p.isDone() {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// onComplete runs cb once the promise resolves, immediately if it already has.
func (p *promise) onComplete(cb func(any, error)) {
	p.mu.Lock()
	if !p.completed {
		p.callbacks = append(p.callbacks, cb)
		p.mu.Unlock()
		return
	}
	v, err := p.value, p.err
	p.mu.Unlock()
	cb(v, err)
}

func cast[T any](v any) (T, error) {
	var zero T
	if v == nil {
		return zero, nil
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %T", ErrTypeMismatch, v)
	}
	return t, nil
}

// Future is a typed, complete-once result. Exactly one of Complete or Fail
// takes effect; later calls report false.
type Future[T any] struct {
	p *promise
}

// NewFuture returns an unresolved future.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{p: newPromise()}
}

// Complete resolves the future with v.
func (f *Future[T]) Complete(v T) bool { return f.p.complete(v, nil) }

// Fail resolves the future with err.
func (f *Future[T]) Fail(err error) bool {
	if err == nil {
		err = errNilFailure
	}
	return f.p.complete(nil, err)
}

// Done is closed once the future is resolved.
func (f *Future[T]) Done() <-chan struct{} { return f.p.done }

// IsDone reports whether the future is resolved.
func (f *Future[T]) IsDone() bool { return f.p.isDone() }

// Result returns the outcome without blocking; ok is false while pending.
func (f *Future[T]) Result() (v T, err error, ok bool) {
	if !f.p.isDone() {
		return v, nil, false
	}
	if f.p.err != nil {
		return v, f.p.err, true
	}
	v, err = cast[T](f.p.value)
	return v, err, true
}

// Get blocks until the future resolves or ctx ends.
func (f *Future[T]) Get(ctx context.Context) (T, error) {
	select {
	case <-f.p.done:
		v, err, _ := f.Result()
		return v, err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// OnComplete registers fn to run with the outcome. fn runs on the goroutine
// that resolves the future, or immediately if it is already resolved.
func (f *Future[T]) OnComplete(fn func(T, error)) {
	f.p.onComplete(func(v any, err error) {
		if err != nil {
			var zero T
			fn(zero, err)
			return
		}
		t, cerr := cast[T](v)
		fn(t, cerr)
	})
}
