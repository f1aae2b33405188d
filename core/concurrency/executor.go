// File: core/concurrency/executor.go
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Executor dispatches tasks across worker goroutines from one unbounded
// FIFO. Tasks accepted before Close always run; Close drains the queue and
// waits for every worker to exit. A panicking task is logged and never
// takes its worker down.
//

package concurrency

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
	"go.uber.org/zap"
)

// Executor manages a pool of worker goroutines.
type Executor struct {
	mu      sync.Mutex
	cond    *sync.Cond
	tasks   *queue.Queue
	workers []*worker
	closed  bool
	wg      sync.WaitGroup

	resizeMu sync.Mutex
	log      *zap.Logger
	onPanic  func(any)

	executed atomic.Uint64
	panics   atomic.Uint64
}

// ExecutorOption customizes an Executor.
type ExecutorOption func(*Executor)

// WithLogger sets the logger used to report recovered panics.
func WithLogger(l *zap.Logger) ExecutorOption {
	return func(e *Executor) {
		if l != nil {
			e.log = l
		}
	}
}

// WithPanicHandler installs a hook invoked with every recovered panic value.
func WithPanicHandler(fn func(any)) ExecutorOption {
	return func(e *Executor) { e.onPanic = fn }
}

// NewExecutor creates a new Executor with the given number of workers.
// A non-positive count selects runtime.NumCPU().
func NewExecutor(numWorkers int, opts ...ExecutorOption) *Executor {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	e := &Executor{
		tasks: queue.New(),
		log:   zap.NewNop(),
	}
	e.cond = sync.NewCond(&e.mu)
	for _, o := range opts {
		o(e)
	}
	e.mu.Lock()
	e.spawnLocked(numWorkers)
	e.mu.Unlock()
	return e
}

func (e *Executor) spawnLocked(n int) {
	for i := 0; i < n; i++ {
		w := &worker{id: len(e.workers), stoppedCh: make(chan struct{})}
		e.workers = append(e.workers, w)
		e.wg.Add(1)
		go w.run(e)
	}
}

// Submit enqueues a task. Returns ErrExecutorClosed after Close.
func (e *Executor) Submit(task func()) error {
	if task == nil {
		return nil
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrExecutorClosed
	}
	e.tasks.Add(task)
	e.mu.Unlock()
	e.cond.Signal()
	return nil
}

// Resize dynamically scales the worker pool. Removed workers finish their
// current task first; queued tasks stay for the survivors.
func (e *Executor) Resize(newCount int) {
	if newCount <= 0 {
		newCount = 1
	}
	e.resizeMu.Lock()
	defer e.resizeMu.Unlock()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	current := len(e.workers)
	if newCount >= current {
		e.spawnLocked(newCount - current)
		e.mu.Unlock()
		return
	}
	removed := append([]*worker(nil), e.workers[newCount:]...)
	e.workers = e.workers[:newCount]
	for _, w := range removed {
		w.stop = true
	}
	e.mu.Unlock()
	e.cond.Broadcast()
	for _, w := range removed {
		<-w.stoppedCh
	}
}

// Close stops accepting tasks, runs everything already queued and waits
// for the workers to exit. It is safe to call more than once.
func (e *Executor) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		e.wg.Wait()
		return
	}
	e.closed = true
	e.mu.Unlock()
	e.cond.Broadcast()
	e.wg.Wait()
}

// NumWorkers returns active worker count.
func (e *Executor) NumWorkers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.workers)
}

// Pending returns the number of queued tasks not yet picked up.
func (e *Executor) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tasks.Length()
}

// Executed returns the number of tasks run, panicked ones included.
func (e *Executor) Executed() uint64 { return e.executed.Load() }

// Panics returns the number of recovered task panics.
func (e *Executor) Panics() uint64 { return e.panics.Load() }

// worker runs tasks until it is stopped or the executor drains.
type worker struct {
	id        int
	stop      bool // guarded by Executor.mu
	stoppedCh chan struct{}
}

func (w *worker) run(e *Executor) {
	defer func() {
		e.wg.Done()
		close(w.stoppedCh)
	}()
	for {
		e.mu.Lock()
		for e.tasks.Length() == 0 && !w.stop && !e.closed {
			e.cond.Wait()
		}
		if w.stop || e.tasks.Length() == 0 {
			e.mu.Unlock()
			return
		}
		task := e.tasks.Remove().(func())
		e.mu.Unlock()
		e.safeExecute(w, task)
	}
}

func (e *Executor) safeExecute(w *worker, task func()) {
	defer func() {
		e.executed.Add(1)
		if r := recover(); r != nil {
			e.panics.Add(1)
			e.log.Error("task panicked", zap.Int("worker", w.id), zap.Any("panic", r))
			if e.onPanic != nil {
				e.onPanic(r)
			}
		}
	}()
	task()
}
