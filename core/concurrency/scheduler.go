// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Timer scheduler: one goroutine sleeps until the earliest deadline in a
// min-heap and hands expired callbacks to an executor.

package concurrency

import (
	"container/heap"
	"sync"
	"time"

	"github.com/momentics/hioload-pkt/api"
)

// Scheduler runs delayed callbacks. Callbacks are dispatched through the
// configured executor, or on the scheduler goroutine when none is set, so
// they must not block in that case.
type Scheduler struct {
	mu     sync.Mutex
	timerQ taskHeap
	seq    uint64
	exec   api.Executor
	notify chan struct{}
	stop   chan struct{}
	done   chan struct{}
	closed bool
}

// NewScheduler starts a scheduler. exec may be nil.
func NewScheduler(exec api.Executor) *Scheduler {
	s := &Scheduler{
		exec:   exec,
		notify: make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

// Schedule arranges for fn to run once after delay.
func (s *Scheduler) Schedule(delay time.Duration, fn func()) (api.Cancelable, error) {
	if delay < 0 {
		return nil, ErrInvalidDelay
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSchedulerClosed
	}
	s.seq++
	t := &timerTask{at: time.Now().Add(delay), seq: s.seq, fn: fn, sched: s}
	heap.Push(&s.timerQ, t)
	first := t.index == 0
	s.mu.Unlock()
	if first {
		s.wake()
	}
	return t, nil
}

// Now reports the scheduler clock in nanoseconds.
func (s *Scheduler) Now() int64 { return time.Now().UnixNano() }

// Pending returns the number of armed timers.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timerQ.Len()
}

// Close stops the scheduler. Armed timers are discarded.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return
	}
	s.closed = true
	for _, t := range s.timerQ {
		t.index = -1
	}
	s.timerQ = nil
	s.mu.Unlock()
	close(s.stop)
	<-s.done
}

func (s *Scheduler) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run() {
	defer close(s.done)
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	for {
		s.mu.Lock()
		if s.timerQ.Len() == 0 {
			s.mu.Unlock()
			select {
			case <-s.notify:
			case <-s.stop:
				return
			}
			continue
		}
		next := s.timerQ[0]
		wait := time.Until(next.at)
		if wait <= 0 {
			heap.Pop(&s.timerQ)
			s.mu.Unlock()
			s.dispatch(next.fn)
			continue
		}
		s.mu.Unlock()

		timer.Reset(wait)
		select {
		case <-timer.C:
		case <-s.notify:
			timer.Stop()
		case <-s.stop:
			timer.Stop()
			return
		}
	}
}

func (s *Scheduler) dispatch(fn func()) {
	if s.exec != nil {
		if err := s.exec.Submit(fn); err == nil {
			return
		}
	}
	defer func() { recover() }()
	fn()
}

// timerTask is a heap entry and the Cancelable handed back to callers.
type timerTask struct {
	at    time.Time
	seq   uint64
	fn    func()
	index int
	sched *Scheduler
}

// Cancel removes the timer. It reports false if the callback already fired
// or the timer was cancelled before.
func (t *timerTask) Cancel() bool {
	s := t.sched
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.index < 0 {
		return false
	}
	heap.Remove(&s.timerQ, t.index)
	return true
}

type taskHeap []*timerTask

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].seq < h[j].seq
	}
	return h[i].at.Before(h[j].at)
}
func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *taskHeap) Push(x any) {
	t := x.(*timerTask)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}
