// File: core/concurrency/serial.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Serial runs submitted functions one at a time, in submission order, on
// top of a shared Executor. It holds no worker while its queue is empty.

package concurrency

import (
	"sync"

	"github.com/eapache/queue"

	"github.com/momentics/hioload-pkt/api"
)

// Serial is an ordered lane over an Executor.
type Serial struct {
	exec    api.Executor
	onPanic func(any)

	mu      sync.Mutex
	q       *queue.Queue
	running bool
}

// NewSerial creates a lane over exec. A nil exec drains on the submitting
// goroutine. onPanic, if set, receives values recovered from tasks.
func NewSerial(exec api.Executor, onPanic func(any)) *Serial {
	return &Serial{exec: exec, onPanic: onPanic, q: queue.New()}
}

// Submit appends fn to the lane.
func (s *Serial) Submit(fn func()) error {
	s.mu.Lock()
	s.q.Add(fn)
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	if s.exec == nil {
		s.drain()
		return nil
	}
	if err := s.exec.Submit(s.drain); err != nil {
		s.mu.Lock()
		s.q = queue.New()
		s.running = false
		s.mu.Unlock()
		return err
	}
	return nil
}

// Pending returns the number of queued functions.
func (s *Serial) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.Length()
}

func (s *Serial) drain() {
	for {
		s.mu.Lock()
		if s.q.Length() == 0 {
			s.running = false
			s.mu.Unlock()
			return
		}
		fn := s.q.Remove().(func())
		s.mu.Unlock()
		s.run(fn)
	}
}

func (s *Serial) run(fn func()) {
	defer func() {
		if r := recover(); r != nil && s.onPanic != nil {
			s.onPanic(r)
		}
	}()
	fn()
}
