// File: core/concurrency/lock_free_queue.go
// Package concurrency provides the executor, timer scheduler and the
// bounded lock-free queue behind the buffer pool's idle lists.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import (
	"math/bits"
	"sync/atomic"
)

// LockFreeQueue is a bounded MPMC queue using per-cell sequence numbers
// (Vyukov). Enqueue fails rather than blocks when full.
type LockFreeQueue[T any] struct {
	head  uint64
	_     [cacheLinePad]byte
	tail  uint64
	_     [cacheLinePad]byte
	mask  uint64
	cells []cell[T]
}

const cacheLinePad = 64

type cell[T any] struct {
	sequence atomic.Uint64
	data     T
}

// NewLockFreeQueue sizes the queue to the next power of two >= capacity.
func NewLockFreeQueue[T any](capacity int) *LockFreeQueue[T] {
	size := 2
	if capacity > 2 {
		size = 1 << bits.Len(uint(capacity-1))
	}
	q := &LockFreeQueue[T]{mask: uint64(size - 1), cells: make([]cell[T], size)}
	for i := range q.cells {
		q.cells[i].sequence.Store(uint64(i))
	}
	return q
}

// Enqueue publishes val, or reports false when every slot is taken.
func (q *LockFreeQueue[T]) Enqueue(val T) bool {
	for {
		tail := atomic.LoadUint64(&q.tail)
		c := &q.cells[tail&q.mask]
		switch dif := int64(c.sequence.Load()) - int64(tail); {
		case dif == 0:
			if atomic.CompareAndSwapUint64(&q.tail, tail, tail+1) {
				c.data = val
				c.sequence.Store(tail + 1)
				return true
			}
		case dif < 0:
			return false
		}
	}
}

// Dequeue removes and returns an item; ok false if empty. The slot is
// zeroed so the queue never pins a dequeued value.
func (q *LockFreeQueue[T]) Dequeue() (item T, ok bool) {
	var zero T
	for {
		head := atomic.LoadUint64(&q.head)
		c := &q.cells[head&q.mask]
		switch dif := int64(c.sequence.Load()) - int64(head+1); {
		case dif == 0:
			if atomic.CompareAndSwapUint64(&q.head, head, head+1) {
				item = c.data
				c.data = zero
				c.sequence.Store(head + q.mask + 1)
				return item, true
			}
		case dif < 0:
			return zero, false
		}
	}
}

// Cap returns the rounded capacity.
func (q *LockFreeQueue[T]) Cap() int { return len(q.cells) }
