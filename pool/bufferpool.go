// File: pool/bufferpool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Size-classed buffer pool. Idle storage for every class sits in a bounded
// lock-free MPMC queue, so Acquire and Release are safe for concurrent
// callers without a pool-wide lock.

package pool

import (
	"sort"
	"sync/atomic"

	"github.com/momentics/hioload-pkt/core/concurrency"
)

// DefaultSizeClasses are the power-of-two classes used when none are given.
var DefaultSizeClasses = []int{
	256,
	1 * 1024,
	4 * 1024,
	16 * 1024,
	64 * 1024,
	256 * 1024,
	1 * 1024 * 1024,
}

// DefaultIdlePerClass bounds how many idle buffers each class retains.
const DefaultIdlePerClass = 1024

// Observer receives allocation events; control.Metrics implements it.
type Observer interface {
	BufferAllocated(size int)
	BufferReused(size int)
}

// Stats aggregates allocation/reuse counters.
type Stats struct {
	Allocations uint64
	Reuses      uint64
	Releases    uint64
	Dropped     uint64
	InUse       int64
	Idle        map[int]int // class size -> idle buffers
}

// BufferPool hands out Buffers by requested capacity.
type BufferPool struct {
	classes  []int
	idle     []*concurrency.LockFreeQueue[*storage]
	observer Observer

	allocs   atomic.Uint64
	reuses   atomic.Uint64
	releases atomic.Uint64
	dropped  atomic.Uint64
	inUse    atomic.Int64
	idleLen  []atomic.Int64
}

// Option customizes pool construction.
type Option func(*poolConfig)

type poolConfig struct {
	classes      []int
	idlePerClass int
	observer     Observer
}

// WithSizeClasses overrides the capacity classes. Non-positive sizes are ignored.
func WithSizeClasses(classes ...int) Option {
	return func(c *poolConfig) {
		c.classes = append([]int(nil), classes...)
	}
}

// WithIdlePerClass bounds retained idle buffers per class.
func WithIdlePerClass(n int) Option {
	return func(c *poolConfig) {
		c.idlePerClass = n
	}
}

// WithObserver attaches an allocation observer.
func WithObserver(o Observer) Option {
	return func(c *poolConfig) {
		c.observer = o
	}
}

// NewBufferPool builds a pool. Each caller (session, runtime) owns its own
// pool; there is no process-wide default.
func NewBufferPool(opts ...Option) *BufferPool {
	cfg := poolConfig{classes: DefaultSizeClasses, idlePerClass: DefaultIdlePerClass}
	for _, o := range opts {
		o(&cfg)
	}
	classes := make([]int, 0, len(cfg.classes))
	for _, c := range cfg.classes {
		if c > 0 {
			classes = append(classes, c)
		}
	}
	sort.Ints(classes)
	classes = compactInts(classes)
	if len(classes) == 0 {
		classes = append(classes, DefaultSizeClasses...)
	}
	if cfg.idlePerClass <= 0 {
		cfg.idlePerClass = DefaultIdlePerClass
	}

	p := &BufferPool{
		classes:  classes,
		idle:     make([]*concurrency.LockFreeQueue[*storage], len(classes)),
		idleLen:  make([]atomic.Int64, len(classes)),
		observer: cfg.observer,
	}
	for i := range classes {
		p.idle[i] = concurrency.NewLockFreeQueue[*storage](cfg.idlePerClass)
	}
	return p
}

func compactInts(s []int) []int {
	out := s[:0]
	for i, v := range s {
		if i == 0 || v != s[i-1] {
			out = append(out, v)
		}
	}
	return out
}

// classFor returns the smallest class >= size, or -1 if size exceeds all.
func (p *BufferPool) classFor(size int) int {
	i := sort.SearchInts(p.classes, size)
	if i == len(p.classes) {
		return -1
	}
	return i
}

// take returns storage with len(data) >= size.
func (p *BufferPool) take(size int) *storage {
	if size < 0 {
		size = 0
	}
	idx := p.classFor(size)
	if idx < 0 {
		p.allocs.Add(1)
		if p.observer != nil {
			p.observer.BufferAllocated(size)
		}
		return &storage{data: make([]byte, size), class: -1}
	}
	if s, ok := p.idle[idx].Dequeue(); ok {
		p.idleLen[idx].Add(-1)
		p.reuses.Add(1)
		if p.observer != nil {
			p.observer.BufferReused(p.classes[idx])
		}
		return s
	}
	p.allocs.Add(1)
	if p.observer != nil {
		p.observer.BufferAllocated(p.classes[idx])
	}
	return &storage{data: make([]byte, p.classes[idx]), class: idx}
}

// recycle puts storage back into its class queue or drops it.
func (p *BufferPool) recycle(s *storage) {
	p.releases.Add(1)
	if s.class < 0 || s.class >= len(p.idle) || len(s.data) != p.classes[s.class] {
		p.dropped.Add(1)
		return
	}
	if p.idle[s.class].Enqueue(s) {
		p.idleLen[s.class].Add(1)
		return
	}
	p.dropped.Add(1)
}

// Acquire returns an empty buffer whose capacity is at least size.
func (p *BufferPool) Acquire(size int) *Buffer {
	p.inUse.Add(1)
	return &Buffer{s: p.take(size), pool: p}
}

// put ends one handle's ownership of s.
func (p *BufferPool) put(s *storage) {
	p.inUse.Add(-1)
	p.recycle(s)
}

// Release releases b if it is non-nil.
func (p *BufferPool) Release(b *Buffer) {
	if b != nil {
		b.Release()
	}
}

// Duplicate copies the readable region of src into a fresh pooled buffer.
// The source reader position is left untouched.
func (p *BufferPool) Duplicate(src *Buffer) *Buffer {
	data := src.Bytes()
	b := p.Acquire(len(data))
	b.WriteBytes(data)
	return b
}

// Stats returns a point-in-time snapshot of pool counters.
func (p *BufferPool) Stats() Stats {
	idle := make(map[int]int, len(p.classes))
	for i, c := range p.classes {
		idle[c] = int(p.idleLen[i].Load())
	}
	return Stats{
		Allocations: p.allocs.Load(),
		Reuses:      p.reuses.Load(),
		Releases:    p.releases.Load(),
		Dropped:     p.dropped.Load(),
		InUse:       p.inUse.Load(),
		Idle:        idle,
	}
}

// SizeClasses returns a copy of the configured classes.
func (p *BufferPool) SizeClasses() []int {
	return append([]int(nil), p.classes...)
}
