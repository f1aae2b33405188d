// File: fake/pool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package fake

import (
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-pkt/api"
)

var _ api.ObjectPool[*[]byte] = (*BytePool)(nil)

// BytePool is an instrumented scratch-slice pool for tests. It never
// recycles, so every Get is a fresh slice, and it tracks which handed-out
// slices came back.
type BytePool struct {
	size int
	gets atomic.Int64
	puts atomic.Int64

	mu      sync.Mutex
	out     map[*[]byte]struct{}
	foreign int
}

// NewBytePool returns a pool handing out slices of size bytes.
func NewBytePool(size int) *BytePool {
	return &BytePool{size: size, out: make(map[*[]byte]struct{})}
}

func (p *BytePool) Get() *[]byte {
	b := make([]byte, p.size)
	p.gets.Add(1)
	p.mu.Lock()
	p.out[&b] = struct{}{}
	p.mu.Unlock()
	return &b
}

func (p *BytePool) Put(b *[]byte) {
	p.puts.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.out[b]; !ok {
		p.foreign++
		return
	}
	delete(p.out, b)
}

// Gets counts slices handed out.
func (p *BytePool) Gets() int64 { return p.gets.Load() }

// Puts counts slices returned, including foreign ones.
func (p *BytePool) Puts() int64 { return p.puts.Load() }

// Outstanding counts slices handed out and not yet returned.
func (p *BytePool) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.out)
}

// Foreign counts returned slices this pool never issued, including
// double returns.
func (p *BytePool) Foreign() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.foreign
}
