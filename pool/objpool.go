// File: pool/objpool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

import (
	"sync"

	"github.com/momentics/hioload-pkt/api"
)

var _ api.ObjectPool[*[]byte] = (*SyncPool[*[]byte])(nil)

// SyncPool wraps sync.Pool for typed usage. The optional reset hook runs on
// Put so recycled objects never carry state between owners.
type SyncPool[T any] struct {
	pool  *sync.Pool
	reset func(T)
}

// NewSyncPool creates a new SyncPool with a creator function.
func NewSyncPool[T any](creator func() T, reset func(T)) *SyncPool[T] {
	return &SyncPool[T]{
		pool:  &sync.Pool{New: func() any { return creator() }},
		reset: reset,
	}
}

func (sp *SyncPool[T]) Get() T {
	return sp.pool.Get().(T)
}

func (sp *SyncPool[T]) Put(obj T) {
	if sp.reset != nil {
		sp.reset(obj)
	}
	sp.pool.Put(obj)
}

// NewByteSlicePool pools fixed-size scratch slices, e.g. datagram read
// buffers. Slices are stored by pointer to avoid an allocation per Put.
func NewByteSlicePool(size int) *SyncPool[*[]byte] {
	return NewSyncPool(func() *[]byte {
		b := make([]byte, size)
		return &b
	}, func(b *[]byte) {
		*b = (*b)[:cap(*b)]
	})
}
