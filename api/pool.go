// File: api/pool.go
// Author: momentics <momentics@gmail.com>
//
// Pooling contracts shared by the buffer pool and the transports.

package api

// ObjectPool provides generic pooling of transiently allocated objects,
// such as transport read buffers.
type ObjectPool[T any] interface {
	// Get returns an available instance, allocating one if none is idle.
	Get() T

	// Put returns an instance for reuse; the caller must not touch it again.
	Put(obj T)
}
