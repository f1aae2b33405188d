// Package pool
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Cursor buffers and their size-classed pool.
//
// A Buffer carries independent reader and writer cursors over growable
// storage and encodes primitives in network byte order. BufferPool recycles
// storage through per-class lock-free queues. Handles are single-owner:
// Release or Move poisons the handle, and any further use panics with
// ErrBufferReleased. See buffer.go, buffer_codec.go, bufferpool.go.
package pool
