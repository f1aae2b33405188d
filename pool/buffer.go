// File: pool/buffer.go
// Package pool implements growable cursor buffers and their size-classed pool.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrBufferReleased is the panic value raised when a handle is used
	// after Release or Move.
	ErrBufferReleased = errors.New("pool: buffer used after release")
	// ErrIndexOutOfRange reports an absolute access outside [0, capacity).
	ErrIndexOutOfRange = errors.New("pool: index out of range")
	// ErrInsufficientData reports a relative read past the writer index.
	ErrInsufficientData = errors.New("pool: not enough readable bytes")
)

// storage is the recyclable backing array. Handles come and go; storage
// is what the pool keeps.
type storage struct {
	data  []byte
	class int // index into the owning pool's size classes, -1 if unpooled
}

// Buffer is a growable byte store with independent reader and writer
// cursors. 0 <= ReaderIndex <= WriterIndex <= Cap holds at all times.
//
// A Buffer has exactly one logical owner. Release hands the storage back
// to the pool and poisons the handle: any later use panics with
// ErrBufferReleased instead of touching memory another owner now holds.
//
// Buffers are handled by pointer only. A by-value copy would be a second
// live handle that Release cannot poison; go vet reports such copies.
type Buffer struct {
	_    noCopy
	s    *storage
	pool *BufferPool

	r, w   int
	rm, wm int
}

// noCopy trips go vet's copylocks check on by-value copies of a Buffer.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Wrap adopts externally owned bytes as a readable buffer. The returned
// buffer is not pooled; growing it reallocates.
func Wrap(data []byte) *Buffer {
	return &Buffer{s: &storage{data: data, class: -1}, w: len(data)}
}

func (b *Buffer) live() *storage {
	if b.s == nil {
		panic(ErrBufferReleased)
	}
	return b.s
}

// Released reports whether the handle has been released or moved.
func (b *Buffer) Released() bool { return b.s == nil }

// Release returns the storage to its pool. Releasing twice is a no-op.
func (b *Buffer) Release() {
	s := b.s
	if s == nil {
		return
	}
	b.s = nil
	b.r, b.w, b.rm, b.wm = 0, 0, 0, 0
	if b.pool != nil {
		b.pool.put(s)
	}
}

// Move transfers ownership to a fresh handle and poisons b.
func (b *Buffer) Move() *Buffer {
	s := b.live()
	nb := &Buffer{s: s, pool: b.pool, r: b.r, w: b.w, rm: b.rm, wm: b.wm}
	b.s = nil
	return nb
}

func (b *Buffer) Cap() int         { return len(b.live().data) }
func (b *Buffer) ReaderIndex() int { b.live(); return b.r }
func (b *Buffer) WriterIndex() int { b.live(); return b.w }
func (b *Buffer) Readable() int    { b.live(); return b.w - b.r }
func (b *Buffer) Writable() int    { return len(b.live().data) - b.w }

// SetReaderIndex moves the reader cursor within [0, WriterIndex].
func (b *Buffer) SetReaderIndex(i int) error {
	b.live()
	if i < 0 || i > b.w {
		return fmt.Errorf("%w: reader index %d, writer index %d", ErrIndexOutOfRange, i, b.w)
	}
	b.r = i
	return nil
}

// SetWriterIndex moves the writer cursor within [ReaderIndex, Cap].
func (b *Buffer) SetWriterIndex(i int) error {
	s := b.live()
	if i < b.r || i > len(s.data) {
		return fmt.Errorf("%w: writer index %d, reader index %d, capacity %d", ErrIndexOutOfRange, i, b.r, len(s.data))
	}
	b.w = i
	return nil
}

func (b *Buffer) MarkReader()  { b.live(); b.rm = b.r }
func (b *Buffer) ResetReader() { b.live(); b.r = min(b.rm, b.w) }
func (b *Buffer) MarkWriter()  { b.live(); b.wm = b.w }

// ResetWriter restores the writer mark, clamped so the reader cursor is
// never left beyond the writer.
func (b *Buffer) ResetWriter() {
	b.live()
	b.w = max(b.wm, b.r)
}

// Clear resets both cursors and marks; contents are left in place.
func (b *Buffer) Clear() {
	b.live()
	b.r, b.w, b.rm, b.wm = 0, 0, 0, 0
}

// Skip advances the reader cursor by n readable bytes.
func (b *Buffer) Skip(n int) error {
	if err := b.checkReadable(n); err != nil {
		return err
	}
	b.r += n
	return nil
}

// EnsureWritable grows the buffer so that at least n bytes can be written.
// Capacity doubles, or jumps straight to the required size when that is
// larger. Readable bytes and cursors are preserved.
func (b *Buffer) EnsureWritable(n int) {
	s := b.live()
	if n < 0 {
		panic(fmt.Errorf("%w: negative size %d", ErrIndexOutOfRange, n))
	}
	if len(s.data)-b.w >= n {
		return
	}
	want := max(2*len(s.data), b.w+n)
	var ns *storage
	if b.pool != nil {
		ns = b.pool.take(want)
	} else {
		ns = &storage{data: make([]byte, want), class: -1}
	}
	copy(ns.data, s.data[:b.w])
	b.s = ns
	if b.pool != nil {
		b.pool.recycle(s)
	}
}

// DiscardReadBytes drops the already-read prefix and shifts the readable
// region to offset zero.
func (b *Buffer) DiscardReadBytes() {
	s := b.live()
	if b.r == 0 {
		return
	}
	n := copy(s.data, s.data[b.r:b.w])
	b.rm = max(b.rm-b.r, 0)
	b.wm = max(b.wm-b.r, 0)
	b.r, b.w = 0, n
}

// Bytes returns the readable region. The slice aliases the buffer and is
// only valid until the next mutation or Release.
func (b *Buffer) Bytes() []byte {
	s := b.live()
	return s.data[b.r:b.w]
}

// Equal compares readable contents, independent of absolute cursor values.
func (b *Buffer) Equal(o *Buffer) bool {
	return bytes.Equal(b.Bytes(), o.Bytes())
}

func (b *Buffer) String() string {
	if b.s == nil {
		return "Buffer(released)"
	}
	return fmt.Sprintf("Buffer(ridx: %d, widx: %d, cap: %d)", b.r, b.w, len(b.s.data))
}

func (b *Buffer) checkReadable(n int) error {
	b.live()
	if n < 0 || b.w-b.r < n {
		return fmt.Errorf("%w: need %d, have %d", ErrInsufficientData, n, b.w-b.r)
	}
	return nil
}

func (b *Buffer) checkIndex(i, n int) error {
	s := b.live()
	if i < 0 || n < 0 || i+n > len(s.data) {
		return fmt.Errorf("%w: index %d, length %d, capacity %d", ErrIndexOutOfRange, i, n, len(s.data))
	}
	return nil
}

// Write implements io.Writer; it always consumes all of p.
func (b *Buffer) Write(p []byte) (int, error) {
	b.WriteBytes(p)
	return len(p), nil
}

// Read implements io.Reader over the readable region.
func (b *Buffer) Read(p []byte) (int, error) {
	s := b.live()
	if b.r == b.w {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}
	n := copy(p, s.data[b.r:b.w])
	b.r += n
	return n, nil
}

// WriteBytes appends p at the writer cursor.
func (b *Buffer) WriteBytes(p []byte) {
	b.EnsureWritable(len(p))
	b.w += copy(b.s.data[b.w:], p)
}

// WriteFrom moves n readable bytes from src into b, advancing both cursors.
func (b *Buffer) WriteFrom(src *Buffer, n int) error {
	if err := src.checkReadable(n); err != nil {
		return err
	}
	b.EnsureWritable(n)
	copy(b.s.data[b.w:], src.s.data[src.r:src.r+n])
	b.w += n
	src.r += n
	return nil
}

// ReadBytes fills p completely from the readable region.
func (b *Buffer) ReadBytes(p []byte) error {
	if err := b.checkReadable(len(p)); err != nil {
		return err
	}
	b.r += copy(p, b.s.data[b.r:])
	return nil
}

// ReadInto moves n readable bytes into dst.
func (b *Buffer) ReadInto(dst *Buffer, n int) error {
	return dst.WriteFrom(b, n)
}

// PutBytes writes p at an absolute index without moving cursors.
func (b *Buffer) PutBytes(index int, p []byte) error {
	if err := b.checkIndex(index, len(p)); err != nil {
		return err
	}
	copy(b.s.data[index:], p)
	return nil
}

// GetBytes copies len(p) bytes from an absolute index without moving cursors.
func (b *Buffer) GetBytes(index int, p []byte) error {
	if err := b.checkIndex(index, len(p)); err != nil {
		return err
	}
	copy(p, b.s.data[index:])
	return nil
}

// PutBuffer copies the readable region of src to an absolute index of b.
// Neither buffer's cursors move.
func (b *Buffer) PutBuffer(index int, src *Buffer) error {
	return b.PutBytes(index, src.Bytes())
}

// GetBuffer copies n bytes starting at an absolute index of b onto the end
// of dst. Only dst's writer cursor moves.
func (b *Buffer) GetBuffer(index int, dst *Buffer, n int) error {
	if err := b.checkIndex(index, n); err != nil {
		return err
	}
	dst.WriteBytes(b.s.data[index : index+n])
	return nil
}
