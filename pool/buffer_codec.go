// File: pool/buffer_codec.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Big-endian primitive codecs over Buffer. Relative variants move the
// cursors; Put/Get variants address absolute indices and leave them alone.

package pool

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"
)

// MaxStringLen bounds length-prefixed strings read from the wire.
const MaxStringLen = 1 << 24

func (b *Buffer) grab(n int) []byte {
	b.EnsureWritable(n)
	p := b.s.data[b.w : b.w+n]
	b.w += n
	return p
}

func (b *Buffer) next(n int) ([]byte, error) {
	if err := b.checkReadable(n); err != nil {
		return nil, err
	}
	p := b.s.data[b.r : b.r+n]
	b.r += n
	return p, nil
}

func (b *Buffer) at(index, n int) ([]byte, error) {
	if err := b.checkIndex(index, n); err != nil {
		return nil, err
	}
	return b.s.data[index : index+n], nil
}

// WriteByte implements io.ByteWriter; it never fails.
func (b *Buffer) WriteByte(c byte) error {
	b.grab(1)[0] = c
	return nil
}

func (b *Buffer) WriteBool(v bool) {
	var c byte
	if v {
		c = 1
	}
	b.grab(1)[0] = c
}

func (b *Buffer) WriteInt16(v int16)     { binary.BigEndian.PutUint16(b.grab(2), uint16(v)) }
func (b *Buffer) WriteChar(v uint16)     { binary.BigEndian.PutUint16(b.grab(2), v) }
func (b *Buffer) WriteInt32(v int32)     { binary.BigEndian.PutUint32(b.grab(4), uint32(v)) }
func (b *Buffer) WriteInt64(v int64)     { binary.BigEndian.PutUint64(b.grab(8), uint64(v)) }
func (b *Buffer) WriteFloat32(v float32) { binary.BigEndian.PutUint32(b.grab(4), math.Float32bits(v)) }
func (b *Buffer) WriteFloat64(v float64) { binary.BigEndian.PutUint64(b.grab(8), math.Float64bits(v)) }

// WriteUTF8 writes an int32 byte length followed by the string bytes.
func (b *Buffer) WriteUTF8(s string) {
	b.WriteInt32(int32(len(s)))
	b.WriteBytes([]byte(s))
}

// ReadByte implements io.ByteReader.
func (b *Buffer) ReadByte() (byte, error) {
	p, err := b.next(1)
	if err != nil {
		return 0, err
	}
	return p[0], nil
}

func (b *Buffer) ReadBool() (bool, error) {
	c, err := b.ReadByte()
	return c != 0, err
}

func (b *Buffer) ReadInt16() (int16, error) {
	p, err := b.next(2)
	if err != nil {
		return 0, err
	}
	return int16(binary.BigEndian.Uint16(p)), nil
}

func (b *Buffer) ReadChar() (uint16, error) {
	p, err := b.next(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(p), nil
}

func (b *Buffer) ReadInt32() (int32, error) {
	p, err := b.next(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(p)), nil
}

func (b *Buffer) ReadInt64() (int64, error) {
	p, err := b.next(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(p)), nil
}

func (b *Buffer) ReadFloat32() (float32, error) {
	p, err := b.next(4)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.BigEndian.Uint32(p)), nil
}

func (b *Buffer) ReadFloat64() (float64, error) {
	p, err := b.next(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.BigEndian.Uint64(p)), nil
}

// ReadUTF8 reads a string written by WriteUTF8. The reader cursor does not
// move when the string is incomplete or invalid.
func (b *Buffer) ReadUTF8() (string, error) {
	b.live()
	start := b.r
	n, err := b.ReadInt32()
	if err != nil {
		return "", err
	}
	if n < 0 || n > MaxStringLen {
		b.r = start
		return "", fmt.Errorf("%w: string length %d", ErrIndexOutOfRange, n)
	}
	p, err := b.next(int(n))
	if err != nil {
		b.r = start
		return "", err
	}
	if !utf8.Valid(p) {
		b.r = start
		return "", fmt.Errorf("pool: invalid utf-8 string of %d bytes", n)
	}
	return string(p), nil
}

func (b *Buffer) PutByte(index int, v byte) error {
	p, err := b.at(index, 1)
	if err != nil {
		return err
	}
	p[0] = v
	return nil
}

func (b *Buffer) PutBool(index int, v bool) error {
	var c byte
	if v {
		c = 1
	}
	return b.PutByte(index, c)
}

func (b *Buffer) PutInt16(index int, v int16) error {
	p, err := b.at(index, 2)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint16(p, uint16(v))
	return nil
}

func (b *Buffer) PutChar(index int, v uint16) error {
	return b.PutInt16(index, int16(v))
}

func (b *Buffer) PutInt32(index int, v int32) error {
	p, err := b.at(index, 4)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint32(p, uint32(v))
	return nil
}

func (b *Buffer) PutInt64(index int, v int64) error {
	p, err := b.at(index, 8)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint64(p, uint64(v))
	return nil
}

func (b *Buffer) PutFloat32(index int, v float32) error {
	return b.PutInt32(index, int32(math.Float32bits(v)))
}

func (b *Buffer) PutFloat64(index int, v float64) error {
	return b.PutInt64(index, int64(math.Float64bits(v)))
}

func (b *Buffer) GetByte(index int) (byte, error) {
	p, err := b.at(index, 1)
	if err != nil {
		return 0, err
	}
	return p[0], nil
}

func (b *Buffer) GetBool(index int) (bool, error) {
	c, err := b.GetByte(index)
	return c != 0, err
}

func (b *Buffer) GetInt16(index int) (int16, error) {
	p, err := b.at(index, 2)
	if err != nil {
		return 0, err
	}
	return int16(binary.BigEndian.Uint16(p)), nil
}

func (b *Buffer) GetChar(index int) (uint16, error) {
	v, err := b.GetInt16(index)
	return uint16(v), err
}

func (b *Buffer) GetInt32(index int) (int32, error) {
	p, err := b.at(index, 4)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(p)), nil
}

func (b *Buffer) GetInt64(index int) (int64, error) {
	p, err := b.at(index, 8)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(p)), nil
}

func (b *Buffer) GetFloat32(index int) (float32, error) {
	v, err := b.GetInt32(index)
	return math.Float32frombits(uint32(v)), err
}

func (b *Buffer) GetFloat64(index int) (float64, error) {
	v, err := b.GetInt64(index)
	return math.Float64frombits(uint64(v)), err
}
