// File: protocol/builtin.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Built-in value packets. They double as codec fixtures and as a quick
// way to exchange primitives without defining a packet type.

package protocol

import (
	"fmt"

	"github.com/momentics/hioload-pkt/pool"
)

// MaxArrayLen bounds element counts read for array packets.
const MaxArrayLen = 1 << 20

type BoolPacket struct {
	Base
	Value bool
}

func (p *BoolPacket) Serialize(b *pool.Buffer) error { b.WriteBool(p.Value); return nil }
func (p *BoolPacket) Deserialize(b *pool.Buffer) (err error) {
	p.Value, err = b.ReadBool()
	return err
}

type BytePacket struct {
	Base
	Value byte
}

func (p *BytePacket) Serialize(b *pool.Buffer) error { return b.WriteByte(p.Value) }
func (p *BytePacket) Deserialize(b *pool.Buffer) (err error) {
	p.Value, err = b.ReadByte()
	return err
}

type ShortPacket struct {
	Base
	Value int16
}

func (p *ShortPacket) Serialize(b *pool.Buffer) error { b.WriteInt16(p.Value); return nil }
func (p *ShortPacket) Deserialize(b *pool.Buffer) (err error) {
	p.Value, err = b.ReadInt16()
	return err
}

type IntPacket struct {
	Base
	Value int32
}

func (p *IntPacket) Serialize(b *pool.Buffer) error { b.WriteInt32(p.Value); return nil }
func (p *IntPacket) Deserialize(b *pool.Buffer) (err error) {
	p.Value, err = b.ReadInt32()
	return err
}

type LongPacket struct {
	Base
	Value int64
}

func (p *LongPacket) Serialize(b *pool.Buffer) error { b.WriteInt64(p.Value); return nil }
func (p *LongPacket) Deserialize(b *pool.Buffer) (err error) {
	p.Value, err = b.ReadInt64()
	return err
}

type FloatPacket struct {
	Base
	Value float32
}

func (p *FloatPacket) Serialize(b *pool.Buffer) error { b.WriteFloat32(p.Value); return nil }
func (p *FloatPacket) Deserialize(b *pool.Buffer) (err error) {
	p.Value, err = b.ReadFloat32()
	return err
}

type DoublePacket struct {
	Base
	Value float64
}

func (p *DoublePacket) Serialize(b *pool.Buffer) error { b.WriteFloat64(p.Value); return nil }
func (p *DoublePacket) Deserialize(b *pool.Buffer) (err error) {
	p.Value, err = b.ReadFloat64()
	return err
}

// CharPacket carries one UTF-16 code unit.
type CharPacket struct {
	Base
	Value uint16
}

func (p *CharPacket) Serialize(b *pool.Buffer) error { b.WriteChar(p.Value); return nil }
func (p *CharPacket) Deserialize(b *pool.Buffer) (err error) {
	p.Value, err = b.ReadChar()
	return err
}

type StringPacket struct {
	Base
	Value string
}

func (p *StringPacket) Serialize(b *pool.Buffer) error { b.WriteUTF8(p.Value); return nil }
func (p *StringPacket) Deserialize(b *pool.Buffer) (err error) {
	p.Value, err = b.ReadUTF8()
	return err
}

// BytesPacket carries an int32 length followed by raw bytes.
type BytesPacket struct {
	Base
	Value []byte
}

func (p *BytesPacket) Serialize(b *pool.Buffer) error {
	b.WriteInt32(int32(len(p.Value)))
	b.WriteBytes(p.Value)
	return nil
}

func (p *BytesPacket) Deserialize(b *pool.Buffer) error {
	n, err := readCount(b)
	if err != nil {
		return err
	}
	p.Value = make([]byte, n)
	return b.ReadBytes(p.Value)
}

type IntArrayPacket struct {
	Base
	Values []int32
}

func (p *IntArrayPacket) Serialize(b *pool.Buffer) error {
	b.WriteInt32(int32(len(p.Values)))
	for _, v := range p.Values {
		b.WriteInt32(v)
	}
	return nil
}

func (p *IntArrayPacket) Deserialize(b *pool.Buffer) error {
	n, err := readCount(b)
	if err != nil {
		return err
	}
	p.Values = make([]int32, n)
	for i := range p.Values {
		if p.Values[i], err = b.ReadInt32(); err != nil {
			return err
		}
	}
	return nil
}

type LongArrayPacket struct {
	Base
	Values []int64
}

func (p *LongArrayPacket) Serialize(b *pool.Buffer) error {
	b.WriteInt32(int32(len(p.Values)))
	for _, v := range p.Values {
		b.WriteInt64(v)
	}
	return nil
}

func (p *LongArrayPacket) Deserialize(b *pool.Buffer) error {
	n, err := readCount(b)
	if err != nil {
		return err
	}
	p.Values = make([]int64, n)
	for i := range p.Values {
		if p.Values[i], err = b.ReadInt64(); err != nil {
			return err
		}
	}
	return nil
}

type StringArrayPacket struct {
	Base
	Values []string
}

func (p *StringArrayPacket) Serialize(b *pool.Buffer) error {
	b.WriteInt32(int32(len(p.Values)))
	for _, v := range p.Values {
		b.WriteUTF8(v)
	}
	return nil
}

func (p *StringArrayPacket) Deserialize(b *pool.Buffer) error {
	n, err := readCount(b)
	if err != nil {
		return err
	}
	p.Values = make([]string, n)
	for i := range p.Values {
		if p.Values[i], err = b.ReadUTF8(); err != nil {
			return err
		}
	}
	return nil
}

func readCount(b *pool.Buffer) (int, error) {
	n, err := b.ReadInt32()
	if err != nil {
		return 0, err
	}
	if n < 0 || n > MaxArrayLen {
		return 0, fmt.Errorf("protocol: element count %d out of range", n)
	}
	return int(n), nil
}

// Builtins returns holders for every built-in packet in a stable order.
func Builtins() []*Holder {
	return []*Holder{
		NewHolder(func() *BoolPacket { return &BoolPacket{} }, nil),
		NewHolder(func() *BytePacket { return &BytePacket{} }, nil),
		NewHolder(func() *ShortPacket { return &ShortPacket{} }, nil),
		NewHolder(func() *IntPacket { return &IntPacket{} }, nil),
		NewHolder(func() *LongPacket { return &LongPacket{} }, nil),
		NewHolder(func() *FloatPacket { return &FloatPacket{} }, nil),
		NewHolder(func() *DoublePacket { return &DoublePacket{} }, nil),
		NewHolder(func() *CharPacket { return &CharPacket{} }, nil),
		NewHolder(func() *StringPacket { return &StringPacket{} }, nil),
		NewHolder(func() *BytesPacket { return &BytesPacket{} }, nil),
		NewHolder(func() *IntArrayPacket { return &IntArrayPacket{} }, nil),
		NewHolder(func() *LongArrayPacket { return &LongArrayPacket{} }, nil),
		NewHolder(func() *StringArrayPacket { return &StringArrayPacket{} }, nil),
	}
}

// RegisterBuiltins binds the built-in packets to consecutive ids starting
// at firstID.
func RegisterBuiltins(r *Registry, firstID int32) error {
	for i, h := range Builtins() {
		if err := r.Register(h, firstID+int32(i)); err != nil {
			return err
		}
	}
	return nil
}
