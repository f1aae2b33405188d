// File: protocol/codec.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Frame codec with frame size enforcement. Layout, big-endian:
//
//	[length:int32][typeId:int32][flags:uint8]
//	  flags&FlagRegistry    [registryId:int32]
//	  flags&FlagSendingID   [sendingId:int32]
//	  flags&FlagReceivingID [receivingId:int32]
//	[payload]
//
// length counts every byte after the 9-byte header.

package protocol

import (
	"fmt"

	"github.com/momentics/hioload-pkt/pool"
)

const (
	// HeaderSize is the fixed part of every frame.
	HeaderSize = 9

	FlagRegistry    byte = 1 << 0
	FlagSendingID   byte = 1 << 1
	FlagReceivingID byte = 1 << 2

	// DefaultMaxFrameSize bounds the declared length of inbound frames.
	DefaultMaxFrameSize = 1 << 20 // 1 MiB
)

// Codec encodes packets into frames and decodes frames back into
// handler contexts. It is safe for concurrent use; each Buffer passed to
// it must have a single owner for the duration of the call.
type Codec struct {
	container Container
	pool      *pool.BufferPool
	maxFrame  int
}

// CodecOption customizes a Codec.
type CodecOption func(*Codec)

// WithMaxFrameSize sets the largest accepted frame length.
func WithMaxFrameSize(n int) CodecOption {
	return func(c *Codec) {
		if n > 0 {
			c.maxFrame = n
		}
	}
}

// WithBufferPool sets the pool used for frame sub-buffers.
func WithBufferPool(p *pool.BufferPool) CodecOption {
	return func(c *Codec) {
		if p != nil {
			c.pool = p
		}
	}
}

// NewCodec creates a codec over container.
func NewCodec(container Container, opts ...CodecOption) *Codec {
	c := &Codec{container: container, maxFrame: DefaultMaxFrameSize}
	for _, o := range opts {
		o(c)
	}
	if c.pool == nil {
		c.pool = pool.NewBufferPool()
	}
	return c
}

func (c *Codec) Container() Container   { return c.container }
func (c *Codec) Pool() *pool.BufferPool { return c.pool }
func (c *Codec) MaxFrameSize() int      { return c.maxFrame }

// Encode appends one frame for p to dst. reg selects the namespace; nil
// means the container's default. A packet whose payload serializer fails
// still produces a complete frame; the failure is recorded on p.
func (c *Codec) Encode(p Packet, reg *Registry, dst *pool.Buffer) error {
	if reg == nil {
		reg = c.container.Default()
	}
	typeID, ok := reg.IDOf(p)
	if !ok {
		return &ProtocolError{Op: "encode", TypeID: -1, RegistryID: reg.ID(), Err: fmt.Errorf("%w: %v", ErrUnknownPacketType, TypeOf(p))}
	}
	base := p.Correlation()

	var flags byte
	if c.container.MultiRegistry() {
		flags |= FlagRegistry
	}
	if base.SendingID() != NoID {
		flags |= FlagSendingID
	}
	if base.ReceivingID() != NoID {
		flags |= FlagReceivingID
	}

	start := dst.WriterIndex()
	dst.EnsureWritable(HeaderSize)
	_ = dst.SetWriterIndex(start + HeaderSize)

	if flags&FlagRegistry != 0 {
		dst.WriteInt32(reg.ID())
	}
	if flags&FlagSendingID != 0 {
		dst.WriteInt32(base.SendingID())
	}
	if flags&FlagReceivingID != 0 {
		dst.WriteInt32(base.ReceivingID())
	}
	if err := serialize(p, dst); err != nil {
		base.Fail(err)
	}

	length := dst.WriterIndex() - start - HeaderSize
	if length > c.maxFrame {
		_ = dst.SetWriterIndex(start)
		return &ProtocolError{Op: "encode", TypeID: typeID, RegistryID: reg.ID(), Length: length, Err: ErrFrameTooLarge}
	}
	_ = dst.PutInt32(start, int32(length))
	_ = dst.PutInt32(start+4, typeID)
	_ = dst.PutByte(start+8, flags)
	return nil
}

// EncodeToBuffer encodes p into a freshly acquired pooled buffer owned by
// the caller.
func (c *Codec) EncodeToBuffer(p Packet, reg *Registry) (*pool.Buffer, error) {
	b := c.pool.Acquire(256)
	if err := c.Encode(p, reg, b); err != nil {
		b.Release()
		return nil, err
	}
	return b, nil
}

// Decode consumes one frame from src. ok is false when src does not yet
// hold a complete frame; nothing is consumed in that case and the caller
// retries after appending more bytes. A non-nil error is a protocol
// violation and src can no longer be trusted.
func (c *Codec) Decode(src *pool.Buffer) (ctx *Context, ok bool, err error) {
	if src.Readable() < HeaderSize {
		return nil, false, nil
	}
	r := src.ReaderIndex()
	length32, _ := src.GetInt32(r)
	typeID, _ := src.GetInt32(r + 4)
	flags, _ := src.GetByte(r + 8)
	length := int(length32)
	if length < 0 {
		return nil, false, &ProtocolError{Op: "decode", TypeID: typeID, RegistryID: -1, Length: length, Err: ErrMalformedFrame}
	}
	if length > c.maxFrame {
		return nil, false, &ProtocolError{Op: "decode", TypeID: typeID, RegistryID: -1, Length: length, Err: ErrFrameTooLarge}
	}
	if src.Readable() < HeaderSize+length {
		return nil, false, nil
	}
	_ = src.Skip(HeaderSize)

	frame := c.pool.Acquire(length)
	defer frame.Release()
	_ = src.ReadInto(frame, length)

	regID := DefaultRegistryID
	sending, receiving := NoID, NoID
	fields := []struct {
		bit byte
		dst *int32
	}{
		{FlagRegistry, &regID},
		{FlagSendingID, &sending},
		{FlagReceivingID, &receiving},
	}
	for _, f := range fields {
		if flags&f.bit == 0 {
			continue
		}
		v, rerr := frame.ReadInt32()
		if rerr != nil {
			return nil, true, &ProtocolError{Op: "decode", TypeID: typeID, RegistryID: regID, Length: length, Err: fmt.Errorf("%w: %w", ErrMalformedFrame, rerr)}
		}
		*f.dst = v
	}

	reg := c.container.Default()
	if flags&FlagRegistry != 0 {
		var found bool
		if reg, found = c.container.Registry(regID); !found {
			return nil, true, &ProtocolError{Op: "decode", TypeID: typeID, RegistryID: regID, Length: length, Err: ErrUnknownRegistry}
		}
	}
	holder, found := reg.Holder(typeID)
	if !found {
		return nil, true, &ProtocolError{Op: "decode", TypeID: typeID, RegistryID: reg.ID(), Length: length, Err: ErrUnknownPacketType}
	}

	p := holder.New()
	base := p.Correlation()
	base.SetSendingID(sending)
	base.SetReceivingID(receiving)
	if derr := deserialize(p, frame); derr != nil {
		base.Fail(derr)
	}
	return &Context{Registry: reg, Holder: holder, Packet: p}, true, nil
}

func serialize(p Packet, b *pool.Buffer) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("protocol: serialize panicked: %v", r)
		}
	}()
	return p.Serialize(b)
}

func deserialize(p Packet, b *pool.Buffer) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("protocol: deserialize panicked: %v", r)
		}
	}()
	return p.Deserialize(b)
}
