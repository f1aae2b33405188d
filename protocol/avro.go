// File: protocol/avro.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Schema-described object packets. The payload is an int32 length
// followed by the Avro binary encoding of Value.

package protocol

import (
	"errors"
	"fmt"

	"github.com/linkedin/goavro/v2"

	"github.com/momentics/hioload-pkt/pool"
)

// ErrNoSchema is recorded on an AvroPacket created without a codec.
var ErrNoSchema = errors.New("protocol: avro packet has no schema")

// AvroPacket carries a native Go value (map[string]any for records)
// encoded with a fixed Avro schema. Values that do not match the schema
// fail serialization; the failure is recorded on the packet and an empty
// payload is sent.
//
// Registries key holders by Go type, so one registry holds at most one
// Avro schema.
type AvroPacket struct {
	Base
	Value any

	codec *goavro.Codec
}

// NewAvroPacket creates a packet bound to codec.
func NewAvroPacket(codec *goavro.Codec, value any) *AvroPacket {
	return &AvroPacket{codec: codec, Value: value}
}

// Schema returns the canonical schema, empty when unbound.
func (p *AvroPacket) Schema() string {
	if p.codec == nil {
		return ""
	}
	return p.codec.CanonicalSchema()
}

func (p *AvroPacket) Serialize(b *pool.Buffer) error {
	if p.codec == nil {
		b.WriteInt32(0)
		return ErrNoSchema
	}
	data, err := p.codec.BinaryFromNative(nil, p.Value)
	if err != nil {
		b.WriteInt32(0)
		return fmt.Errorf("protocol: avro encode: %w", err)
	}
	b.WriteInt32(int32(len(data)))
	b.WriteBytes(data)
	return nil
}

func (p *AvroPacket) Deserialize(b *pool.Buffer) error {
	n, err := readCount(b)
	if err != nil {
		return err
	}
	data := make([]byte, n)
	if err := b.ReadBytes(data); err != nil {
		return err
	}
	if p.codec == nil {
		return ErrNoSchema
	}
	native, _, err := p.codec.NativeFromBinary(data)
	if err != nil {
		return fmt.Errorf("protocol: avro decode: %w", err)
	}
	p.Value = native
	return nil
}

// NewAvroHolder compiles schema and returns a holder whose packets use it.
func NewAvroHolder(schema string, handler Handler) (*Holder, *goavro.Codec, error) {
	codec, err := goavro.NewCodec(schema)
	if err != nil {
		return nil, nil, fmt.Errorf("protocol: avro schema: %w", err)
	}
	h := NewHolder(func() *AvroPacket { return &AvroPacket{codec: codec} }, handler)
	return h, codec, nil
}
