// File: protocol/packet.go
// Package protocol implements the packet model, registries and the
// length-prefixed frame codec.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package protocol

import (
	"reflect"

	"github.com/momentics/hioload-pkt/pool"
)

// NoID marks an absent correlation id.
const NoID int32 = -1

// Packet is the serialization contract for everything carried in a frame.
// Implementations embed Base, which supplies Correlation.
//
// Serialize and Deserialize cover the packet's own payload only; the
// correlation ids travel in the frame header.
type Packet interface {
	Correlation() *Base
	Serialize(buf *pool.Buffer) error
	Deserialize(buf *pool.Buffer) error
}

// Base holds the correlation ids and payload failure state shared by all
// packets. The zero value has both ids set to NoID.
type Base struct {
	// ids are stored offset by one so the zero value reads as NoID
	sending   int64
	receiving int64

	failed bool
	cause  error
}

// Correlation returns b; embedding Base satisfies that part of Packet.
func (b *Base) Correlation() *Base { return b }

func (b *Base) SendingID() int32   { return int32(b.sending - 1) }
func (b *Base) ReceivingID() int32 { return int32(b.receiving - 1) }

func (b *Base) SetSendingID(id int32)   { b.sending = int64(id) + 1 }
func (b *Base) SetReceivingID(id int32) { b.receiving = int64(id) + 1 }

// SetResponse links b as the reply to req: the ids are swapped so the
// peer's correlation manager finds its pending entry.
func (b *Base) SetResponse(req Packet) {
	rc := req.Correlation()
	b.SetSendingID(rc.ReceivingID())
	b.SetReceivingID(rc.SendingID())
}

// Fail records a payload serialization failure. The frame itself is still
// produced or consumed; callers check Failed.
func (b *Base) Fail(err error) {
	b.failed = true
	b.cause = err
}

func (b *Base) Failed() bool { return b.failed }
func (b *Base) Cause() error { return b.cause }

// TypeOf returns the concrete type used as a registry key.
func TypeOf(p Packet) reflect.Type { return reflect.TypeOf(p) }
