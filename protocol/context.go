// File: protocol/context.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package protocol

import (
	"errors"

	"github.com/momentics/hioload-pkt/api"
)

// ErrNoReplier is returned by Reply on a context with no channel attached.
var ErrNoReplier = errors.New("protocol: context has no channel")

// Replier sends a packet back on a given sub-channel and registry.
// Channels implement it.
type Replier interface {
	Respond(kind api.TransportKind, reg *Registry, p Packet) error
}

// Context is the result of decoding one frame, enriched by the channel
// that received it.
type Context struct {
	Side     api.Side
	Channel  Replier
	Kind     api.TransportKind
	Registry *Registry
	Holder   *Holder
	Packet   Packet
}

// Handler returns the resolved handler, nil if the holder has none.
func (c *Context) Handler() Handler {
	if c.Holder == nil {
		return nil
	}
	return c.Holder.Handler
}

// Reply links p to the received packet and sends it on the same
// sub-channel and registry.
func (c *Context) Reply(p Packet) error {
	if c.Channel == nil {
		return ErrNoReplier
	}
	p.Correlation().SetResponse(c.Packet)
	return c.Channel.Respond(c.Kind, c.Registry, p)
}
