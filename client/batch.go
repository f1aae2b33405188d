// File: client/batch.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Batch accumulates packets and writes them in order with a single flush,
// which pays off on a reliable sub-channel with no_delay disabled.

package client

import (
	"context"

	"github.com/momentics/hioload-pkt/api"
	"github.com/momentics/hioload-pkt/protocol"
)

// Batch collects packets for one sub-channel and registry.
type Batch struct {
	c     *Client
	kind  api.TransportKind
	reg   *protocol.Registry
	items []protocol.Packet
}

// NewBatch creates a batch with room for capacity packets.
func (c *Client) NewBatch(kind api.TransportKind, reg *protocol.Registry, capacity int) *Batch {
	return &Batch{c: c, kind: kind, reg: reg, items: make([]protocol.Packet, 0, capacity)}
}

// Append adds p to the batch.
func (b *Batch) Append(p protocol.Packet) { b.items = append(b.items, p) }

// Len returns the number of queued packets.
func (b *Batch) Len() int { return len(b.items) }

// Reset clears the batch, retaining its allocated capacity.
func (b *Batch) Reset() {
	clear(b.items)
	b.items = b.items[:0]
}

// Send writes every queued packet in order, then flushes once. It stops
// at the first failure and returns how many packets were written. The
// batch is reset only when every packet went out.
func (b *Batch) Send(ctx context.Context) (int, error) {
	for i, p := range b.items {
		t, err := b.c.ch.SendOn(b.kind, p, b.reg)
		if err != nil {
			return i, err
		}
		if _, err := t.Perform().Get(ctx); err != nil {
			return i, err
		}
	}
	n := len(b.items)
	if err := b.c.ch.Flush(); err != nil {
		return n, err
	}
	b.Reset()
	return n, nil
}
