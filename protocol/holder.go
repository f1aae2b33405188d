// File: protocol/holder.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package protocol

import "reflect"

// Handler processes a decoded packet. It runs on an executor worker and
// must not block on network I/O.
type Handler func(ctx *Context)

// Holder binds a packet type to its constructor and handler.
type Holder struct {
	Type    reflect.Type
	New     func() Packet
	Handler Handler
}

// NewHolder builds a Holder for the packet type produced by newFn.
// handler may be nil for packets that are only ever sent or awaited.
func NewHolder[P Packet](newFn func() P, handler Handler) *Holder {
	return &Holder{
		Type:    reflect.TypeOf(newFn()),
		New:     func() Packet { return newFn() },
		Handler: handler,
	}
}
