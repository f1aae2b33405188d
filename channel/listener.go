// File: channel/listener.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package channel

import (
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-pkt/api"
	"github.com/momentics/hioload-pkt/protocol"
)

// Listener observes channel lifecycle and traffic. Callbacks run on
// transport or worker goroutines and must not block.
type Listener interface {
	Opened(ch *Channel, kind api.TransportKind)
	Closed(ch *Channel, kind api.TransportKind, cause error)
	PacketSent(ch *Channel, kind api.TransportKind, p protocol.Packet)
	PacketReceived(ch *Channel, ctx *protocol.Context)
}

// ListenerFuncs adapts optional callbacks to Listener.
type ListenerFuncs struct {
	OnOpened   func(ch *Channel, kind api.TransportKind)
	OnClosed   func(ch *Channel, kind api.TransportKind, cause error)
	OnSent     func(ch *Channel, kind api.TransportKind, p protocol.Packet)
	OnReceived func(ch *Channel, ctx *protocol.Context)
}

func (f *ListenerFuncs) Opened(ch *Channel, kind api.TransportKind) {
	if f.OnOpened != nil {
		f.OnOpened(ch, kind)
	}
}

func (f *ListenerFuncs) Closed(ch *Channel, kind api.TransportKind, cause error) {
	if f.OnClosed != nil {
		f.OnClosed(ch, kind, cause)
	}
}

func (f *ListenerFuncs) PacketSent(ch *Channel, kind api.TransportKind, p protocol.Packet) {
	if f.OnSent != nil {
		f.OnSent(ch, kind, p)
	}
}

func (f *ListenerFuncs) PacketReceived(ch *Channel, ctx *protocol.Context) {
	if f.OnReceived != nil {
		f.OnReceived(ch, ctx)
	}
}

// EventListener turns open and close notifications into api.OpenEvent and
// api.CloseEvent values delivered to h.
func EventListener(h api.EventHandler) Listener {
	return &ListenerFuncs{
		OnOpened: func(ch *Channel, kind api.TransportKind) {
			h(api.OpenEvent{ChannelID: ch.ID(), Side: ch.Side(), Kind: kind})
		},
		OnClosed: func(ch *Channel, kind api.TransportKind, cause error) {
			h(api.CloseEvent{ChannelID: ch.ID(), Side: ch.Side(), Kind: kind, Cause: cause})
		},
	}
}

type listenerEntry struct {
	id uint64
	l  Listener
}

// listeners is a copy-on-write fan-out list; readers never lock.
type listeners struct {
	mu   sync.Mutex
	next uint64
	list atomic.Pointer[[]listenerEntry]
}

func (ls *listeners) add(l Listener) func() {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.next++
	id := ls.next
	var cur []listenerEntry
	if p := ls.list.Load(); p != nil {
		cur = *p
	}
	next := make([]listenerEntry, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, listenerEntry{id: id, l: l})
	ls.list.Store(&next)

	var once sync.Once
	return func() { once.Do(func() { ls.remove(id) }) }
}

func (ls *listeners) remove(id uint64) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	p := ls.list.Load()
	if p == nil {
		return
	}
	next := make([]listenerEntry, 0, len(*p))
	for _, e := range *p {
		if e.id != id {
			next = append(next, e)
		}
	}
	ls.list.Store(&next)
}

func (ls *listeners) each(fn func(Listener)) {
	p := ls.list.Load()
	if p == nil {
		return
	}
	for _, e := range *p {
		fn(e.l)
	}
}
