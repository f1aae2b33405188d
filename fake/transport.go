// Package fake
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// In-memory transports for tests and examples. A standalone Transport
// records what is sent and delivers injected bytes; a Pipe connects two
// transports so that one side's sends arrive at the other's sink.

package fake

import (
	"context"
	"io"
	"sync"

	"github.com/momentics/hioload-pkt/api"
)

// inboxSize bounds in-flight frames between piped transports.
const inboxSize = 1024

// Transport is a controllable api.Transport.
type Transport struct {
	kind api.TransportKind

	mu         sync.Mutex
	sink       api.TransportSink
	peer       *Transport
	sent       [][]byte
	options    map[api.ChannelOption]any
	open       bool
	closed     bool
	flushes    int
	openError  error
	sendError  error
	flushError error
	closeError error

	inbox chan []byte
	done  chan struct{}
}

// NewTransport creates an unconnected transport of the given kind.
func NewTransport(kind api.TransportKind) *Transport {
	return &Transport{
		kind:    kind,
		options: make(map[api.ChannelOption]any),
		inbox:   make(chan []byte, inboxSize),
		done:    make(chan struct{}),
	}
}

// Pipe returns two connected transports of the same kind.
func Pipe(kind api.TransportKind) (*Transport, *Transport) {
	a, b := NewTransport(kind), NewTransport(kind)
	a.peer, b.peer = b, a
	return a, b
}

func (t *Transport) Kind() api.TransportKind { return t.kind }

// Open implements api.Transport.
func (t *Transport) Open(_ context.Context, sink api.TransportSink) error {
	t.mu.Lock()
	if t.openError != nil {
		err := t.openError
		t.mu.Unlock()
		return err
	}
	if t.closed {
		t.mu.Unlock()
		return api.ErrTransportClosed
	}
	t.sink = sink
	t.open = true
	piped := t.peer != nil
	t.mu.Unlock()

	sink.Connected(t.kind)
	if piped {
		go t.pump(sink)
	}
	return nil
}

func (t *Transport) pump(sink api.TransportSink) {
	for {
		select {
		case b := <-t.inbox:
			sink.Deliver(t.kind, b)
		case <-t.done:
			return
		}
	}
}

// Send implements api.Transport. The bytes are copied.
func (t *Transport) Send(p []byte) error {
	t.mu.Lock()
	if t.closed || !t.open {
		t.mu.Unlock()
		return api.ErrTransportClosed
	}
	if t.sendError != nil {
		err := t.sendError
		t.mu.Unlock()
		return err
	}
	cp := append([]byte(nil), p...)
	t.sent = append(t.sent, cp)
	peer := t.peer
	t.mu.Unlock()

	if peer == nil {
		return nil
	}
	select {
	case peer.inbox <- cp:
		return nil
	case <-peer.done:
		return api.ErrTransportClosed
	}
}

// Flush implements api.Transport.
func (t *Transport) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.flushError != nil {
		return t.flushError
	}
	t.flushes++
	return nil
}

// Close implements api.Transport. The sink sees a nil disconnect and a
// piped peer sees io.EOF.
func (t *Transport) Close() error {
	t.mu.Lock()
	err := t.closeError
	t.mu.Unlock()
	t.shutdown(nil)
	return err
}

func (t *Transport) shutdown(cause error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	wasOpen := t.open
	t.open = false
	sink, peer := t.sink, t.peer
	close(t.done)
	t.mu.Unlock()

	if wasOpen && sink != nil {
		sink.Disconnected(t.kind, cause)
	}
	if peer != nil {
		peer.shutdown(io.EOF)
	}
}

// SetOption implements api.Transport, rejecting options the kind cannot carry.
func (t *Transport) SetOption(opt api.ChannelOption, value any) error {
	if !opt.SupportedBy(t.kind) {
		return api.ErrUnsupportedOption
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.options[opt] = value
	return nil
}

// Option implements api.Transport.
func (t *Transport) Option(opt api.ChannelOption) (any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.options[opt]
	if !ok {
		return nil, api.ErrNotFound
	}
	return v, nil
}

// Inject delivers data to the sink synchronously, as if it had arrived
// from the network.
func (t *Transport) Inject(data []byte) {
	t.mu.Lock()
	sink, open := t.sink, t.open
	t.mu.Unlock()
	if open && sink != nil {
		sink.Deliver(t.kind, data)
	}
}

// Drop simulates the remote end going away with err.
func (t *Transport) Drop(err error) { t.shutdown(err) }

// SetOpenError makes the next Open fail.
func (t *Transport) SetOpenError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.openError = err
}

// SetSendError configures the transport to return an error on Send.
func (t *Transport) SetSendError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sendError = err
}

// SetFlushError configures the transport to return an error on Flush.
func (t *Transport) SetFlushError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.flushError = err
}

// SetCloseError configures the transport to return an error on Close.
func (t *Transport) SetCloseError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeError = err
}

// SentData returns copies of everything sent so far.
func (t *Transport) SentData() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	sent := make([][]byte, len(t.sent))
	copy(sent, t.sent)
	return sent
}

// ClearSentData forgets recorded sends.
func (t *Transport) ClearSentData() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = t.sent[:0]
}

// Flushes returns how many times Flush succeeded.
func (t *Transport) Flushes() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.flushes
}

// IsOpen reports whether Open succeeded and Close has not run.
func (t *Transport) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open
}
