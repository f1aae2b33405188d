// File: api/transport.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Defines the transport contract consumed by the channel layer. Concrete
// socket implementations live outside the core and push inbound bytes
// back through a TransportSink.

package api

import "context"

// Transport abstracts one sub-channel of a peer connection.
//
// Send must not retain p after it returns; callers recycle the backing
// buffer immediately. Implementations are expected to complete I/O
// asynchronously and never block on the remote peer for long.
type Transport interface {
	// Kind reports which sub-channel this transport serves.
	Kind() TransportKind

	// Open starts the transport. Inbound bytes and connection events are
	// reported to sink from the transport's own goroutine(s).
	Open(ctx context.Context, sink TransportSink) error

	// Send hands raw frame bytes to the transport.
	Send(p []byte) error

	// Flush forces any buffered bytes onto the wire.
	Flush() error

	// Close shuts the transport down and reports a disconnect to the sink.
	Close() error

	// SetOption applies a typed option. Options the transport cannot
	// honour must be rejected with ErrUnsupportedOption.
	SetOption(opt ChannelOption, value any) error

	// Option reads back a typed option.
	Option(opt ChannelOption) (any, error)
}

// TransportSink receives inbound data and lifecycle events from a Transport.
type TransportSink interface {
	// Deliver hands received bytes to the core. The core copies what it
	// keeps; the transport may reuse data after Deliver returns.
	Deliver(kind TransportKind, data []byte)

	// Connected reports that the transport is ready to carry traffic.
	Connected(kind TransportKind)

	// Disconnected reports that the transport has gone away. err is nil
	// for a locally requested close.
	Disconnected(kind TransportKind, err error)
}
