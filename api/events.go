// File: api/events.go
// Package api defines channel lifecycle event types.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// OpenEvent is emitted when a sub-channel of a channel becomes open.
type OpenEvent struct {
	ChannelID string
	Side      Side
	Kind      TransportKind
}

// CloseEvent is emitted when a sub-channel closes. Cause is nil for a
// local close.
type CloseEvent struct {
	ChannelID string
	Side      Side
	Kind      TransportKind
	Cause     error
}

// EventHandler receives OpenEvent and CloseEvent values. It runs on
// transport or worker goroutines and must not block.
type EventHandler func(ev any)
