// File: api/types.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Shared API-level type declarations and constants.

package api

// TransportKind selects one of the two sub-channels a session may open.
type TransportKind uint8

const (
	// Reliable is the ordered, stream oriented sub-channel (TCP-like).
	Reliable TransportKind = iota
	// Unreliable is the datagram sub-channel (UDP-like).
	Unreliable
)

// TransportKinds lists every sub-channel kind in a stable order.
var TransportKinds = [...]TransportKind{Reliable, Unreliable}

func (k TransportKind) String() string {
	switch k {
	case Reliable:
		return "reliable"
	case Unreliable:
		return "unreliable"
	default:
		return "unknown"
	}
}

// ChannelState enumerates the lifecycle of one sub-channel.
type ChannelState int32

const (
	StateClosed ChannelState = iota
	StateOpening
	StateOpen
	StateClosing
)

func (s ChannelState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Side tells whether a channel belongs to the connecting or accepting peer.
type Side uint8

const (
	ClientSide Side = iota
	ServerSide
)

func (s Side) String() string {
	if s == ServerSide {
		return "server"
	}
	return "client"
}
