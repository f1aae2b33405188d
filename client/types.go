// File: client/types.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package client

import (
	"time"

	"github.com/momentics/hioload-pkt/api"
)

// Config holds the dialing parameters of a client. An empty address leaves
// that sub-channel unattached unless a transport is attached by hand.
type Config struct {
	ReliableNetwork      string        // "tcp", "tcp4" or "tcp6"
	ReliableAddr         string        // host:port of the reliable endpoint
	UnreliableNetwork    string        // "udp", "udp4" or "udp6"
	UnreliableAddr       string        // host:port of the unreliable endpoint
	DialTimeout          time.Duration // per attempt, 0 = no limit
	ReconnectMax         int           // dial attempts, 0 or 1 = single attempt
	ReconnectBackoff     time.Duration // grows linearly with the attempt number
	UDPReceiveBufferSize int           // datagram read size
	ResponseTimeout      time.Duration // default SendWithResponse timeout
	ChannelOptions       map[api.ChannelOption]any
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ReliableNetwork:      "tcp",
		UnreliableNetwork:    "udp",
		DialTimeout:          5 * time.Second,
		ReconnectMax:         0,
		ReconnectBackoff:     100 * time.Millisecond,
		UDPReceiveBufferSize: api.DefaultUDPReceiveBufferSize,
		ResponseTimeout:      30 * time.Second,
	}
}

// ConnEventHandler defines lifecycle callback signatures.
type ConnEventHandler interface {
	OnConnect()
	OnClose()
	OnError(err error)
}
