// File: server/types.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-pkt/api"
	"github.com/momentics/hioload-pkt/channel"
	"github.com/momentics/hioload-pkt/protocol"
)

// Config holds all server-side configuration parameters.
type Config struct {
	MaxClients           int                       // channel set bound, 0 = unbounded
	UDPReceiveBufferSize int                       // datagram read size for UDP listeners
	ResponseTimeout      time.Duration             // default wait for SendWithResponse
	OpenTimeout          time.Duration             // bound on opening an accepted channel
	ChannelOptions       map[api.ChannelOption]any // applied to every accepted channel
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxClients:           0,
		UDPReceiveBufferSize: api.DefaultUDPReceiveBufferSize,
		ResponseTimeout:      30 * time.Second,
		OpenTimeout:          10 * time.Second,
	}
}

// Acceptor yields transports for new peers. transport.TCPListener and
// transport.UDPListener implement it.
type Acceptor interface {
	Accept(ctx context.Context) (api.Transport, error)
	Close() error
}

// Observer receives membership metrics; control.Metrics implements it.
type Observer interface {
	ChannelsActive(n int)
	ChannelRejected()
}

type nopObserver struct{}

func (nopObserver) ChannelsActive(int) {}
func (nopObserver) ChannelRejected()   {}

// Server owns the bounded set of peer channels.
type Server struct {
	cfg      *Config
	codec    *protocol.Codec
	set      *ChannelSet
	chanOpts []channel.Option
	log      *zap.Logger
	obs      Observer

	mu        sync.Mutex
	acceptors []Acceptor
	wg        sync.WaitGroup
	shutdown  chan struct{}
	closed    atomic.Bool
}
