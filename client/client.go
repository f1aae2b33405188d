// File: client/client.go
// Package client provides the connecting side of a packet channel.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// A Client dials the configured endpoints, attaches the resulting
// transports to a client-side channel and opens it. Dialing retries up to
// ReconnectMax attempts with linear backoff; once open, a closed channel
// is final and a new Client must be dialed.

package client

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-pkt/api"
	"github.com/momentics/hioload-pkt/channel"
	"github.com/momentics/hioload-pkt/protocol"
	"github.com/momentics/hioload-pkt/task"
	"github.com/momentics/hioload-pkt/transport"
)

// Client is a client-side channel plus the dialing that feeds it.
type Client struct {
	cfg      *Config
	codec    *protocol.Codec
	ch       *channel.Channel
	chanOpts []channel.Option
	log      *zap.Logger

	mu        sync.Mutex
	handlers  []ConnEventHandler
	connected atomic.Bool
	closed    atomic.Bool
}

// New builds an unconnected client. Transports may be attached by hand
// before Connect; configured addresses are dialed only for sub-channels
// still missing a transport.
func New(codec *protocol.Codec, cfg *Config, opts ...Option) *Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := &Client{cfg: cfg, codec: codec, log: zap.NewNop()}
	for _, o := range opts {
		o(c)
	}
	chOpts := []channel.Option{channel.WithLogger(c.log)}
	if cfg.ResponseTimeout > 0 {
		chOpts = append(chOpts, channel.WithResponseTimeout(cfg.ResponseTimeout))
	}
	chOpts = append(chOpts, c.chanOpts...)
	for opt, v := range cfg.ChannelOptions {
		chOpts = append(chOpts, channel.WithTransportOption(opt, v))
	}
	chOpts = append(chOpts,
		channel.WithSide(api.ClientSide),
		channel.WithListener(&channel.ListenerFuncs{
			OnOpened: func(*channel.Channel, api.TransportKind) { c.fireConnect() },
			OnClosed: c.onClosed,
		}),
	)
	c.ch = channel.New(codec, chOpts...)
	return c
}

// Dial builds a client and connects it.
func Dial(ctx context.Context, codec *protocol.Codec, cfg *Config, opts ...Option) (*Client, error) {
	c := New(codec, cfg, opts...)
	if err := c.Connect(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// Channel exposes the underlying channel.
func (c *Client) Channel() *channel.Channel { return c.ch }

// Attach adds a pre-built transport, e.g. an in-memory one in tests.
func (c *Client) Attach(t api.Transport) error { return c.ch.Attach(t) }

// Connect dials every configured endpoint lacking a transport and opens
// the channel.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return channel.ErrClosed
	}
	if _, ok := c.ch.Transport(api.Reliable); !ok && c.cfg.ReliableAddr != "" {
		t, err := c.dial(ctx, func(ctx context.Context) (api.Transport, error) {
			tr, err := transport.DialTCP(ctx, network(c.cfg.ReliableNetwork, "tcp"), c.cfg.ReliableAddr)
			if err != nil {
				return nil, err
			}
			return tr, nil
		})
		if err != nil {
			return fmt.Errorf("client: dial reliable %s: %w", c.cfg.ReliableAddr, err)
		}
		if err := c.ch.Attach(t); err != nil {
			_ = t.Close()
			return err
		}
	}
	if _, ok := c.ch.Transport(api.Unreliable); !ok && c.cfg.UnreliableAddr != "" {
		t, err := c.dial(ctx, func(ctx context.Context) (api.Transport, error) {
			tr, err := transport.DialUDP(ctx, network(c.cfg.UnreliableNetwork, "udp"), c.cfg.UnreliableAddr, c.cfg.UDPReceiveBufferSize)
			if err != nil {
				return nil, err
			}
			return tr, nil
		})
		if err != nil {
			return fmt.Errorf("client: dial unreliable %s: %w", c.cfg.UnreliableAddr, err)
		}
		if err := c.ch.Attach(t); err != nil {
			_ = t.Close()
			return err
		}
	}
	if err := c.ch.Open(ctx); err != nil {
		c.fireError(err)
		return err
	}
	return nil
}

func network(n, def string) string {
	if n == "" {
		return def
	}
	return n
}

// dial runs one dial function with the configured retries.
func (c *Client) dial(ctx context.Context, fn func(context.Context) (api.Transport, error)) (api.Transport, error) {
	attempts := c.cfg.ReconnectMax
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 1; i <= attempts; i++ {
		dctx, cancel := ctx, context.CancelFunc(func() {})
		if c.cfg.DialTimeout > 0 {
			dctx, cancel = context.WithTimeout(ctx, c.cfg.DialTimeout)
		}
		t, err := fn(dctx)
		cancel()
		if err == nil {
			return t, nil
		}
		lastErr = err
		c.log.Debug("dial failed", zap.Int("attempt", i), zap.Error(err))
		if i == attempts {
			break
		}
		select {
		case <-time.After(time.Duration(i) * c.cfg.ReconnectBackoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if attempts > 1 {
		return nil, fmt.Errorf("max reconnect attempts reached: %w", lastErr)
	}
	return nil, lastErr
}

// RegisterHandler adds a lifecycle event handler.
// If already connected, invokes OnConnect immediately.
func (c *Client) RegisterHandler(h ConnEventHandler) {
	c.mu.Lock()
	c.handlers = append(c.handlers, h)
	already := c.connected.Load() && c.ch.IsOpen()
	c.mu.Unlock()
	if already {
		go h.OnConnect()
	}
}

func (c *Client) snapshot() []ConnEventHandler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ConnEventHandler(nil), c.handlers...)
}

func (c *Client) fireConnect() {
	if !c.connected.CompareAndSwap(false, true) {
		return
	}
	for _, h := range c.snapshot() {
		h.OnConnect()
	}
}

func (c *Client) fireError(err error) {
	for _, h := range c.snapshot() {
		h.OnError(err)
	}
}

func (c *Client) onClosed(ch *channel.Channel, _ api.TransportKind, cause error) {
	if cause != nil {
		c.fireError(cause)
	}
	if ch.IsOpen() || !c.connected.Load() {
		return
	}
	if c.closed.CompareAndSwap(false, true) {
		for _, h := range c.snapshot() {
			h.OnClose()
		}
	}
}

// IsOpen reports whether any sub-channel is open.
func (c *Client) IsOpen() bool { return c.ch.IsOpen() }

// Send encodes p for the reliable sub-channel when open, else the
// unreliable one. The returned task is lazy.
func (c *Client) Send(p protocol.Packet, reg *protocol.Registry) (*task.Task[protocol.Packet], error) {
	return c.ch.Send(p, reg)
}

// SendReliable encodes p for the reliable sub-channel.
func (c *Client) SendReliable(p protocol.Packet, reg *protocol.Registry) (*task.Task[protocol.Packet], error) {
	return c.ch.SendReliable(p, reg)
}

// SendUnreliable encodes p for the unreliable sub-channel.
func (c *Client) SendUnreliable(p protocol.Packet, reg *protocol.Registry) (*task.Task[protocol.Packet], error) {
	return c.ch.SendUnreliable(p, reg)
}

// SendWithResponse sends p on kind and yields the correlated response.
// A zero timeout uses the configured default.
func (c *Client) SendWithResponse(kind api.TransportKind, p protocol.Packet, reg *protocol.Registry, timeout time.Duration) (*task.Task[*protocol.Context], error) {
	return c.ch.SendWithResponse(kind, p, reg, timeout)
}

// Request performs a SendWithResponse on the preferred sub-channel and
// waits for the response or ctx.
func (c *Client) Request(ctx context.Context, p protocol.Packet, reg *protocol.Registry) (*protocol.Context, error) {
	kind := api.Unreliable
	if c.ch.State(api.Reliable) == api.StateOpen {
		kind = api.Reliable
	}
	t, err := c.ch.SendWithResponse(kind, p, reg, 0)
	if err != nil {
		return nil, err
	}
	return t.Perform().Get(ctx)
}

// Flush forces buffered bytes out on every open sub-channel.
func (c *Client) Flush() error { return c.ch.Flush() }

// Close shuts the channel down; idempotent.
func (c *Client) Close() error {
	err := c.ch.Close()
	if c.connected.Load() && c.closed.CompareAndSwap(false, true) {
		for _, h := range c.snapshot() {
			h.OnClose()
		}
	}
	c.closed.Store(true)
	return err
}
