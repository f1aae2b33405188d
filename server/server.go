// File: server/server.go
// Package server implements the accepting side: admission into a bounded
// channel set, accept loops over listeners, broadcast and shutdown.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"context"
	"errors"
	"fmt"
	"net"

	"go.uber.org/zap"

	"github.com/momentics/hioload-pkt/api"
	"github.com/momentics/hioload-pkt/channel"
	"github.com/momentics/hioload-pkt/protocol"
	"github.com/momentics/hioload-pkt/transport"
)

// ErrServerClosed is returned by Accept and Serve after Shutdown.
var ErrServerClosed = errors.New("server: closed")

// NewServer builds a server whose channels encode with codec.
func NewServer(codec *protocol.Codec, cfg *Config, opts ...ServerOption) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := *cfg
	c.ChannelOptions = make(map[api.ChannelOption]any, len(cfg.ChannelOptions))
	for k, v := range cfg.ChannelOptions {
		c.ChannelOptions[k] = v
	}
	s := &Server{
		cfg:      &c,
		codec:    codec,
		log:      zap.NewNop(),
		obs:      nopObserver{},
		shutdown: make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	s.set = NewChannelSet(s.cfg.MaxClients)
	return s
}

// Config returns the effective configuration.
func (s *Server) Config() *Config { return s.cfg }

// Channels returns a snapshot of the admitted channels.
func (s *Server) Channels() []*channel.Channel { return s.set.Channels() }

// Set exposes the membership table.
func (s *Server) Set() *ChannelSet { return s.set }

func (s *Server) channelOptions() []channel.Option {
	opts := make([]channel.Option, 0, len(s.chanOpts)+len(s.cfg.ChannelOptions)+3)
	opts = append(opts, channel.WithLogger(s.log), channel.WithResponseTimeout(s.cfg.ResponseTimeout))
	opts = append(opts, s.chanOpts...)
	for opt, v := range s.cfg.ChannelOptions {
		opts = append(opts, channel.WithTransportOption(opt, v))
	}
	return append(opts, channel.WithSide(api.ServerSide))
}

// Accept admits one peer reachable over transports and opens its channel.
// Admission is checked before any transport is opened; a rejected peer has
// its transports closed and the admission error returned.
func (s *Server) Accept(ctx context.Context, transports ...api.Transport) (*channel.Channel, error) {
	if s.closed.Load() {
		closeAll(transports)
		return nil, ErrServerClosed
	}
	ch := channel.New(s.codec, s.channelOptions()...)
	for _, t := range transports {
		if err := ch.Attach(t); err != nil {
			closeAll(transports)
			return nil, err
		}
	}
	if err := s.set.Add(ch); err != nil {
		s.obs.ChannelRejected()
		s.log.Warn("channel rejected", zap.String("channel", ch.ID()), zap.Int("max_clients", s.set.MaxSize()), zap.Error(err))
		closeAll(transports)
		return nil, err
	}
	ch.AddListener(&channel.ListenerFuncs{
		OnClosed: func(c *channel.Channel, _ api.TransportKind, _ error) {
			if !c.IsOpen() {
				s.drop(c)
			}
		},
	})

	if s.cfg.OpenTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.OpenTimeout)
		defer cancel()
	}
	if err := ch.Open(ctx); err != nil {
		s.drop(ch)
		return nil, err
	}
	s.obs.ChannelsActive(s.set.Len())
	s.log.Debug("channel accepted", zap.String("channel", ch.ID()), zap.Int("channels", s.set.Len()))
	return ch, nil
}

func (s *Server) drop(ch *channel.Channel) {
	if s.set.Remove(ch) {
		s.obs.ChannelsActive(s.set.Len())
	}
	_ = ch.Close()
}

func closeAll(ts []api.Transport) {
	for _, t := range ts {
		_ = t.Close()
	}
}

// Listen opens a reference listener: network "tcp" yields reliable
// channels, "udp" unreliable ones demultiplexed by remote address.
func (s *Server) Listen(network, addr string) (Acceptor, error) {
	var (
		a   Acceptor
		err error
	)
	switch network {
	case "tcp", "tcp4", "tcp6":
		var l *transport.TCPListener
		if l, err = transport.ListenTCP(network, addr); err == nil {
			a = l
		}
	case "udp", "udp4", "udp6":
		var l *transport.UDPListener
		if l, err = transport.ListenUDP(network, addr, s.cfg.UDPReceiveBufferSize); err == nil {
			a = l
		}
	default:
		err = api.NewError(api.ErrCodeInvalidArgument, "unsupported network").WithContext("network", network)
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Serve runs one accept loop per acceptor until ctx ends or Shutdown is
// called. Peers that fail admission are logged and skipped.
func (s *Server) Serve(ctx context.Context, acceptors ...Acceptor) error {
	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		return ErrServerClosed
	}
	s.acceptors = append(s.acceptors, acceptors...)
	for _, a := range acceptors {
		s.wg.Add(1)
		go s.acceptLoop(ctx, a)
	}
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		_ = s.Shutdown()
		return ctx.Err()
	case <-s.shutdown:
		return nil
	}
}

func (s *Server) acceptLoop(ctx context.Context, a Acceptor) {
	defer s.wg.Done()
	for {
		t, err := a.Accept(ctx)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil || s.closed.Load() {
				return
			}
			s.log.Warn("accept failed", zap.Error(err))
			continue
		}
		if _, err := s.Accept(ctx, t); err != nil && !errors.Is(err, ErrSetFull) {
			s.log.Warn("admission failed", zap.Error(err))
		}
	}
}

// Broadcast writes p to every open member on kind. See ChannelSet.Broadcast.
func (s *Server) Broadcast(kind api.TransportKind, p protocol.Packet, reg *protocol.Registry) (int, error) {
	return s.set.Broadcast(s.codec, kind, p, reg)
}

// Shutdown stops the accept loops and closes every channel. It is
// idempotent.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	if !s.closed.CompareAndSwap(false, true) {
		s.mu.Unlock()
		return nil
	}
	close(s.shutdown)
	acceptors := s.acceptors
	s.acceptors = nil
	s.mu.Unlock()

	var errs []error
	for _, a := range acceptors {
		if err := a.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, fmt.Errorf("server: close acceptor: %w", err))
		}
	}
	s.wg.Wait()
	for _, ch := range s.set.Channels() {
		s.drop(ch)
	}
	s.log.Info("server shut down")
	return errors.Join(errs...)
}
