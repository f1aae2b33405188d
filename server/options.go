// File: server/options.go
// Package server defines functional options for the Server facade.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"go.uber.org/zap"

	"github.com/momentics/hioload-pkt/api"
	"github.com/momentics/hioload-pkt/channel"
)

// ServerOption customizes server initialization.
type ServerOption func(*Server)

// WithChannelOptions appends options used for every accepted channel,
// typically executor, scheduler, logger and observers.
func WithChannelOptions(opts ...channel.Option) ServerOption {
	return func(s *Server) {
		s.chanOpts = append(s.chanOpts, opts...)
	}
}

// WithMaxClients overrides Config.MaxClients.
func WithMaxClients(n int) ServerOption {
	return func(s *Server) {
		s.cfg.MaxClients = n
	}
}

// WithChannelOption sets one socket option for accepted channels.
func WithChannelOption(opt api.ChannelOption, value any) ServerOption {
	return func(s *Server) {
		if s.cfg.ChannelOptions == nil {
			s.cfg.ChannelOptions = make(map[api.ChannelOption]any)
		}
		s.cfg.ChannelOptions[opt] = value
	}
}

// WithLogger sets the server logger.
func WithLogger(l *zap.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithObserver attaches membership metrics.
func WithObserver(o Observer) ServerOption {
	return func(s *Server) {
		if o != nil {
			s.obs = o
		}
	}
}
