// File: client/options.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package client

import (
	"go.uber.org/zap"

	"github.com/momentics/hioload-pkt/channel"
)

// Option customizes client initialization.
type Option func(*Client)

// WithChannelOptions appends options for the underlying channel.
func WithChannelOptions(opts ...channel.Option) Option {
	return func(c *Client) {
		c.chanOpts = append(c.chanOpts, opts...)
	}
}

// WithLogger sets the client logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}
