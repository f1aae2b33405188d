// File: channel/options.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package channel

import (
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-pkt/api"
	"github.com/momentics/hioload-pkt/response"
	"github.com/momentics/hioload-pkt/task"
)

// Observer receives traffic counters; control.Metrics implements it.
type Observer interface {
	FrameSent(kind api.TransportKind, bytes int)
	FrameReceived(kind api.TransportKind, bytes int)
	ProtocolError(reason string)
}

type nopObserver struct{}

func (nopObserver) FrameSent(api.TransportKind, int)     {}
func (nopObserver) FrameReceived(api.TransportKind, int) {}
func (nopObserver) ProtocolError(string)                 {}

// Option customizes a Channel.
type Option func(*Channel)

// WithSide marks the channel as client or server owned.
func WithSide(s api.Side) Option { return func(c *Channel) { c.side = s } }

// WithExecutor sets the executor running send stages and inbound handlers.
func WithExecutor(e api.Executor) Option { return func(c *Channel) { c.exec = e } }

// WithScheduler sets the scheduler for pauses and response timeouts.
func WithScheduler(s api.Scheduler) Option { return func(c *Channel) { c.sched = s } }

// WithRunner overrides the pipeline runner built from executor and scheduler.
func WithRunner(r *task.Runner) Option { return func(c *Channel) { c.runner = r } }

// WithLogger sets the channel logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Channel) {
		if l != nil {
			c.log = l
		}
	}
}

// WithObserver attaches traffic metrics.
func WithObserver(o Observer) Option {
	return func(c *Channel) {
		if o != nil {
			c.obs = o
		}
	}
}

// WithResponseObserver attaches correlation metrics.
func WithResponseObserver(o response.Observer) Option {
	return func(c *Channel) { c.respObs = o }
}

// WithResponseTimeout sets the default wait for SendWithResponse.
func WithResponseTimeout(d time.Duration) Option {
	return func(c *Channel) { c.timeout = d }
}

// WithListener registers a listener at construction.
func WithListener(l Listener) Option {
	return func(c *Channel) { c.listeners.add(l) }
}

// WithTransportOption records a socket option applied to every attached
// transport that supports it when the channel opens.
func WithTransportOption(opt api.ChannelOption, value any) Option {
	return func(c *Channel) {
		if c.topts == nil {
			c.topts = make(map[api.ChannelOption]any)
		}
		c.topts[opt] = value
	}
}
