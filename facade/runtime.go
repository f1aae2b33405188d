// File: facade/runtime.go
// Package facade wires the packet substrate into one explicitly owned
// Runtime.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Runtime aggregates the executor, scheduler, buffer pool, registry
// container, codec, metrics, logger and debug probes built from a
// control.Config, and hands them to the servers and clients it creates.
// Nothing is global: two Runtimes in one process share no state.

package facade

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/momentics/hioload-pkt/api"
	"github.com/momentics/hioload-pkt/channel"
	"github.com/momentics/hioload-pkt/client"
	"github.com/momentics/hioload-pkt/control"
	"github.com/momentics/hioload-pkt/core/concurrency"
	"github.com/momentics/hioload-pkt/pool"
	"github.com/momentics/hioload-pkt/protocol"
	"github.com/momentics/hioload-pkt/server"
	"github.com/momentics/hioload-pkt/task"
)

// Runtime is the main facade type.
type Runtime struct {
	cfg       *control.Config
	log       *zap.Logger
	level     zap.AtomicLevel
	registry  *prometheus.Registry
	metrics   *control.Metrics
	executor  *concurrency.Executor
	scheduler *concurrency.Scheduler
	pool      *pool.BufferPool
	container protocol.Container
	codec     *protocol.Codec
	runner    *task.Runner
	probes    *control.DebugProbes
	reloader  *control.Reloader
	topts     map[api.ChannelOption]any
	events    api.EventHandler

	mu      sync.Mutex
	servers []*server.Server
	clients map[*client.Client]struct{}
	closed  bool
}

var (
	_ api.GracefulShutdown = (*Runtime)(nil)
	_ api.Debug            = (*Runtime)(nil)
)

// Option customizes Runtime construction.
type Option func(*Runtime)

// WithLogger replaces the logger built from the log section.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runtime) { r.log = l }
}

// WithRegistry registers metrics on reg instead of a private registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(r *Runtime) { r.registry = reg }
}

// WithContainer supplies a pre-populated registry container.
func WithContainer(c protocol.Container) Option {
	return func(r *Runtime) { r.container = c }
}

// WithEventHandler receives an api.OpenEvent or api.CloseEvent for every
// sub-channel of every channel the runtime builds.
func WithEventHandler(h api.EventHandler) Option {
	return func(r *Runtime) { r.events = h }
}

// New builds a Runtime from cfg; nil selects control.DefaultConfig.
func New(cfg *control.Config, opts ...Option) (*Runtime, error) {
	if cfg == nil {
		cfg = control.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("facade: %w", err)
	}
	topts, err := cfg.ChannelOptions()
	if err != nil {
		return nil, fmt.Errorf("facade: %w", err)
	}
	r := &Runtime{cfg: cfg, topts: topts, clients: make(map[*client.Client]struct{})}
	for _, o := range opts {
		o(r)
	}

	if r.log == nil {
		if r.log, r.level, err = control.NewLogger(cfg.Log); err != nil {
			return nil, fmt.Errorf("facade: logger: %w", err)
		}
	} else {
		r.level = zap.NewAtomicLevel()
	}
	if r.registry == nil {
		r.registry = prometheus.NewRegistry()
	}
	r.metrics = control.NewMetrics(r.registry, cfg.Metrics.Namespace)

	r.executor = concurrency.NewExecutor(workers(cfg), concurrency.WithLogger(r.log))
	r.scheduler = concurrency.NewScheduler(r.executor)
	r.runner = task.NewRunner(r.executor, r.scheduler)
	r.pool = pool.NewBufferPool(
		pool.WithSizeClasses(cfg.Pool.SizeClasses...),
		pool.WithIdlePerClass(cfg.Pool.IdlePerClass),
		pool.WithObserver(r.metrics),
	)
	if r.container == nil {
		if cfg.Codec.MultiRegistry {
			r.container = protocol.NewMultiContainer()
		} else {
			r.container = protocol.NewSingleContainer()
		}
	}
	r.codec = protocol.NewCodec(r.container,
		protocol.WithMaxFrameSize(cfg.Codec.MaxFrameSize),
		protocol.WithBufferPool(r.pool),
	)

	r.probes = control.NewDebugProbes()
	control.RegisterPlatformProbes(r.probes)
	r.registerProbes()

	r.reloader = control.NewReloader()
	r.reloader.Register(r.applyReload)

	r.log.Info("runtime started",
		zap.Int("workers", r.executor.NumWorkers()),
		zap.Bool("multi_registry", r.container.MultiRegistry()),
		zap.Int("max_frame_size", cfg.Codec.MaxFrameSize))
	return r, nil
}

func workers(cfg *control.Config) int {
	if cfg.Executor.Workers > 0 {
		return cfg.Executor.Workers
	}
	return runtime.NumCPU()
}

func (r *Runtime) registerProbes() {
	r.probes.RegisterProbe("pool", func() any { return r.pool.Stats() })
	r.probes.RegisterProbe("executor", func() any {
		return map[string]any{
			"workers":  r.executor.NumWorkers(),
			"pending":  r.executor.Pending(),
			"executed": r.executor.Executed(),
			"panics":   r.executor.Panics(),
		}
	})
	r.probes.RegisterProbe("scheduler", func() any { return r.scheduler.Pending() })
	r.probes.RegisterProbe("channels", func() any {
		r.mu.Lock()
		defer r.mu.Unlock()
		n := 0
		for _, s := range r.servers {
			n += s.Set().Len()
		}
		return map[string]int{"server": n, "client": len(r.clients)}
	})
	r.probes.RegisterProbe("responses", func() any {
		pending := 0
		for _, ch := range r.channels() {
			pending += ch.Responses().Pending()
		}
		return pending
	})
}

func (r *Runtime) channels() []*channel.Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*channel.Channel
	for _, s := range r.servers {
		out = append(out, s.Channels()...)
	}
	for c := range r.clients {
		out = append(out, c.Channel())
	}
	return out
}

// applyReload adopts the reloadable parts of cfg: log level and worker
// count. Codec and pool settings need a new Runtime.
func (r *Runtime) applyReload(cfg *control.Config) {
	if err := control.SetLevel(r.level, cfg.Log.Level); err != nil {
		r.log.Warn("reload: log level", zap.Error(err))
	}
	if n := workers(cfg); n != r.executor.NumWorkers() {
		r.executor.Resize(n)
	}
	r.log.Info("configuration reloaded", zap.String("level", cfg.Log.Level), zap.Int("workers", r.executor.NumWorkers()))
}

// Reload validates cfg and applies it synchronously.
func (r *Runtime) Reload(cfg *control.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	r.reloader.TriggerSync(cfg)
	return nil
}

// WatchConfig applies every valid change of the file loader was loaded from.
func (r *Runtime) WatchConfig(loader *control.Loader) {
	loader.Watch(r.reloader, func(err error) {
		r.log.Warn("rejected configuration change", zap.Error(err))
	})
}

func (r *Runtime) Config() *control.Config          { return r.cfg }
func (r *Runtime) Logger() *zap.Logger              { return r.log }
func (r *Runtime) Metrics() *control.Metrics        { return r.metrics }
func (r *Runtime) Registry() *prometheus.Registry   { return r.registry }
func (r *Runtime) Executor() *concurrency.Executor  { return r.executor }
func (r *Runtime) Scheduler() *concurrency.Scheduler { return r.scheduler }
func (r *Runtime) Pool() *pool.BufferPool           { return r.pool }
func (r *Runtime) Container() protocol.Container    { return r.container }
func (r *Runtime) Codec() *protocol.Codec           { return r.codec }
func (r *Runtime) Runner() *task.Runner             { return r.runner }
func (r *Runtime) Reloader() *control.Reloader      { return r.reloader }

// Submit dispatches a task to the executor pool for asynchronous execution.
func (r *Runtime) Submit(fn func()) error { return r.executor.Submit(fn) }

// DumpState returns all probe snapshots.
func (r *Runtime) DumpState() map[string]any { return r.probes.DumpState() }

// RegisterProbe adds a named debug probe.
func (r *Runtime) RegisterProbe(name string, fn func() any) { r.probes.RegisterProbe(name, fn) }

// baseChannelOptions wires the shared executor, scheduler, runner, logger
// and metrics into a channel.
func (r *Runtime) baseChannelOptions() []channel.Option {
	opts := []channel.Option{
		channel.WithExecutor(r.executor),
		channel.WithScheduler(r.scheduler),
		channel.WithRunner(r.runner),
		channel.WithLogger(r.log),
		channel.WithObserver(r.metrics),
		channel.WithResponseObserver(r.metrics),
	}
	if r.events != nil {
		opts = append(opts, channel.WithListener(channel.EventListener(r.events)))
	}
	return opts
}

// ChannelOptions returns the options for a channel built by hand,
// including the configured response timeout and socket options.
func (r *Runtime) ChannelOptions() []channel.Option {
	opts := append(r.baseChannelOptions(), channel.WithResponseTimeout(r.cfg.Response.Timeout))
	for opt, v := range r.topts {
		opts = append(opts, channel.WithTransportOption(opt, v))
	}
	return opts
}

// NewChannel builds a channel on the runtime's codec.
func (r *Runtime) NewChannel(opts ...channel.Option) *channel.Channel {
	return channel.New(r.codec, append(r.ChannelOptions(), opts...)...)
}

// NewServer builds a server from the server section.
func (r *Runtime) NewServer(opts ...server.ServerOption) (*server.Server, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, server.ErrServerClosed
	}
	sc := &server.Config{
		MaxClients:           r.cfg.Server.MaxClients,
		UDPReceiveBufferSize: r.cfg.Server.UDPReceiveBufferSize,
		ResponseTimeout:      r.cfg.Response.Timeout,
		OpenTimeout:          r.cfg.Server.OpenTimeout,
		ChannelOptions:       r.topts,
	}
	base := []server.ServerOption{
		server.WithChannelOptions(r.baseChannelOptions()...),
		server.WithLogger(r.log.Named("server")),
		server.WithObserver(r.metrics),
	}
	s := server.NewServer(r.codec, sc, append(base, opts...)...)
	r.servers = append(r.servers, s)
	return s, nil
}

// NewClient builds an unconnected client. Unset fields of cfg take the
// runtime's response timeout, UDP buffer size and socket options.
func (r *Runtime) NewClient(cfg *client.Config, opts ...client.Option) (*client.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, channel.ErrClosed
	}
	if cfg == nil {
		cfg = client.DefaultConfig()
	}
	c := *cfg
	if c.ResponseTimeout <= 0 {
		c.ResponseTimeout = r.cfg.Response.Timeout
	}
	if c.UDPReceiveBufferSize <= 0 {
		c.UDPReceiveBufferSize = r.cfg.Server.UDPReceiveBufferSize
	}
	if c.ChannelOptions == nil {
		c.ChannelOptions = r.topts
	}
	base := []client.Option{
		client.WithChannelOptions(r.baseChannelOptions()...),
		client.WithLogger(r.log.Named("client")),
	}
	cl := client.New(r.codec, &c, append(base, opts...)...)
	r.clients[cl] = struct{}{}
	cl.RegisterHandler(&forget{r: r, c: cl})
	return cl, nil
}

// Dial builds a client and connects it.
func (r *Runtime) Dial(ctx context.Context, cfg *client.Config, opts ...client.Option) (*client.Client, error) {
	c, err := r.NewClient(cfg, opts...)
	if err != nil {
		return nil, err
	}
	if err := c.Connect(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// forget drops a closed client from the runtime's table.
type forget struct {
	r *Runtime
	c *client.Client
}

func (f *forget) OnConnect()    {}
func (f *forget) OnError(error) {}
func (f *forget) OnClose() {
	f.r.mu.Lock()
	delete(f.r.clients, f.c)
	f.r.mu.Unlock()
}

// Shutdown closes every server and client, then drains the scheduler and
// executor. It is idempotent.
func (r *Runtime) Shutdown() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	servers := r.servers
	clients := make([]*client.Client, 0, len(r.clients))
	for c := range r.clients {
		clients = append(clients, c)
	}
	r.mu.Unlock()

	var errs []error
	for _, s := range servers {
		if err := s.Shutdown(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, c := range clients {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	r.scheduler.Close()
	r.executor.Close()
	r.log.Info("runtime stopped")
	_ = r.log.Sync()
	return errors.Join(errs...)
}

// Close is an alias for Shutdown.
func (r *Runtime) Close() error { return r.Shutdown() }
