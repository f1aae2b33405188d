// File: channel/channel.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Channel binds up to two transports (reliable and unreliable) to one peer.
// Outbound packets are encoded synchronously and written by a lazy send
// task; inbound bytes are reassembled, decoded, matched against pending
// responses and dispatched to packet handlers in arrival order.

package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/momentics/hioload-pkt/api"
	"github.com/momentics/hioload-pkt/core/concurrency"
	"github.com/momentics/hioload-pkt/pool"
	"github.com/momentics/hioload-pkt/protocol"
	"github.com/momentics/hioload-pkt/response"
	"github.com/momentics/hioload-pkt/task"
)

var (
	// ErrClosed is returned by operations on a channel after Close.
	ErrClosed = errors.New("channel: closed")
	// ErrNotOpen is returned when sending on a sub-channel that is not open.
	ErrNotOpen = errors.New("channel: sub-channel not open")
	// ErrNoTransport is returned when no transport is attached for a kind.
	ErrNoTransport = errors.New("channel: no transport attached")
	// ErrDiscarded fails a send whose frame was released before it ran.
	ErrDiscarded = errors.New("channel: send discarded")
)

// inboundReserve is the initial capacity of a reassembly buffer.
const inboundReserve = 4096

type sub struct {
	kind  api.TransportKind
	t     api.Transport
	state atomic.Int32
	lane  *concurrency.Serial

	sendMu sync.Mutex

	recvMu  sync.Mutex
	inbound *pool.Buffer
}

func (s *sub) get() api.ChannelState { return api.ChannelState(s.state.Load()) }

func (s *sub) cas(from, to api.ChannelState) bool {
	return s.state.CompareAndSwap(int32(from), int32(to))
}

// Channel is one logical peer connection. It is safe for concurrent use.
type Channel struct {
	id    string
	side  api.Side
	codec *protocol.Codec

	exec    api.Executor
	sched   api.Scheduler
	runner  *task.Runner
	log     *zap.Logger
	obs     Observer
	respObs response.Observer
	timeout time.Duration
	topts   map[api.ChannelOption]any

	responses *response.Manager
	listeners listeners

	mu     sync.RWMutex
	subs   [len(api.TransportKinds)]*sub
	closed atomic.Bool
}

// New creates a closed channel that encodes and decodes with codec.
func New(codec *protocol.Codec, opts ...Option) *Channel {
	c := &Channel{
		id:    uuid.NewString(),
		codec: codec,
		log:   zap.NewNop(),
		obs:   nopObserver{},
	}
	for _, o := range opts {
		o(c)
	}
	if c.runner == nil {
		c.runner = task.NewRunner(c.exec, c.sched)
	}
	c.log = c.log.With(zap.String("channel", c.id), zap.Stringer("side", c.side))
	ropts := []response.Option{
		response.WithScheduler(c.sched),
		response.WithDefaultTimeout(c.timeout),
		response.WithLogger(c.log),
	}
	if c.respObs != nil {
		ropts = append(ropts, response.WithObserver(c.respObs))
	}
	c.responses = response.NewManager(ropts...)
	return c
}

func (c *Channel) ID() string                   { return c.id }
func (c *Channel) Side() api.Side               { return c.side }
func (c *Channel) Codec() *protocol.Codec       { return c.codec }
func (c *Channel) Responses() *response.Manager { return c.responses }
func (c *Channel) Runner() *task.Runner         { return c.runner }

// AddListener registers l and returns a function removing it.
func (c *Channel) AddListener(l Listener) (remove func()) { return c.listeners.add(l) }

// Attach binds t to the sub-channel of its kind. A previous transport of
// the same kind may only be replaced while that sub-channel is closed.
func (c *Channel) Attach(t api.Transport) error {
	if t == nil {
		return api.NewError(api.ErrCodeInvalidArgument, "nil transport")
	}
	if c.closed.Load() {
		return ErrClosed
	}
	kind := t.Kind()
	if int(kind) >= len(c.subs) {
		return api.NewError(api.ErrCodeInvalidArgument, "unknown transport kind").WithContext("kind", int(kind))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if old := c.subs[kind]; old != nil && old.get() != api.StateClosed {
		return api.NewError(api.ErrCodeAlreadyExists, "sub-channel in use").
			WithContext("kind", kind.String()).
			WithContext("state", old.get().String())
	}
	c.subs[kind] = &sub{
		kind: kind,
		t:    t,
		lane: concurrency.NewSerial(c.exec, func(r any) {
			c.log.Error("packet handler panicked", zap.Stringer("kind", kind), zap.Any("panic", r))
		}),
	}
	return nil
}

// Transport returns the transport attached for kind.
func (c *Channel) Transport(kind api.TransportKind) (api.Transport, bool) {
	s := c.sub(kind)
	if s == nil {
		return nil, false
	}
	return s.t, true
}

func (c *Channel) sub(kind api.TransportKind) *sub {
	if int(kind) >= len(c.subs) {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subs[kind]
}

func (c *Channel) attached() []*sub {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*sub, 0, len(c.subs))
	for _, s := range c.subs {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// Open opens every attached, closed sub-channel. Options recorded with
// WithTransportOption are validated and applied first. If one sub-channel
// fails to open, the ones opened by this call are closed again.
func (c *Channel) Open(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	subs := c.attached()
	if len(subs) == 0 {
		return ErrNoTransport
	}
	for opt := range c.topts {
		supported := false
		for _, s := range subs {
			supported = supported || opt.SupportedBy(s.kind)
		}
		if !supported {
			return unsupported(opt)
		}
	}
	var opened []*sub
	for _, s := range subs {
		if s.get() != api.StateClosed {
			continue
		}
		if err := c.openSub(ctx, s); err != nil {
			for _, o := range opened {
				c.closeSub(o, err, true)
			}
			return err
		}
		opened = append(opened, s)
	}
	return nil
}

func (c *Channel) openSub(ctx context.Context, s *sub) error {
	if !s.cas(api.StateClosed, api.StateOpening) {
		return fmt.Errorf("%w: %s is %s", ErrNotOpen, s.kind, s.get())
	}
	for opt, value := range c.topts {
		if !opt.SupportedBy(s.kind) {
			continue
		}
		v, err := opt.Validate(s.kind, value)
		if err == nil {
			err = s.t.SetOption(opt, v)
		}
		if err != nil {
			s.state.Store(int32(api.StateClosed))
			return err
		}
	}
	s.recvMu.Lock()
	if s.kind == api.Reliable && s.inbound == nil {
		s.inbound = c.codec.Pool().Acquire(inboundReserve)
	}
	s.recvMu.Unlock()

	if err := s.t.Open(ctx, c); err != nil {
		c.releaseInbound(s)
		s.state.Store(int32(api.StateClosed))
		return fmt.Errorf("channel: open %s: %w", s.kind, err)
	}
	c.markOpen(s)
	return nil
}

func (c *Channel) markOpen(s *sub) {
	if !s.cas(api.StateOpening, api.StateOpen) {
		return
	}
	c.log.Info("sub-channel open", zap.Stringer("kind", s.kind))
	c.listeners.each(func(l Listener) { l.Opened(c, s.kind) })
}

// IsOpen reports whether either sub-channel is open.
func (c *Channel) IsOpen() bool {
	for _, s := range c.attached() {
		if s.get() == api.StateOpen {
			return true
		}
	}
	return false
}

// State returns the lifecycle state of one sub-channel.
func (c *Channel) State(kind api.TransportKind) api.ChannelState {
	s := c.sub(kind)
	if s == nil {
		return api.StateClosed
	}
	return s.get()
}

// SendReliable encodes p and returns a task writing it on the reliable
// sub-channel.
func (c *Channel) SendReliable(p protocol.Packet, reg *protocol.Registry) (*task.Task[protocol.Packet], error) {
	return c.SendOn(api.Reliable, p, reg)
}

// SendUnreliable encodes p and returns a task writing it on the
// unreliable sub-channel.
func (c *Channel) SendUnreliable(p protocol.Packet, reg *protocol.Registry) (*task.Task[protocol.Packet], error) {
	return c.SendOn(api.Unreliable, p, reg)
}

// Send uses the reliable sub-channel when it is open and the unreliable
// one otherwise.
func (c *Channel) Send(p protocol.Packet, reg *protocol.Registry) (*task.Task[protocol.Packet], error) {
	if c.State(api.Reliable) == api.StateOpen {
		return c.SendOn(api.Reliable, p, reg)
	}
	return c.SendOn(api.Unreliable, p, reg)
}

// SendOn encodes p before returning; encode and state errors are returned
// directly. Nothing reaches the transport until the task is performed. The
// encoded frame stays checked out of the pool until the task runs or is
// resolved through Fail; failing a task that will never be performed is
// how a caller discards the frame.
func (c *Channel) SendOn(kind api.TransportKind, p protocol.Packet, reg *protocol.Registry) (*task.Task[protocol.Packet], error) {
	t, _, err := c.sendOn(kind, p, reg)
	return t, err
}

func (c *Channel) sendOn(kind api.TransportKind, p protocol.Packet, reg *protocol.Registry) (*task.Task[protocol.Packet], *pendingFrame, error) {
	s, err := c.ready(kind)
	if err != nil {
		return nil, nil, err
	}
	buf, err := c.codec.EncodeToBuffer(p, reg)
	if err != nil {
		return nil, nil, err
	}
	frame := &pendingFrame{buf: buf}
	t := task.Supply(c.runner, func() (protocol.Packet, error) {
		if !frame.claim() {
			return nil, ErrDiscarded
		}
		defer frame.finish()
		if err := c.write(s, frame.buf.Bytes()); err != nil {
			return nil, err
		}
		c.listeners.each(func(l Listener) { l.PacketSent(c, kind, p) })
		return p, nil
	})
	t.Future().OnComplete(func(protocol.Packet, error) { frame.discard() })
	return t, frame, nil
}

const (
	frameIdle int32 = iota
	frameWriting
	frameDone
)

// pendingFrame is an encoded frame waiting for its send stage. Exactly one
// of the stage or a discard releases it.
type pendingFrame struct {
	buf   *pool.Buffer
	state atomic.Int32
}

func (f *pendingFrame) claim() bool { return f.state.CompareAndSwap(frameIdle, frameWriting) }

func (f *pendingFrame) finish() {
	f.buf.Release()
	f.state.Store(frameDone)
}

func (f *pendingFrame) discard() {
	if f.state.CompareAndSwap(frameIdle, frameDone) {
		f.buf.Release()
	}
}

// SendWithResponse registers p for correlation, then sends it on kind. The
// returned task resolves with the matching response context, or fails with
// response.ErrTimeout once timeout elapses. A non-positive timeout uses the
// channel default. The timer starts now, not when the task is performed.
func (c *Channel) SendWithResponse(kind api.TransportKind, p protocol.Packet, reg *protocol.Registry, timeout time.Duration) (*task.Task[*protocol.Context], error) {
	if _, err := c.ready(kind); err != nil {
		return nil, err
	}
	fut := task.NewFuture[*protocol.Context]()
	id, err := c.responses.Submit(p, timeout, fut)
	if err != nil {
		return nil, err
	}
	sent, frame, err := c.sendOn(kind, p, reg)
	if err != nil {
		c.responses.Cancel(id, err)
		return nil, err
	}
	sent.Future().OnComplete(func(_ protocol.Packet, err error) {
		if err != nil {
			c.responses.Cancel(id, err)
		}
	})
	resp := task.Compose(sent, func(protocol.Packet) (*task.Task[*protocol.Context], error) {
		return task.FromFuture(c.runner, fut), nil
	})
	resp.Future().OnComplete(func(_ *protocol.Context, err error) {
		frame.discard()
		if err != nil {
			c.responses.Cancel(id, err)
		}
	})
	return resp, nil
}

// Respond sends p on kind and starts the write immediately. It implements
// protocol.Replier for handler replies.
func (c *Channel) Respond(kind api.TransportKind, reg *protocol.Registry, p protocol.Packet) error {
	t, err := c.SendOn(kind, p, reg)
	if err != nil {
		return err
	}
	t.Perform()
	return nil
}

// SendFrame writes an already encoded frame synchronously.
func (c *Channel) SendFrame(kind api.TransportKind, frame []byte) error {
	s, err := c.ready(kind)
	if err != nil {
		return err
	}
	return c.write(s, frame)
}

func (c *Channel) ready(kind api.TransportKind) (*sub, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	s := c.sub(kind)
	if s == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoTransport, kind)
	}
	if st := s.get(); st != api.StateOpen {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotOpen, kind, st)
	}
	return s, nil
}

func (c *Channel) write(s *sub, b []byte) error {
	if st := s.get(); st != api.StateOpen {
		return fmt.Errorf("%w: %s is %s", ErrNotOpen, s.kind, st)
	}
	s.sendMu.Lock()
	err := s.t.Send(b)
	s.sendMu.Unlock()
	if err != nil {
		return fmt.Errorf("channel: send %s: %w", s.kind, err)
	}
	c.obs.FrameSent(s.kind, len(b))
	return nil
}

// Flush forces buffered bytes out on every open sub-channel.
func (c *Channel) Flush() error {
	var errs []error
	for _, s := range c.attached() {
		if s.get() != api.StateOpen {
			continue
		}
		s.sendMu.Lock()
		err := s.t.Flush()
		s.sendMu.Unlock()
		if err != nil {
			errs = append(errs, fmt.Errorf("channel: flush %s: %w", s.kind, err))
		}
	}
	return errors.Join(errs...)
}

// SetOption applies opt to every attached transport supporting it. An
// option no attached transport supports is an error.
func (c *Channel) SetOption(opt api.ChannelOption, value any) error {
	applied := false
	for _, s := range c.attached() {
		if !opt.SupportedBy(s.kind) {
			continue
		}
		if err := c.setOn(s, opt, value); err != nil {
			return err
		}
		applied = true
	}
	if !applied {
		return unsupported(opt)
	}
	return nil
}

// SetOptionOn applies opt to the transport of one kind.
func (c *Channel) SetOptionOn(kind api.TransportKind, opt api.ChannelOption, value any) error {
	s := c.sub(kind)
	if s == nil {
		return fmt.Errorf("%w: %s", ErrNoTransport, kind)
	}
	return c.setOn(s, opt, value)
}

func (c *Channel) setOn(s *sub, opt api.ChannelOption, value any) error {
	v, err := opt.Validate(s.kind, value)
	if err != nil {
		return err
	}
	return s.t.SetOption(opt, v)
}

// Option reads an option back from the transport of kind.
func (c *Channel) Option(kind api.TransportKind, opt api.ChannelOption) (any, error) {
	s := c.sub(kind)
	if s == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoTransport, kind)
	}
	if !opt.SupportedBy(kind) {
		return nil, unsupported(opt)
	}
	return s.t.Option(opt)
}

func unsupported(opt api.ChannelOption) error {
	return api.NewError(api.ErrCodeNotSupported, "option not supported by any attached transport").
		Wrap(api.ErrUnsupportedOption).
		WithContext("option", opt.String())
}

// Close closes both sub-channels and fails pending responses with
// response.ErrClosed. A closed channel cannot be reopened.
func (c *Channel) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	var errs []error
	for _, s := range c.attached() {
		if err := c.closeSub(s, nil, true); err != nil {
			errs = append(errs, err)
		}
	}
	c.responses.Close()
	return errors.Join(errs...)
}

// CloseSub closes one sub-channel, leaving the other untouched.
func (c *Channel) CloseSub(kind api.TransportKind) error {
	s := c.sub(kind)
	if s == nil {
		return fmt.Errorf("%w: %s", ErrNoTransport, kind)
	}
	return c.closeSub(s, nil, true)
}

// closeSub moves s to closed. When no sub-channel is left open, pending
// responses are failed since nothing can answer them.
func (c *Channel) closeSub(s *sub, cause error, closeTransport bool) error {
	for {
		st := s.get()
		if st == api.StateClosed || st == api.StateClosing {
			return nil
		}
		if s.cas(st, api.StateClosing) {
			break
		}
	}
	var err error
	if closeTransport {
		err = s.t.Close()
	}
	c.releaseInbound(s)
	s.state.Store(int32(api.StateClosed))

	if cause != nil {
		c.log.Info("sub-channel closed", zap.Stringer("kind", s.kind), zap.Error(cause))
	} else {
		c.log.Info("sub-channel closed", zap.Stringer("kind", s.kind))
	}
	c.listeners.each(func(l Listener) { l.Closed(c, s.kind, cause) })
	if !c.IsOpen() {
		c.responses.FailPending(response.ErrClosed)
	}
	return err
}

func (c *Channel) releaseInbound(s *sub) {
	s.recvMu.Lock()
	if s.inbound != nil {
		s.inbound.Release()
		s.inbound = nil
	}
	s.recvMu.Unlock()
}

// Connected implements api.TransportSink.
func (c *Channel) Connected(kind api.TransportKind) {
	if s := c.sub(kind); s != nil {
		c.markOpen(s)
	}
}

// Disconnected implements api.TransportSink.
func (c *Channel) Disconnected(kind api.TransportKind, err error) {
	if s := c.sub(kind); s != nil {
		c.closeSub(s, err, false)
	}
}

// Deliver implements api.TransportSink. Reliable bytes are appended to the
// reassembly buffer and decoded frame by frame; each unreliable datagram is
// decoded on its own. A protocol violation closes the sub-channel.
func (c *Channel) Deliver(kind api.TransportKind, data []byte) {
	s := c.sub(kind)
	if s == nil {
		return
	}
	switch s.get() {
	case api.StateOpening:
		c.markOpen(s)
	case api.StateOpen:
	default:
		return
	}

	var (
		ctxs []*protocol.Context
		perr error
	)
	if kind == api.Unreliable {
		ctxs, perr = c.decodeDatagram(data)
	} else {
		s.recvMu.Lock()
		if s.inbound == nil {
			s.recvMu.Unlock()
			return
		}
		s.inbound.WriteBytes(data)
		ctxs, perr = c.decodeAll(kind, s.inbound)
		if perr == nil {
			s.inbound.DiscardReadBytes()
		}
		s.recvMu.Unlock()
	}

	for _, ctx := range ctxs {
		c.dispatch(s, ctx)
	}
	if perr != nil {
		c.violation(s, perr)
	}
}

func (c *Channel) decodeAll(kind api.TransportKind, src *pool.Buffer) ([]*protocol.Context, error) {
	var out []*protocol.Context
	for {
		before := src.ReaderIndex()
		ctx, ok, err := c.codec.Decode(src)
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		c.obs.FrameReceived(kind, src.ReaderIndex()-before)
		out = append(out, ctx)
	}
}

func (c *Channel) decodeDatagram(data []byte) ([]*protocol.Context, error) {
	src := pool.Wrap(data)
	out, err := c.decodeAll(api.Unreliable, src)
	if err == nil && src.Readable() > 0 {
		c.log.Debug("dropping truncated datagram tail", zap.Int("bytes", src.Readable()))
	}
	return out, err
}

func (c *Channel) dispatch(s *sub, ctx *protocol.Context) {
	ctx.Side = c.side
	ctx.Channel = c
	ctx.Kind = s.kind
	err := s.lane.Submit(func() {
		c.responses.Success(ctx)
		c.listeners.each(func(l Listener) { l.PacketReceived(c, ctx) })
		if h := ctx.Handler(); h != nil {
			h(ctx)
		}
	})
	if err != nil {
		c.log.Warn("dropping inbound packet", zap.Stringer("kind", s.kind), zap.Error(err))
	}
}

func (c *Channel) violation(s *sub, err error) {
	reason := "malformed"
	var perr *protocol.ProtocolError
	if errors.As(err, &perr) {
		reason = perr.Reason()
	}
	c.obs.ProtocolError(reason)
	c.log.Warn("protocol violation, closing sub-channel",
		zap.Stringer("kind", s.kind),
		zap.String("reason", reason),
		zap.Error(err))
	c.closeSub(s, err, true)
}

// String identifies the channel in logs.
func (c *Channel) String() string {
	return fmt.Sprintf("channel(%s %s)", c.side, c.id)
}
