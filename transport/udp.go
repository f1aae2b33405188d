// File: transport/udp.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-pkt/api"
	"github.com/momentics/hioload-pkt/pool"
)

// datagram is one received payload in a pooled buffer.
type datagram struct {
	buf *[]byte
	n   int
}

// UDPTransport carries the unreliable sub-channel. A dialed transport owns
// a connected socket and reads it directly; a transport handed out by a
// UDPListener shares the listener's socket and is fed by its reader.
// Every Send is one datagram; Flush is a no-op.
type UDPTransport struct {
	conn   *net.UDPConn
	remote *net.UDPAddr
	owner  *UDPListener
	bufs   api.ObjectPool[*[]byte]
	opts   optionSet

	idle atomic.Int64 // so_timeout in ms

	mu    sync.Mutex
	state atomic.Int32
	sink  api.TransportSink
	inbox chan datagram
	done  chan struct{}
}

// DialUDP connects a UDP socket to addr. readBuf sizes datagram reads;
// zero selects api.DefaultUDPReceiveBufferSize.
func DialUDP(ctx context.Context, network, addr string, readBuf int) (*UDPTransport, error) {
	if readBuf <= 0 {
		readBuf = api.DefaultUDPReceiveBufferSize
	}
	var d net.Dialer
	c, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	uc, ok := c.(*net.UDPConn)
	if !ok {
		_ = c.Close()
		return nil, api.NewError(api.ErrCodeInvalidArgument, "not a udp network").WithContext("network", network)
	}
	return &UDPTransport{
		conn: uc,
		bufs: pool.NewByteSlicePool(readBuf),
		done: make(chan struct{}),
	}, nil
}

func (t *UDPTransport) Kind() api.TransportKind { return api.Unreliable }

// LocalAddr returns the local socket address.
func (t *UDPTransport) LocalAddr() net.Addr { return t.conn.LocalAddr() }

// RemoteAddr returns the peer address.
func (t *UDPTransport) RemoteAddr() net.Addr {
	if t.remote != nil {
		return t.remote
	}
	return t.conn.RemoteAddr()
}

// Open starts delivery to sink. ctx only bounds the open step.
func (t *UDPTransport) Open(ctx context.Context, sink api.TransportSink) error {
	if sink == nil {
		return api.NewError(api.ErrCodeInvalidArgument, "nil sink")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	switch t.state.Load() {
	case stateOpen:
		t.mu.Unlock()
		return api.NewError(api.ErrCodeAlreadyExists, "transport already open")
	case stateClosed:
		t.mu.Unlock()
		return api.ErrTransportClosed
	}
	t.sink = sink
	t.state.Store(stateOpen)
	t.mu.Unlock()

	sink.Connected(api.Unreliable)
	if t.owner != nil {
		go t.drainLoop(sink)
	} else {
		go t.readLoop(sink)
	}
	return nil
}

func (t *UDPTransport) readLoop(sink api.TransportSink) {
	bp := t.bufs.Get()
	defer t.bufs.Put(bp)
	buf := *bp
	for {
		if ms := t.idle.Load(); ms > 0 {
			_ = t.conn.SetReadDeadline(time.Now().Add(time.Duration(ms) * time.Millisecond))
		}
		n, err := t.conn.Read(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || errors.Is(err, os.ErrDeadlineExceeded) {
				t.finish(err)
				return
			}
			// ICMP errors such as port unreachable surface here; the
			// datagram path stays up.
			continue
		}
		sink.Deliver(api.Unreliable, buf[:n])
	}
}

func (t *UDPTransport) drainLoop(sink api.TransportSink) {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		var idle <-chan time.Time
		if ms := t.idle.Load(); ms > 0 {
			d := time.Duration(ms) * time.Millisecond
			if timer == nil {
				timer = time.NewTimer(d)
			} else {
				timer.Reset(d)
			}
			idle = timer.C
		}
		select {
		case dg := <-t.inbox:
			if timer != nil && !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			sink.Deliver(api.Unreliable, (*dg.buf)[:dg.n])
			t.bufs.Put(dg.buf)
		case <-idle:
			t.finish(os.ErrDeadlineExceeded)
			t.discardInbox()
			return
		case <-t.done:
			t.discardInbox()
			return
		}
	}
}

// discardInbox returns queued datagrams that will never be delivered.
func (t *UDPTransport) discardInbox() {
	for {
		select {
		case dg := <-t.inbox:
			t.bufs.Put(dg.buf)
		default:
			return
		}
	}
}

// enqueue hands a datagram from the listener to this peer, dropping it
// when the peer is gone or its inbox is full.
func (t *UDPTransport) enqueue(dg datagram) {
	select {
	case <-t.done:
		t.bufs.Put(dg.buf)
		return
	default:
	}
	select {
	case t.inbox <- dg:
	default:
		t.bufs.Put(dg.buf)
	}
}

func (t *UDPTransport) finish(cause error) {
	t.mu.Lock()
	if t.state.Load() == stateClosed {
		t.mu.Unlock()
		return
	}
	t.state.Store(stateClosed)
	sink := t.sink
	close(t.done)
	t.mu.Unlock()

	if t.owner != nil {
		t.owner.forget(t)
	} else {
		_ = t.conn.Close()
	}
	if sink != nil {
		sink.Disconnected(api.Unreliable, cause)
	} else {
		t.discardInbox()
	}
}

// Send writes p as one datagram.
func (t *UDPTransport) Send(p []byte) error {
	if t.state.Load() != stateOpen {
		return api.ErrTransportClosed
	}
	var err error
	if t.remote != nil {
		_, err = t.conn.WriteToUDP(p, t.remote)
	} else {
		_, err = t.conn.Write(p)
	}
	return err
}

// Flush is a no-op: datagrams are never buffered.
func (t *UDPTransport) Flush() error {
	if t.state.Load() != stateOpen {
		return api.ErrTransportClosed
	}
	return nil
}

// Close reports a local disconnect. A listener-owned transport leaves the
// shared socket open.
func (t *UDPTransport) Close() error {
	t.mu.Lock()
	if t.state.Load() == stateClosed {
		t.mu.Unlock()
		return nil
	}
	t.state.Store(stateClosed)
	sink := t.sink
	close(t.done)
	t.mu.Unlock()

	var err error
	if t.owner != nil {
		t.owner.forget(t)
	} else if err = t.conn.Close(); errors.Is(err, net.ErrClosed) {
		err = nil
	}
	if sink != nil {
		sink.Disconnected(api.Unreliable, nil)
	} else {
		t.discardInbox()
	}
	return err
}

// SetOption validates value and applies it. On a listener-owned
// transport socket-level options affect the shared socket.
func (t *UDPTransport) SetOption(opt api.ChannelOption, value any) error {
	v, err := opt.Validate(api.Unreliable, value)
	if err != nil {
		return err
	}
	switch opt {
	case api.OptSoTimeout:
		t.idle.Store(int64(v.(int)))
		if v.(int) == 0 && t.owner == nil {
			err = t.conn.SetReadDeadline(time.Time{})
		}
	case api.OptReceiveBufferSize:
		err = t.conn.SetReadBuffer(v.(int))
	case api.OptSendBufferSize:
		err = t.conn.SetWriteBuffer(v.(int))
	default:
		err = setRawOption(t.conn, opt, v)
	}
	if err != nil {
		return err
	}
	t.opts.store(opt, v)
	return nil
}

// Option returns the last value set for opt.
func (t *UDPTransport) Option(opt api.ChannelOption) (any, error) {
	return t.opts.load(api.Unreliable, opt)
}

// UDPListener demultiplexes one UDP socket into per-peer transports keyed
// by remote address. A datagram from an unknown address creates a peer
// that Accept hands out; datagrams that arrive before the peer is opened
// are queued in its inbox.
type UDPListener struct {
	conn    *net.UDPConn
	bufs    api.ObjectPool[*[]byte]
	accepts chan *UDPTransport
	done    chan struct{}

	mu     sync.Mutex
	peers  map[string]*UDPTransport
	closed bool
}

// ListenUDP binds addr. readBuf sizes datagram reads; zero selects
// api.DefaultUDPReceiveBufferSize.
func ListenUDP(network, addr string, readBuf int) (*UDPListener, error) {
	if readBuf <= 0 {
		readBuf = api.DefaultUDPReceiveBufferSize
	}
	return listenUDP(network, addr, pool.NewByteSlicePool(readBuf))
}

func listenUDP(network, addr string, bufs api.ObjectPool[*[]byte]) (*UDPListener, error) {
	lc := net.ListenConfig{Control: listenControl}
	pc, err := lc.ListenPacket(context.Background(), network, addr)
	if err != nil {
		return nil, err
	}
	l := &UDPListener{
		conn:    pc.(*net.UDPConn),
		bufs:    bufs,
		accepts: make(chan *UDPTransport, udpBacklog),
		done:    make(chan struct{}),
		peers:   make(map[string]*UDPTransport),
	}
	go l.readLoop()
	return l, nil
}

// Addr returns the bound address.
func (l *UDPListener) Addr() net.Addr { return l.conn.LocalAddr() }

func (l *UDPListener) readLoop() {
	for {
		bp := l.bufs.Get()
		n, from, err := l.conn.ReadFromUDP(*bp)
		if err != nil {
			l.bufs.Put(bp)
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}
		l.route(from, datagram{buf: bp, n: n})
	}
}

func (l *UDPListener) route(from *net.UDPAddr, dg datagram) {
	key := from.String()
	l.mu.Lock()
	p, ok := l.peers[key]
	if !ok {
		if l.closed {
			l.mu.Unlock()
			l.bufs.Put(dg.buf)
			return
		}
		p = &UDPTransport{
			conn:   l.conn,
			remote: from,
			owner:  l,
			bufs:   l.bufs,
			inbox:  make(chan datagram, udpPeerInbox),
			done:   make(chan struct{}),
		}
		select {
		case l.accepts <- p:
			l.peers[key] = p
		default:
			l.mu.Unlock()
			l.bufs.Put(dg.buf)
			return
		}
	}
	l.mu.Unlock()
	p.enqueue(dg)
}

func (l *UDPListener) forget(t *UDPTransport) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.peers[t.remote.String()]; ok && cur == t {
		delete(l.peers, t.remote.String())
	}
}

// Accept returns the next peer seen on the socket.
func (l *UDPListener) Accept(ctx context.Context) (api.Transport, error) {
	select {
	case p := <-l.accepts:
		return p, nil
	case <-l.done:
		return nil, net.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close shuts the socket and disconnects every peer with net.ErrClosed.
func (l *UDPListener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.done)
	peers := make([]*UDPTransport, 0, len(l.peers))
	for _, p := range l.peers {
		peers = append(peers, p)
	}
	l.mu.Unlock()

	err := l.conn.Close()
	for _, p := range peers {
		p.finish(net.ErrClosed)
	}
	return err
}
