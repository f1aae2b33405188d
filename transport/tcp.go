// File: transport/tcp.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-pkt/api"
	"github.com/momentics/hioload-pkt/pool"
)

// closeFlushTimeout bounds the final flush on Close.
const closeFlushTimeout = time.Second

// TCPTransport carries the reliable sub-channel over one TCP connection.
// Writes go through a bufio.Writer; with no_delay enabled (the default)
// every Send is flushed, otherwise bytes accumulate until Flush or until
// the buffer fills.
type TCPTransport struct {
	conn *net.TCPConn
	bufs api.ObjectPool[*[]byte]
	opts optionSet

	wmu       sync.Mutex
	w         *bufio.Writer
	autoFlush bool

	idle atomic.Int64 // so_timeout in ms

	mu    sync.Mutex
	state atomic.Int32
	sink  api.TransportSink
}

func newTCPTransport(c *net.TCPConn, bufs api.ObjectPool[*[]byte]) *TCPTransport {
	_ = c.SetNoDelay(true)
	return &TCPTransport{
		conn:      c,
		bufs:      bufs,
		w:         bufio.NewWriterSize(c, DefaultReadBufferSize),
		autoFlush: true,
	}
}

// DialTCP connects to addr and returns an unopened transport.
func DialTCP(ctx context.Context, network, addr string) (*TCPTransport, error) {
	var d net.Dialer
	c, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	tc, ok := c.(*net.TCPConn)
	if !ok {
		_ = c.Close()
		return nil, api.NewError(api.ErrCodeInvalidArgument, "not a tcp network").WithContext("network", network)
	}
	return newTCPTransport(tc, pool.NewByteSlicePool(DefaultReadBufferSize)), nil
}

func (t *TCPTransport) Kind() api.TransportKind { return api.Reliable }

// LocalAddr returns the local socket address.
func (t *TCPTransport) LocalAddr() net.Addr { return t.conn.LocalAddr() }

// RemoteAddr returns the peer address.
func (t *TCPTransport) RemoteAddr() net.Addr { return t.conn.RemoteAddr() }

// Open starts the reader goroutine. ctx only bounds the open step.
func (t *TCPTransport) Open(ctx context.Context, sink api.TransportSink) error {
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

	sink.Connected(api.Reliable)
	go t.readLoop(sink)
	return nil
}

func (t *TCPTransport) readLoop(sink api.TransportSink) {
	bp := t.bufs.Get()
	defer t.bufs.Put(bp)
	buf := *bp
	for {
		if ms := t.idle.Load(); ms > 0 {
			_ = t.conn.SetReadDeadline(time.Now().Add(time.Duration(ms) * time.Millisecond))
		}
		n, err := t.conn.Read(buf)
		if n > 0 {
			sink.Deliver(api.Reliable, buf[:n])
		}
		if err != nil {
			t.finish(err)
			return
		}
	}
}

// finish tears the connection down after a read error. It is a no-op
// once Close has run.
func (t *TCPTransport) finish(cause error) {
	t.mu.Lock()
	if t.state.Load() == stateClosed {
		t.mu.Unlock()
		return
	}
	t.state.Store(stateClosed)
	sink := t.sink
	t.mu.Unlock()

	_ = t.conn.Close()
	if sink != nil {
		sink.Disconnected(api.Reliable, cause)
	}
}

// Send writes p, flushing when no_delay is on.
func (t *TCPTransport) Send(p []byte) error {
	t.wmu.Lock()
	defer t.wmu.Unlock()
	if t.state.Load() != stateOpen {
		return api.ErrTransportClosed
	}
	if _, err := t.w.Write(p); err != nil {
		return err
	}
	if t.autoFlush {
		return t.w.Flush()
	}
	return nil
}

// Flush pushes buffered bytes onto the wire.
func (t *TCPTransport) Flush() error {
	t.wmu.Lock()
	defer t.wmu.Unlock()
	if t.state.Load() != stateOpen {
		return api.ErrTransportClosed
	}
	return t.w.Flush()
}

// Close flushes what it can, closes the socket and reports a local
// disconnect. It never waits for the reader goroutine.
func (t *TCPTransport) Close() error {
	t.mu.Lock()
	prev := t.state.Load()
	if prev == stateClosed {
		t.mu.Unlock()
		return nil
	}
	t.state.Store(stateClosed)
	sink := t.sink
	t.mu.Unlock()

	if prev == stateOpen {
		t.wmu.Lock()
		_ = t.conn.SetWriteDeadline(time.Now().Add(closeFlushTimeout))
		_ = t.w.Flush()
		t.wmu.Unlock()
	}
	err := t.conn.Close()
	if sink != nil {
		sink.Disconnected(api.Reliable, nil)
	}
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// SetOption validates value and applies it to the socket.
func (t *TCPTransport) SetOption(opt api.ChannelOption, value any) error {
	v, err := opt.Validate(api.Reliable, value)
	if err != nil {
		return err
	}
	switch opt {
	case api.OptKeepAlive:
		err = t.conn.SetKeepAlive(v.(bool))
	case api.OptNoDelay:
		if err = t.conn.SetNoDelay(v.(bool)); err == nil {
			t.wmu.Lock()
			t.autoFlush = v.(bool)
			t.wmu.Unlock()
		}
	case api.OptSoTimeout:
		t.idle.Store(int64(v.(int)))
		if v.(int) == 0 {
			err = t.conn.SetReadDeadline(time.Time{})
		}
	case api.OptLinger:
		err = t.conn.SetLinger(v.(int))
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
func (t *TCPTransport) Option(opt api.ChannelOption) (any, error) {
	return t.opts.load(api.Reliable, opt)
}

// TCPListener accepts reliable transports.
type TCPListener struct {
	ln   *net.TCPListener
	bufs api.ObjectPool[*[]byte]
}

// ListenTCP binds a TCP listener with address reuse enabled.
func ListenTCP(network, addr string) (*TCPListener, error) {
	lc := net.ListenConfig{Control: listenControl}
	ln, err := lc.Listen(context.Background(), network, addr)
	if err != nil {
		return nil, err
	}
	return &TCPListener{
		ln:   ln.(*net.TCPListener),
		bufs: pool.NewByteSlicePool(DefaultReadBufferSize),
	}, nil
}

// Addr returns the bound address.
func (l *TCPListener) Addr() net.Addr { return l.ln.Addr() }

// Accept waits for the next connection or for ctx to end. After Close it
// returns an error matching net.ErrClosed.
func (l *TCPListener) Accept(ctx context.Context) (api.Transport, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = l.ln.SetDeadline(time.Now())
	})
	c, err := l.ln.AcceptTCP()
	stop()
	if err != nil {
		if ctx.Err() != nil {
			_ = l.ln.SetDeadline(time.Time{})
			return nil, ctx.Err()
		}
		return nil, err
	}
	return newTCPTransport(c, l.bufs), nil
}

// Close stops accepting. Established transports are unaffected.
func (l *TCPListener) Close() error { return l.ln.Close() }
