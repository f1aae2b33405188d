package transport

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/momentics/hioload-pkt/api"
	"github.com/momentics/hioload-pkt/fake"
)

// recSink collects everything a transport reports.
type recSink struct {
	mu        sync.Mutex
	data      []byte
	packets   [][]byte
	connected int
	gone      chan error
}

func newRecSink() *recSink { return &recSink{gone: make(chan error, 1)} }

func (s *recSink) Deliver(_ api.TransportKind, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append(s.data, data...)
	s.packets = append(s.packets, append([]byte(nil), data...))
}

func (s *recSink) Connected(api.TransportKind) {
	s.mu.Lock()
	s.connected++
	s.mu.Unlock()
}

func (s *recSink) Disconnected(_ api.TransportKind, err error) { s.gone <- err }

func (s *recSink) waitBytes(t *testing.T, n int) []byte {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		if len(s.data) >= n {
			out := append([]byte(nil), s.data...)
			s.mu.Unlock()
			return out
		}
		s.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d bytes", n)
	return nil
}

func (s *recSink) waitGone(t *testing.T) error {
	t.Helper()
	select {
	case err := <-s.gone:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("no disconnect reported")
		return nil
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func tcpPair(t *testing.T) (*TCPTransport, *TCPTransport) {
	t.Helper()
	l, err := ListenTCP("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	accepted := make(chan api.Transport, 1)
	go func() {
		tr, err := l.Accept(context.Background())
		if err == nil {
			accepted <- tr
		}
		close(accepted)
	}()
	cli, err := DialTCP(context.Background(), "tcp", l.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	srv, ok := <-accepted
	if !ok {
		t.Fatal("accept failed")
	}
	return cli, srv.(*TCPTransport)
}

func TestTCPRoundTrip(t *testing.T) {
	cli, srv := tcpPair(t)
	cs, ss := newRecSink(), newRecSink()
	if err := srv.Open(context.Background(), ss); err != nil {
		t.Fatal(err)
	}
	if err := cli.Open(context.Background(), cs); err != nil {
		t.Fatal(err)
	}
	if err := cli.Send([]byte("hello ")); err != nil {
		t.Fatal(err)
	}
	if err := cli.Send([]byte("world")); err != nil {
		t.Fatal(err)
	}
	if got := ss.waitBytes(t, 11); string(got) != "hello world" {
		t.Fatalf("server got %q", got)
	}
	if err := srv.Send([]byte("back")); err != nil {
		t.Fatal(err)
	}
	if got := cs.waitBytes(t, 4); string(got) != "back" {
		t.Fatalf("client got %q", got)
	}

	if err := cli.Close(); err != nil {
		t.Fatal(err)
	}
	if err := cs.waitGone(t); err != nil {
		t.Fatalf("local close cause = %v", err)
	}
	if err := ss.waitGone(t); err == nil {
		t.Fatal("remote close should carry a cause")
	}
	if err := cli.Send([]byte("x")); !errors.Is(err, api.ErrTransportClosed) {
		t.Fatalf("send after close = %v", err)
	}
	if err := cli.Close(); err != nil {
		t.Fatalf("second close = %v", err)
	}
}

func TestTCPBuffersWithoutNoDelay(t *testing.T) {
	cli, srv := tcpPair(t)
	defer cli.Close()
	defer srv.Close()
	ss := newRecSink()
	_ = srv.Open(context.Background(), ss)
	_ = cli.Open(context.Background(), newRecSink())

	if err := cli.SetOption(api.OptNoDelay, false); err != nil {
		t.Fatal(err)
	}
	_ = cli.Send([]byte("held"))
	time.Sleep(50 * time.Millisecond)
	ss.mu.Lock()
	early := len(ss.data)
	ss.mu.Unlock()
	if early != 0 {
		t.Fatal("bytes left the buffer before Flush")
	}
	if err := cli.Flush(); err != nil {
		t.Fatal(err)
	}
	if got := ss.waitBytes(t, 4); string(got) != "held" {
		t.Fatalf("got %q", got)
	}
}

func TestTCPOptions(t *testing.T) {
	cli, srv := tcpPair(t)
	defer cli.Close()
	defer srv.Close()

	for opt, v := range map[api.ChannelOption]any{
		api.OptKeepAlive:         true,
		api.OptLinger:            5,
		api.OptReceiveBufferSize: 64 * 1024,
		api.OptSendBufferSize:    64 * 1024,
		api.OptSoTimeout:         2 * time.Second,
	} {
		if err := cli.SetOption(opt, v); err != nil {
			t.Fatalf("%s: %v", opt, err)
		}
	}
	if v, err := cli.Option(api.OptSoTimeout); err != nil || v != 2000 {
		t.Fatalf("so_timeout = %v, %v", v, err)
	}
	if err := cli.SetOption(api.OptBroadcast, true); !errors.Is(err, api.ErrUnsupportedOption) {
		t.Fatalf("broadcast on tcp = %v", err)
	}
	if err := cli.SetOption(api.OptLinger, "soon"); !errors.Is(err, api.ErrInvalidOptionValue) {
		t.Fatalf("bad linger = %v", err)
	}
	if _, err := cli.Option(api.OptTrafficClass); !errors.Is(err, api.ErrNotFound) {
		t.Fatalf("unset option = %v", err)
	}
}

func TestTCPIdleTimeout(t *testing.T) {
	cli, srv := tcpPair(t)
	defer cli.Close()
	ss := newRecSink()
	_ = srv.SetOption(api.OptSoTimeout, 50)
	_ = srv.Open(context.Background(), ss)
	if err := ss.waitGone(t); !errors.Is(err, os.ErrDeadlineExceeded) {
		t.Fatalf("idle cause = %v", err)
	}
}

func TestTCPAcceptHonoursContext(t *testing.T) {
	l, err := ListenTCP("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := l.Accept(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("accept = %v", err)
	}
	_ = l.Close()
	if _, err := l.Accept(context.Background()); !errors.Is(err, net.ErrClosed) {
		t.Fatalf("accept after close = %v", err)
	}
}

func TestUDPListenerDemux(t *testing.T) {
	l, err := ListenUDP("udp", "127.0.0.1:0", 0)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	a, err := DialUDP(context.Background(), "udp", l.Addr().String(), 0)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	b, err := DialUDP(context.Background(), "udp", l.Addr().String(), 0)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	as, bs := newRecSink(), newRecSink()
	_ = a.Open(context.Background(), as)
	_ = b.Open(context.Background(), bs)

	_ = a.Send([]byte("from-a"))
	_ = b.Send([]byte("from-b"))

	peers := map[string]*recSink{}
	for i := 0; i < 2; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		tr, err := l.Accept(ctx)
		cancel()
		if err != nil {
			t.Fatal(err)
		}
		s := newRecSink()
		if err := tr.Open(context.Background(), s); err != nil {
			t.Fatal(err)
		}
		got := s.waitBytes(t, 6)
		peers[string(got)] = s
		if err := tr.Send(append([]byte("echo:"), got...)); err != nil {
			t.Fatal(err)
		}
	}
	if len(peers) != 2 || peers["from-a"] == nil || peers["from-b"] == nil {
		t.Fatalf("peers = %v", peers)
	}
	if got := as.waitBytes(t, 11); !bytes.Equal(got, []byte("echo:from-a")) {
		t.Fatalf("a got %q", got)
	}
	if got := bs.waitBytes(t, 11); !bytes.Equal(got, []byte("echo:from-b")) {
		t.Fatalf("b got %q", got)
	}

	_ = l.Close()
	for _, s := range peers {
		if err := s.waitGone(t); !errors.Is(err, net.ErrClosed) {
			t.Fatalf("peer cause = %v", err)
		}
	}
}

func TestUDPDatagramBoundaries(t *testing.T) {
	l, err := ListenUDP("udp", "127.0.0.1:0", 0)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	a, err := DialUDP(context.Background(), "udp", l.Addr().String(), 0)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	_ = a.Open(context.Background(), newRecSink())
	if err := a.SetOption(api.OptNoDelay, true); !errors.Is(err, api.ErrUnsupportedOption) {
		t.Fatalf("no_delay on udp = %v", err)
	}
	_ = a.Send([]byte("one"))
	_ = a.Send([]byte("two"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	tr, err := l.Accept(ctx)
	if err != nil {
		t.Fatal(err)
	}
	s := newRecSink()
	_ = tr.Open(context.Background(), s)
	s.waitBytes(t, 6)
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.packets) != 2 || string(s.packets[0]) != "one" || string(s.packets[1]) != "two" {
		t.Fatalf("packets = %q", s.packets)
	}
}

func TestTCPReaderReturnsBuffer(t *testing.T) {
	l, err := ListenTCP("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	bufs := fake.NewBytePool(DefaultReadBufferSize)
	l.bufs = bufs

	cli, err := DialTCP(context.Background(), "tcp", l.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	tr, err := l.Accept(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	ss := newRecSink()
	_ = tr.Open(context.Background(), ss)
	_ = cli.Open(context.Background(), newRecSink())
	_ = cli.Send([]byte("ping"))
	ss.waitBytes(t, 4)

	_ = cli.Close()
	ss.waitGone(t)
	waitFor(t, "read buffer return", func() bool { return bufs.Outstanding() == 0 })
	if bufs.Gets() != 1 || bufs.Foreign() != 0 {
		t.Fatalf("gets=%d foreign=%d", bufs.Gets(), bufs.Foreign())
	}
}

func TestUDPListenerReturnsQueuedBuffers(t *testing.T) {
	bufs := fake.NewBytePool(api.DefaultUDPReceiveBufferSize)
	l, err := listenUDP("udp", "127.0.0.1:0", bufs)
	if err != nil {
		t.Fatal(err)
	}

	a, err := DialUDP(context.Background(), "udp", l.Addr().String(), 0)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	_ = a.Open(context.Background(), newRecSink())
	_ = a.Send([]byte("one"))
	_ = a.Send([]byte("two"))
	_ = a.Send([]byte("three"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	tr, err := l.Accept(ctx)
	if err != nil {
		t.Fatal(err)
	}
	peer := tr.(*UDPTransport)
	waitFor(t, "queued datagrams", func() bool { return len(peer.inbox) == 3 })

	_ = l.Close()
	waitFor(t, "queued buffers returned", func() bool { return bufs.Outstanding() == 0 })
	if bufs.Foreign() != 0 {
		t.Fatalf("foreign returns = %d", bufs.Foreign())
	}
}
