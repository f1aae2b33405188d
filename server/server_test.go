package server_test

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/momentics/hioload-pkt/api"
	"github.com/momentics/hioload-pkt/channel"
	"github.com/momentics/hioload-pkt/fake"
	"github.com/momentics/hioload-pkt/protocol"
	"github.com/momentics/hioload-pkt/server"
)

type counters struct {
	active   atomic.Int64
	rejected atomic.Int64
}

func (c *counters) ChannelsActive(n int) { c.active.Store(int64(n)) }
func (c *counters) ChannelRejected()     { c.rejected.Add(1) }

// chanAcceptor hands out transports pushed onto a channel.
type chanAcceptor struct {
	next   chan api.Transport
	closed chan struct{}
}

func newChanAcceptor() *chanAcceptor {
	return &chanAcceptor{next: make(chan api.Transport), closed: make(chan struct{})}
}

func (a *chanAcceptor) Accept(ctx context.Context) (api.Transport, error) {
	select {
	case t := <-a.next:
		return t, nil
	case <-a.closed:
		return nil, net.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (a *chanAcceptor) Close() error {
	close(a.closed)
	return nil
}

func codec(t *testing.T) *protocol.Codec {
	t.Helper()
	c := protocol.NewMultiContainer()
	if err := protocol.RegisterBuiltins(c.Default(), 1); err != nil {
		t.Fatal(err)
	}
	return protocol.NewCodec(c)
}

func TestAcceptAdmission(t *testing.T) {
	obs := &counters{}
	srv := server.NewServer(codec(t), nil, server.WithMaxClients(2), server.WithObserver(obs))
	defer srv.Shutdown()

	for i := 0; i < 2; i++ {
		if _, err := srv.Accept(context.Background(), fake.NewTransport(api.Reliable)); err != nil {
			t.Fatal(err)
		}
	}
	extra := fake.NewTransport(api.Reliable)
	_, err := srv.Accept(context.Background(), extra)
	if !errors.Is(err, server.ErrSetFull) {
		t.Fatalf("third accept = %v", err)
	}
	if extra.IsOpen() {
		t.Fatal("rejected transport was opened")
	}
	if len(srv.Channels()) != 2 || obs.active.Load() != 2 || obs.rejected.Load() != 1 {
		t.Fatalf("channels=%d active=%d rejected=%d", len(srv.Channels()), obs.active.Load(), obs.rejected.Load())
	}
}

func TestClosedPeerLeavesSet(t *testing.T) {
	obs := &counters{}
	srv := server.NewServer(codec(t), nil, server.WithObserver(obs))
	defer srv.Shutdown()
	tr := fake.NewTransport(api.Reliable)
	ch, err := srv.Accept(context.Background(), tr)
	if err != nil {
		t.Fatal(err)
	}
	if ch.Side() != api.ServerSide {
		t.Fatal("accepted channel not server side")
	}
	tr.Drop(errors.New("reset by peer"))
	if len(srv.Channels()) != 0 || obs.active.Load() != 0 {
		t.Fatalf("dropped peer still listed: %d", len(srv.Channels()))
	}
}

func TestAcceptAppliesChannelOptions(t *testing.T) {
	srv := server.NewServer(codec(t), nil, server.WithChannelOption(api.OptNoDelay, true))
	defer srv.Shutdown()
	tr := fake.NewTransport(api.Reliable)
	if _, err := srv.Accept(context.Background(), tr); err != nil {
		t.Fatal(err)
	}
	if v, _ := tr.Option(api.OptNoDelay); v != true {
		t.Fatalf("no_delay = %v", v)
	}

	bad := server.NewServer(codec(t), nil, server.WithChannelOption(api.OptBroadcast, true))
	defer bad.Shutdown()
	if _, err := bad.Accept(context.Background(), fake.NewTransport(api.Reliable)); !errors.Is(err, api.ErrUnsupportedOption) {
		t.Fatalf("unsupported option = %v", err)
	}
	if len(bad.Channels()) != 0 {
		t.Fatal("failed open left a member behind")
	}
}

func TestServeAndBroadcast(t *testing.T) {
	cd := codec(t)
	srv := server.NewServer(cd, nil)
	acc := newChanAcceptor()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, acc) }()

	got := make(chan string, 2)
	var clients []*channel.Channel
	for i := 0; i < 2; i++ {
		local, remote := fake.Pipe(api.Reliable)
		cli := channel.New(cd, channel.WithListener(&channel.ListenerFuncs{
			OnReceived: func(_ *channel.Channel, ctx *protocol.Context) {
				got <- ctx.Packet.(*protocol.StringPacket).Value
			},
		}))
		_ = cli.Attach(local)
		if err := cli.Open(context.Background()); err != nil {
			t.Fatal(err)
		}
		clients = append(clients, cli)
		acc.next <- remote
	}
	deadline := time.Now().Add(2 * time.Second)
	for len(srv.Channels()) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	n, err := srv.Broadcast(api.Reliable, &protocol.StringPacket{Value: "news"}, nil)
	if err != nil || n != 2 {
		t.Fatalf("broadcast = %d, %v", n, err)
	}
	for i := 0; i < 2; i++ {
		select {
		case v := <-got:
			if v != "news" {
				t.Fatalf("got %q", v)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("broadcast not delivered")
		}
	}

	if err := srv.Shutdown(); err != nil {
		t.Fatal(err)
	}
	if err := <-done; err != nil {
		t.Fatalf("serve = %v", err)
	}
	for _, c := range clients {
		deadline := time.Now().Add(2 * time.Second)
		for c.IsOpen() && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		if c.IsOpen() {
			t.Fatal("client still open after server shutdown")
		}
	}
	if _, err := srv.Accept(context.Background(), fake.NewTransport(api.Reliable)); !errors.Is(err, server.ErrServerClosed) {
		t.Fatalf("accept after shutdown = %v", err)
	}
}
