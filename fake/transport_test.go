package fake

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/momentics/hioload-pkt/api"
)

type sink struct {
	mu      sync.Mutex
	data    [][]byte
	events  []string
	cause   error
	arrived chan struct{}
}

func newSink() *sink { return &sink{arrived: make(chan struct{}, 16)} }

func (s *sink) Deliver(_ api.TransportKind, b []byte) {
	s.mu.Lock()
	s.data = append(s.data, b)
	s.mu.Unlock()
	s.arrived <- struct{}{}
}

func (s *sink) Connected(api.TransportKind) {
	s.mu.Lock()
	s.events = append(s.events, "connected")
	s.mu.Unlock()
}

func (s *sink) Disconnected(_ api.TransportKind, err error) {
	s.mu.Lock()
	s.events = append(s.events, "disconnected")
	s.cause = err
	s.mu.Unlock()
}

func TestPipeDeliversToPeer(t *testing.T) {
	a, b := Pipe(api.Reliable)
	sa, sb := newSink(), newSink()
	if err := a.Open(context.Background(), sa); err != nil {
		t.Fatal(err)
	}
	if err := b.Open(context.Background(), sb); err != nil {
		t.Fatal(err)
	}
	if err := a.Send([]byte("hello")); err != nil {
		t.Fatal(err)
	}
	select {
	case <-sb.arrived:
	case <-time.After(2 * time.Second):
		t.Fatal("nothing delivered")
	}
	sb.mu.Lock()
	got := string(sb.data[0])
	sb.mu.Unlock()
	if got != "hello" {
		t.Fatalf("delivered %q", got)
	}
	if len(a.SentData()) != 1 {
		t.Fatal("send not recorded")
	}
}

func TestCloseNotifiesBothEnds(t *testing.T) {
	a, b := Pipe(api.Unreliable)
	sa, sb := newSink(), newSink()
	_ = a.Open(context.Background(), sa)
	_ = b.Open(context.Background(), sb)

	if err := a.Close(); err != nil {
		t.Fatal(err)
	}
	if sa.cause != nil || !errors.Is(sb.cause, io.EOF) {
		t.Fatalf("causes: local=%v peer=%v", sa.cause, sb.cause)
	}
	if a.IsOpen() || b.IsOpen() {
		t.Fatal("pipe still open")
	}
	if err := b.Send([]byte{1}); !errors.Is(err, api.ErrTransportClosed) {
		t.Fatalf("send after close = %v", err)
	}
	_ = a.Close()
	if n := len(sa.events); n != 2 {
		t.Fatalf("events %v", sa.events)
	}
}

func TestErrorInjection(t *testing.T) {
	tr := NewTransport(api.Reliable)
	boom := errors.New("boom")
	tr.SetOpenError(boom)
	if err := tr.Open(context.Background(), newSink()); !errors.Is(err, boom) {
		t.Fatalf("open = %v", err)
	}
	tr.SetOpenError(nil)
	_ = tr.Open(context.Background(), newSink())
	tr.SetSendError(boom)
	if err := tr.Send([]byte{1}); !errors.Is(err, boom) {
		t.Fatalf("send = %v", err)
	}
	if err := tr.SetOption(api.OptBroadcast, true); !errors.Is(err, api.ErrUnsupportedOption) {
		t.Fatalf("broadcast on reliable = %v", err)
	}
}
