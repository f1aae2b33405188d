package response_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/momentics/hioload-pkt/api"
	"github.com/momentics/hioload-pkt/core/concurrency"
	"github.com/momentics/hioload-pkt/protocol"
	"github.com/momentics/hioload-pkt/response"
	"github.com/momentics/hioload-pkt/task"
)

type countingObserver struct {
	pending  atomic.Int64
	timeouts atomic.Int64
}

func (o *countingObserver) ResponsesPending(d int) { o.pending.Add(int64(d)) }
func (o *countingObserver) ResponseTimedOut()      { o.timeouts.Add(1) }

func reply(to protocol.Packet) *protocol.Context {
	resp := &protocol.StringPacket{Value: "pong"}
	resp.SetResponse(to)
	return &protocol.Context{Packet: resp}
}

func get(t *testing.T, f *response.Future) (*protocol.Context, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return f.Get(ctx)
}

func TestSubmitThenSuccess(t *testing.T) {
	obs := &countingObserver{}
	m := response.NewManager(response.WithObserver(obs))
	req := &protocol.StringPacket{Value: "ping"}
	fut := task.NewFuture[*protocol.Context]()

	id, err := m.Submit(req, time.Second, fut)
	if err != nil {
		t.Fatal(err)
	}
	if req.SendingID() != id || id < 0 {
		t.Fatalf("sending id %d, submit id %d", req.SendingID(), id)
	}
	if m.Pending() != 1 || obs.pending.Load() != 1 {
		t.Fatalf("pending = %d", m.Pending())
	}

	in := reply(req)
	if !m.Success(in) {
		t.Fatal("Success did not find the entry")
	}
	got, err := get(t, fut)
	if err != nil || got != in {
		t.Fatalf("future = %v, %v", got, err)
	}
	if m.Success(in) {
		t.Fatal("second Success must be a no-op")
	}
	if m.Pending() != 0 || obs.pending.Load() != 0 {
		t.Fatalf("pending = %d after success", m.Pending())
	}
}

func TestTimeoutFailsOnce(t *testing.T) {
	exec := concurrency.NewExecutor(1)
	sched := concurrency.NewScheduler(exec)
	defer exec.Close()
	defer sched.Close()

	obs := &countingObserver{}
	m := response.NewManager(response.WithScheduler(sched), response.WithObserver(obs))
	req := &protocol.IntPacket{}
	fut := task.NewFuture[*protocol.Context]()
	if _, err := m.Submit(req, 20*time.Millisecond, fut); err != nil {
		t.Fatal(err)
	}
	_, err := get(t, fut)
	if !errors.Is(err, response.ErrTimeout) || !errors.Is(err, api.ErrOperationTimeout) {
		t.Fatalf("err = %v", err)
	}
	if m.Success(reply(req)) {
		t.Fatal("late response must not find the entry")
	}
	if obs.timeouts.Load() != 1 || m.Pending() != 0 {
		t.Fatalf("timeouts=%d pending=%d", obs.timeouts.Load(), m.Pending())
	}
}

func TestSuccessCancelsTimer(t *testing.T) {
	m := response.NewManager()
	req := &protocol.IntPacket{}
	fut := task.NewFuture[*protocol.Context]()
	_, _ = m.Submit(req, 30*time.Millisecond, fut)
	m.Success(reply(req))
	time.Sleep(60 * time.Millisecond)
	if _, err, _ := fut.Result(); err != nil {
		t.Fatalf("timer overrode success: %v", err)
	}
}

func TestUncorrelatedPacketIgnored(t *testing.T) {
	m := response.NewManager()
	p := &protocol.IntPacket{}
	if m.Success(&protocol.Context{Packet: p}) {
		t.Fatal("packet without receiving id matched")
	}
	p.SetSendingID(5)
	m.NoID(p)
	if p.SendingID() != protocol.NoID {
		t.Fatal("NoID did not clear the sending id")
	}
}

func TestRaceSuccessAgainstTimeout(t *testing.T) {
	m := response.NewManager()
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		req := &protocol.IntPacket{}
		fut := task.NewFuture[*protocol.Context]()
		_, _ = m.Submit(req, time.Millisecond, fut)
		wg.Add(1)
		go func() {
			defer wg.Done()
			time.Sleep(time.Millisecond)
			m.Success(reply(req))
			if _, err := get(t, fut); err != nil && !errors.Is(err, response.ErrTimeout) {
				t.Errorf("unexpected error %v", err)
			}
			if fut.Fail(errors.New("late")) {
				t.Error("future was still open after resolution")
			}
		}()
	}
	wg.Wait()
	if m.Pending() != 0 {
		t.Fatalf("pending = %d", m.Pending())
	}
}

func TestCloseFailsPending(t *testing.T) {
	m := response.NewManager()
	fut := task.NewFuture[*protocol.Context]()
	_, _ = m.Submit(&protocol.IntPacket{}, time.Minute, fut)
	m.Close()
	if _, err := get(t, fut); !errors.Is(err, response.ErrClosed) {
		t.Fatalf("err = %v", err)
	}
	late := task.NewFuture[*protocol.Context]()
	if _, err := m.Submit(&protocol.IntPacket{}, time.Minute, late); !errors.Is(err, response.ErrClosed) {
		t.Fatalf("submit after close = %v", err)
	}
	if !late.IsDone() {
		t.Fatal("rejected future left pending")
	}
}

func TestCancelFailsEntry(t *testing.T) {
	m := response.NewManager()
	fut := task.NewFuture[*protocol.Context]()
	id, _ := m.Submit(&protocol.IntPacket{}, time.Minute, fut)
	sendErr := errors.New("wire down")
	if !m.Cancel(id, sendErr) || m.Cancel(id, sendErr) {
		t.Fatal("Cancel should find the entry exactly once")
	}
	if _, err := get(t, fut); !errors.Is(err, sendErr) {
		t.Fatalf("err = %v", err)
	}
	if m.Pending() != 0 {
		t.Fatalf("pending = %d", m.Pending())
	}
}

func TestIDsAreMonotonic(t *testing.T) {
	m := response.NewManager()
	defer m.Close()
	var last int32 = -1
	for i := 0; i < 10; i++ {
		id, _ := m.Submit(&protocol.IntPacket{}, time.Minute, task.NewFuture[*protocol.Context]())
		if id <= last {
			t.Fatalf("id %d after %d", id, last)
		}
		last = id
	}
}
