package concurrency

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestExecutorRunsAllSubmitted(t *testing.T) {
	e := NewExecutor(4)
	var n atomic.Int64
	for i := 0; i < 1000; i++ {
		if err := e.Submit(func() { n.Add(1) }); err != nil {
			t.Fatal(err)
		}
	}
	e.Close()
	if n.Load() != 1000 {
		t.Fatalf("ran %d of 1000 tasks", n.Load())
	}
	if err := e.Submit(func() {}); err != ErrExecutorClosed {
		t.Fatalf("Submit after Close = %v", err)
	}
}

func TestExecutorFIFOOnSingleWorker(t *testing.T) {
	e := NewExecutor(1)
	var mu sync.Mutex
	var order []int
	for i := 0; i < 100; i++ {
		i := i
		_ = e.Submit(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}
	e.Close()
	for i, v := range order {
		if v != i {
			t.Fatalf("order[%d] = %d", i, v)
		}
	}
}

func TestExecutorRecoversPanics(t *testing.T) {
	var seen atomic.Value
	e := NewExecutor(1, WithPanicHandler(func(r any) { seen.Store(r) }))
	_ = e.Submit(func() { panic("boom") })
	done := make(chan struct{})
	_ = e.Submit(func() { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker died after panic")
	}
	e.Close()
	if e.Panics() != 1 || seen.Load() != "boom" {
		t.Fatalf("panics=%d seen=%v", e.Panics(), seen.Load())
	}
}

func TestExecutorResize(t *testing.T) {
	e := NewExecutor(2)
	defer e.Close()
	e.Resize(5)
	if e.NumWorkers() != 5 {
		t.Fatalf("NumWorkers = %d after grow", e.NumWorkers())
	}
	e.Resize(1)
	if e.NumWorkers() != 1 {
		t.Fatalf("NumWorkers = %d after shrink", e.NumWorkers())
	}
	done := make(chan struct{})
	_ = e.Submit(func() { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("remaining worker not running tasks")
	}
}

func TestSchedulerOrdersByDeadline(t *testing.T) {
	e := NewExecutor(1)
	defer e.Close()
	s := NewScheduler(e)
	defer s.Close()

	out := make(chan int, 3)
	_, _ = s.Schedule(60*time.Millisecond, func() { out <- 3 })
	_, _ = s.Schedule(20*time.Millisecond, func() { out <- 1 })
	_, _ = s.Schedule(40*time.Millisecond, func() { out <- 2 })

	for want := 1; want <= 3; want++ {
		select {
		case got := <-out:
			if got != want {
				t.Fatalf("fired %d, want %d", got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timer %d never fired", want)
		}
	}
}

func TestSchedulerCancel(t *testing.T) {
	s := NewScheduler(nil)
	defer s.Close()

	var fired atomic.Bool
	c, err := s.Schedule(30*time.Millisecond, func() { fired.Store(true) })
	if err != nil {
		t.Fatal(err)
	}
	if !c.Cancel() {
		t.Fatal("first Cancel should succeed")
	}
	if c.Cancel() {
		t.Fatal("second Cancel should report false")
	}
	time.Sleep(80 * time.Millisecond)
	if fired.Load() {
		t.Fatal("cancelled timer fired")
	}
	if s.Pending() != 0 {
		t.Fatalf("pending = %d", s.Pending())
	}
}

func TestSchedulerRejectsAfterClose(t *testing.T) {
	s := NewScheduler(nil)
	s.Close()
	if _, err := s.Schedule(time.Millisecond, func() {}); err != ErrSchedulerClosed {
		t.Fatalf("Schedule after Close = %v", err)
	}
	if _, err := NewScheduler(nil).Schedule(-time.Second, func() {}); err != ErrInvalidDelay {
		t.Fatalf("negative delay = %v", err)
	}
}
