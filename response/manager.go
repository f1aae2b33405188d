// File: response/manager.go
// Package response correlates outgoing requests with inbound responses.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Every Submit allocates a correlation id, stamps it on the request and
// parks a future until the matching response arrives or the timer fires.
// Whichever removes the table entry first completes the future; the other
// finds nothing and does nothing.

package response

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-pkt/api"
	"github.com/momentics/hioload-pkt/protocol"
	"github.com/momentics/hioload-pkt/task"
)

var (
	// ErrTimeout fails a future whose response did not arrive in time.
	ErrTimeout = fmt.Errorf("response: timed out: %w", api.ErrOperationTimeout)
	// ErrClosed fails futures still pending when the manager closes.
	ErrClosed = errors.New("response: manager closed")
)

// DefaultTimeout applies when Submit is called with a non-positive timeout.
const DefaultTimeout = 30 * time.Second

// Observer receives pending-count changes and timeout events;
// control.Metrics implements it. Several managers may share one observer,
// so pending changes are reported as deltas.
type Observer interface {
	ResponsesPending(delta int)
	ResponseTimedOut()
}

// Future resolves with the context of the matching response.
type Future = task.Future[*protocol.Context]

type entry struct {
	fut      *Future
	deadline time.Time

	mu      sync.Mutex
	timer   api.Cancelable
	settled bool
}

func (e *entry) setTimer(t api.Cancelable) {
	e.mu.Lock()
	if e.settled {
		e.mu.Unlock()
		t.Cancel()
		return
	}
	e.timer = t
	e.mu.Unlock()
}

func (e *entry) stopTimer() {
	e.mu.Lock()
	e.settled = true
	t := e.timer
	e.mu.Unlock()
	if t != nil {
		t.Cancel()
	}
}

// Manager is the correlation table. It is safe for concurrent use.
type Manager struct {
	next    atomic.Int64
	pending sync.Map // int32 -> *entry
	count   atomic.Int64
	closed  atomic.Bool
	closeMu sync.RWMutex

	sched   api.Scheduler
	timeout time.Duration
	log     *zap.Logger
	obs     Observer
}

// Option customizes a Manager.
type Option func(*Manager)

// WithScheduler sets the timer scheduler; runtime timers are used otherwise.
func WithScheduler(s api.Scheduler) Option { return func(m *Manager) { m.sched = s } }

// WithDefaultTimeout overrides DefaultTimeout.
func WithDefaultTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithLogger sets the logger for timeout events.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithObserver attaches a metrics observer.
func WithObserver(o Observer) Option { return func(m *Manager) { m.obs = o } }

// NewManager creates an empty correlation table.
func NewManager(opts ...Option) *Manager {
	m := &Manager{timeout: DefaultTimeout, log: zap.NewNop()}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Submit stamps p with the next correlation id and registers fut to be
// completed by the matching response or failed with ErrTimeout.
func (m *Manager) Submit(p protocol.Packet, timeout time.Duration, fut *Future) (int32, error) {
	if timeout <= 0 {
		timeout = m.timeout
	}
	m.closeMu.RLock()
	defer m.closeMu.RUnlock()
	if m.closed.Load() {
		fut.Fail(ErrClosed)
		return protocol.NoID, ErrClosed
	}

	id := int32(m.next.Add(1)-1) & math.MaxInt32
	p.Correlation().SetSendingID(id)
	e := &entry{fut: fut, deadline: time.Now().Add(timeout)}
	m.pending.Store(id, e)
	m.changed(1)

	timer, err := m.after(timeout, func() { m.expire(id, e, timeout) })
	if err != nil {
		if m.remove(id, e) {
			fut.Fail(err)
		}
		return protocol.NoID, err
	}
	e.setTimer(timer)
	return id, nil
}

// Success completes the pending entry named by the packet's receiving id.
// It reports whether an entry was found.
func (m *Manager) Success(ctx *protocol.Context) bool {
	id := ctx.Packet.Correlation().ReceivingID()
	if id < 0 {
		return false
	}
	v, ok := m.pending.Load(id)
	if !ok {
		return false
	}
	e := v.(*entry)
	if !m.remove(id, e) {
		return false
	}
	e.stopTimer()
	e.fut.Complete(ctx)
	return true
}

// Cancel fails the pending entry for id with err, used when the request
// never made it onto the wire. It reports whether an entry was found.
func (m *Manager) Cancel(id int32, err error) bool {
	v, ok := m.pending.Load(id)
	if !ok {
		return false
	}
	e := v.(*entry)
	if !m.remove(id, e) {
		return false
	}
	e.stopTimer()
	e.fut.Fail(err)
	return true
}

// NoID marks p as not expecting a response.
func (m *Manager) NoID(p protocol.Packet) {
	p.Correlation().SetSendingID(protocol.NoID)
}

// Pending returns the number of outstanding entries.
func (m *Manager) Pending() int { return int(m.count.Load()) }

// Deadline reports when the entry for id expires.
func (m *Manager) Deadline(id int32) (time.Time, bool) {
	v, ok := m.pending.Load(id)
	if !ok {
		return time.Time{}, false
	}
	return v.(*entry).deadline, true
}

// Close fails every pending future with ErrClosed and rejects further
// submissions. It is idempotent.
func (m *Manager) Close() {
	m.closeMu.Lock()
	m.closed.Store(true)
	m.closeMu.Unlock()
	m.FailPending(ErrClosed)
}

// FailPending fails every outstanding future with err and returns how many
// it failed. The manager stays usable.
func (m *Manager) FailPending(err error) int {
	n := 0
	m.pending.Range(func(k, v any) bool {
		e := v.(*entry)
		if m.remove(k.(int32), e) {
			e.stopTimer()
			e.fut.Fail(err)
			n++
		}
		return true
	})
	return n
}

func (m *Manager) expire(id int32, e *entry, timeout time.Duration) {
	if !m.remove(id, e) {
		return
	}
	m.log.Debug("response timed out", zap.Int32("id", id), zap.Duration("timeout", timeout))
	if m.obs != nil {
		m.obs.ResponseTimedOut()
	}
	e.fut.Fail(fmt.Errorf("%w: id %d after %s", ErrTimeout, id, timeout))
}

// remove deletes id only while it still maps to e; this is the single
// point deciding which of success and timeout wins.
func (m *Manager) remove(id int32, e *entry) bool {
	if !m.pending.CompareAndDelete(id, e) {
		return false
	}
	m.changed(-1)
	return true
}

func (m *Manager) changed(delta int64) {
	m.count.Add(delta)
	if m.obs != nil {
		m.obs.ResponsesPending(int(delta))
	}
}

func (m *Manager) after(d time.Duration, fn func()) (api.Cancelable, error) {
	if m.sched != nil {
		return m.sched.Schedule(d, fn)
	}
	return stdTimer{time.AfterFunc(d, fn)}, nil
}

type stdTimer struct{ t *time.Timer }

func (s stdTimer) Cancel() bool { return s.t.Stop() }
