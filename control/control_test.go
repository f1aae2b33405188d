package control

import (
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/momentics/hioload-pkt/api"
)

func TestMetricsObservers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "test")

	m.FrameSent(api.Reliable, 20)
	m.FrameSent(api.Reliable, 10)
	m.FrameReceived(api.Unreliable, 7)
	m.ProtocolError("unknown_type")
	m.ResponsesPending(3)
	m.ResponsesPending(-1)
	m.ResponseTimedOut()
	m.BufferAllocated(256)
	m.BufferReused(256)
	m.BufferReused(256)
	m.ChannelsActive(4)
	m.ChannelRejected()

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"frames sent", testutil.ToFloat64(m.FramesEncoded.WithLabelValues("reliable")), 2},
		{"bytes sent", testutil.ToFloat64(m.BytesSent.WithLabelValues("reliable")), 30},
		{"frames decoded", testutil.ToFloat64(m.FramesDecoded.WithLabelValues("unreliable")), 1},
		{"bytes received", testutil.ToFloat64(m.BytesReceived.WithLabelValues("unreliable")), 7},
		{"protocol errors", testutil.ToFloat64(m.ProtocolErrors.WithLabelValues("unknown_type")), 1},
		{"pending", testutil.ToFloat64(m.Pending), 2},
		{"timeouts", testutil.ToFloat64(m.ResponseTimeouts), 1},
		{"allocations", testutil.ToFloat64(m.PoolAllocations), 1},
		{"reuses", testutil.ToFloat64(m.PoolReuses), 2},
		{"channels", testutil.ToFloat64(m.ServerChannels), 4},
		{"rejections", testutil.ToFloat64(m.ServerRejections), 1},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
	if n, err := testutil.GatherAndCount(reg); err != nil || n != 11 {
		t.Fatalf("registered series = %d, %v", n, err)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.FrameSent(api.Reliable, 1)
	m.FrameReceived(api.Reliable, 1)
	m.ProtocolError("x")
	m.ResponsesPending(1)
	m.ResponseTimedOut()
	m.BufferAllocated(1)
	m.BufferReused(1)
	m.ChannelsActive(1)
	m.ChannelRejected()
}

func TestNewLogger(t *testing.T) {
	l, lvl, err := NewLogger(LogConfig{Level: "warn", Format: "console", Output: "stderr"})
	if err != nil {
		t.Fatal(err)
	}
	defer l.Sync()
	if lvl.Enabled(zap.InfoLevel) || !lvl.Enabled(zap.WarnLevel) {
		t.Fatal("warn level not applied")
	}
	if err := SetLevel(lvl, "debug"); err != nil || !lvl.Enabled(zap.DebugLevel) {
		t.Fatalf("SetLevel = %v", err)
	}
	if _, _, err := NewLogger(LogConfig{Level: "chatty"}); err == nil {
		t.Fatal("bad level accepted")
	}
	if _, _, err := NewLogger(LogConfig{Level: "info", Format: "xml"}); err == nil {
		t.Fatal("bad format accepted")
	}
}

func TestReloader(t *testing.T) {
	r := NewReloader()
	var calls atomic.Int32
	var seen *Config
	r.Register(func(c *Config) { calls.Add(1); seen = c })
	r.Register(func(*Config) { calls.Add(1) })
	cfg := DefaultConfig()
	r.TriggerSync(cfg)
	if calls.Load() != 2 || seen != cfg {
		t.Fatalf("calls = %d", calls.Load())
	}
}

func TestDebugProbes(t *testing.T) {
	dp := NewDebugProbes()
	RegisterPlatformProbes(dp)
	dp.RegisterProbe("answer", func() any { return 42 })
	state := dp.DumpState()
	if state["answer"] != 42 {
		t.Fatalf("answer = %v", state["answer"])
	}
	if cpus, ok := state["platform.cpus"].(int); !ok || cpus < 1 {
		t.Fatalf("platform.cpus = %v", state["platform.cpus"])
	}
	names := dp.Names()
	if len(names) < 3 || names[0] != "answer" {
		t.Fatalf("names = %v", names)
	}
	dp.UnregisterProbe("answer")
	if _, ok := dp.DumpState()["answer"]; ok {
		t.Fatal("probe not removed")
	}
}
