// control/metrics.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Prometheus metrics for the packet substrate. Metrics implements the
// observer contracts of pool, response, channel and server, and every
// method is safe on a nil receiver so wiring metrics stays optional.

package control

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/momentics/hioload-pkt/api"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	FramesEncoded    *prometheus.CounterVec
	FramesDecoded    *prometheus.CounterVec
	BytesSent        *prometheus.CounterVec
	BytesReceived    *prometheus.CounterVec
	ProtocolErrors   *prometheus.CounterVec
	Pending          prometheus.Gauge
	ResponseTimeouts prometheus.Counter
	PoolAllocations  prometheus.Counter
	PoolReuses       prometheus.Counter
	ServerChannels   prometheus.Gauge
	ServerRejections prometheus.Counter
}

// NewMetrics creates and registers all metrics under namespace.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		FramesEncoded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_encoded_total",
			Help:      "Frames written to a transport.",
		}, []string{"kind"}),
		FramesDecoded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_decoded_total",
			Help:      "Frames decoded from inbound bytes.",
		}, []string{"kind"}),
		BytesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_sent_total",
			Help:      "Frame bytes written to a transport.",
		}, []string{"kind"}),
		BytesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_received_total",
			Help:      "Frame bytes decoded from inbound data.",
		}, []string{"kind"}),
		ProtocolErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_errors_total",
			Help:      "Protocol violations that closed a sub-channel.",
		}, []string{"reason"}),
		Pending: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "responses_pending",
			Help:      "Requests awaiting a correlated response.",
		}),
		ResponseTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "response_timeouts_total",
			Help:      "Requests whose response did not arrive in time.",
		}),
		PoolAllocations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_allocations_total",
			Help:      "Buffers allocated because no idle buffer fit.",
		}),
		PoolReuses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_reuses_total",
			Help:      "Buffers served from the idle lists.",
		}),
		ServerChannels: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "server_channels",
			Help:      "Channels admitted to the server set.",
		}),
		ServerRejections: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "server_rejections_total",
			Help:      "Peers rejected at admission.",
		}),
	}
}

// FrameSent implements channel.Observer.
func (m *Metrics) FrameSent(kind api.TransportKind, n int) {
	if m == nil {
		return
	}
	m.FramesEncoded.WithLabelValues(kind.String()).Inc()
	m.BytesSent.WithLabelValues(kind.String()).Add(float64(n))
}

// FrameReceived implements channel.Observer.
func (m *Metrics) FrameReceived(kind api.TransportKind, n int) {
	if m == nil {
		return
	}
	m.FramesDecoded.WithLabelValues(kind.String()).Inc()
	m.BytesReceived.WithLabelValues(kind.String()).Add(float64(n))
}

// ProtocolError implements channel.Observer.
func (m *Metrics) ProtocolError(reason string) {
	if m == nil {
		return
	}
	m.ProtocolErrors.WithLabelValues(reason).Inc()
}

// ResponsesPending implements response.Observer.
func (m *Metrics) ResponsesPending(delta int) {
	if m == nil {
		return
	}
	m.Pending.Add(float64(delta))
}

// ResponseTimedOut implements response.Observer.
func (m *Metrics) ResponseTimedOut() {
	if m == nil {
		return
	}
	m.ResponseTimeouts.Inc()
}

// BufferAllocated implements pool.Observer.
func (m *Metrics) BufferAllocated(int) {
	if m == nil {
		return
	}
	m.PoolAllocations.Inc()
}

// BufferReused implements pool.Observer.
func (m *Metrics) BufferReused(int) {
	if m == nil {
		return
	}
	m.PoolReuses.Inc()
}

// ChannelsActive implements server.Observer.
func (m *Metrics) ChannelsActive(n int) {
	if m == nil {
		return
	}
	m.ServerChannels.Set(float64(n))
}

// ChannelRejected implements server.Observer.
func (m *Metrics) ChannelRejected() {
	if m == nil {
		return
	}
	m.ServerRejections.Inc()
}
