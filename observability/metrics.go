package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"meridianchain/core/types"
)

type protocolMetrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	events     *prometheus.CounterVec
}

type rpcMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

var (
	protocolOnce     sync.Once
	protocolRegistry *protocolMetrics

	rpcOnce     sync.Once
	rpcRegistry *rpcMetrics
)

// ProtocolMetrics returns the lazily-initialised registry recording core
// operation outcomes and audit event volume.
func ProtocolMetrics() *protocolMetrics {
	protocolOnce.Do(func() {
		protocolRegistry = &protocolMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "meridian",
				Subsystem: "core",
				Name:      "operations_total",
				Help:      "Total protocol operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "meridian",
				Subsystem: "core",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for protocol operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "meridian",
				Subsystem: "core",
				Name:      "events_total",
				Help:      "Total audit events emitted segmented by event type.",
			}, []string{"type"}),
		}
		prometheus.MustRegister(
			protocolRegistry.operations,
			protocolRegistry.latency,
			protocolRegistry.events,
		)
	})
	return protocolRegistry
}

// RecordOperation records one protocol operation outcome and its latency.
func RecordOperation(operation, outcome string, duration time.Duration) {
	m := ProtocolMetrics()
	if operation == "" {
		operation = "unknown"
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordEvents counts emitted audit events by type.
func RecordEvents(emitted []*types.Event) {
	m := ProtocolMetrics()
	for _, event := range emitted {
		if event == nil || event.Type == "" {
			continue
		}
		m.events.WithLabelValues(event.Type).Inc()
	}
}

// RPCMetrics returns the lazily-initialised registry recording JSON-RPC
// handler activity.
func RPCMetrics() *rpcMetrics {
	rpcOnce.Do(func() {
		rpcRegistry = &rpcMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "meridian",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "meridian",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
		}
		prometheus.MustRegister(rpcRegistry.requests, rpcRegistry.latency)
	})
	return rpcRegistry
}

// Observe records one JSON-RPC request outcome.
func (m *rpcMetrics) Observe(method string, ok bool, duration time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if !ok {
		outcome = "error"
	}
	m.requests.WithLabelValues(method, outcome).Inc()
	m.latency.WithLabelValues(method).Observe(duration.Seconds())
}
