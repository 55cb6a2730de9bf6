package gateway

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes the gateway's Prometheus instrumentation. Each Gateway
// owns its registry so repeated module instances never collide.
type Metrics struct {
	registry *prometheus.Registry

	NodesConnected    prometheus.Gauge
	FramesTotal       *prometheus.CounterVec
	InvokesTotal      *prometheus.CounterVec
	InvokeSeconds     *prometheus.HistogramVec
	EventsTotal       prometheus.Counter
	PairingsTotal     prometheus.Counter
	HandshakeFailures prometheus.Counter
}

// NewMetrics creates and registers the gateway collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		NodesConnected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "clawbridge_nodes_connected",
			Help: "Number of node sessions currently registered.",
		}),
		FramesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "clawbridge_frames_total",
			Help: "Frames processed, by direction and type.",
		}, []string{"direction", "type"}),
		InvokesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "clawbridge_invokes_total",
			Help: "Command invocations sent to nodes, by command and outcome.",
		}, []string{"command", "status"}),
		InvokeSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "clawbridge_invoke_duration_seconds",
			Help:    "Latency of node command invocations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"command"}),
		EventsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "clawbridge_node_events_total",
			Help: "Event frames received from nodes.",
		}),
		PairingsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "clawbridge_pairings_total",
			Help: "Pairing tokens issued.",
		}),
		HandshakeFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "clawbridge_handshake_failures_total",
			Help: "Connections dropped before completing the hello handshake.",
		}),
	}
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
