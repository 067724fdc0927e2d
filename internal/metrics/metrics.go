package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry wraps the Prometheus collectors used across the gateway's
// session, hub, cache, adapter, and upstream components.
type Registry struct {
	SessionsActive    prometheus.Gauge
	SessionsAccepted  prometheus.Counter
	SessionsClosed    prometheus.Counter
	SessionErrors     *prometheus.CounterVec

	FramesIn   *prometheus.CounterVec
	FramesOut  *prometheus.CounterVec

	TopicsActive      prometheus.Gauge
	SubscribersActive prometheus.Gauge
	SlowConsumerKicks *prometheus.CounterVec
	CoalescedFrames   *prometheus.CounterVec

	CacheWrites *prometheus.CounterVec
	CacheSize   *prometheus.GaugeVec

	AdapterStatus      *prometheus.GaugeVec
	AdapterReconnects  *prometheus.CounterVec
	CircuitBreakerTrips *prometheus.CounterVec
	UpstreamLatency    *prometheus.HistogramVec
}

// NewRegistry constructs and registers all gateway metrics collectors.
func NewRegistry() *Registry {
	return &Registry{
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_sessions_active",
			Help: "Number of currently connected client WebSocket sessions",
		}),
		SessionsAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gateway_sessions_accepted_total",
			Help: "Total number of accepted client sessions",
		}),
		SessionsClosed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "gateway_sessions_closed_total",
			Help: "Total number of closed client sessions",
		}),
		SessionErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_session_errors_total",
			Help: "Total number of session errors by reason",
		}, []string{"reason"}),

		FramesIn: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_frames_in_total",
			Help: "Total number of inbound client frames by op",
		}, []string{"op"}),
		FramesOut: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_frames_out_total",
			Help: "Total number of outbound stream frames by type",
		}, []string{"type"}),

		TopicsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_hub_topics_active",
			Help: "Number of live topics in the stream hub",
		}),
		SubscribersActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_hub_subscribers_active",
			Help: "Number of active subscriber registrations across all topics",
		}),
		SlowConsumerKicks: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_hub_slow_consumer_total",
			Help: "Total number of subscribers terminated for exceeding queue capacity",
		}, []string{"channel_kind"}),
		CoalescedFrames: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_hub_coalesced_frames_total",
			Help: "Total number of same-kind frames coalesced on subscriber queue overflow",
		}, []string{"channel_kind"}),

		CacheWrites: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_cache_writes_total",
			Help: "Total number of cache writes by channel kind",
		}, []string{"channel_kind"}),
		CacheSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_cache_entries",
			Help: "Number of live channel keys tracked in the replay cache",
		}, []string{"channel_kind"}),

		AdapterStatus: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_adapter_status",
			Help: "Adapter status by venue (0=unreachable,1=degraded,2=healthy)",
		}, []string{"venue"}),
		AdapterReconnects: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_adapter_reconnects_total",
			Help: "Total number of upstream reconnect attempts by venue",
		}, []string{"venue"}),
		CircuitBreakerTrips: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_adapter_circuit_breaker_trips_total",
			Help: "Total number of circuit breaker state transitions by venue",
		}, []string{"venue", "state"}),
		UpstreamLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_upstream_message_latency_seconds",
			Help:    "Time between upstream message receipt and cache publish",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}, []string{"venue"}),
	}
}

// Handler returns an HTTP handler exposing Prometheus metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.Handler()
}
