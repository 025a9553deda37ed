package infra

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Audit: поток записей и здоровье буфера записи
	AuditEntries        *prometheus.CounterVec
	AuditBufferOverflow prometheus.Counter
	AuditFlushFailures  prometheus.Counter
	AuditBufferFill     prometheus.Gauge
	AuditCleanupRemoved prometheus.Counter

	// Stream: подписчики и доставка
	StreamConnections   prometheus.Gauge
	StreamDeliveries    *prometheus.CounterVec
	StreamDroppedFrames prometheus.Counter
	StreamRejected      prometheus.Counter

	// Gateway: латентность вызовов CLI и состояние Circuit Breaker (0 - ок, 1 - выбило)
	GatewayCallDuration *prometheus.HistogramVec
	CircuitBreakerState *prometheus.GaugeVec

	// HTTP API
	RequestDuration *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - если регистр не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		AuditEntries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mc_audit_entries_total",
			Help: "Audit entries appended, by action and result.",
		}, []string{"action", "result"}),

		AuditBufferOverflow: f.NewCounter(prometheus.CounterOpts{
			Name: "mc_audit_buffer_overflow_total",
			Help: "Entries kept in memory only because the write buffer was full.",
		}),

		AuditFlushFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "mc_audit_flush_failures_total",
			Help: "Failed batch writes to the audit backend.",
		}),

		AuditBufferFill: f.NewGauge(prometheus.GaugeOpts{
			Name: "mc_audit_buffer_utilization",
			Help: "Current number of events in audit write buffer.",
		}),

		AuditCleanupRemoved: f.NewCounter(prometheus.CounterOpts{
			Name: "mc_audit_cleanup_removed_total",
			Help: "Entries removed by retention cleanup.",
		}),

		StreamConnections: f.NewGauge(prometheus.GaugeOpts{
			Name: "mc_stream_connections",
			Help: "Open websocket subscriber connections.",
		}),

		StreamDeliveries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mc_stream_deliveries_total",
			Help: "Frames queued to subscribers, by message type.",
		}, []string{"type"}),

		StreamDroppedFrames: f.NewCounter(prometheus.CounterOpts{
			Name: "mc_stream_dropped_frames_total",
			Help: "Frames dropped because a subscriber queue was full.",
		}),

		StreamRejected: f.NewCounter(prometheus.CounterOpts{
			Name: "mc_stream_rejected_handshakes_total",
			Help: "Websocket upgrades rejected during authentication.",
		}),

		GatewayCallDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mc_gateway_call_duration_seconds",
			Help:    "Histogram of gateway CLI call latencies.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"op", "outcome"}),

		CircuitBreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mc_circuit_breaker_state",
			Help: "Current state of the circuit breaker (0=closed, 1=open, 2=half-open).",
		}, []string{"name"}),

		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mc_http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"method", "route", "status"}),
	}
}
