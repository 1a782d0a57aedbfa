package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the daemon. Everything registers
// against a private registry so tests can build as many instances as they
// like without double-registration panics.
type Metrics struct {
	ProbesTotal        *prometheus.CounterVec
	ProbeDuration      *prometheus.HistogramVec
	FailoversTotal     *prometheus.CounterVec
	MeshHealthScore    prometheus.Gauge
	NodeLatencyMs      *prometheus.GaugeVec
	NodeFailures       *prometheus.GaugeVec
	NodePrimary        *prometheus.GaugeVec
	TicksTotal         prometheus.Counter
	TicksSkippedTotal  prometheus.Counter
	NotificationsTotal *prometheus.CounterVec
	registry           *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		ProbesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meshmon_probes_total",
				Help: "Probes issued, by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
		ProbeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "meshmon_probe_duration_seconds",
				Help:    "Wall-clock probe round trip in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider"},
		),
		FailoversTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meshmon_failovers_total",
				Help: "Failover attempts, by reason and result",
			},
			[]string{"reason", "result"},
		),
		MeshHealthScore: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "meshmon_mesh_health_score",
				Help: "Aggregate mesh health, 0-100",
			},
		),
		NodeLatencyMs: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "meshmon_node_latency_ms",
				Help: "Last successful probe latency per node, in milliseconds",
			},
			[]string{"provider"},
		),
		NodeFailures: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "meshmon_node_consecutive_failures",
				Help: "Current consecutive probe failures per node",
			},
			[]string{"provider"},
		),
		NodePrimary: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "meshmon_node_primary",
				Help: "1 for the node currently holding the primary role",
			},
			[]string{"provider"},
		),
		TicksTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "meshmon_aggregator_ticks_total",
				Help: "Aggregation ticks executed",
			},
		),
		TicksSkippedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "meshmon_aggregator_ticks_skipped_total",
				Help: "Ticks skipped because the previous tick was still running",
			},
		),
		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "meshmon_notifications_total",
				Help: "Notification deliveries, by status",
			},
			[]string{"status"},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.ProbesTotal,
		m.ProbeDuration,
		m.FailoversTotal,
		m.MeshHealthScore,
		m.NodeLatencyMs,
		m.NodeFailures,
		m.NodePrimary,
		m.TicksTotal,
		m.TicksSkippedTotal,
		m.NotificationsTotal,
	)

	return m
}

// ObserveProbe records one probe's outcome and duration.
func (m *Metrics) ObserveProbe(provider, outcome string, seconds float64) {
	m.ProbesTotal.WithLabelValues(provider, outcome).Inc()
	m.ProbeDuration.WithLabelValues(provider).Observe(seconds)
}

// RecordFailover counts one failover attempt.
func (m *Metrics) RecordFailover(reason, result string) {
	m.FailoversTotal.WithLabelValues(reason, result).Inc()
}

// SetNodeGauges publishes one node's current bookkeeping.
func (m *Metrics) SetNodeGauges(provider string, latencyMs *float64, failures int, isPrimary bool) {
	if latencyMs != nil {
		m.NodeLatencyMs.WithLabelValues(provider).Set(*latencyMs)
	}
	m.NodeFailures.WithLabelValues(provider).Set(float64(failures))
	primary := 0.0
	if isPrimary {
		primary = 1.0
	}
	m.NodePrimary.WithLabelValues(provider).Set(primary)
}

// IncNotification counts a notification delivery attempt by status
// (sent, failed, dropped).
func (m *Metrics) IncNotification(status string) {
	m.NotificationsTotal.WithLabelValues(status).Inc()
}

// Handler returns the Prometheus scrape handler for this instance.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
