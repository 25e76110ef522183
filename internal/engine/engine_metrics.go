package engine

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the alerting engine.
type Metrics struct {
	SignalsTotal     *prometheus.CounterVec
	AlertsTotal      *prometheus.CounterVec
	AlertsOpen       prometheus.Gauge
	EscalationsTotal *prometheus.CounterVec
	ExpiredTotal     prometheus.Counter
	AckLatency       prometheus.Histogram
}

// NewMetrics registers and returns engine metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "klaxon_signals_total",
			Help: "Signals ingested by source type and outcome.",
		}, []string{"source", "result"}),
		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "klaxon_alerts_created_total",
			Help: "Alerts created by initial severity.",
		}, []string{"severity"}),
		AlertsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "klaxon_alerts_open",
			Help: "Alerts currently in a non-terminal state.",
		}),
		EscalationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "klaxon_escalations_total",
			Help: "Escalation step advances by severity.",
		}, []string{"severity"}),
		ExpiredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "klaxon_alerts_expired_total",
			Help: "Alerts that exhausted their escalation ladder unacknowledged.",
		}),
		AckLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "klaxon_ack_latency_seconds",
			Help:    "Time from alert creation to acknowledgement in seconds.",
			Buckets: prometheus.ExponentialBuckets(30, 2, 12), // 30s .. ~34h
		}),
	}
	reg.MustRegister(
		m.SignalsTotal,
		m.AlertsTotal,
		m.AlertsOpen,
		m.EscalationsTotal,
		m.ExpiredTotal,
		m.AckLatency,
	)
	return m
}
