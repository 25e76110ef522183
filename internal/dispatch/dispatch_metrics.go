package dispatch

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the dispatch subsystem.
type Metrics struct {
	AttemptsTotal *prometheus.CounterVec
	RetriesTotal  *prometheus.CounterVec
	SendDuration  *prometheus.HistogramVec
}

// NewMetrics registers and returns dispatch metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "klaxon_notification_attempts_total",
			Help: "Total notification attempts by channel and terminal status.",
		}, []string{"channel", "status"}),
		RetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "klaxon_notification_retries_total",
			Help: "Total transient-failure retries by channel.",
		}, []string{"channel"}),
		SendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "klaxon_gateway_send_duration_seconds",
			Help:    "Duration of individual gateway sends.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms .. ~25s
		}, []string{"channel"}),
	}

	reg.MustRegister(
		m.AttemptsTotal,
		m.RetriesTotal,
		m.SendDuration,
	)

	return m
}
