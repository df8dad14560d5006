package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	GenerationRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studygen_generation_requests_total",
			Help: "Generation requests by endpoint and response status.",
		},
		[]string{"endpoint", "status"},
	)

	GenerationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "studygen_generation_duration_seconds",
			Help:    "End-to-end generation request latency in seconds.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
		},
		[]string{"endpoint"},
	)

	QuotaDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studygen_quota_decisions_total",
			Help: "Quota ledger decisions by outcome (allowed, denied, unlimited, error).",
		},
		[]string{"outcome"},
	)

	ProviderAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studygen_provider_attempts_total",
			Help: "Provider calls made by the failover invoker, by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	FilePollsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "studygen_file_polls_total",
			Help: "File status polls issued while waiting for uploads to become active.",
		},
	)

	ConfiguredKeys = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "studygen_configured_api_keys",
			Help: "Number of Gemini API keys loaded at startup.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		GenerationRequestsTotal,
		GenerationDuration,
		QuotaDecisionsTotal,
		ProviderAttemptsTotal,
		FilePollsTotal,
		ConfiguredKeys,
	)
}
