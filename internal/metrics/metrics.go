package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "gateway"

var (
	AuthAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_attempts_total",
			Help:      "Total number of token verification attempts, labeled by result and failure kind.",
		},
		[]string{"result", "kind"},
	)

	UpstreamRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Total number of proxied requests, labeled by service and outcome.",
		},
		[]string{"service", "outcome"},
	)

	UpstreamLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_latency_seconds",
			Help:      "Time from forwarding a request to the upstream response or failure (seconds).",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"service"},
	)

	RateLimitedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Total number of requests rejected by the rate limiter.",
		},
	)

	PanicsRecoveredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "panics_recovered_total",
			Help:      "Total number of recovered panics, labeled by where they were caught.",
		},
		[]string{"scope"},
	)
)

func init() {
	prometheus.MustRegister(
		AuthAttemptsTotal,
		UpstreamRequestsTotal,
		UpstreamLatencySeconds,
		RateLimitedTotal,
		PanicsRecoveredTotal,
	)
}
