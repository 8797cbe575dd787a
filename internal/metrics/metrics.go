package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hanjaemi_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hanjaemi_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	CompletionRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hanjaemi_completion_requests_total",
			Help: "Total number of completion requests by outcome.",
		},
		[]string{"kind", "outcome"},
	)

	StreamChunksRelayedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hanjaemi_stream_chunks_relayed_total",
			Help: "Total number of stream chunks relayed to clients.",
		},
	)

	QuotaDenialsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hanjaemi_quota_denials_total",
			Help: "Total number of requests rejected by the quota gate.",
		},
	)

	ProviderFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hanjaemi_provider_failures_total",
			Help: "Total number of upstream provider failures by error kind.",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		CompletionRequestsTotal,
		StreamChunksRelayedTotal,
		QuotaDenialsTotal,
		ProviderFailuresTotal,
	)
}
