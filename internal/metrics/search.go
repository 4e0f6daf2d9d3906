package metrics

import "github.com/prometheus/client_golang/prometheus"

// Search and indexing Prometheus metrics.
var (
	SearchRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "discovery",
			Name:      "search_requests_total",
			Help:      "Total number of search requests",
		},
		[]string{"method", "status"},
	)

	SearchRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "discovery",
			Name:      "search_request_duration_seconds",
			Help:      "Search request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method"},
	)

	SearchCandidatesReturned = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "discovery",
			Name:      "search_candidates_returned",
			Help:      "Number of candidates returned after filtering and truncation",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100},
		},
		[]string{"method"},
	)

	IndexUpsertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "discovery",
			Name:      "index_upserts_total",
			Help:      "Total number of product vector upserts",
		},
		[]string{"method", "status"},
	)

	RerankPreferencesUsed = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "discovery",
			Name:      "rerank_preferences_used",
			Help:      "Number of preference signals applied per rerank",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50},
		},
		[]string{"kind"}, // "product" / "image"
	)
)

var searchMetricsRegistered bool

// RegisterSearchMetrics registers Prometheus search metrics. Must be called once from main.
func RegisterSearchMetrics() {
	if searchMetricsRegistered {
		return
	}
	prometheus.MustRegister(SearchRequestsTotal)
	prometheus.MustRegister(SearchRequestDuration)
	prometheus.MustRegister(SearchCandidatesReturned)
	prometheus.MustRegister(IndexUpsertsTotal)
	prometheus.MustRegister(RerankPreferencesUsed)
	searchMetricsRegistered = true
}
