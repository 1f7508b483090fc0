package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memtex_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "memtex_http_request_duration_seconds",
			Help: "HTTP request duration in seconds",
		},
		[]string{"method", "endpoint"},
	)

	RetrievalLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "memtex_retrieval_latency_seconds",
			Help: "Vector search plus hydration latency in seconds",
		},
	)

	FallbackAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memtex_llm_attempts_total",
			Help: "Generation attempts across the credential and model matrix",
		},
		[]string{"provider", "outcome"},
	)

	WorkerJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memtex_worker_jobs_total",
			Help: "Summarization jobs processed by outcome",
		},
		[]string{"outcome"},
	)

	SweepDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "memtex_sweep_deleted_points_total",
			Help: "Dangling vector points removed by maintenance sweeps",
		},
	)
)
