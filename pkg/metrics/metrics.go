package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Point value pipeline metrics
var (
	// Query metrics
	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "historian_queries_total",
			Help: "Total number of point value queries by mode and outcome",
		},
		[]string{"mode", "status"},
	)

	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "historian_query_duration_seconds",
			Help:    "Point value query duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		},
		[]string{"mode"},
	)

	SamplesRead = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "historian_samples_read_total",
			Help: "Total number of samples read from the store by queries",
		},
		[]string{"mode"},
	)

	// Spectral analysis metrics
	TransformsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "historian_transforms_total",
			Help: "Total number of FFT/IFFT requests",
		},
		[]string{"direction"},
	)

	// Storage metrics
	SamplesWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "historian_samples_written_total",
			Help: "Total number of samples written to the store",
		},
	)

	BlockCacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "historian_block_cache_requests_total",
			Help: "Decoded block cache lookups",
		},
		[]string{"result"}, // hit/miss
	)
)
