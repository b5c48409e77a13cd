package vectorstore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationsTotal counts store operations.
	// Labels: operation (build, load, delete, list), result (success, error)
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docsearchd",
			Subsystem: "vectorstore",
			Name:      "operations_total",
			Help:      "Total number of vector store operations",
		},
		[]string{"operation", "result"},
	)

	// OperationDuration tracks how long store operations take.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docsearchd",
			Subsystem: "vectorstore",
			Name:      "operation_duration_seconds",
			Help:      "Duration of vector store operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// CachedRecords tracks the number of records currently held in memory.
	CachedRecords = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "docsearchd",
			Subsystem: "vectorstore",
			Name:      "cached_records",
			Help:      "Number of index records currently cached in memory",
		},
	)

	// CacheEventsTotal counts cache activity.
	// Labels: event (hit, miss, evict)
	CacheEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docsearchd",
			Subsystem: "vectorstore",
			Name:      "cache_events_total",
			Help:      "Total number of record cache events",
		},
		[]string{"event"},
	)

	// IndexedChunks observes per-document chunk counts at build time.
	IndexedChunks = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "docsearchd",
			Subsystem: "vectorstore",
			Name:      "indexed_chunks",
			Help:      "Number of chunks per built index",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)
)

// recordOperation records the outcome and duration of a store operation.
func recordOperation(operation string, start time.Time, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	OperationsTotal.WithLabelValues(operation, result).Inc()
	OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// recordCacheEvent records a cache hit, miss, or eviction.
func recordCacheEvent(event string, n int) {
	if n <= 0 {
		return
	}
	CacheEventsTotal.WithLabelValues(event).Add(float64(n))
}
