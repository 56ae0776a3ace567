package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// itemsStored counts logical items written, by collection.
	itemsStored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "memoryd",
			Subsystem: "store",
			Name:      "items_stored_total",
			Help:      "Total number of context items stored",
		},
		[]string{"collection"},
	)

	// writeRetries counts writes that needed the minimized-metadata retry.
	writeRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "memoryd",
			Subsystem: "store",
			Name:      "write_retries_total",
			Help:      "Total number of writes retried with minimized metadata",
		},
	)

	// writeFailures counts writes that failed even after the retry.
	writeFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "memoryd",
			Subsystem: "store",
			Name:      "write_failures_total",
			Help:      "Total number of writes that failed after retry",
		},
	)

	// searchesTotal counts search requests.
	searchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "memoryd",
			Subsystem: "store",
			Name:      "searches_total",
			Help:      "Total number of store searches",
		},
	)

	// searchDuration tracks end-to-end search latency including
	// reconstruction.
	searchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "memoryd",
			Subsystem: "store",
			Name:      "search_duration_seconds",
			Help:      "Duration of store searches in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// expiredRemoved counts chunks deleted by cleanup.
	expiredRemoved = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "memoryd",
			Subsystem: "store",
			Name:      "expired_chunks_removed_total",
			Help:      "Total number of expired chunks removed by cleanup",
		},
	)

	// cacheHits and cacheMisses track the reconstruction cache.
	cacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "memoryd",
			Subsystem: "store",
			Name:      "cache_hits_total",
			Help:      "Total number of item cache hits",
		},
	)
	cacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "memoryd",
			Subsystem: "store",
			Name:      "cache_misses_total",
			Help:      "Total number of item cache misses",
		},
	)
)
