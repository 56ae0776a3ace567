package indexer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// filesTotal counts files handled by indexing, by outcome.
	filesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "memoryd",
			Subsystem: "indexer",
			Name:      "files_total",
			Help:      "Total number of files handled during indexing",
		},
		[]string{"status"},
	)

	// indexDuration observes wall time of batch indexing runs.
	indexDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "memoryd",
			Subsystem: "indexer",
			Name:      "index_duration_seconds",
			Help:      "Time spent indexing a directory tree",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// watchEvents counts filesystem events seen in watch mode, by op.
	watchEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "memoryd",
			Subsystem: "indexer",
			Name:      "watch_events_total",
			Help:      "Total number of filesystem events observed while watching",
		},
		[]string{"op"},
	)
)
