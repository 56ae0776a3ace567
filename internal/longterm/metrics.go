package longterm

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// learningsRecorded counts recorded experiences, by category.
	learningsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "memoryd",
			Subsystem: "longterm",
			Name:      "learnings_total",
			Help:      "Total number of learnings recorded",
		},
		[]string{"category"},
	)

	// patternsTracked gauges the distinct patterns in the cache.
	patternsTracked = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "memoryd",
			Subsystem: "longterm",
			Name:      "patterns_tracked",
			Help:      "Number of distinct learning patterns tracked",
		},
	)

	// consolidationsScheduled counts batches handed to the consolidator.
	consolidationsScheduled = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "memoryd",
			Subsystem: "longterm",
			Name:      "consolidations_total",
			Help:      "Total number of consolidation batches scheduled",
		},
	)
)
