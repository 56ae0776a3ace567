package consolidator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// jobsScheduled counts jobs accepted onto the queue, by type.
	jobsScheduled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "memoryd",
			Subsystem: "consolidator",
			Name:      "jobs_scheduled_total",
			Help:      "Total number of consolidation jobs scheduled",
		},
		[]string{"job_type"},
	)

	// jobsProcessed counts finished jobs, by terminal status.
	jobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "memoryd",
			Subsystem: "consolidator",
			Name:      "jobs_processed_total",
			Help:      "Total number of consolidation jobs processed",
		},
		[]string{"status"},
	)

	// resultsStored counts consolidated results written back, by type.
	resultsStored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "memoryd",
			Subsystem: "consolidator",
			Name:      "results_total",
			Help:      "Total number of consolidation results stored",
		},
		[]string{"result_type"},
	)

	// queueDepth tracks pending jobs.
	queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "memoryd",
			Subsystem: "consolidator",
			Name:      "queue_depth",
			Help:      "Number of consolidation jobs waiting in the queue",
		},
	)

	// processDuration observes per-job processing time.
	processDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "memoryd",
			Subsystem: "consolidator",
			Name:      "process_duration_seconds",
			Help:      "Time spent processing a consolidation job",
			Buckets:   prometheus.DefBuckets,
		},
	)
)
