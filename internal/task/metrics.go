package task

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// tasksStarted counts task lifecycles opened.
	tasksStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "memoryd",
			Subsystem: "task",
			Name:      "started_total",
			Help:      "Total number of tasks started",
		},
	)

	// tasksFinished counts terminal transitions, by outcome.
	tasksFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "memoryd",
			Subsystem: "task",
			Name:      "finished_total",
			Help:      "Total number of tasks finished",
		},
		[]string{"outcome"},
	)

	// attemptsRecorded counts recorded attempts, by outcome.
	attemptsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "memoryd",
			Subsystem: "task",
			Name:      "attempts_total",
			Help:      "Total number of attempts recorded",
		},
		[]string{"outcome"},
	)

	// failurePatternsMined counts failure_pattern items written from
	// repeated-failure evidence.
	failurePatternsMined = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "memoryd",
			Subsystem: "task",
			Name:      "failure_patterns_total",
			Help:      "Total number of failure patterns mined",
		},
	)
)
