package conversation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// sessionsStarted counts chat sessions opened.
	sessionsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "memoryd",
			Subsystem: "conversation",
			Name:      "sessions_started_total",
			Help:      "Total number of chat sessions started",
		},
	)

	// sessionsEnded counts chat sessions summarized and evicted.
	sessionsEnded = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "memoryd",
			Subsystem: "conversation",
			Name:      "sessions_ended_total",
			Help:      "Total number of chat sessions ended",
		},
	)

	// messagesRecorded counts turns recorded, by role.
	messagesRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "memoryd",
			Subsystem: "conversation",
			Name:      "messages_total",
			Help:      "Total number of chat messages recorded",
		},
		[]string{"role"},
	)
)
