package retrieval

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// strategySearches counts strategy invocations by name and engine mode.
var strategySearches = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "memoryd",
		Subsystem: "retrieval",
		Name:      "strategy_searches_total",
		Help:      "Total number of strategy searches by strategy and mode",
	},
	[]string{"strategy", "mode"},
)
