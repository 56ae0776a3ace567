// Package vectorstore provides Prometheus metrics for backend monitoring.
package vectorstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HealthStatus indicates current backend health (1=healthy, 0=degraded).
	HealthStatus = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "memoryd",
			Subsystem: "vectorstore",
			Name:      "health_status",
			Help:      "Current backend health status (1=healthy, 0=degraded)",
		},
	)

	// HeartbeatsTotal counts heartbeat probes.
	// Labels: result (success, error)
	HeartbeatsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "memoryd",
			Subsystem: "vectorstore",
			Name:      "heartbeats_total",
			Help:      "Total number of backend heartbeat probes",
		},
		[]string{"result"},
	)

	// DocumentsTotal tracks document counts per collection, refreshed on
	// stats collection.
	DocumentsTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "memoryd",
			Subsystem: "vectorstore",
			Name:      "documents_total",
			Help:      "Number of documents per collection",
		},
		[]string{"collection"},
	)
)

// RecordHeartbeat records a heartbeat probe outcome and flips the health
// gauge accordingly.
func RecordHeartbeat(err error) {
	if err != nil {
		HeartbeatsTotal.WithLabelValues("error").Inc()
		HealthStatus.Set(0)
		return
	}
	HeartbeatsTotal.WithLabelValues("success").Inc()
	HealthStatus.Set(1)
}

// RecordCollectionSize updates the per-collection document gauge.
func RecordCollectionSize(collection string, count int) {
	DocumentsTotal.WithLabelValues(collection).Set(float64(count))
}
