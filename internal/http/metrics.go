// Package http provides Prometheus metrics for the indexing API.
package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/fyrsmithlabs/recalld/internal/index"
)

var (
	// IndexOperationsTotal counts index operation outcomes.
	// Labels: entity, action (indexed, deleted, skipped)
	IndexOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recalld",
			Subsystem: "index",
			Name:      "operations_total",
			Help:      "Total index operations by entity and resulting action",
		},
		[]string{"entity", "action"},
	)

	// IndexSkipsTotal counts skipped operations by reason.
	// Labels: entity, reason (unsupported, missing_record, checksum_match)
	IndexSkipsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "recalld",
			Subsystem: "index",
			Name:      "skips_total",
			Help:      "Total skipped index operations by entity and reason",
		},
		[]string{"entity", "reason"},
	)
)

// recordIndexOutcome updates the Prometheus counters for one index or
// delete operation.
func recordIndexOutcome(entityID string, result index.Result) {
	IndexOperationsTotal.WithLabelValues(entityID, string(result.Action)).Inc()
	if result.Reason != "" {
		IndexSkipsTotal.WithLabelValues(entityID, string(result.Reason)).Inc()
	}
}
