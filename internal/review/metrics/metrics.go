package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for the review workflow.
type Metrics struct {
	DraftsSaved     prometheus.Counter
	StaffEdits      prometheus.Counter
	Submissions     prometheus.Counter
	Decisions       *prometheus.CounterVec
	AutoPromotions  prometheus.Counter
	MergeConflicts  prometheus.Counter
	OperationTiming *prometheus.HistogramVec
}

// New creates and registers all review workflow metrics.
func New() *Metrics {
	return &Metrics{
		DraftsSaved: promauto.NewCounter(prometheus.CounterOpts{
			Name: "folio_drafts_saved_total",
			Help: "Total number of owner draft saves",
		}),
		StaffEdits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "folio_staff_edits_total",
			Help: "Total number of staff edits to pending versions",
		}),
		Submissions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "folio_submissions_total",
			Help: "Total number of drafts submitted for review",
		}),
		Decisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "folio_review_decisions_total",
			Help: "Total number of review decisions by outcome",
		}, []string{"decision"}),
		AutoPromotions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "folio_auto_promotions_total",
			Help: "Total number of staff edits auto-promoted to the live profile",
		}),
		MergeConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "folio_version_merge_conflicts_total",
			Help: "Total number of optimistic-lock conflicts retried on version writes",
		}),
		OperationTiming: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "folio_workflow_operation_seconds",
			Help:    "Latency of review workflow operations",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}
}
