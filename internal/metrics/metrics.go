package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OverdueToday = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "duewatch_overdue_today",
			Help: "Instances whose due time today has passed without a submission, as of the last digest",
		},
	)

	PastDue = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "duewatch_past_due",
			Help: "Missed instances from prior days not yet cleared, as of the last digest",
		},
	)

	TotalOverdue = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "duewatch_total_overdue_forms",
			Help: "Distinct forms with at least one overdue or past-due instance, as of the last digest",
		},
	)

	EvaluationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "duewatch_evaluation_duration_seconds",
			Help:    "Duration of overdue evaluations including collaborator fetches",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)

	EvaluationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duewatch_evaluation_failures_total",
			Help: "Evaluations aborted because a collaborator fetch failed",
		},
		[]string{"source"},
	)

	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duewatch_submissions_total",
			Help: "Recorded form submissions by compliance outcome",
		},
		[]string{"late"}, // true/false
	)

	ClearedInstancesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "duewatch_cleared_instances_total",
			Help: "Past-due instances newly acknowledged by users",
		},
	)

	DigestRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duewatch_digest_runs_total",
			Help: "Digest job runs by outcome",
		},
		[]string{"status"}, // ok/fetch_error/notify_error
	)
)

// SetOverdue publishes the summary counts of one evaluation.
func SetOverdue(overdueToday, pastDue, totalOverdue int) {
	OverdueToday.Set(float64(overdueToday))
	PastDue.Set(float64(pastDue))
	TotalOverdue.Set(float64(totalOverdue))
}
