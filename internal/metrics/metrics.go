package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingest metrics
	IngestAlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetwatch_ingest_alerts_total",
			Help: "Total number of inbound alerts by source type and outcome",
		},
		[]string{"source_type", "status"}, // status: accepted, rejected
	)

	// Lifecycle metrics
	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetwatch_transitions_total",
			Help: "Total number of alert status transitions by target status and actor",
		},
		[]string{"to_status", "actor"},
	)

	BatchOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetwatch_batch_outcomes_total",
			Help: "Per-alert batch evaluation outcomes",
		},
		[]string{"outcome"}, // outcome: processed, escalated, auto_closed, error
	)

	RuleReloadsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetwatch_rule_reloads_total",
			Help: "Total number of rule index reloads",
		},
	)

	// Sweep metrics
	SweepRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetwatch_sweep_runs_total",
			Help: "Total number of sweep executions by sweep name and result",
		},
		[]string{"sweep", "result"}, // result: ok, error
	)

	SweepLastRunTimestamp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetwatch_sweep_last_run_timestamp_seconds",
			Help: "Unix timestamp of the last sweep run by sweep name",
		},
		[]string{"sweep"},
	)

	SweepBatchSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetwatch_sweep_batch_size",
			Help:    "Number of alerts fetched per sweep run",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
		},
		[]string{"sweep"},
	)

	// Notify handoff metrics
	NotifyJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetwatch_notify_jobs_total",
			Help: "Notification handoff jobs by trigger and outcome",
		},
		[]string{"trigger", "status"}, // trigger: escalate, auto_close; status: queued, failed
	)
)
