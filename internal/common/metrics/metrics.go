// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TransitionsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_transitions_applied_total",
			Help: "Total number of status transitions committed",
		},
		[]string{"from_status", "to_status", "actor"},
	)

	TransitionsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_transitions_skipped_total",
			Help: "Total number of transitions skipped by the optimistic pre-check",
		},
		[]string{"reason"},
	)

	ReconcilerCorrections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_reconciler_corrections_total",
			Help: "Total number of persisted statuses corrected by the reconciler",
		},
		[]string{"from_status", "to_status"},
	)

	LedgerEntries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_ledger_entries_total",
			Help: "Total number of ledger entry state changes",
		},
		[]string{"action"},
	)

	AlertsRaised = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_alerts_raised_total",
			Help: "Total number of system alerts written",
		},
		[]string{"type", "severity"},
	)

	AlertsSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_alerts_suppressed_total",
			Help: "Total number of alerts suppressed by the cooldown window",
		},
		[]string{"type"},
	)

	CycleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "engine_monitor_cycle_duration_seconds",
			Help: "Duration of one monitor cycle in seconds",
		},
		[]string{"monitor"},
	)

	CycleErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_monitor_cycle_errors_total",
			Help: "Total number of per-item errors during monitor cycles",
		},
		[]string{"monitor"},
	)
)
