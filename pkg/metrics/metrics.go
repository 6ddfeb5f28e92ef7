// Package metrics provides Prometheus metrics for the dedup service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsTotal tracks dedup runs by outcome
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "dedup",
			Name:      "runs_total",
			Help:      "Total number of dedup runs by status",
		},
		[]string{"status", "dry_run"},
	)

	// RunDuration tracks dedup run duration in seconds
	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clover",
			Subsystem: "dedup",
			Name:      "run_duration_seconds",
			Help:      "Duration of dedup runs in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
		},
		[]string{"dry_run"},
	)

	// GroupsTotal tracks duplicate groups by match type and outcome
	GroupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "dedup",
			Name:      "groups_total",
			Help:      "Total number of duplicate groups processed by match type and status",
		},
		[]string{"match_type", "status"},
	)

	// RecordsMergedTotal tracks leads tombstoned into a survivor
	RecordsMergedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "dedup",
			Name:      "records_merged_total",
			Help:      "Total number of duplicate leads merged by match type",
		},
		[]string{"match_type"},
	)

	// HookFailuresTotal tracks post-commit hooks that failed
	HookFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "dedup",
			Name:      "hook_failures_total",
			Help:      "Total number of failed post-merge hooks",
		},
		[]string{"hook"},
	)

	// TriggerMessagesTotal tracks consumed trigger messages
	TriggerMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "trigger",
			Name:      "messages_total",
			Help:      "Total number of trigger messages consumed by status",
		},
		[]string{"status"},
	)
)
