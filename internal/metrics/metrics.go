// Package metrics provides Prometheus metrics for the milling service
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Merge metrics
	DrillMerges = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pcbmill_drill_merges_total",
			Help: "Total number of consolidated drill files written",
		},
	)

	GCodeMerges = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pcbmill_gcode_merges_total",
			Help: "Total number of merged toolpath programs written",
		},
	)

	// Version store metrics
	VersionCommits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pcbmill_version_commits_total",
			Help: "Total number of committed version directories",
		},
		[]string{"kind"},
	)

	// Converter metrics
	ToolRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pcbmill_tool_runs_total",
			Help: "Total number of converter invocations",
		},
		[]string{"status"},
	)

	ToolRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pcbmill_tool_run_duration_seconds",
			Help:    "Wall time of converter invocations",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
	)

	// Request metrics
	Operations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pcbmill_operations_total",
			Help: "Total number of workflow operations by terminal status",
		},
		[]string{"type", "status"},
	)

	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pcbmill_sessions_active",
			Help: "Number of live client sessions",
		},
	)

	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pcbmill_ws_rate_limit_hits_total",
			Help: "Total number of websocket messages rejected by rate limiting",
		},
	)
)

// RecordToolRun records one converter invocation.
func RecordToolRun(d time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	ToolRuns.WithLabelValues(status).Inc()
	ToolRunDuration.Observe(d.Seconds())
}

// RecordOperation records the terminal status of a workflow operation.
func RecordOperation(typ, status string) {
	Operations.WithLabelValues(typ, status).Inc()
}
