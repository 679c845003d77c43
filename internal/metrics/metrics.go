// SPDX-License-Identifier: MIT

// Package metrics exposes prometheus collectors for the coordination core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reportd_sessions_created_total",
		Help: "Total number of sessions created",
	})

	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reportd_sessions_active",
		Help: "Number of sessions currently in active status",
	})

	sessionsCompletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reportd_sessions_completed_total",
		Help: "Total number of finalized sessions by trigger",
	}, []string{"trigger"}) // trigger=timeout|proactive|stop|shutdown

	resultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reportd_results_total",
		Help: "Inbound stage results by router outcome",
	}, []string{"outcome"})

	reportsWrittenTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reportd_reports_written_total",
		Help: "Report write attempts by outcome",
	}, []string{"outcome"}) // outcome=success|failure

	overBudgetSessionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reportd_over_budget_sessions_total",
		Help: "Sessions that received more results than their capture budget",
	})

	uniqueCategoriesGlobal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reportd_unique_categories_global",
		Help: "Distinct normalized categories observed process-wide",
	})

	pendingWork = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reportd_pending_work",
		Help: "Stage results buffered but not yet applied",
	})

	finalizeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "reportd_finalize_duration_seconds",
		Help:    "Wall time of session finalization including the report write",
		Buckets: prometheus.DefBuckets,
	})

	busDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reportd_bus_dropped_total",
		Help: "In-memory bus publish drops by topic and reason",
	}, []string{"topic", "reason"})
)

// IncSessionCreated records a successful session creation.
func IncSessionCreated() {
	sessionsCreatedTotal.Inc()
}

// SetSessionsActive updates the active-session gauge.
func SetSessionsActive(n int) {
	sessionsActive.Set(float64(n))
}

// IncSessionCompleted records a finalization by trigger.
func IncSessionCompleted(trigger string) {
	if trigger == "" {
		trigger = "unknown"
	}
	sessionsCompletedTotal.WithLabelValues(trigger).Inc()
}

// IncResult records a routed stage result by outcome.
func IncResult(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	resultsTotal.WithLabelValues(outcome).Inc()
}

// IncReportWrite records a report write attempt.
func IncReportWrite(success bool) {
	if success {
		reportsWrittenTotal.WithLabelValues("success").Inc()
		return
	}
	reportsWrittenTotal.WithLabelValues("failure").Inc()
}

// IncOverBudget records a session crossing its capture budget.
func IncOverBudget() {
	overBudgetSessionsTotal.Inc()
}

// SetGlobalUniqueCategories updates the process-wide dedup gauge.
func SetGlobalUniqueCategories(n int) {
	uniqueCategoriesGlobal.Set(float64(n))
}

// SetPendingWork updates the buffered-work gauge.
func SetPendingWork(n int) {
	pendingWork.Set(float64(n))
}

// ObserveFinalizeDuration records one finalization duration in seconds.
func ObserveFinalizeDuration(seconds float64) {
	finalizeDuration.Observe(seconds)
}

// IncBusDrop records a dropped bus message with a concrete reason.
func IncBusDrop(topic, reason string) {
	if topic == "" {
		topic = "unknown"
	}
	if reason == "" {
		reason = "unknown"
	}
	busDroppedTotal.WithLabelValues(topic, reason).Inc()
}
