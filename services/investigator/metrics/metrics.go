// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package metrics exposes Prometheus instrumentation for the investigator.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opspilot_investigations_total",
		Help: "Investigation runs by terminal outcome.",
	}, []string{"outcome"})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "opspilot_investigation_duration_seconds",
		Help:    "Wall-clock duration of investigation runs.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})

	runAttempts = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "opspilot_investigation_attempts",
		Help:    "Backtracking attempts consumed per run.",
		Buckets: []float64{1, 2, 3},
	})

	commandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opspilot_commands_total",
		Help: "Commands by disposition (executed or blocked).",
	}, []string{"disposition"})

	approvalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opspilot_approvals_total",
		Help: "Approval decisions by outcome.",
	}, []string{"outcome"})

	oracleCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opspilot_oracle_calls_total",
		Help: "Oracle calls by operation and status.",
	}, []string{"operation", "status"})

	oracleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "opspilot_oracle_call_duration_seconds",
		Help:    "Oracle call latency by operation.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
)

// RecordRun records a finished investigation run.
func RecordRun(outcome string, duration time.Duration, attempts int) {
	runsTotal.WithLabelValues(outcome).Inc()
	runDuration.Observe(duration.Seconds())
	runAttempts.Observe(float64(attempts))
}

// RecordCommands records executed and blocked command counts.
func RecordCommands(executed, blocked int) {
	commandsTotal.WithLabelValues("executed").Add(float64(executed))
	commandsTotal.WithLabelValues("blocked").Add(float64(blocked))
}

// RecordApproval records an approval decision.
func RecordApproval(granted bool) {
	outcome := "denied"
	if granted {
		outcome = "granted"
	}
	approvalsTotal.WithLabelValues(outcome).Inc()
}

// RecordOracleCall records one oracle round trip.
func RecordOracleCall(operation string, err error, duration time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	oracleCalls.WithLabelValues(operation, status).Inc()
	oracleDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
