// Copyright (C) 2025 CeylonMart (engineering@ceylonmart.lk)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides metrics and health reporting for the
// agent service.
//
// Two surfaces are exposed:
//   - Prometheus metrics for dashboards and alerting
//   - an in-process snapshot aggregate (bounded sliding windows with
//     percentiles) backing the JSON /health and metrics endpoints
//
// # Thread Safety
//
// All metric operations are thread-safe.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics.
const metricsNamespace = "concierge"

// Subsystem for agent run metrics.
const agentSubsystem = "agent"

// Metrics holds all Prometheus metrics for agent runs.
//
// Construct per process via NewMetrics with an explicit registerer;
// there is no package-level singleton, so tests get fresh instances.
type Metrics struct {
	// RunsTotal counts completed runs by status.
	// Labels: status (ok, error)
	RunsTotal *prometheus.CounterVec

	// RunDurationSeconds measures total run duration.
	// Labels: status (ok, error)
	RunDurationSeconds *prometheus.HistogramVec

	// ModelCallsTotal counts model endpoint invocations by outcome.
	// Labels: outcome (success, failure, rejected)
	ModelCallsTotal *prometheus.CounterVec

	// ToolInvocationsTotal counts tool dispatches by tool name.
	// Labels: tool
	ToolInvocationsTotal *prometheus.CounterVec

	// RateLimitRejectionsTotal counts admission rejections by policy.
	// Labels: policy
	RateLimitRejectionsTotal *prometheus.CounterVec

	// CircuitBreakerState reports the breaker state as a gauge
	// (0 closed, 1 open, 2 half-open).
	CircuitBreakerState prometheus.Gauge

	// ActiveRuns tracks currently executing runs.
	ActiveRuns prometheus.Gauge
}

// NewMetrics creates and registers all agent metrics.
//
// # Inputs
//
//   - reg: Prometheus registerer. Must not be nil. Pass
//     prometheus.NewRegistry() in tests for isolation.
//
// # Outputs
//
//   - *Metrics: The registered metrics instance.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: agentSubsystem,
				Name:      "runs_total",
				Help:      "Total agent runs by status.",
			},
			[]string{"status"},
		),
		RunDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: agentSubsystem,
				Name:      "run_duration_seconds",
				Help:      "Total run duration in seconds.",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"status"},
		),
		ModelCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: agentSubsystem,
				Name:      "model_calls_total",
				Help:      "Model endpoint invocations by outcome.",
			},
			[]string{"outcome"},
		),
		ToolInvocationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: agentSubsystem,
				Name:      "tool_invocations_total",
				Help:      "Tool dispatches by tool name.",
			},
			[]string{"tool"},
		),
		RateLimitRejectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: agentSubsystem,
				Name:      "rate_limit_rejections_total",
				Help:      "Admission rejections by limiter policy.",
			},
			[]string{"policy"},
		),
		CircuitBreakerState: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: agentSubsystem,
				Name:      "circuit_breaker_state",
				Help:      "Model endpoint breaker state (0 closed, 1 open, 2 half-open).",
			},
		),
		ActiveRuns: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: agentSubsystem,
				Name:      "active_runs",
				Help:      "Currently executing agent runs.",
			},
		),
	}
}
