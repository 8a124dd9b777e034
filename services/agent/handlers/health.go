// Copyright (C) 2025 CeylonMart (engineering@ceylonmart.lk)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ceylonmart/concierge/services/agent/observability"
	"github.com/ceylonmart/concierge/services/agent/resilience"
)

// healthResponse is the JSON shape of the health endpoint.
type healthResponse struct {
	Status         string                      `json:"status"`
	CircuitBreaker observability.BreakerStatus `json:"circuitBreaker"`
	Metrics        healthMetrics               `json:"metrics"`
	Timestamp      time.Time                   `json:"timestamp"`
}

// healthMetrics is the condensed metrics block embedded in health
// responses. The full aggregate lives on the metrics endpoint.
type healthMetrics struct {
	RequestCount        int64   `json:"requestCount"`
	ErrorRate           float64 `json:"errorRate"`
	AverageResponseTime float64 `json:"averageResponseTime"`
	AverageLlmCalls     float64 `json:"averageLlmCalls"`
}

// HandleHealth reports service health.
//
// # Description
//
// Status is "ok" while the model-endpoint breaker is closed and
// "degraded" while it is open or probing. A degraded service still
// returns 200: the process is alive and serving, only the model path
// is impaired.
func HandleHealth(breaker *resilience.CircuitBreaker, agg *observability.Aggregator) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap := agg.Snapshot()
		healthy := breaker.Healthy()

		status := "ok"
		if !healthy {
			status = "degraded"
		}

		c.JSON(http.StatusOK, healthResponse{
			Status: status,
			CircuitBreaker: observability.BreakerStatus{
				State:     breaker.State().String(),
				IsHealthy: healthy,
			},
			Metrics: healthMetrics{
				RequestCount:        snap.RequestCount,
				ErrorRate:           snap.ErrorRate,
				AverageResponseTime: snap.AverageResponseTime,
				AverageLlmCalls:     snap.AverageLlmCalls,
			},
			Timestamp: time.Now().UTC(),
		})
	}
}

// HandleMetrics returns the full in-process metrics aggregate as JSON,
// including the breaker view. Prometheus scraping uses the dedicated
// /metrics/prometheus endpoint instead.
func HandleMetrics(breaker *resilience.CircuitBreaker, agg *observability.Aggregator) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"metrics": agg.Snapshot(),
			"circuitBreaker": observability.BreakerStatus{
				State:     breaker.State().String(),
				IsHealthy: breaker.Healthy(),
			},
		})
	}
}
