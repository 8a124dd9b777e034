// Copyright (C) 2025 CeylonMart (engineering@ceylonmart.lk)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceylonmart/concierge/services/agent/observability"
	"github.com/ceylonmart/concierge/services/agent/resilience"
)

func healthRouter(breaker *resilience.CircuitBreaker, agg *observability.Aggregator) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/health", HandleHealth(breaker, agg))
	router.GET("/v1/agent/metrics", HandleMetrics(breaker, agg))
	return router
}

func TestHandleHealthOK(t *testing.T) {
	breaker := resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig())
	agg := observability.NewAggregator()
	agg.RecordRun(120*time.Millisecond, 2, false)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	healthRouter(breaker, agg).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Status         string `json:"status"`
		CircuitBreaker struct {
			State     string `json:"state"`
			IsHealthy bool   `json:"isHealthy"`
		} `json:"circuitBreaker"`
		Metrics struct {
			RequestCount        int64   `json:"requestCount"`
			ErrorRate           float64 `json:"errorRate"`
			AverageResponseTime float64 `json:"averageResponseTime"`
			AverageLlmCalls     float64 `json:"averageLlmCalls"`
		} `json:"metrics"`
		Timestamp time.Time `json:"timestamp"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "closed", resp.CircuitBreaker.State)
	assert.True(t, resp.CircuitBreaker.IsHealthy)
	assert.Equal(t, int64(1), resp.Metrics.RequestCount)
	assert.Equal(t, float64(120), resp.Metrics.AverageResponseTime)
	assert.Equal(t, float64(2), resp.Metrics.AverageLlmCalls)
	assert.False(t, resp.Timestamp.IsZero())
}

func TestHandleHealthDegradedWhenBreakerOpen(t *testing.T) {
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{FailureThreshold: 1, Cooldown: time.Hour})
	breaker.RecordFailure()
	agg := observability.NewAggregator()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	healthRouter(breaker, agg).ServeHTTP(w, req)

	// Degraded is still 200: the process is alive, only the model path
	// is impaired.
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp["status"])
}

func TestHandleMetrics(t *testing.T) {
	breaker := resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig())
	agg := observability.NewAggregator()
	agg.RecordRun(50*time.Millisecond, 1, true)
	agg.RecordToolInvocation("search_products")
	agg.RecordRateLimitRejection()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/agent/metrics", nil)
	healthRouter(breaker, agg).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Metrics        observability.Snapshot      `json:"metrics"`
		CircuitBreaker observability.BreakerStatus `json:"circuitBreaker"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	assert.Equal(t, int64(1), resp.Metrics.RequestCount)
	assert.Equal(t, int64(1), resp.Metrics.ErrorCount)
	assert.Equal(t, float64(1), resp.Metrics.ErrorRate)
	assert.Equal(t, int64(1), resp.Metrics.ToolInvocations["search_products"])
	assert.Equal(t, int64(1), resp.Metrics.RateLimitRejections)
	assert.Equal(t, "closed", resp.CircuitBreaker.State)
	assert.True(t, resp.CircuitBreaker.IsHealthy)
}
