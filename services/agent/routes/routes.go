// Copyright (C) 2025 CeylonMart (engineering@ceylonmart.lk)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package routes wires the agent service endpoints onto a gin router.
package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ceylonmart/concierge/services/agent/handlers"
)

// SetupRoutes registers all agent endpoints.
//
// # Inputs
//
//   - router: Target gin engine.
//   - deps: Chat pipeline dependencies. Breaker, store, and aggregator
//     are shared with the health and history endpoints.
//   - gatherer: Prometheus gatherer backing the scrape endpoint. May be
//     nil to skip Prometheus exposure (tests).
func SetupRoutes(router *gin.Engine, deps handlers.ChatDeps, gatherer prometheus.Gatherer) {
	breaker := deps.Executor.Breaker()

	router.GET("/health", handlers.HandleHealth(breaker, deps.Aggregate))

	if gatherer != nil {
		router.GET("/metrics/prometheus", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	v1 := router.Group("/v1")
	{
		v1.GET("/agent/metrics", handlers.HandleMetrics(breaker, deps.Aggregate))
		v1.GET("/chat/ws", handlers.HandleChatWebSocket(deps))

		sessions := v1.Group("/sessions")
		{
			sessions.GET("/:sessionId/history", handlers.HandleSessionHistory(deps.Store, deps.Logger))
		}
	}
}
