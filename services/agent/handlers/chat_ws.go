// Copyright (C) 2025 CeylonMart (engineering@ceylonmart.lk)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers provides the HTTP and WebSocket endpoints of the
// agent service.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/ceylonmart/concierge/services/agent/checkpoint"
	"github.com/ceylonmart/concierge/services/agent/datatypes"
	"github.com/ceylonmart/concierge/services/agent/executor"
	"github.com/ceylonmart/concierge/services/agent/guard"
	"github.com/ceylonmart/concierge/services/agent/observability"
	"github.com/ceylonmart/concierge/services/agent/resilience"
	"github.com/ceylonmart/concierge/services/agent/tools"
)

const (
	// pingInterval is how often keepalive pings are sent.
	pingInterval = 30 * time.Second

	// pongWait is how long to wait for a pong before the read deadline
	// expires and the connection is considered dead.
	pongWait = 60 * time.Second

	// writeWait bounds each write to the peer.
	writeWait = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
}

// wsConn wraps a websocket connection with a write mutex so the
// keepalive goroutine and the run loop never interleave frames.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsConn) sendJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := w.conn.WriteJSON(v); err != nil {
		slog.Warn("failed to write websocket frame", "error", err)
		return err
	}
	return nil
}

func (w *wsConn) ping() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// ChatDeps bundles the dependencies of the chat endpoint.
type ChatDeps struct {
	Executor  *executor.Executor
	Store     checkpoint.Store
	Guard     *guard.Validator
	Limiter   *resilience.Limiter
	Metrics   *observability.Metrics
	Aggregate *observability.Aggregator
	Logger    *slog.Logger
}

// HandleChatWebSocket upgrades the connection and serves the chat
// protocol.
//
// # Description
//
// Each inbound frame is a datatypes.ChatRequest. The pipeline per
// message: transport validation, input guard, admission rate limiting,
// state load, run, metrics. Every message is terminated by a chatEnd
// frame carrying "ok" or "error". Messages are processed sequentially
// per connection; concurrent messages for one session across
// connections are rejected as busy.
//
// Keepalive pings are sent on an interval; a peer that misses the pong
// deadline is disconnected. Disconnecting cancels the in-flight run.
func HandleChatWebSocket(deps ChatDeps) gin.HandlerFunc {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}

	return func(c *gin.Context) {
		raw, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Error("failed to upgrade websocket", "error", err)
			return
		}
		ws := &wsConn{conn: raw}
		defer raw.Close()

		clientIP := c.ClientIP()
		log.Info("websocket client connected", "client_ip", clientIP)

		// connCtx cancels the in-flight run when the connection dies.
		connCtx, cancel := context.WithCancel(c.Request.Context())
		defer cancel()

		_ = raw.SetReadDeadline(time.Now().Add(pongWait))
		raw.SetPongHandler(func(string) error {
			return raw.SetReadDeadline(time.Now().Add(pongWait))
		})
		go keepalive(connCtx, cancel, ws, pingInterval)

		for {
			var req datatypes.ChatRequest
			if err := raw.ReadJSON(&req); err != nil {
				log.Info("websocket client disconnected", "client_ip", clientIP, "reason", err.Error())
				return
			}

			if err := req.Validate(); err != nil {
				if sendErr := ws.sendJSON(datatypes.NewStreamEvent(datatypes.EventChatEnd, datatypes.ChatEndPayload{
					Status: "error",
					Error:  "invalid request: " + err.Error(),
				})); sendErr != nil {
					return
				}
				continue
			}
			req.EnsureDefaults()

			// Announce the session ID so first-contact clients can
			// persist it for the rest of the conversation.
			if err := ws.sendJSON(datatypes.NewStreamEvent(datatypes.EventSession, gin.H{"sessionId": req.SessionID})); err != nil {
				return
			}

			if !serveMessage(connCtx, ws, deps, req, clientIP, log) {
				return
			}
		}
	}
}

// serveMessage runs the per-message pipeline. Returns false when the
// connection should be closed.
func serveMessage(ctx context.Context, ws *wsConn, deps ChatDeps, req datatypes.ChatRequest, clientIP string, log *slog.Logger) bool {
	end := func(payload datatypes.ChatEndPayload) bool {
		return ws.sendJSON(datatypes.NewStreamEvent(datatypes.EventChatEnd, payload)) == nil
	}

	text, err := deps.Guard.Validate(req.Text)
	if err != nil {
		log.Warn("input rejected", "session_id", req.SessionID, "error", err)
		return end(datatypes.ChatEndPayload{Status: "error", Error: err.Error()})
	}

	decision := deps.Limiter.Check(clientIP)
	if rejErr := decision.Err(); rejErr != nil {
		var limited *resilience.RateLimitError
		errors.As(rejErr, &limited)
		deps.Metrics.RateLimitRejectionsTotal.WithLabelValues(limited.Policy).Inc()
		deps.Aggregate.RecordRateLimitRejection()
		log.Warn("rate limit exceeded",
			"client_ip", clientIP,
			"policy", limited.Policy,
			"retry_after", limited.RetryAfter)
		return end(datatypes.ChatEndPayload{
			Status:            "error",
			Error:             "rate limit exceeded",
			RetryAfterSeconds: limited.RetryAfterSeconds(),
		})
	}

	state, err := deps.Store.Load(ctx, req.SessionID)
	if err != nil {
		log.Error("failed to load conversation state", "session_id", req.SessionID, "error", err)
		return end(datatypes.ChatEndPayload{Status: "error", Error: "session state unavailable"})
	}

	caller := tools.CallerContext{SessionID: req.SessionID, UserID: clientIP}
	emit := func(event datatypes.StreamEvent) {
		_ = ws.sendJSON(event)
	}

	deps.Metrics.ActiveRuns.Inc()
	start := time.Now()
	result, runErr := deps.Executor.Run(ctx, state, text, caller, emit)
	elapsed := time.Since(start)
	deps.Metrics.ActiveRuns.Dec()

	recordRun(deps, result, elapsed, runErr)

	if runErr != nil {
		log.Error("run failed",
			"session_id", req.SessionID,
			"error", runErr,
			"model_calls", result.ModelCalls,
			"duration_ms", elapsed.Milliseconds())
		return end(datatypes.ChatEndPayload{Status: "error", Error: runErrorMessage(runErr)})
	}

	return end(datatypes.ChatEndPayload{Status: "ok"})
}

// recordRun publishes run outcomes to both metric surfaces.
func recordRun(deps ChatDeps, result executor.RunResult, elapsed time.Duration, runErr error) {
	status := "ok"
	outcome := "success"
	switch {
	case errors.Is(runErr, resilience.ErrCircuitOpen):
		status = "error"
		outcome = "rejected"
	case runErr != nil:
		status = "error"
		outcome = "failure"
	}
	deps.Metrics.RunsTotal.WithLabelValues(status).Inc()
	deps.Metrics.RunDurationSeconds.WithLabelValues(status).Observe(elapsed.Seconds())
	switch {
	case outcome == "rejected":
		// The breaker refused the invocation before it was made, so the
		// run reports zero model calls. The rejection is still an
		// observable invocation outcome.
		deps.Metrics.ModelCallsTotal.WithLabelValues(outcome).Inc()
	case result.ModelCalls > 0:
		deps.Metrics.ModelCallsTotal.WithLabelValues(outcome).Add(float64(result.ModelCalls))
	}
	deps.Metrics.CircuitBreakerState.Set(float64(deps.Executor.Breaker().State()))
	for _, tool := range result.ToolInvocations {
		deps.Metrics.ToolInvocationsTotal.WithLabelValues(tool).Inc()
		deps.Aggregate.RecordToolInvocation(tool)
	}
	deps.Aggregate.RecordRun(elapsed, result.ModelCalls, runErr != nil)
}

// runErrorMessage maps internal run errors to client-safe text.
func runErrorMessage(err error) string {
	switch {
	case errors.Is(err, datatypes.ErrSessionBusy):
		return "a response is already in progress for this session"
	case errors.Is(err, datatypes.ErrTurnLimit):
		return "the assistant could not complete this request"
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "the assistant is temporarily unavailable, please try again shortly"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "the request was cancelled"
	default:
		return "the assistant hit an unexpected error"
	}
}

// keepalive pings the peer until the connection context is cancelled.
//
// A failed ping means the peer is gone; the connection context is
// cancelled so an in-flight run stops instead of completing into a dead
// socket. The read loop only detects disconnects between messages, so
// this is the mid-run disconnect path.
func keepalive(ctx context.Context, cancel context.CancelFunc, ws *wsConn, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ws.ping(); err != nil {
				cancel()
				return
			}
		}
	}
}
