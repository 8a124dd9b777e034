// Copyright (C) 2025 CeylonMart (engineering@ceylonmart.lk)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package tools provides the tool registry and invocation protocol for
// the agent executor.
//
// The registry is immutable after construction and injected into the
// executor; tool names are validated at registration time, so an unknown
// name at dispatch time is a runtime data condition, not a type error.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ceylonmart/concierge/services/agent/datatypes"
	"github.com/ceylonmart/concierge/services/agent/resilience"
	"github.com/ceylonmart/concierge/services/llm"
)

// CallerContext carries the caller identity into tool handlers.
//
// Session identity and user id are supplied by the transport layer and
// are opaque to the core.
type CallerContext struct {
	SessionID string
	UserID    string
}

// Handler is a tool implementation.
//
// Handlers receive raw JSON arguments matching the declared input schema
// and return a JSON-serializable result. Returned errors are converted
// to machine-readable tool-result payloads by Dispatch, never propagated
// as run failures.
type Handler func(ctx context.Context, args json.RawMessage, caller CallerContext) (any, error)

// Definition is one registered tool.
type Definition struct {
	// Name is the unique tool name the model invokes.
	Name string

	// Description tells the model what the tool does.
	Description string

	// InputSchema is the JSON Schema of accepted arguments.
	InputSchema json.RawMessage

	// Handler executes the tool.
	Handler Handler
}

// ProductCarrier is implemented by tool results that attach structured
// product suggestions for the transport layer.
type ProductCarrier interface {
	SuggestedProducts() []datatypes.Product
}

// toolErrorPayload is the machine-readable error body placed in a
// tool-result message. The model sees it and can apologize verbally
// instead of the run crashing.
type toolErrorPayload struct {
	Error string `json:"error"`
	Tool  string `json:"tool"`
	Code  string `json:"code"`
}

const (
	codeUnknownTool   = "unknown_tool"
	codeToolExecution = "tool_execution_failure"
)

// Registry maps tool names to definitions.
//
// # Thread Safety
//
// Immutable after construction; safe for concurrent use.
type Registry struct {
	defs   map[string]Definition
	order  []string
	retry  resilience.RetryConfig
	logger *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRetryConfig sets the retry policy applied to handler invocations.
// Tool failures retry only for transient classes, same classification as
// model calls.
func WithRetryConfig(cfg resilience.RetryConfig) RegistryOption {
	return func(r *Registry) {
		r.retry = cfg
	}
}

// WithLogger sets the registry logger.
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRegistry creates an immutable registry from the definitions.
//
// # Inputs
//
//   - defs: Tool definitions. Names must be non-empty and unique, and
//     every definition must carry a handler.
//
// # Outputs
//
//   - *Registry: The registry.
//   - error: Non-nil on a duplicate or invalid definition.
func NewRegistry(defs []Definition, opts ...RegistryOption) (*Registry, error) {
	r := &Registry{
		defs:   make(map[string]Definition, len(defs)),
		order:  make([]string, 0, len(defs)),
		retry:  resilience.DefaultRetryConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}

	for _, def := range defs {
		if def.Name == "" {
			return nil, fmt.Errorf("tool definition has empty name")
		}
		if def.Handler == nil {
			return nil, fmt.Errorf("tool %q has nil handler", def.Name)
		}
		if _, exists := r.defs[def.Name]; exists {
			return nil, fmt.Errorf("tool %q already registered", def.Name)
		}
		r.defs[def.Name] = def
		r.order = append(r.order, def.Name)
	}
	return r, nil
}

// Schemas returns the tool schemas for the model call, in registration
// order.
func (r *Registry) Schemas() []llm.ToolSchema {
	out := make([]llm.ToolSchema, 0, len(r.order))
	for _, name := range r.order {
		def := r.defs[name]
		out = append(out, llm.ToolSchema{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  def.InputSchema,
		})
	}
	return out
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Dispatch invokes one tool call and always produces a tool-result
// message for its tool call ID.
//
// # Description
//
// An unknown tool name yields a result stating so (never silently
// dropped: every toolCallId must receive a tool message or the
// model-facing history becomes invalid on the next call). A handler
// error yields a machine-readable error payload. Transient handler
// failures are retried per the registry retry policy.
//
// # Inputs
//
//   - ctx: Context for cancellation. Must not be nil.
//   - call: The tool call requested by the assistant message.
//   - caller: Caller identity passed through to the handler.
//
// # Outputs
//
//   - datatypes.Message: The tool-result message, always linked to call.ID.
//   - []datatypes.Product: Structured product suggestions, when the
//     handler result carries them.
func (r *Registry) Dispatch(ctx context.Context, call datatypes.ToolCall, caller CallerContext) (datatypes.Message, []datatypes.Product) {
	def, ok := r.defs[call.Name]
	if !ok {
		r.logger.Warn("model requested unknown tool", "tool", call.Name, "session_id", caller.SessionID)
		return errorMessage(call, codeUnknownTool, fmt.Sprintf("tool %q is not available", call.Name)), nil
	}

	var result any
	_, err := resilience.Retry(ctx, r.retry, func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			r.logger.Warn("retrying tool invocation",
				"tool", call.Name, "attempt", attempt, "session_id", caller.SessionID)
		}
		var handlerErr error
		result, handlerErr = def.Handler(ctx, call.Arguments, caller)
		return handlerErr
	})
	if err != nil {
		r.logger.Error("tool invocation failed",
			"tool", call.Name, "session_id", caller.SessionID, "error", err.Error())
		return errorMessage(call, codeToolExecution, err.Error()), nil
	}

	body, err := json.Marshal(result)
	if err != nil {
		return errorMessage(call, codeToolExecution, fmt.Sprintf("result not serializable: %v", err)), nil
	}

	var products []datatypes.Product
	if carrier, ok := result.(ProductCarrier); ok {
		products = carrier.SuggestedProducts()
	}
	return datatypes.NewToolMessage(call.ID, string(body)), products
}

// errorMessage builds a tool-result message with an error payload.
func errorMessage(call datatypes.ToolCall, code, detail string) datatypes.Message {
	body, _ := json.Marshal(toolErrorPayload{
		Error: detail,
		Tool:  call.Name,
		Code:  code,
	})
	return datatypes.NewToolMessage(call.ID, string(body))
}
