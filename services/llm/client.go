// Copyright (C) 2025 CeylonMart (engineering@ceylonmart.lk)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package llm abstracts the language-model endpoint consumed by the
// agent executor.
//
// Implementations must handle request timeouts and context cancellation.
// Rate limiting, circuit breaking, and retries are applied by the caller
// through the resilience package; implementations only need to surface
// classified errors (see CallError).
package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ceylonmart/concierge/services/agent/datatypes"
)

// ToolSchema describes one tool offered to the model.
type ToolSchema struct {
	// Name is the registered tool name.
	Name string `json:"name"`

	// Description tells the model what the tool does.
	Description string `json:"description"`

	// Parameters is the JSON Schema of accepted arguments.
	Parameters json.RawMessage `json:"parameters"`
}

// ModelResponse is the result of one model invocation.
//
// The assistant message carries either reply text or tool-call requests
// (possibly both, when the model narrates while invoking tools).
type ModelResponse struct {
	// Message is the assistant message to append to the conversation.
	Message datatypes.Message

	// FinishReason indicates why generation stopped.
	// Values: "stop", "tool_calls", "length", "error".
	FinishReason string

	// InputTokens and OutputTokens report usage when available.
	InputTokens  int
	OutputTokens int
}

// ModelClient is the language-model endpoint contract.
//
// Thread Safety: Implementations must be safe for concurrent use.
type ModelClient interface {
	// Chat sends the full message history plus the tool schema and
	// returns the next assistant message.
	//
	// Inputs:
	//   - ctx: Context for cancellation and timeout. Must not be nil.
	//   - messages: Ordered conversation history including the system prompt.
	//   - tools: Tool schemas the model may call. May be empty.
	//
	// Outputs:
	//   - *ModelResponse: The completion result. Never nil on success.
	//   - error: Non-nil on failure. Transient failures are *CallError
	//     values reporting Retryable() true.
	Chat(ctx context.Context, messages []datatypes.Message, tools []ToolSchema) (*ModelResponse, error)
}

// CallError is a classified model-endpoint failure.
//
// It implements the resilience.RetryableError contract: rate limiting
// (429) and transient server failures (5xx) are retryable; schema and
// auth failures (4xx) are not.
type CallError struct {
	// Status is the HTTP status code, or 0 for transport-level failures.
	Status int

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *CallError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("model call failed (status %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("model call failed: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *CallError) Unwrap() error {
	return e.Err
}

// Retryable classifies the failure: connection-level errors (status 0),
// 429, and 5xx-class statuses are transient.
func (e *CallError) Retryable() bool {
	switch {
	case e.Status == 0:
		return true
	case e.Status == 429:
		return true
	case e.Status >= 500:
		return true
	default:
		return false
	}
}
