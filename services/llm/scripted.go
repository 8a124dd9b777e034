// Copyright (C) 2025 CeylonMart (engineering@ceylonmart.lk)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"errors"
	"sync"

	"github.com/ceylonmart/concierge/services/agent/datatypes"
)

// ScriptedStep is one scripted model turn: either a response or an error.
type ScriptedStep struct {
	Response *ModelResponse
	Err      error
}

// ScriptedClient is a ModelClient that replays a fixed script.
//
// Used in tests and local development. Each Chat call consumes the next
// step; calls past the end of the script return an error.
//
// Thread Safety: Safe for concurrent use.
type ScriptedClient struct {
	mu    sync.Mutex
	steps []ScriptedStep
	calls int

	// Recorded inputs for assertions.
	SeenMessages [][]datatypes.Message
	SeenTools    [][]ToolSchema
}

// NewScriptedClient creates a client that replays the given steps.
func NewScriptedClient(steps ...ScriptedStep) *ScriptedClient {
	return &ScriptedClient{steps: steps}
}

// TextStep builds a scripted step returning plain assistant text.
func TextStep(text string) ScriptedStep {
	return ScriptedStep{Response: &ModelResponse{
		Message:      datatypes.Message{Role: datatypes.RoleAssistant, Content: text},
		FinishReason: "stop",
	}}
}

// ToolCallStep builds a scripted step requesting the given tool calls.
func ToolCallStep(calls ...datatypes.ToolCall) ScriptedStep {
	return ScriptedStep{Response: &ModelResponse{
		Message:      datatypes.Message{Role: datatypes.RoleAssistant, ToolCalls: calls},
		FinishReason: "tool_calls",
	}}
}

// ErrorStep builds a scripted step failing with err.
func ErrorStep(err error) ScriptedStep {
	return ScriptedStep{Err: err}
}

// Chat implements the ModelClient interface.
func (s *ScriptedClient) Chat(_ context.Context, messages []datatypes.Message, tools []ToolSchema) (*ModelResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.SeenMessages = append(s.SeenMessages, messages)
	s.SeenTools = append(s.SeenTools, tools)

	if s.calls >= len(s.steps) {
		return nil, errors.New("scripted client exhausted")
	}
	step := s.steps[s.calls]
	s.calls++

	if step.Err != nil {
		return nil, step.Err
	}
	return step.Response, nil
}

// Calls returns how many times Chat was invoked.
func (s *ScriptedClient) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
