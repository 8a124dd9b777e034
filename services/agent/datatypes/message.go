// Copyright (C) 2025 CeylonMart (engineering@ceylonmart.lk)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes provides data structures for the concierge agent service.
//
// This file contains the conversation message model: messages, tool calls,
// and the per-session conversation state mutated by the graph executor.
package datatypes

import (
	"encoding/json"
	"fmt"
	"time"
)

// Role identifies who produced a message in a conversation.
type Role string

const (
	// RoleSystem is the static persona/instruction message.
	RoleSystem Role = "system"

	// RoleUser is an end-user message.
	RoleUser Role = "user"

	// RoleAssistant is a model-generated message. Only assistant messages
	// may carry tool calls.
	RoleAssistant Role = "assistant"

	// RoleTool is the result of a tool invocation. Tool messages must
	// reference the tool call that produced them via ToolCallID.
	RoleTool Role = "tool"
)

// ToolCall is a structured tool invocation request emitted by the model.
//
// # Fields
//
//   - ID: Model-assigned identifier. Tool-result messages reference it.
//   - Name: Registered tool name to invoke.
//   - Arguments: Raw JSON arguments matching the tool's input schema.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Message is one turn in a conversation.
//
// # Description
//
// Content may be empty on assistant messages that only request tool use.
// ToolCalls is populated only on assistant messages; ToolCallID only on
// tool messages, linking the result back to the assistant request.
//
// # Invariants
//
// Every tool message's ToolCallID must match a ToolCalls[].ID emitted by
// the immediately preceding assistant message. The executor rejects
// orphaned tool results (see ConversationState.AppendToolResults).
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// NewUserMessage creates a user message with the given text.
func NewUserMessage(text string) Message {
	return Message{Role: RoleUser, Content: text}
}

// NewToolMessage creates a tool-result message linked to a tool call.
func NewToolMessage(toolCallID, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: toolCallID}
}

// HasToolCalls reports whether this message requests tool use.
func (m Message) HasToolCalls() bool {
	return m.Role == RoleAssistant && len(m.ToolCalls) > 0
}

// ConversationState is the per-session conversation history.
//
// # Description
//
// Created empty on first contact for a session, loaded from the checkpoint
// store on subsequent contacts, and mutated only by the graph executor.
// Messages are append-only within a run; ModelCallCount increments once
// per model invocation.
//
// # Thread Safety
//
// Not safe for concurrent use. Each state is exclusively owned by the one
// in-flight run for its session (the executor enforces this with a
// per-session lock).
type ConversationState struct {
	// SessionID is the opaque session identifier (checkpoint-store key).
	SessionID string `json:"session_id"`

	// Messages is the ordered conversation history.
	Messages []Message `json:"messages"`

	// ModelCallCount is the total number of model invocations for this
	// session across all runs.
	ModelCallCount int `json:"model_call_count"`

	// UpdatedAt is the Unix timestamp in milliseconds of the last mutation.
	UpdatedAt int64 `json:"updated_at"`
}

// NewConversationState creates an empty state for a session.
func NewConversationState(sessionID string) *ConversationState {
	return &ConversationState{
		SessionID: sessionID,
		Messages:  make([]Message, 0, 8),
		UpdatedAt: time.Now().UnixMilli(),
	}
}

// Append adds a message to the history and bumps UpdatedAt.
func (s *ConversationState) Append(msg Message) {
	s.Messages = append(s.Messages, msg)
	s.UpdatedAt = time.Now().UnixMilli()
}

// RecordModelCall increments the model invocation counter.
func (s *ConversationState) RecordModelCall() {
	s.ModelCallCount++
	s.UpdatedAt = time.Now().UnixMilli()
}

// LastMessage returns the most recent message, or nil when empty.
func (s *ConversationState) LastMessage() *Message {
	if len(s.Messages) == 0 {
		return nil
	}
	return &s.Messages[len(s.Messages)-1]
}

// PendingToolCalls returns the tool calls of the last message when it is
// an assistant message requesting tool use, in the order the model
// emitted them. Returns nil otherwise.
func (s *ConversationState) PendingToolCalls() []ToolCall {
	last := s.LastMessage()
	if last == nil || !last.HasToolCalls() {
		return nil
	}
	return last.ToolCalls
}

// AppendToolResults appends a complete batch of tool-result messages.
//
// # Description
//
// Enforces the tool-linkage invariant: the batch must contain exactly one
// result per pending tool call from the preceding assistant message, in
// request order, and no orphaned results. The batch is applied atomically;
// on error the state is unchanged.
//
// # Inputs
//
//   - results: Tool messages, one per pending ToolCall, in request order.
//
// # Outputs
//
//   - error: Non-nil if the batch is incomplete, out of order, or orphaned.
func (s *ConversationState) AppendToolResults(results []Message) error {
	pending := s.PendingToolCalls()
	if len(pending) == 0 {
		return fmt.Errorf("%w: no assistant tool calls pending", ErrOrphanToolResult)
	}
	if len(results) != len(pending) {
		return fmt.Errorf("%w: got %d results for %d tool calls",
			ErrIncompleteToolResults, len(results), len(pending))
	}
	for i, res := range results {
		if res.Role != RoleTool {
			return fmt.Errorf("%w: message %d has role %q", ErrOrphanToolResult, i, res.Role)
		}
		if res.ToolCallID != pending[i].ID {
			return fmt.Errorf("%w: result %d references %q, expected %q",
				ErrOrphanToolResult, i, res.ToolCallID, pending[i].ID)
		}
	}
	s.Messages = append(s.Messages, results...)
	s.UpdatedAt = time.Now().UnixMilli()
	return nil
}

// Clone returns a deep copy of the state.
//
// Used by the checkpoint store so a persisted snapshot cannot alias the
// live state owned by an in-flight run.
func (s *ConversationState) Clone() *ConversationState {
	cp := *s
	cp.Messages = make([]Message, len(s.Messages))
	copy(cp.Messages, s.Messages)
	for i := range cp.Messages {
		if calls := cp.Messages[i].ToolCalls; calls != nil {
			dup := make([]ToolCall, len(calls))
			copy(dup, calls)
			cp.Messages[i].ToolCalls = dup
		}
	}
	return &cp
}
