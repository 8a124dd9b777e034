// Copyright (C) 2025 CeylonMart (engineering@ceylonmart.lk)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// This file contains the transport-facing event types for the chat
// websocket: the inbound chat request and the outbound stream events.
package datatypes

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// MaxInboundTextBytes is the maximum byte size of an inbound chat text.
// This is a transport-level bound; the input validator applies the
// code-point limit on top of it.
const MaxInboundTextBytes = 32 * 1024 // 32KB

// chatValidate is the validator instance for transport datatypes.
var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()
	_ = chatValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes checks byte length (not rune count) so oversized
// payloads are rejected before any per-code-point processing.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxInboundTextBytes
}

// ChatRequest is the inbound transport event that triggers a run.
//
// # Fields
//
//   - SessionID: Opaque session identifier. Generated server-side when the
//     client sends none (first contact).
//   - Text: The user's message. Validated by the input guard before any
//     model or tool call is made.
type ChatRequest struct {
	SessionID string `json:"sessionId" validate:"omitempty,max=128"`
	Text      string `json:"text" validate:"required,maxbytes"`
}

// Validate validates the request fields.
func (r *ChatRequest) Validate() error {
	return chatValidate.Struct(r)
}

// EnsureDefaults assigns a session ID when the client did not supply one.
func (r *ChatRequest) EnsureDefaults() {
	if r.SessionID == "" {
		r.SessionID = uuid.NewString()
	}
}

// EventType identifies an outbound stream event.
type EventType string

const (
	// EventAgentState carries a progress indicator while a run executes.
	EventAgentState EventType = "agentState"

	// EventChatStream carries incremental or final reply text.
	EventChatStream EventType = "chatStream"

	// EventSuggestedProducts carries structured product lists attached by
	// tools during the run.
	EventSuggestedProducts EventType = "suggestedProducts"

	// EventChatEnd terminates a run: status "ok" or "error".
	EventChatEnd EventType = "chatEnd"

	// EventSession announces the session ID assigned to a connection.
	EventSession EventType = "session"
)

// Agent status values carried by EventAgentState payloads.
const (
	StatusThinking   = "thinking"
	StatusUsingTools = "using_tools"
	StatusDone       = "done"
)

// StreamEvent is one outbound transport frame.
//
// Each event gets a unique ID and a creation timestamp so clients can
// order and deduplicate frames.
type StreamEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"event"`
	CreatedAt int64     `json:"createdAt"`
	Payload   any       `json:"payload,omitempty"`
}

// NewStreamEvent creates an event with ID and timestamp populated.
func NewStreamEvent(eventType EventType, payload any) StreamEvent {
	return StreamEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		CreatedAt: time.Now().UnixMilli(),
		Payload:   payload,
	}
}

// AgentStatePayload is the payload for EventAgentState.
type AgentStatePayload struct {
	Status string `json:"status"`
}

// ChatStreamPayload is the payload for EventChatStream.
type ChatStreamPayload struct {
	Chunk string `json:"chunk"`
}

// SuggestedProductsPayload is the payload for EventSuggestedProducts.
type SuggestedProductsPayload struct {
	Data []Product `json:"data"`
}

// ChatEndPayload is the payload for EventChatEnd.
type ChatEndPayload struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	// RetryAfterSeconds hints when a rate-limited caller may retry.
	RetryAfterSeconds int `json:"retryAfterSeconds,omitempty"`
}

// Product is the structured product record attached to suggestions.
//
// The storefront's persistence schema is out of scope; this is the shape
// tools hand back to the transport.
type Product struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Price       float64 `json:"price"`
	Currency    string  `json:"currency"`
	Category    string  `json:"category,omitempty"`
	InStock     bool    `json:"inStock"`
}
