// Copyright (C) 2025 CeylonMart (engineering@ceylonmart.lk)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/ceylonmart/concierge/services/agent/datatypes"
)

// OpenAIClient is the ModelClient backed by an OpenAI-compatible endpoint.
type OpenAIClient struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
}

// OpenAIOption configures the OpenAI client.
type OpenAIOption func(*OpenAIClient)

// WithTemperature sets the sampling temperature.
func WithTemperature(t float32) OpenAIOption {
	return func(c *OpenAIClient) {
		if t >= 0 {
			c.temperature = t
		}
	}
}

// WithMaxTokens sets the completion token cap.
func WithMaxTokens(n int) OpenAIOption {
	return func(c *OpenAIClient) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

// NewOpenAIClient creates a client from the environment.
//
// # Description
//
// Reads OPENAI_API_KEY (falling back to the /run/secrets/openai_api_key
// container secret) and OPENAI_MODEL (default gpt-4o-mini). An optional
// OPENAI_BASE_URL points the client at any OpenAI-compatible endpoint.
//
// # Outputs
//
//   - *OpenAIClient: The configured client.
//   - error: Non-nil when no API key is available.
func NewOpenAIClient(opts ...OpenAIOption) (*OpenAIClient, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		secretPath := "/run/secrets/openai_api_key"
		apiKeyBytes, err := os.ReadFile(secretPath)
		if err != nil {
			slog.Error("OPENAI_API_KEY environment variable not set and secret not found", "path", secretPath)
			return nil, errors.New("OPENAI_API_KEY environment variable not set")
		}
		apiKey = strings.TrimSpace(string(apiKeyBytes))
		slog.Info("Read the OpenAI API key from container secrets")
	}

	model := os.Getenv("OPENAI_MODEL")
	if model == "" {
		model = "gpt-4o-mini"
		slog.Warn("OPENAI_MODEL not set, defaulting to gpt-4o-mini")
	}

	config := openai.DefaultConfig(apiKey)
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		config.BaseURL = baseURL
	}

	c := &OpenAIClient{
		client:      openai.NewClientWithConfig(config),
		model:       model,
		temperature: 0.3,
		maxTokens:   1024,
	}
	for _, opt := range opts {
		opt(c)
	}

	slog.Info("Initializing OpenAI model client", "model", model)
	return c, nil
}

// Chat implements the ModelClient interface.
func (c *OpenAIClient) Chat(ctx context.Context, messages []datatypes.Message, tools []ToolSchema) (*ModelResponse, error) {
	req := openai.ChatCompletionRequest{
		Model:               c.model,
		Messages:            toOpenAIMessages(messages),
		Temperature:         c.temperature,
		MaxCompletionTokens: c.maxTokens,
		Tools:               toOpenAITools(tools),
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, classifyError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &CallError{Status: 0, Err: errors.New("model returned no choices")}
	}

	choice := resp.Choices[0]
	return &ModelResponse{
		Message:      fromOpenAIMessage(choice.Message),
		FinishReason: string(choice.FinishReason),
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}

// toOpenAIMessages translates the conversation history to wire messages,
// including assistant tool calls and tool-result back-references.
func toOpenAIMessages(messages []datatypes.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		wire := openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
		for _, call := range msg.ToolCalls {
			wire.ToolCalls = append(wire.ToolCalls, openai.ToolCall{
				ID:   call.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      call.Name,
					Arguments: string(call.Arguments),
				},
			})
		}
		if msg.Role == datatypes.RoleTool {
			wire.ToolCallID = msg.ToolCallID
		}
		out = append(out, wire)
	}
	return out
}

// fromOpenAIMessage translates a completion message back to the
// conversation model.
func fromOpenAIMessage(msg openai.ChatCompletionMessage) datatypes.Message {
	out := datatypes.Message{
		Role:    datatypes.RoleAssistant,
		Content: msg.Content,
	}
	for _, call := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, datatypes.ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: json.RawMessage(call.Function.Arguments),
		})
	}
	return out
}

// toOpenAITools translates tool schemas to function-tool definitions.
func toOpenAITools(tools []ToolSchema) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(tools))
	for _, tool := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}
	return out
}

// classifyError maps client errors onto the CallError taxonomy.
func classifyError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &CallError{Status: apiErr.HTTPStatusCode, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &CallError{Status: reqErr.HTTPStatusCode, Err: err}
	}
	// Transport-level failure (connection refused, timeout, ...)
	return &CallError{Status: 0, Err: fmt.Errorf("transport error: %w", err)}
}
