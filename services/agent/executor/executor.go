// Copyright (C) 2025 CeylonMart (engineering@ceylonmart.lk)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package executor implements the agent run loop as a small state graph.
//
// # Description
//
// Each inbound user message starts one run. A run walks a three-node
// graph:
//
//	MODEL_TURN --> TOOL_TURN --> MODEL_TURN --> ... --> DONE
//
// MODEL_TURN invokes the language model with the full conversation
// history plus the tool schemas. When the model requests tool use the
// run transitions to TOOL_TURN, dispatches every requested call in
// order, appends the results, and returns to MODEL_TURN. When the model
// responds with plain text the run transitions to DONE.
//
// The conversation state is checkpointed after every node transition, so
// a crash mid-run loses at most the work of the current node. Checkpoint
// failures degrade persistence but never abort the run.
//
// # Thread Safety
//
// The executor is safe for concurrent use across sessions. Runs within
// one session are serialized: a second message for a session with a run
// in flight is rejected with datatypes.ErrSessionBusy.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ceylonmart/concierge/services/agent/checkpoint"
	"github.com/ceylonmart/concierge/services/agent/datatypes"
	"github.com/ceylonmart/concierge/services/agent/resilience"
	"github.com/ceylonmart/concierge/services/agent/tools"
	"github.com/ceylonmart/concierge/services/llm"
)

// ====================================================================
// States
// ====================================================================

// State identifies a node in the run graph.
type State int

const (
	// StateModelTurn invokes the model with the current history.
	StateModelTurn State = iota

	// StateToolTurn dispatches the tool calls the model requested.
	StateToolTurn

	// StateDone terminates the run with the final assistant text.
	StateDone
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateModelTurn:
		return "MODEL_TURN"
	case StateToolTurn:
		return "TOOL_TURN"
	case StateDone:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

// ====================================================================
// Configuration
// ====================================================================

// DefaultMaxModelTurns bounds model invocations within one run. Ten
// turns is generous for a shopping conversation; a run that needs more
// is looping.
const DefaultMaxModelTurns = 10

// DefaultSystemPrompt is the persona used when Config.SystemPrompt is
// empty.
const DefaultSystemPrompt = "You are the CeylonMart shopping concierge, a helpful assistant " +
	"for an online storefront in Sri Lanka. Prices are in Sri Lankan rupees (LKR). " +
	"Use the available tools to search products, inspect product details, manage " +
	"the customer's cart, and answer policy questions. Be concise and friendly. " +
	"Never invent products or prices; always rely on tool results."

// Config controls executor behavior.
type Config struct {
	// SystemPrompt is prepended to new conversations.
	// Default: DefaultSystemPrompt.
	SystemPrompt string

	// MaxModelTurns bounds model invocations per run.
	// Default: DefaultMaxModelTurns.
	MaxModelTurns int

	// ModelRetry is the retry policy for model calls.
	// Default: resilience.DefaultRetryConfig().
	ModelRetry resilience.RetryConfig
}

// DefaultConfig returns the production configuration.
func DefaultConfig() Config {
	return Config{
		SystemPrompt:  DefaultSystemPrompt,
		MaxModelTurns: DefaultMaxModelTurns,
		ModelRetry:    resilience.DefaultRetryConfig(),
	}
}

func (c *Config) applyDefaults() {
	if c.SystemPrompt == "" {
		c.SystemPrompt = DefaultSystemPrompt
	}
	if c.MaxModelTurns <= 0 {
		c.MaxModelTurns = DefaultMaxModelTurns
	}
	if c.ModelRetry.MaxAttempts == 0 {
		c.ModelRetry = resilience.DefaultRetryConfig()
	}
}

// ====================================================================
// Executor
// ====================================================================

// EmitFunc delivers a stream event to the connected client. A nil emit
// function is valid; events are then dropped.
type EmitFunc func(event datatypes.StreamEvent)

// RunResult summarizes one completed run.
type RunResult struct {
	// Reply is the final assistant text.
	Reply string

	// SuggestedProducts accumulates products attached by tools during
	// the run, in dispatch order.
	SuggestedProducts []datatypes.Product

	// ToolInvocations lists the tool names dispatched, in order.
	ToolInvocations []string

	// ModelCalls is the number of model invocations the run made.
	ModelCalls int

	// Warnings lists non-fatal degradations (checkpoint failures).
	Warnings []string
}

// Executor drives runs through the state graph.
type Executor struct {
	model    llm.ModelClient
	registry *tools.Registry
	store    checkpoint.Store
	breaker  *resilience.CircuitBreaker
	config   Config
	locks    *sessionLocks
	logger   *slog.Logger
}

// New creates an executor.
//
// # Inputs
//
//   - model: Language-model endpoint. Must not be nil.
//   - registry: Tool registry. Must not be nil. The registry is
//     immutable, so the tool surface is fixed for the executor's
//     lifetime.
//   - store: Checkpoint store. Must not be nil.
//   - breaker: Circuit breaker guarding the model endpoint. Must not be
//     nil; it is shared with the health endpoint.
//   - config: Executor configuration. Zero fields take defaults.
//   - logger: Structured logger. May be nil (slog default is used).
func New(model llm.ModelClient, registry *tools.Registry, store checkpoint.Store, breaker *resilience.CircuitBreaker, config Config, logger *slog.Logger) *Executor {
	config.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		model:    model,
		registry: registry,
		store:    store,
		breaker:  breaker,
		config:   config,
		locks:    newSessionLocks(),
		logger:   logger,
	}
}

// ActiveRuns returns the number of runs currently in flight.
func (e *Executor) ActiveRuns() int {
	return e.locks.size()
}

// Breaker exposes the model-endpoint breaker for health reporting.
func (e *Executor) Breaker() *resilience.CircuitBreaker {
	return e.breaker
}

// Run executes one user message to completion.
//
// # Description
//
// The session is claimed for the duration of the run; concurrent runs
// for the same session fail fast with datatypes.ErrSessionBusy. The
// validated user text is appended to the loaded state (seeding the
// system prompt on first contact) and the graph is walked until DONE,
// the turn limit, context cancellation, or a model failure.
//
// Progress and output are delivered through emit as the run executes:
// agentState frames on node entry, suggestedProducts when tools attach
// products, and chatStream with the final reply. The caller owns the
// terminating chatEnd frame.
//
// # Inputs
//
//   - ctx: Context for cancellation. A disconnected client cancels the
//     in-flight model call through this context.
//   - state: Conversation state loaded from the checkpoint store. Must
//     not be nil. Owned by this run until Run returns.
//   - userText: Validated user message text.
//   - caller: Identity forwarded to tool handlers.
//   - emit: Event sink. May be nil.
//
// # Outputs
//
//   - RunResult: Run summary. Partially populated on error.
//   - error: datatypes.ErrSessionBusy, datatypes.ErrTurnLimit,
//     resilience.ErrCircuitOpen, a terminal model error, or a context
//     error.
func (e *Executor) Run(ctx context.Context, state *datatypes.ConversationState, userText string, caller tools.CallerContext, emit EmitFunc) (RunResult, error) {
	result := RunResult{}

	release, err := e.locks.acquire(state.SessionID)
	if err != nil {
		return result, err
	}
	defer release()

	if emit == nil {
		emit = func(datatypes.StreamEvent) {}
	}

	log := e.logger.With("session_id", state.SessionID)

	if len(state.Messages) == 0 {
		state.Append(datatypes.Message{Role: datatypes.RoleSystem, Content: e.config.SystemPrompt})
	}
	state.Append(datatypes.NewUserMessage(userText))
	e.save(ctx, state, &result, log)

	schemas := e.registry.Schemas()

	current := StateModelTurn
	for current != StateDone {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		switch current {
		case StateModelTurn:
			next, err := e.modelTurn(ctx, state, schemas, &result, emit, log)
			if err != nil {
				return result, err
			}
			current = next

		case StateToolTurn:
			if err := e.toolTurn(ctx, state, caller, &result, emit, log); err != nil {
				return result, err
			}
			current = StateModelTurn
		}
	}

	emit(datatypes.NewStreamEvent(datatypes.EventAgentState, datatypes.AgentStatePayload{Status: datatypes.StatusDone}))

	log.Info("run complete",
		"model_calls", result.ModelCalls,
		"tool_invocations", len(result.ToolInvocations),
		"suggested_products", len(result.SuggestedProducts))
	return result, nil
}

// modelTurn executes one MODEL_TURN node: invoke the model through the
// breaker+retry guard, append the assistant message, and decide the next
// node.
func (e *Executor) modelTurn(ctx context.Context, state *datatypes.ConversationState, schemas []llm.ToolSchema, result *RunResult, emit EmitFunc, log *slog.Logger) (State, error) {
	if result.ModelCalls >= e.config.MaxModelTurns {
		log.Warn("model turn limit reached", "limit", e.config.MaxModelTurns)
		return StateDone, datatypes.ErrTurnLimit
	}

	emit(datatypes.NewStreamEvent(datatypes.EventAgentState, datatypes.AgentStatePayload{Status: datatypes.StatusThinking}))

	var resp *llm.ModelResponse
	retryResult, err := resilience.GuardedCall(ctx, e.breaker, e.config.ModelRetry, func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			log.Debug("retrying model call", "attempt", attempt)
		}
		var callErr error
		resp, callErr = e.model.Chat(ctx, state.Messages, schemas)
		return callErr
	})

	// An open-breaker rejection never reaches the model, so it must not
	// count as a model invocation.
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		result.ModelCalls++
		state.RecordModelCall()
	}

	if err != nil {
		log.Error("model call failed",
			"error", err,
			"attempts", retryResult.Attempts,
			"breaker_state", e.breaker.State().String())
		return StateDone, err
	}

	state.Append(resp.Message)
	e.save(ctx, state, result, log)

	if resp.Message.HasToolCalls() {
		return StateToolTurn, nil
	}

	result.Reply = resp.Message.Content
	emit(datatypes.NewStreamEvent(datatypes.EventChatStream, datatypes.ChatStreamPayload{Chunk: resp.Message.Content}))
	return StateDone, nil
}

// toolTurn executes one TOOL_TURN node: dispatch every pending tool call
// in request order and append the complete result set atomically.
func (e *Executor) toolTurn(ctx context.Context, state *datatypes.ConversationState, caller tools.CallerContext, result *RunResult, emit EmitFunc, log *slog.Logger) error {
	emit(datatypes.NewStreamEvent(datatypes.EventAgentState, datatypes.AgentStatePayload{Status: datatypes.StatusUsingTools}))

	pending := state.PendingToolCalls()
	results := make([]datatypes.Message, 0, len(pending))
	var attached []datatypes.Product

	for _, call := range pending {
		msg, products := e.registry.Dispatch(ctx, call, caller)
		results = append(results, msg)
		result.ToolInvocations = append(result.ToolInvocations, call.Name)
		attached = append(attached, products...)
	}

	if err := state.AppendToolResults(results); err != nil {
		// Registry guarantees one result per call, so this indicates a bug.
		log.Error("tool result linkage violated", "error", err)
		return fmt.Errorf("appending tool results: %w", err)
	}
	e.save(ctx, state, result, log)

	if len(attached) > 0 {
		result.SuggestedProducts = append(result.SuggestedProducts, attached...)
		emit(datatypes.NewStreamEvent(datatypes.EventSuggestedProducts, datatypes.SuggestedProductsPayload{Data: attached}))
	}
	return nil
}

// save checkpoints the state. Failures are logged and recorded as run
// warnings; the run continues with degraded persistence.
func (e *Executor) save(ctx context.Context, state *datatypes.ConversationState, result *RunResult, log *slog.Logger) {
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := e.store.Save(saveCtx, state); err != nil {
		log.Warn("checkpoint save failed", "error", err)
		result.Warnings = append(result.Warnings, fmt.Sprintf("checkpoint save failed: %v", err))
	}
}
