// Copyright (C) 2025 CeylonMart (engineering@ceylonmart.lk)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ceylonmart/concierge/services/agent/datatypes"
	"github.com/ceylonmart/concierge/services/agent/resilience"
)

func echoDefinition(name string) Definition {
	return Definition{
		Name:        name,
		Description: "echoes its arguments",
		InputSchema: json.RawMessage(`{"type":"object"}`),
		Handler: func(ctx context.Context, args json.RawMessage, caller CallerContext) (any, error) {
			return map[string]string{"echo": string(args)}, nil
		},
	}
}

func fastToolRetry() resilience.RetryConfig {
	return resilience.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1.0}
}

func TestNewRegistryValidation(t *testing.T) {
	t.Run("duplicate name", func(t *testing.T) {
		_, err := NewRegistry([]Definition{echoDefinition("a"), echoDefinition("a")})
		if err == nil {
			t.Error("expected error for duplicate tool name")
		}
	})

	t.Run("empty name", func(t *testing.T) {
		_, err := NewRegistry([]Definition{echoDefinition("")})
		if err == nil {
			t.Error("expected error for empty tool name")
		}
	})

	t.Run("nil handler", func(t *testing.T) {
		_, err := NewRegistry([]Definition{{Name: "broken"}})
		if err == nil {
			t.Error("expected error for nil handler")
		}
	})
}

func TestRegistrySchemasPreserveOrder(t *testing.T) {
	r, err := NewRegistry([]Definition{echoDefinition("beta"), echoDefinition("alpha"), echoDefinition("gamma")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	schemas := r.Schemas()
	want := []string{"beta", "alpha", "gamma"}
	for i, name := range want {
		if schemas[i].Name != name {
			t.Errorf("schema %d: got %q, want %q", i, schemas[i].Name, name)
		}
	}
}

func TestDispatchUnknownTool(t *testing.T) {
	r, _ := NewRegistry([]Definition{echoDefinition("known")})

	msg, products := r.Dispatch(context.Background(), datatypes.ToolCall{ID: "c1", Name: "mystery"}, CallerContext{})
	if msg.Role != datatypes.RoleTool || msg.ToolCallID != "c1" {
		t.Fatalf("unknown tool must still produce a linked tool message, got %+v", msg)
	}
	if products != nil {
		t.Error("unknown tool must not attach products")
	}

	var payload map[string]string
	if err := json.Unmarshal([]byte(msg.Content), &payload); err != nil {
		t.Fatalf("error payload not JSON: %v", err)
	}
	if payload["code"] != "unknown_tool" {
		t.Errorf("expected unknown_tool code, got %q", payload["code"])
	}
}

func TestDispatchHandlerError(t *testing.T) {
	r, _ := NewRegistry([]Definition{{
		Name: "failing",
		Handler: func(ctx context.Context, args json.RawMessage, caller CallerContext) (any, error) {
			return nil, errors.New("backend offline")
		},
	}}, WithRetryConfig(fastToolRetry()))

	msg, _ := r.Dispatch(context.Background(), datatypes.ToolCall{ID: "c1", Name: "failing"}, CallerContext{})
	if msg.ToolCallID != "c1" {
		t.Fatal("handler failure must still produce a linked tool message")
	}
	if !strings.Contains(msg.Content, "tool_execution_failure") {
		t.Errorf("expected execution failure code in payload: %s", msg.Content)
	}
}

func TestDispatchRetriesTransientFailures(t *testing.T) {
	calls := 0
	r, _ := NewRegistry([]Definition{{
		Name: "flaky",
		Handler: func(ctx context.Context, args json.RawMessage, caller CallerContext) (any, error) {
			calls++
			if calls < 2 {
				return nil, &flakyErr{}
			}
			return map[string]bool{"ok": true}, nil
		},
	}}, WithRetryConfig(fastToolRetry()))

	msg, _ := r.Dispatch(context.Background(), datatypes.ToolCall{ID: "c1", Name: "flaky"}, CallerContext{})
	if calls != 2 {
		t.Errorf("expected 2 handler calls, got %d", calls)
	}
	if !strings.Contains(msg.Content, `"ok":true`) {
		t.Errorf("expected success payload, got %s", msg.Content)
	}
}

type flakyErr struct{}

func (e *flakyErr) Error() string   { return "transient" }
func (e *flakyErr) Retryable() bool { return true }

func TestDispatchExtractsSuggestedProducts(t *testing.T) {
	sf := NewMemoryStorefront([]datatypes.Product{
		{ID: "p1", Name: "Ceylon Gold Tea", Price: 1450, Currency: "LKR", InStock: true},
	})
	r, _ := NewRegistry(StorefrontTools(sf))

	call := datatypes.ToolCall{
		ID:        "c1",
		Name:      "search_products",
		Arguments: json.RawMessage(`{"query":"tea"}`),
	}
	msg, products := r.Dispatch(context.Background(), call, CallerContext{SessionID: "s1"})

	if msg.ToolCallID != "c1" {
		t.Fatal("expected linked tool message")
	}
	if len(products) != 1 || products[0].ID != "p1" {
		t.Fatalf("expected the matched product attached, got %v", products)
	}
}

func TestDispatchCallerIdentityReachesHandler(t *testing.T) {
	var seen CallerContext
	r, _ := NewRegistry([]Definition{{
		Name: "who",
		Handler: func(ctx context.Context, args json.RawMessage, caller CallerContext) (any, error) {
			seen = caller
			return "ok", nil
		},
	}})

	r.Dispatch(context.Background(), datatypes.ToolCall{ID: "c1", Name: "who"},
		CallerContext{SessionID: "s1", UserID: "u1"})
	if seen.SessionID != "s1" || seen.UserID != "u1" {
		t.Errorf("caller identity lost: %+v", seen)
	}
}
