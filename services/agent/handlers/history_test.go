// Copyright (C) 2025 CeylonMart (engineering@ceylonmart.lk)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceylonmart/concierge/services/agent/checkpoint"
	"github.com/ceylonmart/concierge/services/agent/datatypes"
)

func historyRouter(store checkpoint.Store) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/v1/sessions/:sessionId/history", HandleSessionHistory(store, nil))
	return router
}

func TestHandleSessionHistoryFiltersPlumbing(t *testing.T) {
	store, err := checkpoint.OpenBadger(checkpoint.InMemoryBadgerConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	state := datatypes.NewConversationState("s1")
	state.Append(datatypes.Message{Role: datatypes.RoleSystem, Content: "persona"})
	state.Append(datatypes.Message{Role: datatypes.RoleUser, Content: "any tea gifts?"})
	state.Append(datatypes.Message{
		Role:      datatypes.RoleAssistant,
		ToolCalls: []datatypes.ToolCall{{ID: "c1", Name: "search_products", Arguments: json.RawMessage(`{"query":"tea"}`)}},
	})
	state.Append(datatypes.Message{Role: datatypes.RoleTool, ToolCallID: "c1", Content: `{"count":1}`})
	state.Append(datatypes.Message{Role: datatypes.RoleAssistant, Content: "Try the Ceylon Gold tin."})
	state.RecordModelCall()
	state.RecordModelCall()
	require.NoError(t, store.Save(context.Background(), state))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/sessions/s1/history", nil)
	historyRouter(store).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		SessionID      string              `json:"sessionId"`
		Messages       []datatypes.Message `json:"messages"`
		ModelCallCount int                 `json:"modelCallCount"`
		UpdatedAt      int64               `json:"updatedAt"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	assert.Equal(t, "s1", resp.SessionID)
	assert.Equal(t, 2, resp.ModelCallCount)
	assert.NotZero(t, resp.UpdatedAt)

	// Only the visible user/assistant exchange survives: the system
	// prompt, the tool-request stub, and the tool result are filtered.
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, datatypes.RoleUser, resp.Messages[0].Role)
	assert.Equal(t, "any tea gifts?", resp.Messages[0].Content)
	assert.Equal(t, datatypes.RoleAssistant, resp.Messages[1].Role)
}

func TestHandleSessionHistoryUnknownSession(t *testing.T) {
	store, err := checkpoint.OpenBadger(checkpoint.InMemoryBadgerConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/sessions/brand-new/history", nil)
	historyRouter(store).ServeHTTP(w, req)

	// Unknown sessions are indistinguishable from empty ones.
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		SessionID string              `json:"sessionId"`
		Messages  []datatypes.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "brand-new", resp.SessionID)
	assert.Empty(t, resp.Messages)
}

// brokenStore fails every load.
type brokenStore struct{}

func (brokenStore) Load(context.Context, string) (*datatypes.ConversationState, error) {
	return nil, errors.New("database offline")
}

func (brokenStore) Save(context.Context, *datatypes.ConversationState) error {
	return errors.New("database offline")
}

func (brokenStore) Close() error { return nil }

func TestHandleSessionHistoryStoreFailure(t *testing.T) {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/sessions/s1/history", nil)
	historyRouter(brokenStore{}).ServeHTTP(w, req)

	require.Equal(t, http.StatusInternalServerError, w.Code)
	// Internal detail must not leak to the client.
	assert.NotContains(t, w.Body.String(), "database offline")
}
