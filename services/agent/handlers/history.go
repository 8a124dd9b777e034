// Copyright (C) 2025 CeylonMart (engineering@ceylonmart.lk)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ceylonmart/concierge/services/agent/checkpoint"
	"github.com/ceylonmart/concierge/services/agent/datatypes"
)

// HandleSessionHistory returns the persisted conversation for a session.
//
// System and tool plumbing messages are filtered out: clients replaying
// a conversation only need the user/assistant exchange.
func HandleSessionHistory(store checkpoint.Store, logger *slog.Logger) gin.HandlerFunc {
	log := logger
	if log == nil {
		log = slog.Default()
	}

	return func(c *gin.Context) {
		sessionID := c.Param("sessionId")
		if sessionID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "sessionId is required"})
			return
		}

		state, err := store.Load(c.Request.Context(), sessionID)
		if err != nil {
			log.Error("failed to load session history", "session_id", sessionID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "session state unavailable"})
			return
		}

		visible := make([]datatypes.Message, 0, len(state.Messages))
		for _, msg := range state.Messages {
			if msg.Role != datatypes.RoleUser && msg.Role != datatypes.RoleAssistant {
				continue
			}
			if msg.Content == "" {
				// Assistant tool-request stubs carry no text.
				continue
			}
			visible = append(visible, datatypes.Message{Role: msg.Role, Content: msg.Content})
		}

		c.JSON(http.StatusOK, gin.H{
			"sessionId":      state.SessionID,
			"messages":       visible,
			"modelCallCount": state.ModelCallCount,
			"updatedAt":      state.UpdatedAt,
		})
	}
}
