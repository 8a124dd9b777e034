// Copyright (C) 2025 CeylonMart (engineering@ceylonmart.lk)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "errors"

// Sentinel errors for the agent run taxonomy.
//
// Only validation, rate-limit, circuit-open, exhausted transient failures,
// and the turn limit terminate a run with a user-visible error event.
// Tool failures, unknown tools, and persistence degradation are absorbed
// and surfaced conversationally or via logs and metrics.
var (
	// ErrOrphanToolResult indicates a tool message whose ToolCallID does
	// not match a pending tool call from the preceding assistant message.
	ErrOrphanToolResult = errors.New("orphaned tool result")

	// ErrIncompleteToolResults indicates a tool-result batch that does not
	// cover every pending tool call.
	ErrIncompleteToolResults = errors.New("incomplete tool result set")

	// ErrSessionBusy indicates a run was requested for a session that
	// already has a run in flight. Runs within a session are strictly
	// sequential; the second run is rejected, never interleaved.
	ErrSessionBusy = errors.New("session has a run in flight")

	// ErrTurnLimit indicates the run exceeded the configured maximum
	// number of model turns and was terminated to bound cost.
	ErrTurnLimit = errors.New("model turn limit exceeded")
)
