// Copyright (C) 2025 CeylonMart (engineering@ceylonmart.lk)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package checkpoint persists per-session conversation state.
//
// The store guarantees read-after-write within a session: a save fully
// precedes any subsequent load for the same session observing that save.
// Store failures are non-fatal to an in-flight run; callers log a
// persistence-degraded warning and continue in memory.
package checkpoint

import (
	"context"
	"errors"

	"github.com/ceylonmart/concierge/services/agent/datatypes"
)

// ErrStoreUnavailable wraps backend failures so callers can classify
// persistence degradation without depending on the backend's error types.
var ErrStoreUnavailable = errors.New("checkpoint store unavailable")

// Store maps session identifiers to the latest conversation state.
//
// Thread Safety: Implementations must be safe for concurrent use.
// Per-session write ordering is the caller's responsibility (the
// executor serializes runs within a session).
type Store interface {
	// Load returns the state for a session, or a fresh empty state when
	// none exists.
	Load(ctx context.Context, sessionID string) (*datatypes.ConversationState, error)

	// Save persists the state under its session ID.
	Save(ctx context.Context, state *datatypes.ConversationState) error

	// Close releases backend resources.
	Close() error
}
