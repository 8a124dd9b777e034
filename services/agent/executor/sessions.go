// Copyright (C) 2025 CeylonMart (engineering@ceylonmart.lk)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package executor

import (
	"sync"

	"github.com/ceylonmart/concierge/services/agent/datatypes"
)

// sessionLocks serializes runs per session. A second message arriving
// while a run is in flight for the same session is rejected, not queued:
// the conversation state is exclusively owned by the active run.
type sessionLocks struct {
	mu     sync.Mutex
	active map[string]struct{}
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{active: make(map[string]struct{})}
}

// acquire claims the session for a run.
//
// # Outputs
//
//   - func(): Release function. Must be called exactly once when the run
//     finishes. Nil when acquisition fails.
//   - error: datatypes.ErrSessionBusy when a run is already in flight.
func (s *sessionLocks) acquire(sessionID string) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, busy := s.active[sessionID]; busy {
		return nil, datatypes.ErrSessionBusy
	}
	s.active[sessionID] = struct{}{}

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.active, sessionID)
	}, nil
}

// size returns the number of sessions with a run in flight.
func (s *sessionLocks) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}
