// Copyright (C) 2025 CeylonMart (engineering@ceylonmart.lk)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/ceylonmart/concierge/services/agent/datatypes"
)

// sessionKeyPrefix namespaces session checkpoints inside the database.
const sessionKeyPrefix = "session/"

// BadgerConfig holds configuration for the BadgerDB-backed store.
type BadgerConfig struct {
	// Path is the directory for database files.
	// Required unless InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	// Default: true for persistent databases.
	SyncWrites bool

	// Logger receives BadgerDB's internal log output.
	// If nil, BadgerDB's internal logging is disabled.
	Logger *slog.Logger

	// GCInterval is how often to run value log garbage collection.
	// Default: 5 minutes. Set to 0 to disable.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum ratio of discardable data before GC.
	// Default: 0.5.
	GCDiscardRatio float64
}

// DefaultBadgerConfig returns production defaults for the given path.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryBadgerConfig returns a configuration for testing: in-memory,
// no sync, GC disabled.
func InMemoryBadgerConfig() BadgerConfig {
	return BadgerConfig{InMemory: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// BadgerStore is the BadgerDB-backed checkpoint store.
//
// # Description
//
// States are stored as JSON under "session/<id>" keys. BadgerDB commits
// are durable before Save returns (SyncWrites), which provides the
// read-after-write guarantee within a session.
//
// Retention is a collaborator policy: the store never deletes
// checkpoints on its own, only reclaims value-log garbage.
//
// # Thread Safety
//
// Safe for concurrent use.
type BadgerStore struct {
	db     *badger.DB
	stopGC chan struct{}
	doneGC chan struct{}
	logger *slog.Logger
}

// OpenBadger opens a checkpoint store with the given configuration.
//
// # Outputs
//
//   - *BadgerStore: The store. Caller must Close when done.
//   - error: Non-nil if the path is invalid or the database fails to open.
func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent checkpoint store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create checkpoint directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path).WithSyncWrites(cfg.SyncWrites)
	}

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint database: %w", err)
	}

	store := &BadgerStore{
		db:     db,
		logger: cfg.Logger,
	}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		ratio := cfg.GCDiscardRatio
		if ratio <= 0 || ratio > 1 {
			ratio = 0.5
		}
		store.stopGC = make(chan struct{})
		store.doneGC = make(chan struct{})
		go store.runGC(cfg.GCInterval, ratio)
	}

	return store, nil
}

// Load implements Store. A missing session yields a fresh empty state,
// not an error.
func (s *BadgerStore) Load(ctx context.Context, sessionID string) (*datatypes.ConversationState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var state *datatypes.ConversationState
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(sessionKeyPrefix + sessionID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			loaded := &datatypes.ConversationState{}
			if err := json.Unmarshal(val, loaded); err != nil {
				return fmt.Errorf("decode checkpoint for session %s: %w", sessionID, err)
			}
			state = loaded
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if state == nil {
		return datatypes.NewConversationState(sessionID), nil
	}
	return state, nil
}

// Save implements Store. The state is snapshotted before encoding so a
// concurrent mutation by the owning run cannot tear the write.
func (s *BadgerStore) Save(ctx context.Context, state *datatypes.ConversationState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if state == nil || state.SessionID == "" {
		return errors.New("state must have a session id")
	}

	body, err := json.Marshal(state.Clone())
	if err != nil {
		return fmt.Errorf("encode checkpoint for session %s: %w", state.SessionID, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(sessionKeyPrefix+state.SessionID), body)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Close stops garbage collection and closes the database.
func (s *BadgerStore) Close() error {
	if s.stopGC != nil {
		close(s.stopGC)
		<-s.doneGC
	}
	return s.db.Close()
}

func (s *BadgerStore) runGC(interval time.Duration, ratio float64) {
	defer close(s.doneGC)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			err := s.db.RunValueLogGC(ratio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				// ErrNoRewrite means no GC was needed, not an error
				if s.logger != nil {
					s.logger.Warn("checkpoint value log GC error", "error", err.Error())
				}
			}
		}
	}
}
