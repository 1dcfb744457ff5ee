// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session persists investigation session snapshots in BadgerDB.
//
// Snapshots are JSON values under a key prefix, written with a TTL so
// abandoned sessions age out without a reaper process. History is
// truncated to a recency window before writing to keep values bounded.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/ankitjain91/opspilot-sub000/services/investigator/agent"
)

// keyPrefix namespaces session snapshots within the shared database.
const keyPrefix = "session/"

// Config configures the store.
type Config struct {
	// Path is the on-disk database directory. Empty means in-memory.
	Path string

	// TTL is how long an untouched snapshot survives. Default: 24h
	TTL time.Duration

	// HistoryWindow caps persisted command history entries. Default: 50
	HistoryWindow int
}

// applyDefaults fills zero values.
func (c *Config) applyDefaults() {
	if c.TTL <= 0 {
		c.TTL = 24 * time.Hour
	}
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = 50
	}
}

// Store is a BadgerDB-backed agent.SessionStore.
//
// Thread Safety:
//
//	Store is safe for concurrent use.
type Store struct {
	db  *badger.DB
	cfg Config
}

// NewStore opens the database and returns the store.
//
// Outputs:
//
//	*Store - The store. Caller must call Close when done.
//	error - Non-nil if the database cannot be opened
func NewStore(cfg Config) (*Store, error) {
	cfg.applyDefaults()

	var opts badger.Options
	if cfg.Path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("session: open badger: %w", err)
	}
	return &Store{db: db, cfg: cfg}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save implements agent.SessionStore.
//
// Description:
//
//	Serializes the snapshot to JSON, truncating command history to the
//	configured recency window first, and writes it with the store TTL.
//	Each save refreshes the TTL, so active sessions never expire.
func (s *Store) Save(ctx context.Context, snap *agent.Snapshot) error {
	if snap == nil || snap.ID == "" {
		return agent.ErrInvalidSession
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	trimmed := trimHistory(snap, s.cfg.HistoryWindow)
	payload, err := json.Marshal(trimmed)
	if err != nil {
		return fmt.Errorf("session: marshal snapshot: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(keyPrefix+snap.ID), payload).WithTTL(s.cfg.TTL)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("session: save: %w", err)
	}

	slog.Debug("Session snapshot saved",
		slog.String("session_id", snap.ID),
		slog.Int("bytes", len(payload)),
	)
	return nil
}

// Load implements agent.SessionStore.
func (s *Store) Load(ctx context.Context, sessionID string) (*agent.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var snap agent.Snapshot
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + sessionID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &snap)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, agent.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session: load: %w", err)
	}
	return &snap, nil
}

// Delete implements agent.SessionStore.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(keyPrefix + sessionID))
	})
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("session: delete: %w", err)
	}
	return nil
}

// List implements agent.SessionStore.
func (s *Store) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			ids = append(ids, strings.TrimPrefix(key, keyPrefix))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("session: list: %w", err)
	}
	return ids, nil
}

// RunGC triggers one value-log garbage collection pass.
//
// Callers typically run this on a ticker; ErrNoRewrite is normal and
// swallowed here.
func (s *Store) RunGC(ratio float64) error {
	err := s.db.RunValueLogGC(ratio)
	if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
		return fmt.Errorf("session: gc: %w", err)
	}
	return nil
}

// trimHistory returns a copy with command history capped at window.
func trimHistory(snap *agent.Snapshot, window int) *agent.Snapshot {
	if snap.Inv == nil || len(snap.Inv.CommandHistory) <= window {
		return snap
	}
	out := *snap
	inv := snap.Inv.Clone()
	inv.CommandHistory = inv.CommandHistory[len(inv.CommandHistory)-window:]
	out.Inv = inv
	return &out
}
