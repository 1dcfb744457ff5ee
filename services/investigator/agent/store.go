// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import (
	"context"
	"sync"
)

// SessionStore persists session snapshots across restarts.
//
// Implementations must be safe for concurrent use.
type SessionStore interface {
	// Save persists a snapshot, overwriting any previous one.
	Save(ctx context.Context, snap *Snapshot) error

	// Load retrieves a snapshot by session ID.
	//
	// Outputs:
	//
	//	*Snapshot - The snapshot
	//	error - ErrSessionNotFound when no snapshot exists
	Load(ctx context.Context, sessionID string) (*Snapshot, error)

	// Delete removes a snapshot. Deleting a missing snapshot is not an error.
	Delete(ctx context.Context, sessionID string) error

	// List returns all persisted session IDs.
	List(ctx context.Context) ([]string, error)
}

// InMemoryStore is a SessionStore backed by a map, for tests and
// single-process deployments that do not need durability.
//
// Thread Safety:
//
//	InMemoryStore is safe for concurrent use.
type InMemoryStore struct {
	mu    sync.RWMutex
	snaps map[string]*Snapshot
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{snaps: make(map[string]*Snapshot)}
}

// Save implements SessionStore.
func (s *InMemoryStore) Save(_ context.Context, snap *Snapshot) error {
	if snap == nil || snap.ID == "" {
		return ErrInvalidSession
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps[snap.ID] = snap
	return nil
}

// Load implements SessionStore.
func (s *InMemoryStore) Load(_ context.Context, sessionID string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snaps[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return snap, nil
}

// Delete implements SessionStore.
func (s *InMemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snaps, sessionID)
	return nil
}

// List implements SessionStore.
func (s *InMemoryStore) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.snaps))
	for id := range s.snaps {
		ids = append(ids, id)
	}
	return ids, nil
}
