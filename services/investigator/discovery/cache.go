// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package discovery maintains a TTL cache of cluster entity names.
//
// The cache seeds new investigations with namespaces, nodes, and workloads
// so the oracle has real names to substitute into commands from the first
// step, instead of guessing placeholders.
package discovery

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ankitjain91/opspilot-sub000/services/investigator/agent"
	"github.com/ankitjain91/opspilot-sub000/services/investigator/agent/evidence"
)

// defaultTTL is how long a refresh stays fresh.
const defaultTTL = 5 * time.Minute

// refreshTimeout bounds one background refresh pass.
const refreshTimeout = 2 * time.Minute

// listingCommands are the read-only listings used to seed the cache.
var listingCommands = []string{
	"kubectl get namespaces -o name",
	"kubectl get nodes -o name",
	"kubectl get pods --all-namespaces -o name",
	"kubectl get deployments --all-namespaces -o name",
}

// Cache holds discovered entities with expiry.
//
// Thread Safety:
//
//	Cache is safe for concurrent use.
type Cache struct {
	executor agent.Executor
	ttl      time.Duration

	mu        sync.RWMutex
	entities  map[string][]string
	fetchedAt time.Time

	refreshing atomic.Bool

	stopOnce sync.Once
	stop     chan struct{}
}

// Option configures the cache.
type Option func(*Cache)

// WithTTL overrides the default freshness window.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// NewCache creates a cache over the given executor.
func NewCache(executor agent.Executor, opts ...Option) *Cache {
	c := &Cache{
		executor: executor,
		ttl:      defaultTTL,
		entities: make(map[string][]string),
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Entities returns the cached entity map.
//
// Description:
//
//	A populated cache answers immediately, expired or not: foreground
//	reads observe stale data instead of blocking behind a cluster scan.
//	Expiry triggers one asynchronous refresh for the next reader. Only a
//	never-filled cache lists inline, since there is nothing to serve yet.
//
// Thread Safety: This method is safe for concurrent use.
func (c *Cache) Entities(ctx context.Context) map[string][]string {
	c.mu.RLock()
	populated := len(c.entities) > 0
	fresh := populated && time.Since(c.fetchedAt) < c.ttl
	snapshot := copyMap(c.entities)
	c.mu.RUnlock()

	if fresh {
		return snapshot
	}
	if !populated {
		return c.Refresh(ctx)
	}
	c.triggerRefresh()
	return snapshot
}

// triggerRefresh starts one background refresh unless one is running.
func (c *Cache) triggerRefresh() {
	if !c.refreshing.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer c.refreshing.Store(false)
		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()
		c.Refresh(ctx)
	}()
}

// Refresh re-lists cluster entities and replaces the cache.
//
// Thread Safety: This method is safe for concurrent use.
func (c *Cache) Refresh(ctx context.Context) map[string][]string {
	results := c.executor.RunBatch(ctx, listingCommands)

	merged := make(map[string][]string)
	var failures int
	for i, res := range results {
		if res.Err != "" || res.ExitCode != 0 {
			failures++
			continue
		}
		merged = evidence.MergeDiscovered(merged,
			evidence.ExtractEntities(listingCommands[i], res.Stdout))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(merged) == 0 {
		// Every listing failed; keep serving the previous map.
		slog.Warn("Entity discovery refresh failed", slog.Int("failures", failures))
		return copyMap(c.entities)
	}
	c.entities = merged
	c.fetchedAt = time.Now()
	slog.Debug("Entity discovery refreshed",
		slog.Int("categories", len(merged)),
		slog.Int("failures", failures),
	)
	return copyMap(merged)
}

// Start launches a background refresh loop at the TTL interval, with an
// immediate first pass so the cache is warm before the first run.
//
// Thread Safety: This method is safe for concurrent use.
func (c *Cache) Start(ctx context.Context) {
	go func() {
		c.Refresh(ctx)
		ticker := time.NewTicker(c.ttl)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.Refresh(ctx)
			case <-c.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the background refresh loop.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// copyMap deep-copies an entity map.
func copyMap(in map[string][]string) map[string][]string {
	out := make(map[string][]string, len(in))
	for k, v := range in {
		out[k] = append([]string(nil), v...)
	}
	return out
}
