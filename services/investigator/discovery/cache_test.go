// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package discovery

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ankitjain91/opspilot-sub000/services/investigator/agent"
)

// stubExecutor answers listing commands from a canned output map.
type stubExecutor struct {
	mu      sync.Mutex
	outputs map[string]agent.ExecResult
	batches int
}

func (s *stubExecutor) Run(_ context.Context, command string) agent.ExecResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if res, ok := s.outputs[command]; ok {
		return res
	}
	return agent.ExecResult{ExitCode: 1, Err: "unknown command"}
}

func (s *stubExecutor) RunBatch(ctx context.Context, commands []string) []agent.ExecResult {
	s.mu.Lock()
	s.batches++
	s.mu.Unlock()
	out := make([]agent.ExecResult, len(commands))
	for i, c := range commands {
		out[i] = s.Run(ctx, c)
	}
	return out
}

func (s *stubExecutor) batchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batches
}

func healthyExecutor() *stubExecutor {
	return &stubExecutor{outputs: map[string]agent.ExecResult{
		"kubectl get namespaces -o name": {
			Stdout: "namespace/default\nnamespace/payments\n",
		},
		"kubectl get nodes -o name": {
			Stdout: "node/worker-1\nnode/worker-2\n",
		},
		"kubectl get pods --all-namespaces -o name": {
			Stdout: "pod/api-0\npod/worker-1\n",
		},
		"kubectl get deployments --all-namespaces -o name": {
			Stdout: "deployment.apps/api\n",
		},
	}}
}

func TestCache_RefreshPopulatesCategories(t *testing.T) {
	c := NewCache(healthyExecutor())

	got := c.Entities(context.Background())

	assert.Equal(t, []string{"default", "payments"}, got["namespace"])
	assert.Equal(t, []string{"worker-1", "worker-2"}, got["node"])
	assert.Equal(t, []string{"api-0", "worker-1"}, got["pod"])
}

func TestCache_FreshHitSkipsExecutor(t *testing.T) {
	exec := healthyExecutor()
	c := NewCache(exec, WithTTL(time.Hour))

	c.Entities(context.Background())
	c.Entities(context.Background())

	assert.Equal(t, 1, exec.batchCount(), "a fresh cache never re-lists")
}

func TestCache_StaleServesSnapshotAndRefreshesInBackground(t *testing.T) {
	exec := healthyExecutor()
	c := NewCache(exec, WithTTL(time.Nanosecond))

	c.Entities(context.Background())
	time.Sleep(time.Millisecond)

	// An expired read still answers from the previous snapshot; the
	// re-listing happens off the caller's goroutine.
	got := c.Entities(context.Background())
	assert.Equal(t, []string{"api-0", "worker-1"}, got["pod"])

	assert.Eventually(t, func() bool { return exec.batchCount() >= 2 },
		time.Second, 5*time.Millisecond)
}

// gatedExecutor holds every batch until the gate is fed, so a refresh can
// be kept in flight deliberately.
type gatedExecutor struct {
	*stubExecutor
	gate chan struct{}
}

func (g *gatedExecutor) RunBatch(ctx context.Context, commands []string) []agent.ExecResult {
	<-g.gate
	return g.stubExecutor.RunBatch(ctx, commands)
}

func TestCache_ExpiredReadsSingleFlight(t *testing.T) {
	exec := healthyExecutor()
	gated := &gatedExecutor{stubExecutor: exec, gate: make(chan struct{}, 1)}
	c := NewCache(gated, WithTTL(time.Nanosecond))

	gated.gate <- struct{}{}
	c.Entities(context.Background())
	time.Sleep(time.Millisecond)

	// With the next refresh stuck behind the gate, expired reads keep
	// answering immediately and no second refresh piles up behind it.
	for i := 0; i < 5; i++ {
		got := c.Entities(context.Background())
		assert.NotEmpty(t, got["pod"], "expired reads never block")
	}
	assert.Equal(t, 1, exec.batchCount(), "one refresh in flight at a time")

	gated.gate <- struct{}{}
	assert.Eventually(t, func() bool { return exec.batchCount() == 2 },
		time.Second, 5*time.Millisecond)
}

func TestCache_FailedRefreshKeepsPreviousMap(t *testing.T) {
	exec := healthyExecutor()
	c := NewCache(exec)

	first := c.Refresh(context.Background())
	require.NotEmpty(t, first["pod"])

	// Every listing now fails; the cache must keep serving the old names.
	exec.mu.Lock()
	exec.outputs = map[string]agent.ExecResult{}
	exec.mu.Unlock()

	second := c.Refresh(context.Background())
	assert.Equal(t, first["pod"], second["pod"])
	assert.Equal(t, first["namespace"], second["namespace"])
}

func TestCache_ReturnedMapIsACopy(t *testing.T) {
	c := NewCache(healthyExecutor())

	got := c.Entities(context.Background())
	got["pod"][0] = "tampered"
	got["injected"] = []string{"x"}

	again := c.Entities(context.Background())
	assert.Equal(t, "api-0", again["pod"][0])
	assert.NotContains(t, again, "injected")
}

func TestCache_StartStop(t *testing.T) {
	c := NewCache(healthyExecutor(), WithTTL(10*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.Start(ctx)
	c.Stop()
	c.Stop()
}
