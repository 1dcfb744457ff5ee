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
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Config holds all tunable parameters for an investigation session.
//
// Thread Safety:
//
//	Config is immutable after creation. Modifications require creating
//	a new config.
type Config struct {
	// MaxIterations bounds top-level reasoning iterations per attempt.
	// Default: 20
	MaxIterations int `json:"max_iterations"`

	// MaxPlanIterations bounds the plan sub-loop independently of
	// MaxIterations. Default: 12
	MaxPlanIterations int `json:"max_plan_iterations"`

	// MaxAttempts bounds the outer backtracking envelope.
	// Default: 3
	MaxAttempts int `json:"max_attempts"`

	// MaxStepRetries bounds RETRY directives per plan step before the
	// step is forced to skipped. Default: 3
	MaxStepRetries int `json:"max_step_retries"`

	// DuplicateWindow is how many recent commands the duplicate detector
	// compares against. Default: 5
	DuplicateWindow int `json:"duplicate_window"`

	// BlockEscalation is how many times one exact command string may be
	// blocked before escalating to a hard stop. Default: 3
	BlockEscalation int `json:"block_escalation"`

	// CommandTimeout bounds a single command execution. Default: 60s
	CommandTimeout time.Duration `json:"command_timeout"`

	// OracleTimeout bounds a single oracle call. Default: 30s
	OracleTimeout time.Duration `json:"oracle_timeout"`

	// BatchConcurrency bounds the batch execution worker pool.
	// Default: 12
	BatchConcurrency int `json:"batch_concurrency"`

	// TotalTimeout bounds the entire run. Default: 10m
	TotalTimeout time.Duration `json:"total_timeout"`

	// ResultTruncation caps stored step results, in bytes. Default: 2000
	ResultTruncation int `json:"result_truncation"`

	// EmptyResultKeywords are goal keywords that enable the empty-output
	// short-circuit in reflection. This is a tunable policy, not a rule.
	EmptyResultKeywords []string `json:"empty_result_keywords"`

	// ClusterContext is the orchestrator's own cluster-context identifier.
	// Commands that pass it as a namespace argument are rejected.
	ClusterContext string `json:"cluster_context"`
}

// DefaultConfig returns production-ready defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxIterations:       20,
		MaxPlanIterations:   12,
		MaxAttempts:         3,
		MaxStepRetries:      3,
		DuplicateWindow:     5,
		BlockEscalation:     3,
		CommandTimeout:      60 * time.Second,
		OracleTimeout:       30 * time.Second,
		BatchConcurrency:    12,
		TotalTimeout:        10 * time.Minute,
		ResultTruncation:    2000,
		EmptyResultKeywords: []string{"list", "show", "find", "get", "which", "any"},
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.MaxIterations <= 0 {
		return fmt.Errorf("%w: MaxIterations must be positive", ErrInvalidSession)
	}
	if c.MaxPlanIterations <= 0 {
		return fmt.Errorf("%w: MaxPlanIterations must be positive", ErrInvalidSession)
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("%w: MaxAttempts must be positive", ErrInvalidSession)
	}
	if c.MaxStepRetries < 0 {
		return fmt.Errorf("%w: MaxStepRetries must be non-negative", ErrInvalidSession)
	}
	if c.DuplicateWindow <= 0 {
		return fmt.Errorf("%w: DuplicateWindow must be positive", ErrInvalidSession)
	}
	if c.CommandTimeout <= 0 {
		return fmt.Errorf("%w: CommandTimeout must be positive", ErrInvalidSession)
	}
	if c.BatchConcurrency <= 0 {
		return fmt.Errorf("%w: BatchConcurrency must be positive", ErrInvalidSession)
	}
	if c.TotalTimeout <= 0 {
		return fmt.Errorf("%w: TotalTimeout must be positive", ErrInvalidSession)
	}
	return nil
}

// ApprovalDecision is an external approval signal delivered to a parked run.
type ApprovalDecision struct {
	// Granted is true when the human approved the command.
	Granted bool `json:"granted"`

	// Reason optionally explains a denial.
	Reason string `json:"reason,omitempty"`
}

// Session represents one investigation with all mutable state.
//
// The investigation record is replaced wholesale after each phase, never
// mutated field-by-field, so a reader always observes a consistent record.
//
// Thread Safety:
//
//	Session uses internal synchronization for state access. Multiple
//	goroutines can safely read session state while a run is executing.
type Session struct {
	mu sync.RWMutex

	// ID is the unique session identifier.
	ID string `json:"id"`

	// State is the current orchestrator state.
	State State `json:"state"`

	// Inv is the investigation record threaded through phases.
	Inv *InvestigationState `json:"investigation"`

	// Config holds the session configuration.
	Config *Config `json:"config"`

	// LastGoal is the goal of the previous run in this session, used to
	// detect goal changes across runs.
	LastGoal string `json:"last_goal,omitempty"`

	// PendingApproval describes the parked command, if any.
	PendingApproval *ApprovalRequest `json:"pending_approval,omitempty"`

	// CreatedAt is when the session was created.
	CreatedAt time.Time `json:"created_at"`

	// LastActiveAt is when the session was last active.
	LastActiveAt time.Time `json:"last_active_at"`

	// approval holds an undelivered approval decision. Consumed once;
	// a second mutation in the same run requires a fresh approval.
	approval *ApprovalDecision

	// inProgress indicates if a run is currently executing.
	inProgress bool
}

// NewSession creates a new investigation session.
//
// Inputs:
//
//	config - Session configuration (uses defaults if nil)
//
// Outputs:
//
//	*Session - The new session in IDLE state
//	error - Non-nil if configuration is invalid
func NewSession(config *Config) (*Session, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	now := time.Now()
	return &Session{
		ID:           uuid.NewString(),
		State:        StateIdle,
		Config:       config,
		CreatedAt:    now,
		LastActiveAt: now,
	}, nil
}

// GetState returns the current session state.
//
// Thread Safety: This method is safe for concurrent use.
func (s *Session) GetState() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.State
}

// SetState updates the session state.
//
// Thread Safety: This method is safe for concurrent use.
func (s *Session) SetState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.State = state
	s.LastActiveAt = time.Now()
}

// Investigation returns the current investigation record.
//
// The returned pointer must be treated as read-only; phases clone it,
// mutate the clone, and call ReplaceInvestigation.
//
// Thread Safety: This method is safe for concurrent use.
func (s *Session) Investigation() *InvestigationState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Inv
}

// ReplaceInvestigation swaps in a new investigation record atomically.
//
// Thread Safety: This method is safe for concurrent use.
func (s *Session) ReplaceInvestigation(inv *InvestigationState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Inv = inv
	s.LastActiveAt = time.Now()
}

// SetPendingApproval records the parked command.
//
// Thread Safety: This method is safe for concurrent use.
func (s *Session) SetPendingApproval(req *ApprovalRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PendingApproval = req
	s.LastActiveAt = time.Now()
}

// DeliverApproval stores an approval decision for the parked run.
//
// Outputs:
//
//	error - ErrNotAwaitingApproval if no command is parked
//
// Thread Safety: This method is safe for concurrent use.
func (s *Session) DeliverApproval(decision ApprovalDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.PendingApproval == nil {
		return ErrNotAwaitingApproval
	}
	s.approval = &decision
	s.LastActiveAt = time.Now()
	return nil
}

// ConsumeApproval takes the pending decision, clearing it so that a later
// mutation in the same run requires a fresh approval.
//
// Outputs:
//
//	*ApprovalDecision - The decision, or nil when none was delivered
//
// Thread Safety: This method is safe for concurrent use.
func (s *Session) ConsumeApproval() *ApprovalDecision {
	s.mu.Lock()
	defer s.mu.Unlock()
	decision := s.approval
	s.approval = nil
	if decision != nil {
		s.PendingApproval = nil
	}
	return decision
}

// TryAcquire attempts to acquire the session for a run.
//
// Returns false if another run is in progress.
//
// Thread Safety: This method is safe for concurrent use.
func (s *Session) TryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inProgress {
		return false
	}
	s.inProgress = true
	s.LastActiveAt = time.Now()
	return true
}

// Release releases the session after a run.
//
// Thread Safety: This method is safe for concurrent use.
func (s *Session) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inProgress = false
	s.LastActiveAt = time.Now()
}

// IsTerminated returns true if the session is in a terminal state.
//
// Thread Safety: This method is safe for concurrent use.
func (s *Session) IsTerminated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.State.IsTerminal()
}

// Snapshot is the serializable form of a session for the session store.
type Snapshot struct {
	// ID is the session identifier.
	ID string `json:"id"`

	// State is the orchestrator state at snapshot time.
	State State `json:"state"`

	// Inv is the investigation record.
	Inv *InvestigationState `json:"investigation"`

	// LastGoal is the goal of the last completed run.
	LastGoal string `json:"last_goal,omitempty"`

	// PendingApproval carries the parked command across restarts.
	PendingApproval *ApprovalRequest `json:"pending_approval,omitempty"`

	// CreatedAt is when the session was created.
	CreatedAt time.Time `json:"created_at"`

	// LastActiveAt is when the session was last active.
	LastActiveAt time.Time `json:"last_active_at"`
}

// ToSnapshot captures the session for persistence.
//
// Thread Safety: This method is safe for concurrent use.
func (s *Session) ToSnapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var inv *InvestigationState
	if s.Inv != nil {
		inv = s.Inv.Clone()
	}
	return &Snapshot{
		ID:              s.ID,
		State:           s.State,
		Inv:             inv,
		LastGoal:        s.LastGoal,
		PendingApproval: s.PendingApproval,
		CreatedAt:       s.CreatedAt,
		LastActiveAt:    s.LastActiveAt,
	}
}

// FromSnapshot restores a session from a persisted snapshot.
//
// Inputs:
//
//	snap - The snapshot to restore
//	config - Session configuration (uses defaults if nil)
//
// Outputs:
//
//	*Session - The restored session
//	error - Non-nil if the snapshot or configuration is invalid
func FromSnapshot(snap *Snapshot, config *Config) (*Session, error) {
	if snap == nil || snap.ID == "" {
		return nil, fmt.Errorf("%w: empty snapshot", ErrInvalidSession)
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Session{
		ID:              snap.ID,
		State:           snap.State,
		Inv:             snap.Inv,
		Config:          config,
		LastGoal:        snap.LastGoal,
		PendingApproval: snap.PendingApproval,
		CreatedAt:       snap.CreatedAt,
		LastActiveAt:    snap.LastActiveAt,
	}, nil
}
