// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package agent provides the state-machine-driven investigation orchestrator.
//
// The orchestrator coordinates reasoning-oracle calls, command safety gating,
// duplicate detection, and evidence bookkeeping to diagnose problems in a
// managed cluster. It implements a finite state machine with phases: IDLE,
// PLAN, WORKER, VERIFY, APPROVAL, EXECUTE, REFLECT, SYNTHESIZE, COMPLETE,
// and ERROR.
//
// Thread Safety:
//
//	All exported types in this package are designed for concurrent use.
//	Sessions are protected by internal synchronization.
package agent

import (
	"fmt"
	"time"
)

// State represents a state in the investigation state machine.
//
// Valid state transitions are enforced by the state machine. Invalid
// transitions return ErrInvalidTransition.
type State string

const (
	// StateIdle is the initial state before any goal is received.
	StateIdle State = "IDLE"

	// StatePlan asks the oracle for an execution plan or next approach.
	StatePlan State = "PLAN"

	// StateWorker turns the current plan step into one concrete command.
	StateWorker State = "WORKER"

	// StateVerify runs safety classification on the pending command.
	StateVerify State = "VERIFY"

	// StateApproval parks the run until an external approval signal arrives.
	StateApproval State = "APPROVAL"

	// StateExecute runs the verified command against the cluster.
	StateExecute State = "EXECUTE"

	// StateReflect asks the oracle to classify the execution result.
	StateReflect State = "REFLECT"

	// StateSynthesize checks evidence sufficiency and produces the answer.
	StateSynthesize State = "SYNTHESIZE"

	// StateComplete indicates the investigation produced a final answer.
	StateComplete State = "COMPLETE"

	// StateError indicates an unrecoverable error occurred.
	StateError State = "ERROR"
)

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// IsTerminal returns true if the state is COMPLETE or ERROR.
func (s State) IsTerminal() bool {
	return s == StateComplete || s == StateError
}

// IsActive returns true if the state allows continued execution.
func (s State) IsActive() bool {
	switch s {
	case StatePlan, StateWorker, StateVerify, StateExecute, StateReflect, StateSynthesize:
		return true
	default:
		return false
	}
}

// AllStates returns all valid investigation states.
func AllStates() []State {
	return []State{
		StateIdle,
		StatePlan,
		StateWorker,
		StateVerify,
		StateApproval,
		StateExecute,
		StateReflect,
		StateSynthesize,
		StateComplete,
		StateError,
	}
}

// DirectiveKind is the four-way contract returned by reflection.
type DirectiveKind string

const (
	// DirectiveContinue marks the current step as done; advance.
	DirectiveContinue DirectiveKind = "CONTINUE"

	// DirectiveRetry re-runs the current step with a corrective hint.
	DirectiveRetry DirectiveKind = "RETRY"

	// DirectiveSolved asserts the overall goal is answered.
	DirectiveSolved DirectiveKind = "SOLVED"

	// DirectiveAbort asserts the plan's premise is invalid.
	DirectiveAbort DirectiveKind = "ABORT"
)

// Directive is the structured outcome of reflection that drives step
// transitions.
//
// Invariants enforced by Validate: RETRY carries a hint, ABORT carries a
// reason, SOLVED carries (or implies) a final answer. Payloads that violate
// the contract decay to a default RETRY rather than being trusted.
type Directive struct {
	// Kind is the directive type.
	Kind DirectiveKind `json:"kind"`

	// Reason explains the directive.
	Reason string `json:"reason,omitempty"`

	// VerifiedFacts are facts the oracle asserts were verified by the
	// last command output. Appended to accumulated evidence.
	VerifiedFacts []string `json:"verified_facts,omitempty"`

	// NextHint steers the next generation attempt (required for RETRY).
	NextHint string `json:"next_hint,omitempty"`

	// FinalAnswer is the candidate answer (required for SOLVED).
	FinalAnswer string `json:"final_answer,omitempty"`
}

// StepStatus is the lifecycle status of a plan step.
type StepStatus string

const (
	// StepPending means the step has not started.
	StepPending StepStatus = "pending"

	// StepInProgress means the step is currently being worked.
	StepInProgress StepStatus = "in_progress"

	// StepCompleted means the step produced usable output.
	StepCompleted StepStatus = "completed"

	// StepSkipped means the step was abandoned after retry exhaustion.
	StepSkipped StepStatus = "skipped"

	// StepBlocked means the step was discarded by an aborted plan.
	StepBlocked StepStatus = "blocked"
)

// PlanStep is one step of an execution plan.
//
// Steps are created at plan-creation time and are never deleted, only
// status-transitioned, so the full plan stays inspectable post-hoc.
type PlanStep struct {
	// Index is the 0-based position in the plan.
	Index int `json:"index"`

	// Description is the natural-language step description.
	Description string `json:"description"`

	// Status is the current lifecycle status.
	Status StepStatus `json:"status"`

	// Result is the truncated step output, set on completion.
	Result string `json:"result,omitempty"`

	// Reason records why a step was skipped or blocked.
	Reason string `json:"reason,omitempty"`
}

// CommandRecord is one entry in the append-only command history.
//
// Records are never mutated in place except to attach an assessment once
// reflection completes.
type CommandRecord struct {
	// Command is the literal command string.
	Command string `json:"command"`

	// Stdout is the captured standard output.
	Stdout string `json:"stdout,omitempty"`

	// Stderr is the captured standard error.
	Stderr string `json:"stderr,omitempty"`

	// ExitCode is the process exit code (-1 for rejections and timeouts).
	ExitCode int `json:"exit_code"`

	// Error holds a structured rejection or execution error string.
	Error string `json:"error,omitempty"`

	// Rejected marks a command that was refused before execution; the
	// record exists so the oracle sees the rejection in history, but the
	// command never ran.
	Rejected bool `json:"rejected,omitempty"`

	// Assessment is the reflection verdict attached after the fact.
	Assessment string `json:"assessment,omitempty"`

	// Useful records whether reflection judged the output useful.
	Useful bool `json:"useful,omitempty"`

	// Note is the oracle's reasoning note for this command.
	Note string `json:"note,omitempty"`

	// Timestamp is when the record was appended (Unix milliseconds UTC).
	Timestamp int64 `json:"timestamp"`
}

// InvestigationState is the single record threaded through every phase.
//
// History, evidence, and discoveries are monotone: append or merge only.
// Phases build a new value and the session swaps it in as a whole-record
// replace, so cancellation between phases never observes a torn record.
type InvestigationState struct {
	// Goal is the user's request, possibly rewritten between attempts.
	Goal string `json:"goal"`

	// CommandHistory is the append-only list of command records.
	CommandHistory []CommandRecord `json:"command_history"`

	// DiscoveredEntities maps a category (pod, namespace, node, ...) to
	// the sorted set of entity names observed so far.
	DiscoveredEntities map[string][]string `json:"discovered_entities"`

	// AccumulatedEvidence is the ordered, deduplicated list of verified
	// facts. Cleared only when a new goal begins, never on retry.
	AccumulatedEvidence []string `json:"accumulated_evidence"`

	// BlockedCommands lists commands rejected by safety or duplicate
	// checks, used to detect oscillation.
	BlockedCommands []string `json:"blocked_commands"`

	// ExecutionPlan is the current plan, if one was created.
	ExecutionPlan []PlanStep `json:"execution_plan,omitempty"`

	// CurrentStepIndex points at the step being worked.
	CurrentStepIndex int `json:"current_step_index"`

	// RetryCount counts retries of the current step.
	RetryCount int `json:"retry_count"`

	// LastDirective is the most recent reflection directive.
	LastDirective *Directive `json:"last_directive,omitempty"`

	// PendingCommand is the command awaiting verification or execution.
	PendingCommand string `json:"pending_command,omitempty"`

	// PendingNote is the oracle's reasoning note for the pending command.
	PendingNote string `json:"pending_note,omitempty"`

	// LastRejection explains the most recent pre-execution rejection, fed
	// back to the oracle so the next generation differs.
	LastRejection string `json:"last_rejection,omitempty"`

	// AwaitingApproval is true while the run is parked in APPROVAL.
	AwaitingApproval bool `json:"awaiting_approval"`

	// Iteration counts top-level reasoning iterations.
	Iteration int `json:"iteration"`

	// PlanIteration counts in-plan step iterations, bounded independently
	// of Iteration so the two loops cannot disagree into a spin.
	PlanIteration int `json:"plan_iteration"`

	// Attempt is the current backtracking-envelope attempt (1-based).
	Attempt int `json:"attempt"`

	// FinalAnswer is set once synthesis accepts an answer.
	FinalAnswer string `json:"final_answer,omitempty"`

	// Incomplete marks the final answer as best-effort, produced under
	// budget exhaustion rather than evidence sufficiency.
	Incomplete bool `json:"incomplete,omitempty"`
}

// NewInvestigationState creates an empty state for a goal.
func NewInvestigationState(goal string) *InvestigationState {
	return &InvestigationState{
		Goal:                goal,
		CommandHistory:      make([]CommandRecord, 0),
		DiscoveredEntities:  make(map[string][]string),
		AccumulatedEvidence: make([]string, 0),
		BlockedCommands:     make([]string, 0),
		CurrentStepIndex:    0,
		Attempt:             1,
	}
}

// Clone returns a deep copy of the state.
//
// Description:
//
//	Phases mutate a clone and hand it back; the session applies it as a
//	whole-record replace. This keeps each phase's delta atomic.
func (s *InvestigationState) Clone() *InvestigationState {
	out := *s
	out.CommandHistory = append([]CommandRecord(nil), s.CommandHistory...)
	out.AccumulatedEvidence = append([]string(nil), s.AccumulatedEvidence...)
	out.BlockedCommands = append([]string(nil), s.BlockedCommands...)
	out.ExecutionPlan = append([]PlanStep(nil), s.ExecutionPlan...)
	out.DiscoveredEntities = make(map[string][]string, len(s.DiscoveredEntities))
	for k, v := range s.DiscoveredEntities {
		out.DiscoveredEntities[k] = append([]string(nil), v...)
	}
	if s.LastDirective != nil {
		d := *s.LastDirective
		d.VerifiedFacts = append([]string(nil), s.LastDirective.VerifiedFacts...)
		out.LastDirective = &d
	}
	return &out
}

// CurrentStep returns the step being worked, or nil when no plan exists
// or the index is past the end.
func (s *InvestigationState) CurrentStep() *PlanStep {
	if s.CurrentStepIndex < 0 || s.CurrentStepIndex >= len(s.ExecutionPlan) {
		return nil
	}
	return &s.ExecutionPlan[s.CurrentStepIndex]
}

// PlanSummary reports step completion as "N/M steps completed, K skipped".
func (s *InvestigationState) PlanSummary() string {
	if len(s.ExecutionPlan) == 0 {
		return ""
	}
	var completed, skipped int
	for _, step := range s.ExecutionPlan {
		switch step.Status {
		case StepCompleted:
			completed++
		case StepSkipped:
			skipped++
		}
	}
	return planSummaryString(completed, len(s.ExecutionPlan), skipped)
}

// RunResult contains the outcome of a Run or Resume call.
type RunResult struct {
	// State is the state after execution (COMPLETE, APPROVAL, or ERROR).
	State State `json:"state"`

	// Answer is the final answer text (for COMPLETE).
	Answer string `json:"answer,omitempty"`

	// Incomplete marks a best-effort answer produced by budget exhaustion.
	Incomplete bool `json:"incomplete,omitempty"`

	// PendingApproval describes the command awaiting approval (for APPROVAL).
	PendingApproval *ApprovalRequest `json:"pending_approval,omitempty"`

	// CommandsRun is the number of commands executed.
	CommandsRun int `json:"commands_run"`

	// CommandsBlocked is the number of commands rejected pre-execution.
	CommandsBlocked int `json:"commands_blocked"`

	// Evidence is the accumulated verified-fact list.
	Evidence []string `json:"evidence,omitempty"`

	// PlanSummary reports plan completion, when a plan existed.
	PlanSummary string `json:"plan_summary,omitempty"`

	// Attempts is the 1-based attempt number the run finished on: 1 when
	// no backtracking occurred, incremented once per backtrack, capped by
	// the configured attempt budget.
	Attempts int `json:"attempts"`

	// Duration is the wall-clock run time.
	Duration time.Duration `json:"duration"`

	// Error contains error details (for ERROR).
	Error *InvestigationError `json:"error,omitempty"`
}

// ApprovalRequest describes a command parked for human approval.
type ApprovalRequest struct {
	// Command is the command requiring approval.
	Command string `json:"command"`

	// Reason explains why approval is required.
	Reason string `json:"reason"`

	// RequestedAt is when the run parked (Unix milliseconds UTC).
	RequestedAt int64 `json:"requested_at"`
}

// InvestigationError contains error information for the ERROR state.
//
// InvestigationError implements the error interface.
type InvestigationError struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error message.
	Message string `json:"message"`

	// PartialEvidence carries whatever evidence was gathered before the
	// failure. User-visible failures are never a bare error string.
	PartialEvidence []string `json:"partial_evidence,omitempty"`

	// Recoverable indicates if the error might be resolved by retry.
	Recoverable bool `json:"recoverable"`
}

// Error implements the error interface.
func (e *InvestigationError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

func planSummaryString(completed, total, skipped int) string {
	out := fmt.Sprintf("%d/%d steps completed", completed, total)
	if skipped > 0 {
		out += fmt.Sprintf(", %d skipped", skipped)
	}
	return out
}
