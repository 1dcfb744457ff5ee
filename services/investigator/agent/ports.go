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
	"time"
)

// PlanRequest asks the oracle for an execution plan.
type PlanRequest struct {
	// Goal is the investigation goal, including any backtracking annotation.
	Goal string `json:"goal"`

	// Evidence is the verified-fact list carried into this attempt.
	Evidence []string `json:"evidence,omitempty"`

	// Discovered maps entity categories to known names.
	Discovered map[string][]string `json:"discovered,omitempty"`

	// KnowledgeSnippets are runbook excerpts retrieved for this goal.
	KnowledgeSnippets []string `json:"knowledge_snippets,omitempty"`

	// PriorFailure summarizes why the previous attempt was abandoned.
	PriorFailure string `json:"prior_failure,omitempty"`
}

// PlanResponse is the oracle's plan.
type PlanResponse struct {
	// Steps are ordered natural-language step descriptions.
	Steps []string `json:"steps"`
}

// CommandRequest asks the oracle to turn the current step into one command.
type CommandRequest struct {
	// Goal is the investigation goal.
	Goal string `json:"goal"`

	// StepDescription is the plan step being worked.
	StepDescription string `json:"step_description"`

	// Hint is the corrective hint from the last RETRY directive, if any.
	Hint string `json:"hint,omitempty"`

	// History is the recent command history window.
	History []CommandRecord `json:"history,omitempty"`

	// Discovered maps entity categories to known names.
	Discovered map[string][]string `json:"discovered,omitempty"`

	// BlockedNote explains the most recent rejection, so the oracle can
	// generate something different.
	BlockedNote string `json:"blocked_note,omitempty"`
}

// CommandResponse is the oracle's proposed command.
type CommandResponse struct {
	// Command is the literal command string.
	Command string `json:"command"`

	// Note is the oracle's reasoning note.
	Note string `json:"note,omitempty"`
}

// ReflectRequest asks the oracle to classify an execution result.
type ReflectRequest struct {
	// Goal is the investigation goal.
	Goal string `json:"goal"`

	// StepDescription is the plan step the command served.
	StepDescription string `json:"step_description,omitempty"`

	// Record is the executed command with its captured output.
	Record CommandRecord `json:"record"`

	// Evidence is the verified-fact list so far.
	Evidence []string `json:"evidence,omitempty"`
}

// SynthesizeRequest asks the oracle whether evidence suffices for an answer.
type SynthesizeRequest struct {
	// Goal is the investigation goal.
	Goal string `json:"goal"`

	// Evidence is the verified-fact list.
	Evidence []string `json:"evidence,omitempty"`

	// History is the full command history.
	History []CommandRecord `json:"history,omitempty"`

	// PlanSummary reports plan completion.
	PlanSummary string `json:"plan_summary,omitempty"`

	// Forced requests a best-effort answer regardless of sufficiency,
	// used when budgets are exhausted.
	Forced bool `json:"forced"`
}

// SynthesizeResponse is the synthesis outcome.
type SynthesizeResponse struct {
	// Sufficient reports whether the evidence supports a final answer.
	Sufficient bool `json:"sufficient"`

	// Answer is the final answer text when Sufficient (or Forced).
	Answer string `json:"answer,omitempty"`

	// MissingAspect names what further evidence is needed when not
	// sufficient, folded into the next planning pass.
	MissingAspect string `json:"missing_aspect,omitempty"`
}

// Oracle is the reasoning backend consulted by the phases.
//
// Implementations must return structured responses or an error; they never
// execute commands themselves.
type Oracle interface {
	// Plan produces an execution plan for a goal.
	Plan(ctx context.Context, req PlanRequest) (PlanResponse, error)

	// Command turns the current plan step into one concrete command.
	Command(ctx context.Context, req CommandRequest) (CommandResponse, error)

	// Reflect classifies an execution result into a directive.
	Reflect(ctx context.Context, req ReflectRequest) (Directive, error)

	// Synthesize judges evidence sufficiency and drafts the answer.
	Synthesize(ctx context.Context, req SynthesizeRequest) (SynthesizeResponse, error)
}

// ExecResult is the outcome of executing one command.
type ExecResult struct {
	// Stdout is the captured standard output.
	Stdout string `json:"stdout,omitempty"`

	// Stderr is the captured standard error.
	Stderr string `json:"stderr,omitempty"`

	// ExitCode is the process exit code (-1 when the process never ran or
	// was killed by timeout).
	ExitCode int `json:"exit_code"`

	// Err is a structured execution error string, empty on success.
	Err string `json:"error,omitempty"`

	// TimedOut is true when the per-command deadline killed the process.
	TimedOut bool `json:"timed_out,omitempty"`

	// Duration is the wall-clock execution time.
	Duration time.Duration `json:"duration"`
}

// Executor runs verified commands against the cluster.
type Executor interface {
	// Run executes one command, honoring the context deadline.
	Run(ctx context.Context, command string) ExecResult

	// RunBatch executes commands concurrently and returns results in
	// request order, one per input command.
	RunBatch(ctx context.Context, commands []string) []ExecResult
}

// KnowledgeBase retrieves runbook snippets relevant to a goal.
//
// Retrieval is best-effort: an unavailable backend degrades to zero
// snippets, never to a failed run.
type KnowledgeBase interface {
	Search(ctx context.Context, query string, limit int) ([]string, error)
}

// EntitySource supplies known cluster entity names, by category, for
// seeding new runs so the oracle has real names from the first step.
type EntitySource interface {
	Entities(ctx context.Context) map[string][]string
}
