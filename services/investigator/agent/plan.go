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

import "strings"

// StepOutcome is the result of applying a directive to the current plan step.
type StepOutcome string

const (
	// OutcomeAdvance means the step completed and a next step exists.
	OutcomeAdvance StepOutcome = "advance"

	// OutcomeRetry means the same step runs again with a hint.
	OutcomeRetry StepOutcome = "retry"

	// OutcomeSkipped means retries were exhausted and the step was
	// abandoned; a next step exists.
	OutcomeSkipped StepOutcome = "skipped"

	// OutcomePlanDone means the last step finished (completed or skipped).
	OutcomePlanDone StepOutcome = "plan_done"

	// OutcomeSolved means the directive asserts the goal is answered.
	OutcomeSolved StepOutcome = "solved"

	// OutcomeAborted means the plan's premise is invalid; remaining steps
	// were marked blocked.
	OutcomeAborted StepOutcome = "aborted"
)

// BuildPlan converts oracle step descriptions into pending plan steps.
func BuildPlan(descriptions []string) []PlanStep {
	steps := make([]PlanStep, 0, len(descriptions))
	for _, d := range descriptions {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		steps = append(steps, PlanStep{
			Index:       len(steps),
			Description: d,
			Status:      StepPending,
		})
	}
	return steps
}

// ApplyDirective applies a normalized directive to the investigation's
// current plan step.
//
// Description:
//
//	Mutates the given state (callers pass a clone) according to the
//	four-way contract. CONTINUE completes the step and advances. RETRY
//	increments the step retry counter; past maxStepRetries the step is
//	forced to skipped so one impossible step cannot stall the plan.
//	SOLVED records the candidate answer. ABORT marks every unfinished
//	step blocked so the planner starts clean.
//
// Inputs:
//
//	inv - The investigation state to mutate (a phase-owned clone)
//	d - The normalized directive
//	maxStepRetries - Retry budget per step
//	truncation - Byte cap applied to stored step results
//
// Outputs:
//
//	StepOutcome - What the loop should do next
func ApplyDirective(inv *InvestigationState, d Directive, maxStepRetries, truncation int) StepOutcome {
	inv.LastDirective = &d

	step := inv.CurrentStep()
	if step == nil {
		// No plan or index past the end; nothing to transition.
		if d.Kind == DirectiveSolved {
			inv.FinalAnswer = d.FinalAnswer
			return OutcomeSolved
		}
		return OutcomePlanDone
	}

	switch d.Kind {
	case DirectiveSolved:
		step.Status = StepCompleted
		step.Result = Truncate(lastStdout(inv), truncation)
		inv.FinalAnswer = d.FinalAnswer
		inv.RetryCount = 0
		return OutcomeSolved

	case DirectiveAbort:
		for i := range inv.ExecutionPlan {
			s := &inv.ExecutionPlan[i]
			if s.Status == StepPending || s.Status == StepInProgress {
				s.Status = StepBlocked
				s.Reason = d.Reason
			}
		}
		inv.RetryCount = 0
		return OutcomeAborted

	case DirectiveRetry:
		inv.RetryCount++
		if inv.RetryCount <= maxStepRetries {
			return OutcomeRetry
		}
		// Retry budget exhausted: force the step to skipped and move on.
		step.Status = StepSkipped
		step.Reason = "retries exhausted: " + d.Reason
		inv.RetryCount = 0
		return advance(inv, OutcomeSkipped)

	default: // DirectiveContinue
		step.Status = StepCompleted
		step.Result = Truncate(lastStdout(inv), truncation)
		inv.RetryCount = 0
		return advance(inv, OutcomeAdvance)
	}
}

// PlanExhausted reports whether no pending or in-progress step remains.
func PlanExhausted(inv *InvestigationState) bool {
	for _, s := range inv.ExecutionPlan {
		if s.Status == StepPending || s.Status == StepInProgress {
			return false
		}
	}
	return true
}

// Truncate caps a string at limit bytes, marking the cut.
func Truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	return s[:limit] + "... [truncated]"
}

// advance moves CurrentStepIndex to the next pending step.
func advance(inv *InvestigationState, onNext StepOutcome) StepOutcome {
	inv.CurrentStepIndex++
	if inv.CurrentStepIndex >= len(inv.ExecutionPlan) {
		return OutcomePlanDone
	}
	return onNext
}

// lastStdout returns the stdout of the most recent history entry.
func lastStdout(inv *InvestigationState) string {
	if len(inv.CommandHistory) == 0 {
		return ""
	}
	return inv.CommandHistory[len(inv.CommandHistory)-1].Stdout
}
