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
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ankitjain91/opspilot-sub000/services/investigator/agent/events"
	"github.com/ankitjain91/opspilot-sub000/services/investigator/agent/evidence"
)

// historyWindow bounds how much command history is sent to the oracle.
const historyWindow = 5

// knowledgeLimit is how many runbook snippets are retrieved per plan.
const knowledgeLimit = 3

// phasePlan asks the oracle for an execution plan.
//
// Description:
//
//	Retrieves runbook snippets (best-effort), folds in evidence and
//	discoveries, and builds the plan. An empty oracle plan decays to a
//	single generic step rather than failing the run.
func (l *DefaultLoop) phasePlan(ctx context.Context, session *Session) error {
	cfg := session.Config
	inv := session.Investigation().Clone()

	var snippets []string
	if l.knowledge != nil {
		kctx, cancel := context.WithTimeout(ctx, cfg.OracleTimeout)
		found, err := l.knowledge.Search(kctx, inv.Goal, knowledgeLimit)
		cancel()
		if err != nil {
			// Retrieval is advisory; a down knowledge base never fails a run.
			slog.Warn("Knowledge retrieval failed",
				slog.String("session_id", session.ID),
				slog.String("error", err.Error()),
			)
		} else {
			snippets = found
		}
	}

	var priorFailure string
	if d := inv.LastDirective; d != nil && d.Kind == DirectiveAbort {
		priorFailure = d.Reason
	}

	octx, cancel := context.WithTimeout(ctx, cfg.OracleTimeout)
	resp, err := l.oracle.Plan(octx, PlanRequest{
		Goal:              inv.Goal,
		Evidence:          inv.AccumulatedEvidence,
		Discovered:        inv.DiscoveredEntities,
		KnowledgeSnippets: snippets,
		PriorFailure:      priorFailure,
	})
	cancel()
	if err != nil {
		return fmt.Errorf("%w: plan: %v", ErrOracleUnavailable, err)
	}

	steps := BuildPlan(resp.Steps)
	if len(steps) == 0 {
		steps = BuildPlan([]string{
			"Investigate the goal directly with targeted read-only commands",
		})
	}
	steps[0].Status = StepInProgress

	inv.ExecutionPlan = steps
	inv.CurrentStepIndex = 0
	inv.RetryCount = 0
	inv.PendingCommand = ""
	inv.PendingNote = ""
	session.ReplaceInvestigation(inv)

	l.emitter.Emit(events.Event{
		Type:      events.TypePlanUpdate,
		SessionID: session.ID,
		Phase:     StatePlan.String(),
		Message:   fmt.Sprintf("plan created with %d steps", len(steps)),
		Payload:   steps,
	})
	return l.transition(session, StateWorker, "plan ready")
}

// phaseWorker turns the current plan step into one concrete command.
func (l *DefaultLoop) phaseWorker(ctx context.Context, session *Session) error {
	cfg := session.Config
	inv := session.Investigation().Clone()

	inv.Iteration++
	inv.PlanIteration++
	if inv.Iteration > cfg.MaxIterations || inv.PlanIteration > cfg.MaxPlanIterations {
		inv.Incomplete = true
		session.ReplaceInvestigation(inv)
		return l.transition(session, StateSynthesize, "iteration budget exhausted")
	}

	step := inv.CurrentStep()
	if step == nil {
		session.ReplaceInvestigation(inv)
		return l.transition(session, StateSynthesize, "no step remaining")
	}
	step.Status = StepInProgress

	var hint string
	if d := inv.LastDirective; d != nil && d.Kind == DirectiveRetry {
		hint = d.NextHint
	}

	octx, cancel := context.WithTimeout(ctx, cfg.OracleTimeout)
	resp, err := l.oracle.Command(octx, CommandRequest{
		Goal:            inv.Goal,
		StepDescription: step.Description,
		Hint:            hint,
		History:         tailRecords(inv.CommandHistory, historyWindow),
		Discovered:      inv.DiscoveredEntities,
		BlockedNote:     inv.LastRejection,
	})
	cancel()
	if err != nil {
		return fmt.Errorf("%w: command: %v", ErrOracleUnavailable, err)
	}

	command := strings.TrimSpace(resp.Command)
	if command == "" {
		// An empty generation consumes an iteration and tries again.
		inv.LastRejection = "previous generation was empty; produce one literal command"
		session.ReplaceInvestigation(inv)
		return l.transition(session, StateWorker, "empty generation")
	}

	inv.PendingCommand = command
	inv.PendingNote = resp.Note
	session.ReplaceInvestigation(inv)
	return l.transition(session, StateVerify, "candidate command generated")
}

// phaseVerify classifies the pending command and routes it.
func (l *DefaultLoop) phaseVerify(ctx context.Context, session *Session) error {
	rt := l.runtimeFor(session)
	inv := session.Investigation().Clone()
	command := inv.PendingCommand

	result := rt.classifier.Classify(command, inv.DiscoveredEntities)

	if result.Verdict.RequiresApproval() {
		req := &ApprovalRequest{
			Command:     command,
			Reason:      result.Reason,
			RequestedAt: time.Now().UnixMilli(),
		}
		inv.AwaitingApproval = true
		session.ReplaceInvestigation(inv)
		session.SetPendingApproval(req)
		l.emitter.Emit(events.Event{
			Type:      events.TypeApprovalNeeded,
			SessionID: session.ID,
			Phase:     StateApproval.String(),
			Message:   result.Reason,
			Payload:   req,
		})
		l.persist(session)
		return l.transition(session, StateApproval, "human approval required")
	}

	reason := result.Reason
	blocked := result.Verdict.Blocks()
	if !blocked && rt.detector.IsDuplicate(command) {
		blocked = true
		reason = "loop detected: duplicate of a recently executed command; vary the approach"
	}

	if !blocked {
		session.ReplaceInvestigation(inv)
		return l.transition(session, StateExecute, "command verified safe")
	}

	// A rejection is recorded twice: the blocked ledger drives oscillation
	// detection, and a history record shows the oracle what was refused
	// and why. The record never counts as an executed command.
	inv.CommandHistory = append(inv.CommandHistory, CommandRecord{
		Command:   command,
		ExitCode:  -1,
		Error:     reason,
		Rejected:  true,
		Note:      inv.PendingNote,
		Timestamp: time.Now().UnixMilli(),
	})
	inv.BlockedCommands = append(inv.BlockedCommands, command)
	inv.LastRejection = reason
	inv.PendingCommand = ""
	inv.PendingNote = ""
	count := rt.detector.RecordBlock(command)

	slog.Info("Command blocked",
		slog.String("session_id", session.ID),
		slog.String("verdict", string(result.Verdict)),
		slog.Int("block_count", count),
	)
	l.emitter.Emit(events.Event{
		Type:      events.TypeBlocked,
		SessionID: session.ID,
		Phase:     StateVerify.String(),
		Message:   reason,
		Payload:   result,
	})

	if rt.detector.Stuck(command) {
		// The oracle keeps regenerating the same rejected command; give
		// up on the step entirely before replanning.
		inv.LastRejection = "command repeatedly blocked: " + reason +
			"; abandon this command entirely and take a different approach"
		if step := inv.CurrentStep(); step != nil {
			step.Status = StepSkipped
			step.Reason = "repeatedly blocked"
		}
	}

	session.ReplaceInvestigation(inv)
	return l.transition(session, StatePlan, "command rejected, replanning")
}

// phaseApproval consumes a delivered decision or keeps the run parked.
//
// Outputs:
//
//	bool - True when the run should park and return to the caller
func (l *DefaultLoop) phaseApproval(ctx context.Context, session *Session) (bool, error) {
	decision := session.ConsumeApproval()
	if decision == nil {
		return true, nil
	}

	inv := session.Investigation().Clone()
	inv.AwaitingApproval = false

	if decision.Granted {
		session.ReplaceInvestigation(inv)
		return false, l.transition(session, StateExecute, "approval granted")
	}

	reason := decision.Reason
	if reason == "" {
		reason = "operator declined"
	}
	inv.BlockedCommands = append(inv.BlockedCommands, inv.PendingCommand)
	inv.LastRejection = "approval denied: " + reason
	inv.PendingCommand = ""
	inv.PendingNote = ""
	session.ReplaceInvestigation(inv)
	return false, l.transition(session, StateWorker, "approval denied")
}

// phaseExecute runs the verified command and records the result.
func (l *DefaultLoop) phaseExecute(ctx context.Context, session *Session) error {
	cfg := session.Config
	rt := l.runtimeFor(session)
	inv := session.Investigation().Clone()
	command := inv.PendingCommand

	ectx, cancel := context.WithTimeout(ctx, cfg.CommandTimeout)
	res := l.executor.Run(ectx, command)
	cancel()

	rec := CommandRecord{
		Command:   command,
		Stdout:    res.Stdout,
		Stderr:    Truncate(res.Stderr, cfg.ResultTruncation),
		ExitCode:  res.ExitCode,
		Error:     res.Err,
		Note:      inv.PendingNote,
		Timestamp: time.Now().UnixMilli(),
	}
	inv.CommandHistory = append(inv.CommandHistory, rec)
	inv.DiscoveredEntities = evidence.MergeDiscovered(
		inv.DiscoveredEntities, evidence.ExtractEntities(command, res.Stdout))
	inv.PendingCommand = ""
	inv.PendingNote = ""
	inv.LastRejection = ""
	rt.detector.Record(command)

	session.ReplaceInvestigation(inv)

	slog.Info("Command executed",
		slog.String("session_id", session.ID),
		slog.Int("exit_code", res.ExitCode),
		slog.Bool("timed_out", res.TimedOut),
		slog.Duration("duration", res.Duration),
	)
	l.emitter.Emit(events.Event{
		Type:      events.TypeCommandOutput,
		SessionID: session.ID,
		Phase:     StateExecute.String(),
		Message:   command,
		Payload:   rec,
	})
	return l.transition(session, StateReflect, "output captured")
}

// phaseReflect classifies the execution result into a directive.
//
// Description:
//
//	An empty, error-free result for a discovery-style goal short-circuits
//	to SOLVED without an oracle call: absence of output is itself the
//	answer to "is there any X". Everything else goes to the oracle, and
//	the normalized directive drives the step transition.
func (l *DefaultLoop) phaseReflect(ctx context.Context, session *Session) error {
	cfg := session.Config
	inv := session.Investigation().Clone()
	last := &inv.CommandHistory[len(inv.CommandHistory)-1]

	var directive Directive
	if emptyResult(last) && goalHasKeyword(inv.Goal, cfg.EmptyResultKeywords) {
		directive = Directive{
			Kind:        DirectiveSolved,
			Reason:      "command succeeded with empty output for a discovery goal",
			FinalAnswer: "No matching resources were found; the query returned an empty result.",
		}
	} else {
		var stepDesc string
		if step := inv.CurrentStep(); step != nil {
			stepDesc = step.Description
		}
		octx, cancel := context.WithTimeout(ctx, cfg.OracleTimeout)
		raw, err := l.oracle.Reflect(octx, ReflectRequest{
			Goal:            inv.Goal,
			StepDescription: stepDesc,
			Record:          *last,
			Evidence:        inv.AccumulatedEvidence,
		})
		cancel()
		if err != nil {
			return fmt.Errorf("%w: reflect: %v", ErrOracleUnavailable, err)
		}
		directive, _ = NormalizeDirective(&raw)
	}

	inv.AccumulatedEvidence = evidence.AppendEvidence(inv.AccumulatedEvidence, directive.VerifiedFacts)
	last.Assessment = string(directive.Kind)
	last.Useful = directive.Kind == DirectiveContinue || directive.Kind == DirectiveSolved

	outcome := ApplyDirective(inv, directive, cfg.MaxStepRetries, cfg.ResultTruncation)
	session.ReplaceInvestigation(inv)

	l.emitter.Emit(events.Event{
		Type:      events.TypeReflection,
		SessionID: session.ID,
		Phase:     StateReflect.String(),
		Message:   string(directive.Kind),
		Payload:   directive,
	})
	return l.routeOutcome(ctx, session, outcome)
}

// phaseSynthesize checks evidence sufficiency and produces the answer.
func (l *DefaultLoop) phaseSynthesize(ctx context.Context, session *Session) error {
	cfg := session.Config
	inv := session.Investigation().Clone()

	// A SOLVED directive already carries a reflected answer.
	if inv.FinalAnswer != "" {
		session.ReplaceInvestigation(inv)
		return l.transition(session, StateComplete, "answer accepted")
	}

	forced := inv.Incomplete || inv.Attempt >= cfg.MaxAttempts

	octx, cancel := context.WithTimeout(ctx, cfg.OracleTimeout)
	resp, err := l.oracle.Synthesize(octx, SynthesizeRequest{
		Goal:        inv.Goal,
		Evidence:    inv.AccumulatedEvidence,
		History:     inv.CommandHistory,
		PlanSummary: inv.PlanSummary(),
		Forced:      forced,
	})
	cancel()
	if err != nil {
		if !forced {
			return fmt.Errorf("%w: synthesize: %v", ErrOracleUnavailable, err)
		}
		// Budgets are spent; degrade to a fact dump rather than failing.
		resp = SynthesizeResponse{Sufficient: true, Answer: fallbackAnswer(inv)}
	}

	if !resp.Sufficient && !forced {
		inv.Attempt++
		inv.PlanIteration = 0
		inv.RetryCount = 0
		inv.Goal = annotateGoal(session, resp.MissingAspect)
		session.ReplaceInvestigation(inv)
		return l.transition(session, StatePlan, "evidence insufficient, replanning")
	}

	answer := strings.TrimSpace(resp.Answer)
	if answer == "" {
		answer = fallbackAnswer(inv)
	}
	inv.FinalAnswer = answer
	if forced && !resp.Sufficient {
		inv.Incomplete = true
	}
	session.ReplaceInvestigation(inv)
	return l.transition(session, StateComplete, "answer synthesized")
}

// routeOutcome maps a step outcome to the next state.
func (l *DefaultLoop) routeOutcome(ctx context.Context, session *Session, outcome StepOutcome) error {
	switch outcome {
	case OutcomeRetry, OutcomeAdvance, OutcomeSkipped:
		return l.transition(session, StateWorker, string(outcome))

	case OutcomeSolved, OutcomePlanDone:
		return l.transition(session, StateSynthesize, string(outcome))

	case OutcomeAborted:
		return l.backtrack(session)

	default:
		return fmt.Errorf("%w: unknown step outcome %q", ErrInvalidTransition, outcome)
	}
}

// backtrack starts a fresh attempt after an aborted plan, or forces
// synthesis once the attempt budget is spent.
func (l *DefaultLoop) backtrack(session *Session) error {
	cfg := session.Config
	inv := session.Investigation().Clone()

	if inv.Attempt >= cfg.MaxAttempts {
		inv.Incomplete = true
		session.ReplaceInvestigation(inv)
		return l.transition(session, StateSynthesize, "attempts exhausted")
	}

	var reason string
	if d := inv.LastDirective; d != nil {
		reason = d.Reason
	}
	inv.Attempt++
	inv.PlanIteration = 0
	inv.RetryCount = 0
	inv.Goal = annotateGoal(session, reason)
	session.ReplaceInvestigation(inv)

	slog.Info("Backtracking to a new attempt",
		slog.String("session_id", session.ID),
		slog.Int("attempt", inv.Attempt),
	)
	return l.transition(session, StatePlan, "plan aborted, backtracking")
}

// annotateGoal rewrites the goal with the failure context for the next
// attempt, always starting from the original goal text.
func annotateGoal(session *Session, reason string) string {
	base := session.LastGoal
	if reason == "" {
		return base + " (previous attempt failed; change approach)"
	}
	return fmt.Sprintf("%s (previous attempt failed: %s; change approach)", base, reason)
}

// fallbackAnswer renders accumulated evidence as a best-effort answer.
func fallbackAnswer(inv *InvestigationState) string {
	if len(inv.AccumulatedEvidence) == 0 {
		return "The investigation could not establish verified findings within its budget. " +
			"Review the command history for partial signals."
	}
	var b strings.Builder
	b.WriteString("Findings established so far:\n")
	for _, fact := range inv.AccumulatedEvidence {
		b.WriteString("- ")
		b.WriteString(fact)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// emptyResult reports a clean command with no output at all.
func emptyResult(rec *CommandRecord) bool {
	return strings.TrimSpace(rec.Stdout) == "" && rec.Error == "" && rec.ExitCode == 0
}

// goalHasKeyword reports whether any configured keyword appears as a word
// in the goal.
func goalHasKeyword(goal string, keywords []string) bool {
	words := strings.Fields(strings.ToLower(goal))
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[strings.Trim(w, ".,?!:;\"'")] = true
	}
	for _, k := range keywords {
		if set[strings.ToLower(k)] {
			return true
		}
	}
	return false
}

// tailRecords returns the last n history records.
func tailRecords(records []CommandRecord, n int) []CommandRecord {
	if len(records) <= n {
		return records
	}
	return records[len(records)-n:]
}
