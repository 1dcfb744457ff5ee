// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package oracle

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ankitjain91/opspilot-sub000/services/investigator/agent"
)

const planSystemPrompt = `You are a Kubernetes investigation planner.
Produce a short ordered plan of read-only diagnostic steps for the goal.
Each step is one sentence describing what to inspect, not a command.
Respond with JSON: {"steps": ["...", "..."]}. Three to six steps.`

const commandSystemPrompt = `You are a Kubernetes diagnostician.
Produce exactly one literal, fully resolved read-only command for the step.
Never use placeholders, shell variables, substitution, or pipes to mutating
tools. Use only entity names you have been given or discovered.
Respond with JSON: {"command": "...", "note": "one-line rationale"}.`

const reflectSystemPrompt = `You assess one executed command against an
investigation goal. Respond with JSON:
{"kind": "CONTINUE|RETRY|SOLVED|ABORT",
 "reason": "...",
 "verified_facts": ["facts proven by this output"],
 "next_hint": "required for RETRY",
 "final_answer": "required for SOLVED"}.
CONTINUE: the step is done, move on. RETRY: the command missed, hint a fix.
SOLVED: the overall goal is now answered. ABORT: the plan's premise is wrong.
Only list facts the output actually proves.`

const synthesizeSystemPrompt = `You judge whether gathered evidence answers
an investigation goal. Respond with JSON:
{"sufficient": true|false,
 "answer": "final answer when sufficient",
 "missing_aspect": "what is still unknown when not sufficient"}.
When the request is marked forced, always produce the best answer the
evidence supports and say what remains unverified.`

func buildPlanPrompt(req agent.PlanRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\n", req.Goal)
	if req.PriorFailure != "" {
		fmt.Fprintf(&b, "\nA previous plan failed: %s\nTake a different approach.\n", req.PriorFailure)
	}
	writeEvidence(&b, req.Evidence)
	writeDiscovered(&b, req.Discovered)
	if len(req.KnowledgeSnippets) > 0 {
		b.WriteString("\nRelevant runbook excerpts:\n")
		for _, s := range req.KnowledgeSnippets {
			fmt.Fprintf(&b, "---\n%s\n", s)
		}
	}
	return b.String()
}

func buildCommandPrompt(req agent.CommandRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\nCurrent step: %s\n", req.Goal, req.StepDescription)
	if req.Hint != "" {
		fmt.Fprintf(&b, "\nCorrective hint from the last attempt: %s\n", req.Hint)
	}
	if req.BlockedNote != "" {
		fmt.Fprintf(&b, "\nYour last command was rejected: %s\nGenerate something different.\n", req.BlockedNote)
	}
	writeDiscovered(&b, req.Discovered)
	if len(req.History) > 0 {
		b.WriteString("\nRecent commands:\n")
		for _, rec := range req.History {
			fmt.Fprintf(&b, "$ %s (exit %d)\n", rec.Command, rec.ExitCode)
		}
	}
	return b.String()
}

func buildReflectPrompt(req agent.ReflectRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\n", req.Goal)
	if req.StepDescription != "" {
		fmt.Fprintf(&b, "Step: %s\n", req.StepDescription)
	}
	fmt.Fprintf(&b, "\nCommand: %s\nExit code: %d\n", req.Record.Command, req.Record.ExitCode)
	if req.Record.Error != "" {
		fmt.Fprintf(&b, "Execution error: %s\n", req.Record.Error)
	}
	fmt.Fprintf(&b, "Stdout:\n%s\n", orMarker(req.Record.Stdout, "(empty)"))
	if req.Record.Stderr != "" {
		fmt.Fprintf(&b, "Stderr:\n%s\n", req.Record.Stderr)
	}
	writeEvidence(&b, req.Evidence)
	return b.String()
}

func buildSynthesizePrompt(req agent.SynthesizeRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\n", req.Goal)
	if req.Forced {
		b.WriteString("Forced: budgets are exhausted; answer with what exists.\n")
	}
	if req.PlanSummary != "" {
		fmt.Fprintf(&b, "Plan: %s\n", req.PlanSummary)
	}
	writeEvidence(&b, req.Evidence)
	if len(req.History) > 0 {
		b.WriteString("\nCommands executed:\n")
		for _, rec := range req.History {
			fmt.Fprintf(&b, "$ %s (exit %d)\n", rec.Command, rec.ExitCode)
		}
	}
	return b.String()
}

func writeEvidence(b *strings.Builder, evidence []string) {
	if len(evidence) == 0 {
		return
	}
	b.WriteString("\nVerified facts so far:\n")
	for _, fact := range evidence {
		fmt.Fprintf(b, "- %s\n", fact)
	}
}

func writeDiscovered(b *strings.Builder, discovered map[string][]string) {
	if len(discovered) == 0 {
		return
	}
	categories := make([]string, 0, len(discovered))
	for cat := range discovered {
		categories = append(categories, cat)
	}
	sort.Strings(categories)

	b.WriteString("\nDiscovered entities:\n")
	for _, cat := range categories {
		fmt.Fprintf(b, "- %s: %s\n", cat, strings.Join(discovered[cat], ", "))
	}
}

func orMarker(s, marker string) string {
	if strings.TrimSpace(s) == "" {
		return marker
	}
	return s
}
