// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package safety classifies inspection commands before execution.
//
// The classifier is a pure function over command text and immutable verb
// tables. It never executes anything; callers are responsible for recording
// rejections into the blocked-command ledger and command history.
//
// Thread Safety:
//
//	Classifier is immutable after construction and safe for concurrent use.
package safety

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Verdict is the classification of a command.
type Verdict string

const (
	// VerdictSafe allows immediate execution.
	VerdictSafe Verdict = "SAFE"

	// VerdictMutating hard-blocks the command; never executed, even with
	// approval.
	VerdictMutating Verdict = "MUTATING"

	// VerdictRemediation is a mutating action on the remediation
	// allow-list; routes to human approval.
	VerdictRemediation Verdict = "REMEDIATION"

	// VerdictNeedsApproval is a read known to return bulk output; routes
	// to human approval.
	VerdictNeedsApproval Verdict = "NEEDS_APPROVAL"

	// VerdictProviderMutating is a mutation on a secondary cloud CLI;
	// hard-blocked.
	VerdictProviderMutating Verdict = "PROVIDER_MUTATING"

	// VerdictProviderUnknown is a secondary-CLI command matching neither
	// the safe nor the mutating list; blocked fail-closed.
	VerdictProviderUnknown Verdict = "PROVIDER_UNKNOWN"
)

// Blocks returns true if the verdict prevents execution outright.
func (v Verdict) Blocks() bool {
	return v == VerdictMutating || v == VerdictProviderMutating || v == VerdictProviderUnknown
}

// RequiresApproval returns true if the verdict routes to human approval.
func (v Verdict) RequiresApproval() bool {
	return v == VerdictNeedsApproval || v == VerdictRemediation
}

// Result is the outcome of classifying a command.
type Result struct {
	// Verdict is the classification.
	Verdict Verdict `json:"verdict"`

	// Reason is a human-readable explanation, always set for non-SAFE.
	Reason string `json:"reason,omitempty"`

	// MatchedVerb is the verb that triggered the verdict, if any.
	MatchedVerb string `json:"matched_verb,omitempty"`
}

// Tables holds the configurable verb tables.
//
// Thread Safety: Tables must not be mutated after the classifier is built.
type Tables struct {
	// MutatingVerbs are whole-word verbs that hard-block a command.
	MutatingVerbs []string

	// RemediationAllow are mutating phrases allowed through to approval
	// (e.g. "rollout restart"). Matched as prefixes of the verb phrase.
	RemediationAllow []string

	// BulkReadVerbs are kubectl verb/arg patterns known to return bulk
	// output; these require approval rather than a block.
	BulkReadVerbs []string

	// ProviderCLIs are binaries representing a separate cloud control
	// plane, handled default-deny.
	ProviderCLIs []string

	// ProviderSafePrefixes are literal read-style prefixes allowed on a
	// provider CLI (checked after the binary name).
	ProviderSafePrefixes []string

	// ProviderMutatingVerbs are mutation verbs on a provider CLI.
	ProviderMutatingVerbs []string
}

// DefaultTables returns the production verb tables.
func DefaultTables() Tables {
	return Tables{
		MutatingVerbs: []string{
			"delete", "apply", "patch", "edit", "scale", "create",
			"replace", "rollout", "cordon", "drain", "taint",
			"annotate", "label", "set", "cp", "uncordon", "exec",
		},
		RemediationAllow: []string{
			"rollout restart",
			"delete pod",
		},
		BulkReadVerbs: []string{
			"get all",
			"get events --all-namespaces",
			"get events -a",
			"get pods --all-namespaces",
			"get pods -a",
			"describe nodes",
		},
		ProviderCLIs: []string{"aws", "az", "gcloud", "eksctl", "doctl"},
		ProviderSafePrefixes: []string{
			"describe", "get", "list", "show", "ls",
		},
		ProviderMutatingVerbs: []string{
			"create", "delete", "update", "put", "terminate", "modify",
			"start", "stop", "reboot", "set", "attach", "detach", "scale",
		},
	}
}

// Classifier classifies commands against immutable verb tables.
type Classifier struct {
	tables         Tables
	clusterContext string

	mutating     map[string]bool
	providerCLI  map[string]bool
	providerVerb map[string]bool
}

// NewClassifier builds a classifier.
//
// Inputs:
//
//	tables - Verb tables (DefaultTables() for production)
//	clusterContext - The orchestrator's own cluster-context identifier,
//	                 rejected when used as a namespace argument
func NewClassifier(tables Tables, clusterContext string) *Classifier {
	c := &Classifier{
		tables:         tables,
		clusterContext: clusterContext,
		mutating:       make(map[string]bool, len(tables.MutatingVerbs)),
		providerCLI:    make(map[string]bool, len(tables.ProviderCLIs)),
		providerVerb:   make(map[string]bool, len(tables.ProviderMutatingVerbs)),
	}
	for _, v := range tables.MutatingVerbs {
		c.mutating[v] = true
	}
	for _, v := range tables.ProviderCLIs {
		c.providerCLI[v] = true
	}
	for _, v := range tables.ProviderMutatingVerbs {
		c.providerVerb[v] = true
	}
	return c
}

var (
	shellSubstitutionRe = regexp.MustCompile(`\$\(|\$\{|` + "`")
	shellAssignmentRe   = regexp.MustCompile(`^\s*\w+=\S`)
	placeholderRe       = regexp.MustCompile(`<[^>]+>|\[[^\]]+\]|\$\{[^}]*\}|\$[A-Z][A-Z0-9_]*\b`)
	namespaceFlagRe     = regexp.MustCompile(`(?:^|\s)(?:-n|--namespace)[=\s]+(\S+)`)
)

// Classify classifies a command string.
//
// Description:
//
//	Runs the hard guards first (shell syntax, placeholders, context-as-
//	namespace), then verb classification. Guards and verb tables are
//	independent: a command can be rejected by a guard even when its verb
//	is safe. All outcomes are structured results, never panics.
//
// Inputs:
//
//	command - The literal command string proposed by the oracle
//	discovered - Currently discovered entity names, by category, used to
//	             suggest substitutes on placeholder rejection
//
// Outputs:
//
//	Result - The classification outcome
//
// Thread Safety: This method is safe for concurrent use.
func (c *Classifier) Classify(command string, discovered map[string][]string) Result {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return Result{
			Verdict: VerdictProviderUnknown,
			Reason:  "empty command",
		}
	}

	if r, rejected := c.checkGuards(trimmed, discovered); rejected {
		return r
	}

	fields := strings.Fields(strings.ToLower(trimmed))
	binary := fields[0]

	if c.providerCLI[binary] {
		return c.classifyProvider(binary, fields[1:])
	}

	rest := strings.Join(fields[1:], " ")

	// Remediation allow-list wins over the generic mutating table, but
	// still requires approval. Entries match whole tokens only, and bulk
	// forms fall through to the hard block: "delete pod api-0" is a
	// remediation, "delete pods --all" is not.
	if !hasBulkFlag(fields) {
		for _, phrase := range c.tables.RemediationAllow {
			if containsPhrase(fields, strings.Fields(phrase)) {
				return Result{
					Verdict:     VerdictRemediation,
					Reason:      fmt.Sprintf("remediation action %q requires human approval", phrase),
					MatchedVerb: phrase,
				}
			}
		}
	}

	// Every field is scanned, including the first: a bare "delete pods"
	// without a kubectl prefix is just as mutating.
	for _, word := range fields {
		if c.mutating[word] {
			return Result{
				Verdict:     VerdictMutating,
				Reason:      fmt.Sprintf("mutating verb %q is not permitted for investigations", word),
				MatchedVerb: word,
			}
		}
	}

	for _, bulk := range c.tables.BulkReadVerbs {
		if strings.Contains(rest, bulk) {
			return Result{
				Verdict:     VerdictNeedsApproval,
				Reason:      fmt.Sprintf("broad listing %q may return very large output; approval required", bulk),
				MatchedVerb: bulk,
			}
		}
	}

	return Result{Verdict: VerdictSafe}
}

// classifyProvider applies the default-deny policy for secondary CLIs.
//
// Provider verbs match bare ("delete") or hyphenated ("terminate-instances")
// forms, since AWS-style CLIs compose verb-noun subcommands.
func (c *Classifier) classifyProvider(binary string, args []string) Result {
	for _, word := range args {
		verb, _, _ := strings.Cut(word, "-")
		if c.providerVerb[word] || c.providerVerb[verb] {
			return Result{
				Verdict:     VerdictProviderMutating,
				Reason:      fmt.Sprintf("%s %q mutates a separate control plane", binary, word),
				MatchedVerb: word,
			}
		}
	}
	for _, word := range args {
		for _, prefix := range c.tables.ProviderSafePrefixes {
			if word == prefix || strings.HasPrefix(word, prefix+"-") {
				return Result{Verdict: VerdictSafe}
			}
		}
	}
	// Neither list matched: fail closed.
	return Result{
		Verdict: VerdictProviderUnknown,
		Reason:  fmt.Sprintf("%s command matches no known safe read; blocked fail-closed", binary),
	}
}

// bulkFlags are kubectl flags that turn a single-resource action into a
// bulk one. Fields arrive lowercased, so "-A" appears as "-a".
var bulkFlags = map[string]bool{
	"--all":            true,
	"--all-namespaces": true,
	"-a":               true,
}

// hasBulkFlag reports whether any field is a bulk-selection flag.
func hasBulkFlag(fields []string) bool {
	for _, f := range fields {
		if bulkFlags[f] {
			return true
		}
	}
	return false
}

// containsPhrase reports whether phrase occurs in fields as consecutive
// whole tokens.
func containsPhrase(fields, phrase []string) bool {
	if len(phrase) == 0 {
		return false
	}
	for i := 0; i+len(phrase) <= len(fields); i++ {
		match := true
		for j, p := range phrase {
			if fields[i+j] != p {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// checkGuards runs the verb-independent hard guards.
func (c *Classifier) checkGuards(command string, discovered map[string][]string) (Result, bool) {
	if shellSubstitutionRe.MatchString(command) || shellAssignmentRe.MatchString(command) {
		return Result{
			Verdict: VerdictProviderUnknown,
			Reason: "shell substitution or variable assignment detected; " +
				"commands must be literal and fully resolved",
		}, true
	}

	if loc := placeholderRe.FindString(command); loc != "" {
		return Result{
			Verdict: VerdictProviderUnknown,
			Reason: fmt.Sprintf("placeholder token %q detected; substitute a real name%s",
				loc, suggestionSuffix(discovered)),
		}, true
	}

	if c.clusterContext != "" {
		for _, m := range namespaceFlagRe.FindAllStringSubmatch(command, -1) {
			if m[1] == c.clusterContext {
				return Result{
					Verdict: VerdictProviderUnknown,
					Reason: fmt.Sprintf("%q is the cluster context, not a namespace; "+
						"a context must never be passed as a namespace argument", m[1]),
				}, true
			}
		}
	}

	return Result{}, false
}

// suggestionSuffix renders discovered entity names as substitutes.
func suggestionSuffix(discovered map[string][]string) string {
	if len(discovered) == 0 {
		return ""
	}
	categories := make([]string, 0, len(discovered))
	for cat := range discovered {
		categories = append(categories, cat)
	}
	sort.Strings(categories)

	var parts []string
	for _, cat := range categories {
		names := discovered[cat]
		if len(names) == 0 {
			continue
		}
		limit := len(names)
		if limit > 5 {
			limit = 5
		}
		parts = append(parts, fmt.Sprintf("%s: %s", cat, strings.Join(names[:limit], ", ")))
	}
	if len(parts) == 0 {
		return ""
	}
	return "; known entities: " + strings.Join(parts, "; ")
}
