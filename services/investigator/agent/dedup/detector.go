// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dedup detects repeated commands and oracle oscillation.
//
// The detector normalizes command text so that superficial variations
// (whitespace, casing, volatile numeric flags) do not defeat duplicate
// detection, and keeps a per-command block ledger so that an oracle that
// keeps regenerating the same rejected command is escalated to a hard stop
// instead of looping forever.
//
// Thread Safety:
//
//	Detector is safe for concurrent use.
package dedup

import (
	"regexp"
	"strings"
	"sync"
)

var (
	whitespaceRe   = regexp.MustCompile(`\s+`)
	volatileFlagRe = regexp.MustCompile(`--(tail|since|limit|chunk-size)[=\s]+\S+`)
	contextFlagRe  = regexp.MustCompile(`--(context|kubeconfig)[=\s]+\S+`)
)

// Normalize reduces a command to its canonical comparison form.
//
// Description:
//
//	Collapses whitespace, folds case, replaces volatile numeric flags
//	(tail, since, limit) with a wildcard so that "logs --tail=50" and
//	"logs --tail=100" compare equal, and strips environment-selection
//	flags that are already implied by session state.
//
// Inputs:
//
//	command - The raw command string
//
// Outputs:
//
//	string - The canonical form
func Normalize(command string) string {
	out := strings.ToLower(strings.TrimSpace(command))
	out = volatileFlagRe.ReplaceAllString(out, "--$1=*")
	out = contextFlagRe.ReplaceAllString(out, "")
	out = whitespaceRe.ReplaceAllString(out, " ")
	return strings.TrimSpace(out)
}

// Detector tracks executed commands and the blocked-command ledger.
type Detector struct {
	mu sync.Mutex

	// window is the number of recent commands compared for duplicates.
	window int

	// escalation is the block count at which an exact command string
	// becomes a hard stop.
	escalation int

	// recent holds canonical forms of executed commands, newest last.
	recent []string

	// blocks counts how often each exact (non-normalized) command string
	// was rejected.
	blocks map[string]int
}

// NewDetector creates a detector.
//
// Inputs:
//
//	window - Recent-command comparison window (default 5 when <= 0)
//	escalation - Block count escalating to a hard stop (default 3 when <= 0)
func NewDetector(window, escalation int) *Detector {
	if window <= 0 {
		window = 5
	}
	if escalation <= 0 {
		escalation = 3
	}
	return &Detector{
		window:     window,
		escalation: escalation,
		blocks:     make(map[string]int),
	}
}

// IsDuplicate reports whether the command repeats a recent execution.
//
// The comparison is over canonical forms of the last window executed
// commands. The command is not recorded; call Record after execution.
//
// Thread Safety: This method is safe for concurrent use.
func (d *Detector) IsDuplicate(command string) bool {
	canon := Normalize(command)

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, prev := range d.recent {
		if prev == canon {
			return true
		}
	}
	return false
}

// Record notes that a command was executed.
//
// Thread Safety: This method is safe for concurrent use.
func (d *Detector) Record(command string) {
	canon := Normalize(command)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.recent = append(d.recent, canon)
	if len(d.recent) > d.window {
		d.recent = d.recent[len(d.recent)-d.window:]
	}
}

// RecordBlock increments the block counter for the exact command string.
//
// Description:
//
//	Repeated identical blocking indicates the oracle is not adapting to
//	feedback. Once a single exact string has been blocked escalation
//	times, Stuck reports true and callers should hard-stop that command
//	rather than soft-block it again.
//
// Outputs:
//
//	int - The new block count for this exact string
//
// Thread Safety: This method is safe for concurrent use.
func (d *Detector) RecordBlock(command string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.blocks[command]++
	return d.blocks[command]
}

// Stuck reports whether the exact command string reached the escalation
// threshold.
//
// Thread Safety: This method is safe for concurrent use.
func (d *Detector) Stuck(command string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.blocks[command] >= d.escalation
}

// Seed preloads the recent window from persisted history, oldest first.
//
// Thread Safety: This method is safe for concurrent use.
func (d *Detector) Seed(commands []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, cmd := range commands {
		d.recent = append(d.recent, Normalize(cmd))
	}
	if len(d.recent) > d.window {
		d.recent = d.recent[len(d.recent)-d.window:]
	}
}
