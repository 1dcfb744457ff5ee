// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package evidence maintains the verified-fact list and the discovered
// entity map for an investigation.
//
// Both structures are monotone: evidence is an order-preserving
// deduplicated append-only list, and discoveries are a merge-only union.
// A name disappearing from one command's output does not prove
// non-existence cluster-wide, so discoveries are never removed.
package evidence

import (
	"sort"
	"strings"
)

// MergeDiscovered unions newly discovered entity names into an existing
// discovery map.
//
// Description:
//
//	Per category, the result is the set union of existing and new names,
//	stable-sorted for determinism. The operation is idempotent:
//	MergeDiscovered(MergeDiscovered(a, b), b) equals MergeDiscovered(a, b).
//	Neither input map is mutated.
//
// Inputs:
//
//	existing - The current discovery map (may be nil)
//	more - Newly observed names by category (may be nil)
//
// Outputs:
//
//	map[string][]string - The merged map; always non-nil
func MergeDiscovered(existing, more map[string][]string) map[string][]string {
	out := make(map[string][]string, len(existing)+len(more))
	for cat, names := range existing {
		out[cat] = dedupSorted(names)
	}
	for cat, names := range more {
		out[cat] = dedupSorted(append(append([]string(nil), out[cat]...), names...))
	}
	return out
}

// AppendEvidence appends new facts to the evidence list, preserving order
// and dropping facts already present.
//
// Description:
//
//	Order-preserving and idempotent on repeated facts. Blank facts are
//	ignored. The existing slice is not mutated.
//
// Inputs:
//
//	existing - The current evidence list
//	facts - New facts to append
//
// Outputs:
//
//	[]string - The extended list
func AppendEvidence(existing []string, facts []string) []string {
	seen := make(map[string]bool, len(existing))
	out := append([]string(nil), existing...)
	for _, f := range existing {
		seen[f] = true
	}
	for _, f := range facts {
		f = strings.TrimSpace(f)
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

// dedupSorted returns a sorted set from a slice, dropping blanks.
func dedupSorted(names []string) []string {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n != "" {
			set[n] = true
		}
	}
	out := make([]string, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
