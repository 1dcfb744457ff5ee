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

// defaultRetryReason is used when a directive payload fails validation.
const defaultRetryReason = "oracle directive malformed, retrying with a fresh reflection"

// NormalizeDirective validates a directive against the four-way contract
// and decays malformed payloads to a safe default RETRY.
//
// Description:
//
//	The oracle is untrusted: its structured output may be missing required
//	fields or carry an unknown kind. Rather than propagating a malformed
//	payload into step transitions, this boundary check repairs what it can
//	(a SOLVED missing an answer falls back to its reason) and replaces what
//	it cannot with a RETRY carrying a generic hint. The run always receives
//	a directive it can act on.
//
// Inputs:
//
//	d - The directive as parsed from oracle output (may be nil)
//
// Outputs:
//
//	Directive - A directive that satisfies the contract
//	bool - False if the input had to be replaced or repaired
func NormalizeDirective(d *Directive) (Directive, bool) {
	if d == nil {
		return retryFallback(""), false
	}

	out := *d
	out.Kind = DirectiveKind(strings.ToUpper(strings.TrimSpace(string(d.Kind))))

	switch out.Kind {
	case DirectiveContinue:
		return out, true

	case DirectiveRetry:
		if strings.TrimSpace(out.NextHint) == "" {
			// RETRY must carry a hint; synthesize one from the reason.
			if strings.TrimSpace(out.Reason) != "" {
				out.NextHint = out.Reason
				return out, true
			}
			return retryFallback(out.Reason), false
		}
		return out, true

	case DirectiveSolved:
		if strings.TrimSpace(out.FinalAnswer) == "" {
			// SOLVED must carry (or imply) an answer.
			if strings.TrimSpace(out.Reason) != "" {
				out.FinalAnswer = out.Reason
				return out, true
			}
			return retryFallback(out.Reason), false
		}
		return out, true

	case DirectiveAbort:
		if strings.TrimSpace(out.Reason) == "" {
			return retryFallback(""), false
		}
		return out, true

	default:
		return retryFallback(out.Reason), false
	}
}

func retryFallback(reason string) Directive {
	if reason == "" {
		reason = defaultRetryReason
	}
	return Directive{
		Kind:     DirectiveRetry,
		Reason:   reason,
		NextHint: "previous reflection was unusable; re-examine the last command output",
	}
}
