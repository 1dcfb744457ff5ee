// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package events defines the typed progress events emitted during an
// investigation run and a broker that fans them out to stream subscribers.
package events

import "time"

// Type identifies the kind of progress event.
type Type string

const (
	// TypeProgress is a phase-transition heartbeat.
	TypeProgress Type = "progress"

	// TypeCommandOutput carries the result of an executed command.
	TypeCommandOutput Type = "command_output"

	// TypeReflection carries the reflection directive for the last command.
	TypeReflection Type = "reflection"

	// TypeBlocked reports a command rejected before execution.
	TypeBlocked Type = "blocked"

	// TypePlanUpdate reports plan creation or a step status change.
	TypePlanUpdate Type = "plan_update"

	// TypeApprovalNeeded reports that the run parked awaiting approval.
	TypeApprovalNeeded Type = "approval_needed"

	// TypeDone carries the final answer.
	TypeDone Type = "done"

	// TypeError reports a run failure.
	TypeError Type = "error"
)

// Event is one progress event in a session's stream.
type Event struct {
	// Type is the event kind.
	Type Type `json:"type"`

	// SessionID identifies the emitting session.
	SessionID string `json:"session_id"`

	// Phase is the orchestrator state at emission time.
	Phase string `json:"phase,omitempty"`

	// Message is a human-readable summary.
	Message string `json:"message,omitempty"`

	// Payload carries structured event-specific data.
	Payload any `json:"payload,omitempty"`

	// Timestamp is the emission time.
	Timestamp time.Time `json:"timestamp"`
}

// Emitter receives progress events from a run.
//
// Implementations must not block; slow consumers are the broker's problem.
type Emitter interface {
	Emit(event Event)
}

// Discard is an Emitter that drops every event.
type Discard struct{}

// Emit implements Emitter.
func (Discard) Emit(Event) {}
