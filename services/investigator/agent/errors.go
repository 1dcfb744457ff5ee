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

import "errors"

// Sentinel errors for the agent package.
var (
	// ErrInvalidTransition indicates an invalid state transition was attempted.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrSessionNotFound indicates the requested session does not exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionInProgress indicates an operation is already in progress.
	ErrSessionInProgress = errors.New("session operation in progress")

	// ErrInvalidSession indicates the session configuration is invalid.
	ErrInvalidSession = errors.New("invalid session configuration")

	// ErrEmptyGoal indicates the goal is empty.
	ErrEmptyGoal = errors.New("goal must not be empty")

	// ErrIterationBudget indicates the reasoning-iteration budget was exhausted.
	ErrIterationBudget = errors.New("iteration budget exhausted")

	// ErrPlanIterationBudget indicates the plan-iteration budget was exhausted.
	ErrPlanIterationBudget = errors.New("plan iteration budget exhausted")

	// ErrAttemptsExhausted indicates all backtracking attempts were consumed.
	ErrAttemptsExhausted = errors.New("all investigation attempts exhausted")

	// ErrAwaitingApproval indicates the run is parked pending human approval.
	ErrAwaitingApproval = errors.New("awaiting human approval")

	// ErrNotAwaitingApproval indicates Resume was called but the session is
	// not parked in APPROVAL.
	ErrNotAwaitingApproval = errors.New("session not awaiting approval")

	// ErrTimeout indicates an operation timed out.
	ErrTimeout = errors.New("operation timed out")

	// ErrCanceled indicates the operation was canceled via context.
	ErrCanceled = errors.New("operation canceled")

	// ErrOracleUnavailable indicates the reasoning oracle is unavailable.
	ErrOracleUnavailable = errors.New("reasoning oracle unavailable")

	// ErrMalformedDecision indicates the oracle returned output that could
	// not be parsed even with best-effort field extraction.
	ErrMalformedDecision = errors.New("malformed oracle decision")
)
