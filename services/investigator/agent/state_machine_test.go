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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateMachine_ValidTransitions(t *testing.T) {
	sm := NewStateMachine()

	valid := []struct{ from, to State }{
		{StateIdle, StatePlan},
		{StatePlan, StateWorker},
		{StatePlan, StateSynthesize},
		{StateWorker, StateVerify},
		{StateWorker, StateWorker},
		{StateWorker, StatePlan},
		{StateWorker, StateSynthesize},
		{StateVerify, StateExecute},
		{StateVerify, StateApproval},
		{StateVerify, StateWorker},
		{StateVerify, StatePlan},
		{StateApproval, StateApproval},
		{StateApproval, StateExecute},
		{StateApproval, StateWorker},
		{StateExecute, StateReflect},
		{StateReflect, StateWorker},
		{StateReflect, StatePlan},
		{StateReflect, StateSynthesize},
		{StateSynthesize, StateComplete},
		{StateSynthesize, StatePlan},
		{StatePlan, StateError},
		{StateExecute, StateError},
	}
	for _, tt := range valid {
		assert.True(t, sm.CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestStateMachine_InvalidTransitions(t *testing.T) {
	sm := NewStateMachine()

	invalid := []struct{ from, to State }{
		{StateIdle, StateExecute},
		{StateIdle, StateComplete},
		{StatePlan, StateExecute},
		{StateExecute, StateWorker},
		{StateComplete, StatePlan},
		{StateComplete, StateError},
		{StateError, StatePlan},
		{StateReflect, StateExecute},
	}
	for _, tt := range invalid {
		assert.False(t, sm.CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestStateMachine_TerminalStatesHaveNoExits(t *testing.T) {
	sm := NewStateMachine()

	assert.Empty(t, sm.ValidTransitionsFrom(StateComplete))
	assert.Empty(t, sm.ValidTransitionsFrom(StateError))
}

func TestStateMachine_Transition(t *testing.T) {
	sm := NewStateMachine()
	session, err := NewSession(nil)
	require.NoError(t, err)

	require.NoError(t, sm.Transition(session, StatePlan))
	assert.Equal(t, StatePlan, session.GetState())

	err = sm.Transition(session, StateComplete)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StatePlan, session.GetState(), "state unchanged on invalid transition")
}

func TestState_Predicates(t *testing.T) {
	assert.True(t, StateComplete.IsTerminal())
	assert.True(t, StateError.IsTerminal())
	assert.False(t, StateApproval.IsTerminal())

	assert.True(t, StatePlan.IsActive())
	assert.False(t, StateIdle.IsActive())
	assert.False(t, StateApproval.IsActive())
	assert.False(t, StateComplete.IsActive())
}
