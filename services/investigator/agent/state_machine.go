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
	"fmt"
	"sync"
)

// StateMachine manages valid state transitions for the investigation loop.
//
// The state machine enforces the following transition graph:
//
//	IDLE → PLAN                    : Goal received
//	PLAN → WORKER                  : Plan step ready for command generation
//	PLAN → SYNTHESIZE              : Budgets spent, synthesize what we have
//	WORKER → VERIFY                : Candidate command generated
//	WORKER → WORKER                : Unusable generation, regenerate
//	WORKER → PLAN                  : Loop detected or generation stuck
//	WORKER → SYNTHESIZE            : Oracle asserts evidence already suffices
//	VERIFY → EXECUTE               : Command classified safe
//	VERIFY → APPROVAL              : Command needs human approval
//	VERIFY → WORKER                : Unusable candidate, regenerate
//	VERIFY → PLAN                  : Command rejected, replan with the note
//	APPROVAL → APPROVAL            : Still parked, no signal
//	APPROVAL → EXECUTE             : Approval granted
//	APPROVAL → WORKER              : Approval denied, regenerate
//	APPROVAL → PLAN                : Denial escalated to a replan
//	EXECUTE → REFLECT              : Output captured (including timeouts)
//	REFLECT → WORKER               : CONTINUE to next step or RETRY current
//	REFLECT → PLAN                 : ABORT, plan premise invalid
//	REFLECT → SYNTHESIZE           : SOLVED or plan finished
//	SYNTHESIZE → COMPLETE          : Evidence sufficient, answer emitted
//	SYNTHESIZE → PLAN              : Evidence insufficient, gather more
//	* → ERROR                      : Any non-terminal state may fail
//
// Thread Safety:
//
//	StateMachine is safe for concurrent use.
type StateMachine struct {
	mu sync.RWMutex

	// transitions maps (from, to) pairs that are valid.
	transitions map[State]map[State]bool
}

// NewStateMachine creates a new state machine with all valid transitions.
func NewStateMachine() *StateMachine {
	sm := &StateMachine{
		transitions: make(map[State]map[State]bool),
	}

	for _, state := range AllStates() {
		sm.transitions[state] = make(map[State]bool)
	}

	sm.addTransition(StateIdle, StatePlan)

	sm.addTransition(StatePlan, StateWorker)
	sm.addTransition(StatePlan, StateSynthesize)

	sm.addTransition(StateWorker, StateVerify)
	sm.addTransition(StateWorker, StateWorker)
	sm.addTransition(StateWorker, StatePlan)
	sm.addTransition(StateWorker, StateSynthesize)

	sm.addTransition(StateVerify, StateExecute)
	sm.addTransition(StateVerify, StateApproval)
	sm.addTransition(StateVerify, StateWorker)
	sm.addTransition(StateVerify, StatePlan)

	sm.addTransition(StateApproval, StateApproval)
	sm.addTransition(StateApproval, StateExecute)
	sm.addTransition(StateApproval, StateWorker)
	sm.addTransition(StateApproval, StatePlan)

	sm.addTransition(StateExecute, StateReflect)

	sm.addTransition(StateReflect, StateWorker)
	sm.addTransition(StateReflect, StatePlan)
	sm.addTransition(StateReflect, StateSynthesize)

	sm.addTransition(StateSynthesize, StateComplete)
	sm.addTransition(StateSynthesize, StatePlan)

	// Any non-terminal state may fail into ERROR.
	for _, state := range AllStates() {
		if !state.IsTerminal() {
			sm.addTransition(state, StateError)
		}
	}

	return sm
}

// addTransition registers a valid transition.
func (sm *StateMachine) addTransition(from, to State) {
	sm.transitions[from][to] = true
}

// CanTransition checks if a transition from one state to another is valid.
//
// Thread Safety: This method is safe for concurrent use.
func (sm *StateMachine) CanTransition(from, to State) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if toMap, ok := sm.transitions[from]; ok {
		return toMap[to]
	}
	return false
}

// Transition attempts to transition a session from one state to another.
//
// Description:
//
//	Validates the transition and updates the session state if valid.
//	Returns an error if the transition is not allowed.
//
// Inputs:
//
//	session - The session to transition
//	to - Target state
//
// Outputs:
//
//	error - ErrInvalidTransition if transition not allowed
//
// Thread Safety: This method is safe for concurrent use.
func (sm *StateMachine) Transition(session *Session, to State) error {
	from := session.GetState()

	if !sm.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	session.SetState(to)
	return nil
}

// ValidTransitionsFrom returns all valid transitions from a given state.
//
// Thread Safety: This method is safe for concurrent use.
func (sm *StateMachine) ValidTransitionsFrom(from State) []State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	var result []State
	if toMap, ok := sm.transitions[from]; ok {
		for state, valid := range toMap {
			if valid {
				result = append(result, state)
			}
		}
	}
	return result
}

// DefaultStateMachine is the shared state machine instance.
var DefaultStateMachine = NewStateMachine()
