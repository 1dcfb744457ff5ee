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
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ankitjain91/opspilot-sub000/services/investigator/agent/dedup"
	"github.com/ankitjain91/opspilot-sub000/services/investigator/agent/events"
	"github.com/ankitjain91/opspilot-sub000/services/investigator/agent/evidence"
	"github.com/ankitjain91/opspilot-sub000/services/investigator/agent/safety"
)

// Loop defines the interface for running investigation sessions.
type Loop interface {
	// Run starts an investigation for a goal on a session.
	//
	// Description:
	//
	//	Drives the state machine from IDLE until a terminal state or until
	//	the run parks in APPROVAL. Returns a structured result in every
	//	case; hard failures additionally return an error.
	//
	// Inputs:
	//
	//	ctx - Context for cancellation and timeout
	//	session - The session to run
	//	goal - The investigation goal
	//
	// Outputs:
	//
	//	*RunResult - The run outcome (COMPLETE, APPROVAL, or ERROR)
	//	error - Non-nil on unrecoverable failure
	//
	// Thread Safety: Safe for concurrent use with different sessions.
	Run(ctx context.Context, session *Session, goal string) (*RunResult, error)

	// Resume delivers an approval decision to a parked session and
	// continues the run.
	Resume(ctx context.Context, sessionID string, decision ApprovalDecision) (*RunResult, error)

	// GetSession returns a registered session by ID.
	GetSession(sessionID string) (*Session, error)

	// CloseSession removes a session from the registry and the store.
	CloseSession(ctx context.Context, sessionID string) error
}

// DefaultLoop is the production Loop implementation.
//
// Thread Safety:
//
//	DefaultLoop is safe for concurrent use. Per-session serialization is
//	enforced through Session.TryAcquire.
type DefaultLoop struct {
	oracle    Oracle
	executor  Executor
	knowledge KnowledgeBase
	entities  EntitySource
	emitter   events.Emitter
	store     SessionStore
	machine   *StateMachine
	tables    safety.Tables

	mu       sync.RWMutex
	sessions map[string]*Session
	runtimes map[string]*runtime
}

// runtime holds per-session collaborators that are not part of the
// persisted investigation record.
type runtime struct {
	classifier *safety.Classifier
	detector   *dedup.Detector
}

// LoopOption configures a DefaultLoop.
type LoopOption func(*DefaultLoop)

// WithKnowledge attaches a runbook retrieval backend.
func WithKnowledge(kb KnowledgeBase) LoopOption {
	return func(l *DefaultLoop) { l.knowledge = kb }
}

// WithEmitter attaches a progress event emitter.
func WithEmitter(e events.Emitter) LoopOption {
	return func(l *DefaultLoop) { l.emitter = e }
}

// WithEntitySource attaches a cluster entity cache that seeds the
// discovered-entity map of every new run.
func WithEntitySource(src EntitySource) LoopOption {
	return func(l *DefaultLoop) { l.entities = src }
}

// WithSessionStore attaches a persistence backend for snapshots.
func WithSessionStore(store SessionStore) LoopOption {
	return func(l *DefaultLoop) { l.store = store }
}

// WithSafetyTables overrides the default command classification tables.
func WithSafetyTables(tables safety.Tables) LoopOption {
	return func(l *DefaultLoop) { l.tables = tables }
}

// NewDefaultLoop creates a loop with the given oracle and executor.
func NewDefaultLoop(oracle Oracle, executor Executor, opts ...LoopOption) *DefaultLoop {
	l := &DefaultLoop{
		oracle:   oracle,
		executor: executor,
		emitter:  events.Discard{},
		machine:  DefaultStateMachine,
		tables:   safety.DefaultTables(),
		sessions: make(map[string]*Session),
		runtimes: make(map[string]*runtime),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run implements Loop.
func (l *DefaultLoop) Run(ctx context.Context, session *Session, goal string) (*RunResult, error) {
	if session == nil {
		return nil, ErrInvalidSession
	}
	if len(goal) == 0 {
		return nil, ErrEmptyGoal
	}

	if !session.TryAcquire() {
		return nil, ErrSessionInProgress
	}
	defer session.Release()

	l.register(session)

	slog.Info("Investigation starting",
		slog.String("session_id", session.ID),
		slog.Int("goal_len", len(goal)),
	)

	l.prepareRun(ctx, session, goal)

	ctx, cancel := context.WithTimeout(ctx, session.Config.TotalTimeout)
	defer cancel()

	if err := l.transition(session, StatePlan, "goal received"); err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := l.runLoop(ctx, session)
	if result != nil {
		result.Duration = time.Since(start)
	}
	l.persist(session)
	return result, err
}

// Resume implements Loop.
func (l *DefaultLoop) Resume(ctx context.Context, sessionID string, decision ApprovalDecision) (*RunResult, error) {
	session, err := l.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	if session.GetState() != StateApproval {
		return nil, ErrNotAwaitingApproval
	}
	if err := session.DeliverApproval(decision); err != nil {
		return nil, err
	}

	if !session.TryAcquire() {
		return nil, ErrSessionInProgress
	}
	defer session.Release()

	slog.Info("Investigation resuming",
		slog.String("session_id", session.ID),
		slog.Bool("granted", decision.Granted),
	)

	ctx, cancel := context.WithTimeout(ctx, session.Config.TotalTimeout)
	defer cancel()

	start := time.Now()
	result, err := l.runLoop(ctx, session)
	if result != nil {
		result.Duration = time.Since(start)
	}
	l.persist(session)
	return result, err
}

// GetSession implements Loop.
func (l *DefaultLoop) GetSession(sessionID string) (*Session, error) {
	l.mu.RLock()
	session, ok := l.sessions[sessionID]
	l.mu.RUnlock()
	if ok {
		return session, nil
	}

	// Fall back to the persisted snapshot, so parked sessions survive a
	// process restart.
	if l.store != nil {
		snap, err := l.store.Load(context.Background(), sessionID)
		if err == nil {
			restored, rerr := FromSnapshot(snap, nil)
			if rerr != nil {
				return nil, rerr
			}
			l.register(restored)
			return restored, nil
		}
	}
	return nil, ErrSessionNotFound
}

// CloseSession implements Loop.
func (l *DefaultLoop) CloseSession(ctx context.Context, sessionID string) error {
	l.mu.Lock()
	_, ok := l.sessions[sessionID]
	delete(l.sessions, sessionID)
	delete(l.runtimes, sessionID)
	l.mu.Unlock()

	if l.store != nil {
		if err := l.store.Delete(ctx, sessionID); err != nil {
			return err
		}
	}
	if !ok && l.store == nil {
		return ErrSessionNotFound
	}
	slog.Info("Session closed", slog.String("session_id", sessionID))
	return nil
}

// Sessions returns all registered session IDs.
//
// Thread Safety: This method is safe for concurrent use.
func (l *DefaultLoop) Sessions() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ids := make([]string, 0, len(l.sessions))
	for id := range l.sessions {
		ids = append(ids, id)
	}
	return ids
}

// register adds a session and builds its runtime collaborators.
func (l *DefaultLoop) register(session *Session) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sessions[session.ID] = session
	if _, ok := l.runtimes[session.ID]; !ok {
		cfg := session.Config
		rt := &runtime{
			classifier: safety.NewClassifier(l.tables, cfg.ClusterContext),
			detector:   dedup.NewDetector(cfg.DuplicateWindow, cfg.BlockEscalation),
		}
		// Seed the duplicate window from persisted history on restore.
		if inv := session.Investigation(); inv != nil {
			cmds := make([]string, 0, len(inv.CommandHistory))
			for _, rec := range inv.CommandHistory {
				if rec.Error == "" {
					cmds = append(cmds, rec.Command)
				}
			}
			rt.detector.Seed(cmds)
		}
		l.runtimes[session.ID] = rt
	}
}

// runtimeFor returns the per-session runtime collaborators.
func (l *DefaultLoop) runtimeFor(session *Session) *runtime {
	l.mu.RLock()
	rt := l.runtimes[session.ID]
	l.mu.RUnlock()
	if rt == nil {
		l.register(session)
		l.mu.RLock()
		rt = l.runtimes[session.ID]
		l.mu.RUnlock()
	}
	return rt
}

// prepareRun resets the investigation record for a new goal.
//
// A new goal clears evidence, history, and the plan, but discoveries carry
// over: entity names observed in the cluster stay valid across goals.
// Rerunning the unchanged goal additionally keeps the accumulated evidence;
// facts verified for a question stay verified when it is asked again. An
// attached entity source seeds names the cluster cache knows.
func (l *DefaultLoop) prepareRun(ctx context.Context, session *Session, goal string) {
	prev := session.Investigation()

	session.mu.RLock()
	sameGoal := goal == session.LastGoal
	session.mu.RUnlock()

	inv := NewInvestigationState(goal)
	if prev != nil {
		inv.DiscoveredEntities = MergeCarryover(prev.DiscoveredEntities)
		if sameGoal {
			inv.AccumulatedEvidence = append([]string(nil), prev.AccumulatedEvidence...)
		}
	}
	if l.entities != nil {
		inv.DiscoveredEntities = evidence.MergeDiscovered(
			inv.DiscoveredEntities, l.entities.Entities(ctx))
	}
	session.ReplaceInvestigation(inv)
	session.SetPendingApproval(nil)

	session.mu.Lock()
	session.LastGoal = goal
	if session.State.IsTerminal() || session.State == StateApproval {
		session.State = StateIdle
	}
	session.mu.Unlock()
}

// runLoop drives phases until a terminal state or an approval park.
func (l *DefaultLoop) runLoop(ctx context.Context, session *Session) (*RunResult, error) {
	for {
		if err := ctx.Err(); err != nil {
			return l.fail(session, "CONTEXT", contextError(err), false)
		}

		state := session.GetState()
		switch state {
		case StatePlan:
			if err := l.phasePlan(ctx, session); err != nil {
				return l.fail(session, "PLAN", err, recoverable(err))
			}

		case StateWorker:
			if err := l.phaseWorker(ctx, session); err != nil {
				return l.fail(session, "WORKER", err, recoverable(err))
			}

		case StateVerify:
			if err := l.phaseVerify(ctx, session); err != nil {
				return l.fail(session, "VERIFY", err, recoverable(err))
			}

		case StateApproval:
			parked, err := l.phaseApproval(ctx, session)
			if err != nil {
				return l.fail(session, "APPROVAL", err, recoverable(err))
			}
			if parked {
				return l.parkResult(session), nil
			}

		case StateExecute:
			if err := l.phaseExecute(ctx, session); err != nil {
				return l.fail(session, "EXECUTE", err, recoverable(err))
			}

		case StateReflect:
			if err := l.phaseReflect(ctx, session); err != nil {
				return l.fail(session, "REFLECT", err, recoverable(err))
			}

		case StateSynthesize:
			if err := l.phaseSynthesize(ctx, session); err != nil {
				return l.fail(session, "SYNTHESIZE", err, recoverable(err))
			}

		case StateComplete:
			return l.completeResult(session), nil

		case StateError:
			inv := session.Investigation()
			return l.errorResult(session, &InvestigationError{
				Code:            "UNKNOWN",
				Message:         "session entered error state",
				PartialEvidence: inv.AccumulatedEvidence,
			}), nil

		default:
			return l.fail(session, "LOOP",
				fmt.Errorf("%w: unexpected state %s", ErrInvalidTransition, state), false)
		}
	}
}

// transition moves the session state with logging.
func (l *DefaultLoop) transition(session *Session, to State, reason string) error {
	from := session.GetState()
	if err := l.machine.Transition(session, to); err != nil {
		slog.Error("State transition failed",
			slog.String("session_id", session.ID),
			slog.String("from", from.String()),
			slog.String("to", to.String()),
			slog.String("error", err.Error()),
		)
		return err
	}
	slog.Debug("State transition",
		slog.String("session_id", session.ID),
		slog.String("from", from.String()),
		slog.String("to", to.String()),
		slog.String("reason", reason),
	)
	l.emitter.Emit(events.Event{
		Type:      events.TypeProgress,
		SessionID: session.ID,
		Phase:     to.String(),
		Message:   reason,
	})
	return nil
}

// fail moves the session to ERROR and builds the structured result.
func (l *DefaultLoop) fail(session *Session, code string, err error, recoverable bool) (*RunResult, error) {
	slog.Error("Investigation failed",
		slog.String("session_id", session.ID),
		slog.String("code", code),
		slog.String("error", err.Error()),
	)
	session.SetState(StateError)

	inv := session.Investigation()
	invErr := &InvestigationError{
		Code:        code,
		Message:     err.Error(),
		Recoverable: recoverable,
	}
	if inv != nil {
		invErr.PartialEvidence = append([]string(nil), inv.AccumulatedEvidence...)
	}
	l.emitter.Emit(events.Event{
		Type:      events.TypeError,
		SessionID: session.ID,
		Phase:     StateError.String(),
		Message:   err.Error(),
		Payload:   invErr,
	})
	return l.errorResult(session, invErr), err
}

// completeResult builds the result for a COMPLETE session.
func (l *DefaultLoop) completeResult(session *Session) *RunResult {
	inv := session.Investigation()
	res := &RunResult{
		State:           StateComplete,
		Answer:          inv.FinalAnswer,
		Evidence:        append([]string(nil), inv.AccumulatedEvidence...),
		CommandsRun:     countRuns(inv),
		CommandsBlocked: len(inv.BlockedCommands),
		PlanSummary:     inv.PlanSummary(),
		Attempts:        inv.Attempt,
	}
	res.Incomplete = inv.Incomplete
	l.emitter.Emit(events.Event{
		Type:      events.TypeDone,
		SessionID: session.ID,
		Phase:     StateComplete.String(),
		Message:   res.Answer,
		Payload:   res,
	})
	return res
}

// parkResult builds the result for a run parked in APPROVAL.
func (l *DefaultLoop) parkResult(session *Session) *RunResult {
	inv := session.Investigation()
	return &RunResult{
		State:           StateApproval,
		PendingApproval: session.PendingApproval,
		Evidence:        append([]string(nil), inv.AccumulatedEvidence...),
		CommandsRun:     countRuns(inv),
		CommandsBlocked: len(inv.BlockedCommands),
		PlanSummary:     inv.PlanSummary(),
		Attempts:        inv.Attempt,
	}
}

// errorResult builds the result for a failed run.
func (l *DefaultLoop) errorResult(session *Session, invErr *InvestigationError) *RunResult {
	res := &RunResult{
		State: StateError,
		Error: invErr,
	}
	if inv := session.Investigation(); inv != nil {
		res.Evidence = append([]string(nil), inv.AccumulatedEvidence...)
		res.CommandsRun = countRuns(inv)
		res.CommandsBlocked = len(inv.BlockedCommands)
		res.PlanSummary = inv.PlanSummary()
		res.Attempts = inv.Attempt
	}
	return res
}

// persist saves a snapshot when a store is attached.
func (l *DefaultLoop) persist(session *Session) {
	if l.store == nil {
		return
	}
	if err := l.store.Save(context.Background(), session.ToSnapshot()); err != nil {
		slog.Warn("Snapshot save failed",
			slog.String("session_id", session.ID),
			slog.String("error", err.Error()),
		)
	}
}

// MergeCarryover deep-copies a discovery map for reuse under a new goal.
func MergeCarryover(discovered map[string][]string) map[string][]string {
	out := make(map[string][]string, len(discovered))
	for cat, names := range discovered {
		out[cat] = append([]string(nil), names...)
	}
	return out
}

// countRuns counts executed commands. Rejection records stay in history
// so the oracle sees them, but they never ran.
func countRuns(inv *InvestigationState) int {
	var n int
	for _, rec := range inv.CommandHistory {
		if !rec.Rejected {
			n++
		}
	}
	return n
}

// contextError maps a context error to a package sentinel.
func contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: total run budget spent", ErrTimeout)
	}
	return fmt.Errorf("%w: %v", ErrCanceled, err)
}

// recoverable reports whether a retry might resolve the error.
func recoverable(err error) bool {
	return errors.Is(err, ErrOracleUnavailable) || errors.Is(err, ErrTimeout)
}
