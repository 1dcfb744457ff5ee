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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedOracle replays queued responses. When a queue runs dry the last
// element repeats, so loops that call more often than scripted stay stable.
type scriptedOracle struct {
	mu sync.Mutex

	plans    []PlanResponse
	commands []CommandResponse
	reflects []Directive
	synths   []SynthesizeResponse

	planErr  error
	synthErr error

	planReqs    []PlanRequest
	commandReqs []CommandRequest
	reflectReqs []ReflectRequest
	synthReqs   []SynthesizeRequest
}

func (o *scriptedOracle) Plan(_ context.Context, req PlanRequest) (PlanResponse, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.planReqs = append(o.planReqs, req)
	if o.planErr != nil {
		return PlanResponse{}, o.planErr
	}
	return popOrLast(&o.plans), nil
}

func (o *scriptedOracle) Command(_ context.Context, req CommandRequest) (CommandResponse, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.commandReqs = append(o.commandReqs, req)
	return popOrLast(&o.commands), nil
}

func (o *scriptedOracle) Reflect(_ context.Context, req ReflectRequest) (Directive, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reflectReqs = append(o.reflectReqs, req)
	return popOrLast(&o.reflects), nil
}

func (o *scriptedOracle) Synthesize(_ context.Context, req SynthesizeRequest) (SynthesizeResponse, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.synthReqs = append(o.synthReqs, req)
	if o.synthErr != nil {
		return SynthesizeResponse{}, o.synthErr
	}
	return popOrLast(&o.synths), nil
}

func (o *scriptedOracle) reflectCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.reflectReqs)
}

func popOrLast[T any](queue *[]T) T {
	var zero T
	q := *queue
	if len(q) == 0 {
		return zero
	}
	if len(q) == 1 {
		return q[0]
	}
	*queue = q[1:]
	return q[0]
}

// fakeExecutor records every command it is asked to run.
type fakeExecutor struct {
	mu      sync.Mutex
	ran     []string
	results map[string]ExecResult
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{results: make(map[string]ExecResult)}
}

func (e *fakeExecutor) Run(_ context.Context, command string) ExecResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ran = append(e.ran, command)
	if res, ok := e.results[command]; ok {
		return res
	}
	return ExecResult{Stdout: "ok", ExitCode: 0, Duration: time.Millisecond}
}

func (e *fakeExecutor) RunBatch(ctx context.Context, commands []string) []ExecResult {
	out := make([]ExecResult, len(commands))
	for i, c := range commands {
		out[i] = e.Run(ctx, c)
	}
	return out
}

func (e *fakeExecutor) commands() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.ran...)
}

func newTestSession(t *testing.T) *Session {
	t.Helper()
	session, err := NewSession(nil)
	require.NoError(t, err)
	return session
}

func TestRun_HappyPath(t *testing.T) {
	oracle := &scriptedOracle{
		plans: []PlanResponse{{Steps: []string{"list pods", "read logs"}}},
		commands: []CommandResponse{
			{Command: "kubectl get pods -n default"},
			{Command: "kubectl logs api-0 -n default --tail=50"},
		},
		reflects: []Directive{
			{Kind: DirectiveContinue, VerifiedFacts: []string{"api-0 restarted 12 times"}},
			{Kind: DirectiveContinue, VerifiedFacts: []string{"logs show OOMKilled"}},
		},
		synths: []SynthesizeResponse{{Sufficient: true, Answer: "api-0 is OOMKilled; raise its memory limit"}},
	}
	executor := newFakeExecutor()
	loop := NewDefaultLoop(oracle, executor)
	session := newTestSession(t)

	result, err := loop.Run(context.Background(), session, "why is the api pod crashing")
	require.NoError(t, err)

	assert.Equal(t, StateComplete, result.State)
	assert.Equal(t, "api-0 is OOMKilled; raise its memory limit", result.Answer)
	assert.False(t, result.Incomplete)
	assert.Equal(t, 2, result.CommandsRun)
	assert.Zero(t, result.CommandsBlocked)
	assert.Contains(t, result.Evidence, "api-0 restarted 12 times")
	assert.Contains(t, result.Evidence, "logs show OOMKilled")
	assert.Equal(t, []string{
		"kubectl get pods -n default",
		"kubectl logs api-0 -n default --tail=50",
	}, executor.commands())
	assert.True(t, session.IsTerminated())
}

func TestRun_MutatingCommandNeverExecutes(t *testing.T) {
	oracle := &scriptedOracle{
		plans: []PlanResponse{{Steps: []string{"check deployment"}}},
		commands: []CommandResponse{
			{Command: "kubectl scale deployment api --replicas=0"},
			{Command: "kubectl describe deployment api"},
		},
		reflects: []Directive{
			{Kind: DirectiveSolved, FinalAnswer: "deployment api has an invalid image tag"},
		},
	}
	executor := newFakeExecutor()
	loop := NewDefaultLoop(oracle, executor)
	session := newTestSession(t)

	result, err := loop.Run(context.Background(), session, "diagnose the api deployment")
	require.NoError(t, err)

	assert.Equal(t, StateComplete, result.State)
	assert.Equal(t, 1, result.CommandsBlocked)
	assert.Equal(t, 1, result.CommandsRun)
	assert.Equal(t, []string{"kubectl describe deployment api"}, executor.commands(),
		"the mutating command must never reach the executor")

	// A rejection forces a replan, and the rejection is visible in history
	// without counting as an executed command.
	require.Len(t, oracle.planReqs, 2)
	inv := session.Investigation()
	require.Len(t, inv.CommandHistory, 2)
	assert.True(t, inv.CommandHistory[0].Rejected)
	assert.Contains(t, inv.CommandHistory[0].Error, "mutating verb")

	// The post-replan request carries the rejection so the oracle can
	// produce something different.
	require.GreaterOrEqual(t, len(oracle.commandReqs), 2)
	assert.Contains(t, oracle.commandReqs[1].BlockedNote, "mutating verb")
}

func TestRun_RemediationParksAndResumesGranted(t *testing.T) {
	oracle := &scriptedOracle{
		plans:    []PlanResponse{{Steps: []string{"restart the stuck pod"}}},
		commands: []CommandResponse{{Command: "kubectl delete pod api-0 -n default"}},
		reflects: []Directive{
			{Kind: DirectiveSolved, FinalAnswer: "api-0 was restarted and is healthy again"},
		},
	}
	executor := newFakeExecutor()
	loop := NewDefaultLoop(oracle, executor)
	session := newTestSession(t)

	result, err := loop.Run(context.Background(), session, "restart the stuck api pod")
	require.NoError(t, err)

	assert.Equal(t, StateApproval, result.State)
	require.NotNil(t, result.PendingApproval)
	assert.Equal(t, "kubectl delete pod api-0 -n default", result.PendingApproval.Command)
	assert.Empty(t, executor.commands(), "nothing executes before approval")

	resumed, err := loop.Resume(context.Background(), session.ID, ApprovalDecision{Granted: true})
	require.NoError(t, err)

	assert.Equal(t, StateComplete, resumed.State)
	assert.Equal(t, "api-0 was restarted and is healthy again", resumed.Answer)
	assert.Equal(t, []string{"kubectl delete pod api-0 -n default"}, executor.commands())
}

func TestResume_Denied(t *testing.T) {
	oracle := &scriptedOracle{
		plans: []PlanResponse{{Steps: []string{"restart the stuck pod"}}},
		commands: []CommandResponse{
			{Command: "kubectl delete pod api-0 -n default"},
			{Command: "kubectl describe pod api-0 -n default"},
		},
		reflects: []Directive{
			{Kind: DirectiveSolved, FinalAnswer: "api-0 is stuck on an unresolvable image pull"},
		},
	}
	executor := newFakeExecutor()
	loop := NewDefaultLoop(oracle, executor)
	session := newTestSession(t)

	result, err := loop.Run(context.Background(), session, "restart the stuck api pod")
	require.NoError(t, err)
	require.Equal(t, StateApproval, result.State)

	resumed, err := loop.Resume(context.Background(), session.ID, ApprovalDecision{
		Granted: false,
		Reason:  "not during business hours",
	})
	require.NoError(t, err)

	assert.Equal(t, StateComplete, resumed.State)
	assert.Equal(t, 1, resumed.CommandsBlocked)
	assert.Equal(t, []string{"kubectl describe pod api-0 -n default"}, executor.commands(),
		"the denied command must never execute")

	require.GreaterOrEqual(t, len(oracle.commandReqs), 2)
	assert.Contains(t, oracle.commandReqs[1].BlockedNote, "approval denied")
	assert.Contains(t, oracle.commandReqs[1].BlockedNote, "not during business hours")
}

func TestResume_WithoutParkFails(t *testing.T) {
	loop := NewDefaultLoop(&scriptedOracle{}, newFakeExecutor())

	_, err := loop.Resume(context.Background(), "no-such-session", ApprovalDecision{Granted: true})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRun_EmptyOutputShortCircuitsReflection(t *testing.T) {
	oracle := &scriptedOracle{
		plans:    []PlanResponse{{Steps: []string{"look for failing pods"}}},
		commands: []CommandResponse{{Command: "kubectl get pods -n default --field-selector=status.phase=Failed"}},
	}
	executor := newFakeExecutor()
	executor.results["kubectl get pods -n default --field-selector=status.phase=Failed"] =
		ExecResult{Stdout: "", ExitCode: 0}
	loop := NewDefaultLoop(oracle, executor)
	session := newTestSession(t)

	result, err := loop.Run(context.Background(), session, "list any failing pods in default")
	require.NoError(t, err)

	assert.Equal(t, StateComplete, result.State)
	assert.Equal(t, "No matching resources were found; the query returned an empty result.", result.Answer)
	assert.Zero(t, oracle.reflectCount(), "an empty discovery result never consults the oracle")
}

func TestRun_DuplicateCommandBlocked(t *testing.T) {
	oracle := &scriptedOracle{
		plans: []PlanResponse{{Steps: []string{"inspect pods"}}},
		commands: []CommandResponse{
			{Command: "kubectl get pods -n default"},
			{Command: "kubectl get pods -n default"},
			{Command: "kubectl get pods -n kube-system"},
		},
		reflects: []Directive{
			{Kind: DirectiveRetry, Reason: "output inconclusive", NextHint: "check another namespace"},
			{Kind: DirectiveSolved, FinalAnswer: "kube-system has the failing pod"},
		},
	}
	executor := newFakeExecutor()
	loop := NewDefaultLoop(oracle, executor)
	session := newTestSession(t)

	result, err := loop.Run(context.Background(), session, "where is the failing pod")
	require.NoError(t, err)

	assert.Equal(t, StateComplete, result.State)
	assert.Equal(t, 2, result.CommandsRun)
	assert.Equal(t, 1, result.CommandsBlocked)
	assert.Equal(t, []string{
		"kubectl get pods -n default",
		"kubectl get pods -n kube-system",
	}, executor.commands())

	// The duplicate leaves a loop-detected history error and routes back
	// through planning instead of retrying directly.
	require.Len(t, oracle.planReqs, 2)
	inv := session.Investigation()
	require.Len(t, inv.CommandHistory, 3)
	assert.True(t, inv.CommandHistory[1].Rejected)
	assert.Contains(t, inv.CommandHistory[1].Error, "loop detected")

	require.GreaterOrEqual(t, len(oracle.commandReqs), 3)
	assert.Contains(t, oracle.commandReqs[2].BlockedNote, "duplicate")
}

func TestRun_IterationBudgetForcesBestEffortAnswer(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxIterations = 2
	cfg.MaxPlanIterations = 2
	session, err := NewSession(cfg)
	require.NoError(t, err)

	oracle := &scriptedOracle{
		plans: []PlanResponse{{Steps: []string{"a stubborn step"}}},
		commands: []CommandResponse{
			{Command: "kubectl get pods -n default"},
			{Command: "kubectl get events -n default"},
		},
		reflects: []Directive{
			{Kind: DirectiveRetry, Reason: "output useless", NextHint: "look elsewhere"},
		},
		synthErr: context.DeadlineExceeded,
	}
	executor := newFakeExecutor()
	loop := NewDefaultLoop(oracle, executor)

	result, err := loop.Run(context.Background(), session, "why is the api pod crashing")
	require.NoError(t, err)

	assert.Equal(t, StateComplete, result.State)
	assert.True(t, result.Incomplete)
	assert.Contains(t, result.Answer, "could not establish verified findings",
		"a dead oracle under a spent budget degrades to the fallback text")
	assert.Equal(t, 2, result.CommandsRun)
}

func TestRun_AbortBacktracksWithAnnotatedGoal(t *testing.T) {
	oracle := &scriptedOracle{
		plans: []PlanResponse{
			{Steps: []string{"check the api namespace"}},
			{Steps: []string{"check cluster-wide events"}},
		},
		commands: []CommandResponse{
			{Command: "kubectl get pods -n api"},
			{Command: "kubectl get events --field-selector=type=Warning"},
		},
		reflects: []Directive{
			{Kind: DirectiveAbort, Reason: "namespace api does not exist"},
			{Kind: DirectiveSolved, FinalAnswer: "the workload lives in namespace payments, not api"},
		},
		synths: []SynthesizeResponse{{Sufficient: true, Answer: "the workload lives in namespace payments, not api"}},
	}
	executor := newFakeExecutor()
	loop := NewDefaultLoop(oracle, executor)
	session := newTestSession(t)

	result, err := loop.Run(context.Background(), session, "why is the api pod crashing")
	require.NoError(t, err)

	assert.Equal(t, StateComplete, result.State)
	assert.Equal(t, 2, result.Attempts, "one backtrack lands the run on attempt 2")

	require.Len(t, oracle.planReqs, 2)
	assert.Equal(t, "why is the api pod crashing", oracle.planReqs[0].Goal)
	assert.Contains(t, oracle.planReqs[1].Goal, "previous attempt failed: namespace api does not exist")
	assert.Equal(t, "namespace api does not exist", oracle.planReqs[1].PriorFailure)
}

func TestRun_AttemptBudgetCapsBacktracking(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAttempts = 2
	session, err := NewSession(cfg)
	require.NoError(t, err)

	oracle := &scriptedOracle{
		plans: []PlanResponse{{Steps: []string{"check the suspect namespace"}}},
		commands: []CommandResponse{
			{Command: "kubectl get pods -n api"},
			{Command: "kubectl get pods -n payments"},
		},
		reflects: []Directive{
			{Kind: DirectiveAbort, Reason: "wrong premise"},
		},
		synths: []SynthesizeResponse{{Sufficient: false, Answer: "only partial signals were gathered"}},
	}
	executor := newFakeExecutor()
	loop := NewDefaultLoop(oracle, executor)

	result, err := loop.Run(context.Background(), session, "why is the api pod crashing")
	require.NoError(t, err)

	// An oracle that aborts every plan burns through the attempt budget
	// and lands on a best-effort answer, never a spin.
	assert.Equal(t, StateComplete, result.State)
	assert.Equal(t, 2, result.Attempts, "attempts never exceed the budget")
	assert.True(t, result.Incomplete)
	assert.Equal(t, "only partial signals were gathered", result.Answer)
	require.Len(t, oracle.planReqs, 2)
}

func TestRun_SameGoalRerunKeepsEvidence(t *testing.T) {
	oracle := &scriptedOracle{
		plans:    []PlanResponse{{Steps: []string{"inspect the pod"}}},
		commands: []CommandResponse{{Command: "kubectl describe pod api-0 -n default"}},
		reflects: []Directive{
			{Kind: DirectiveSolved, VerifiedFacts: []string{"api-0 is OOMKilled"}, FinalAnswer: "raise the memory limit"},
		},
	}
	executor := newFakeExecutor()
	loop := NewDefaultLoop(oracle, executor)
	session := newTestSession(t)

	const goal = "why is the api pod crashing"
	result, err := loop.Run(context.Background(), session, goal)
	require.NoError(t, err)
	require.Contains(t, result.Evidence, "api-0 is OOMKilled")

	// Rerunning the identical goal keeps what was already verified.
	oracle.mu.Lock()
	oracle.commands = []CommandResponse{{Command: "kubectl get events -n default"}}
	oracle.reflects = []Directive{{Kind: DirectiveSolved, FinalAnswer: "still OOMKilled"}}
	oracle.mu.Unlock()

	result, err = loop.Run(context.Background(), session, goal)
	require.NoError(t, err)
	assert.Contains(t, result.Evidence, "api-0 is OOMKilled",
		"facts verified for a goal survive a rerun of that goal")

	// A different goal starts from clean evidence.
	oracle.mu.Lock()
	oracle.commands = []CommandResponse{{Command: "kubectl get nodes"}}
	oracle.reflects = []Directive{{Kind: DirectiveSolved, FinalAnswer: "all nodes ready"}}
	oracle.mu.Unlock()

	result, err = loop.Run(context.Background(), session, "are the nodes healthy")
	require.NoError(t, err)
	assert.NotContains(t, result.Evidence, "api-0 is OOMKilled")
}

func TestRun_InsufficientEvidenceTriggersReplan(t *testing.T) {
	oracle := &scriptedOracle{
		plans: []PlanResponse{
			{Steps: []string{"check pod status"}},
			{Steps: []string{"check node conditions"}},
		},
		commands: []CommandResponse{
			{Command: "kubectl get pods -n default"},
			{Command: "kubectl describe node worker-1"},
		},
		reflects: []Directive{
			{Kind: DirectiveContinue, VerifiedFacts: []string{"api-0 is Pending"}},
			{Kind: DirectiveContinue, VerifiedFacts: []string{"worker-1 has disk pressure"}},
		},
		synths: []SynthesizeResponse{
			{Sufficient: false, MissingAspect: "node-level scheduling conditions"},
			{Sufficient: true, Answer: "api-0 is unschedulable because worker-1 has disk pressure"},
		},
	}
	executor := newFakeExecutor()
	loop := NewDefaultLoop(oracle, executor)
	session := newTestSession(t)

	result, err := loop.Run(context.Background(), session, "why is the api pod pending")
	require.NoError(t, err)

	assert.Equal(t, StateComplete, result.State)
	assert.Equal(t, "api-0 is unschedulable because worker-1 has disk pressure", result.Answer)
	assert.Equal(t, 2, result.Attempts, "the insufficiency replan consumes an attempt")

	require.Len(t, oracle.planReqs, 2)
	assert.Contains(t, oracle.planReqs[1].Goal, "node-level scheduling conditions")

	// Evidence from the first attempt carries into the second synthesis.
	require.Len(t, oracle.synthReqs, 2)
	assert.Contains(t, oracle.synthReqs[1].Evidence, "api-0 is Pending")
}

func TestRun_PlanOracleDownFailsRecoverably(t *testing.T) {
	oracle := &scriptedOracle{planErr: context.DeadlineExceeded}
	loop := NewDefaultLoop(oracle, newFakeExecutor())
	session := newTestSession(t)

	result, err := loop.Run(context.Background(), session, "any goal")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOracleUnavailable)
	require.NotNil(t, result)
	assert.Equal(t, StateError, result.State)
	require.NotNil(t, result.Error)
	assert.True(t, result.Error.Recoverable)
}

func TestRun_RejectsEmptyGoalAndBusySession(t *testing.T) {
	loop := NewDefaultLoop(&scriptedOracle{}, newFakeExecutor())
	session := newTestSession(t)

	_, err := loop.Run(context.Background(), session, "")
	assert.ErrorIs(t, err, ErrEmptyGoal)

	require.True(t, session.TryAcquire())
	defer session.Release()
	_, err = loop.Run(context.Background(), session, "a goal")
	assert.ErrorIs(t, err, ErrSessionInProgress)
}

func TestRun_DiscoveriesCarryAcrossGoals(t *testing.T) {
	oracle := &scriptedOracle{
		plans:    []PlanResponse{{Steps: []string{"list pods"}}},
		commands: []CommandResponse{{Command: "kubectl get pods -o name -n default"}},
		reflects: []Directive{
			{Kind: DirectiveSolved, FinalAnswer: "two pods are running"},
		},
	}
	executor := newFakeExecutor()
	executor.results["kubectl get pods -o name -n default"] =
		ExecResult{Stdout: "pod/api-0\npod/worker-1\n", ExitCode: 0}
	loop := NewDefaultLoop(oracle, executor)
	session := newTestSession(t)

	_, err := loop.Run(context.Background(), session, "inspect running pods")
	require.NoError(t, err)

	inv := session.Investigation()
	require.NotNil(t, inv)
	assert.Contains(t, inv.DiscoveredEntities["pod"], "api-0")

	// A second run on the same session starts clean but keeps discoveries.
	oracle.mu.Lock()
	oracle.commands = []CommandResponse{{Command: "kubectl describe pod api-0 -n default"}}
	oracle.reflects = []Directive{{Kind: DirectiveSolved, FinalAnswer: "api-0 is healthy"}}
	oracle.mu.Unlock()

	_, err = loop.Run(context.Background(), session, "check api-0 health")
	require.NoError(t, err)

	inv = session.Investigation()
	assert.Contains(t, inv.DiscoveredEntities["pod"], "api-0", "discoveries carry over")
	assert.Len(t, inv.CommandHistory, 1, "history resets per goal")
}

// mapEntitySource serves a fixed entity map.
type mapEntitySource map[string][]string

func (m mapEntitySource) Entities(context.Context) map[string][]string { return m }

func TestRun_EntitySourceSeedsDiscoveries(t *testing.T) {
	oracle := &scriptedOracle{
		plans:    []PlanResponse{{Steps: []string{"inspect the pod"}}},
		commands: []CommandResponse{{Command: "kubectl describe pod api-0 -n default"}},
		reflects: []Directive{
			{Kind: DirectiveSolved, FinalAnswer: "api-0 is healthy"},
		},
	}
	loop := NewDefaultLoop(oracle, newFakeExecutor(),
		WithEntitySource(mapEntitySource{"pod": {"api-0"}, "namespace": {"default"}}))
	session := newTestSession(t)

	_, err := loop.Run(context.Background(), session, "check api-0 health")
	require.NoError(t, err)

	// The first command request already carries the seeded names.
	require.NotEmpty(t, oracle.commandReqs)
	assert.Equal(t, []string{"api-0"}, oracle.commandReqs[0].Discovered["pod"])
	assert.Equal(t, []string{"default"}, oracle.commandReqs[0].Discovered["namespace"])
}

func TestLoop_SessionPersistenceRoundTrip(t *testing.T) {
	store := NewInMemoryStore()
	oracle := &scriptedOracle{
		plans:    []PlanResponse{{Steps: []string{"restart the stuck pod"}}},
		commands: []CommandResponse{{Command: "kubectl delete pod api-0 -n default"}},
		reflects: []Directive{
			{Kind: DirectiveSolved, FinalAnswer: "api-0 restarted"},
		},
	}
	executor := newFakeExecutor()
	loop := NewDefaultLoop(oracle, executor, WithSessionStore(store))
	session := newTestSession(t)

	result, err := loop.Run(context.Background(), session, "restart the stuck api pod")
	require.NoError(t, err)
	require.Equal(t, StateApproval, result.State)

	// A fresh loop simulates a process restart; the parked session must be
	// restorable from the store and resumable.
	restartedLoop := NewDefaultLoop(oracle, executor, WithSessionStore(store))
	restored, err := restartedLoop.GetSession(session.ID)
	require.NoError(t, err)
	assert.Equal(t, StateApproval, restored.GetState())
	require.NotNil(t, restored.PendingApproval)

	resumed, err := restartedLoop.Resume(context.Background(), session.ID, ApprovalDecision{Granted: true})
	require.NoError(t, err)
	assert.Equal(t, StateComplete, resumed.State)

	require.NoError(t, restartedLoop.CloseSession(context.Background(), session.ID))
	_, err = store.Load(context.Background(), session.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
