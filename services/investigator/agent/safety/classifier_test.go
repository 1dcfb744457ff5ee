// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package safety

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestClassifier() *Classifier {
	return NewClassifier(DefaultTables(), "prod-cluster")
}

func TestClassify_SafeReads(t *testing.T) {
	c := newTestClassifier()

	safe := []string{
		"kubectl get pods -n default",
		"kubectl describe pod api-0 -n default",
		"kubectl logs api-0 -n default --tail=100",
		"kubectl top nodes",
		"kubectl get events -n payments --field-selector=type=Warning",
	}
	for _, cmd := range safe {
		result := c.Classify(cmd, nil)
		assert.Equal(t, VerdictSafe, result.Verdict, cmd)
		assert.False(t, result.Verdict.Blocks())
		assert.False(t, result.Verdict.RequiresApproval())
	}
}

func TestClassify_MutatingVerbsBlock(t *testing.T) {
	c := newTestClassifier()

	mutating := []string{
		"kubectl delete deployment api -n default",
		"kubectl apply -f manifest.yaml",
		"kubectl scale deployment api --replicas=0",
		"kubectl drain worker-1",
		"kubectl exec api-0 -- sh",
		"kubectl label pod api-0 debug=true",
	}
	for _, cmd := range mutating {
		result := c.Classify(cmd, nil)
		assert.Equal(t, VerdictMutating, result.Verdict, cmd)
		assert.True(t, result.Verdict.Blocks(), cmd)
		assert.NotEmpty(t, result.Reason)
		assert.NotEmpty(t, result.MatchedVerb)
	}
}

func TestClassify_MutatingVerbInFirstPosition(t *testing.T) {
	c := newTestClassifier()

	// Commands without a kubectl prefix start with the verb itself; the
	// scan must not skip position 0.
	bare := []string{
		"delete pods --all -n prod",
		"drain worker-1",
		"scale deployment api --replicas=0",
	}
	for _, cmd := range bare {
		result := c.Classify(cmd, nil)
		assert.Equal(t, VerdictMutating, result.Verdict, cmd)
		assert.True(t, result.Verdict.Blocks(), cmd)
	}
}

func TestClassify_BulkDeleteIsNotRemediation(t *testing.T) {
	c := newTestClassifier()

	// The allow-list covers single-resource forms only; bulk selectors
	// stay hard-blocked.
	bulk := []string{
		"kubectl delete pods --all -n prod",
		"kubectl delete pod --all-namespaces",
		"kubectl delete pod -A",
	}
	for _, cmd := range bulk {
		result := c.Classify(cmd, nil)
		assert.Equal(t, VerdictMutating, result.Verdict, cmd)
	}

	// Plural without a named resource is not the allow-listed phrase.
	result := c.Classify("kubectl delete pods api-0 -n prod", nil)
	assert.Equal(t, VerdictMutating, result.Verdict)
}

func TestClassify_RemediationAllowListRoutesToApproval(t *testing.T) {
	c := newTestClassifier()

	result := c.Classify("kubectl rollout restart deployment/api -n default", nil)
	assert.Equal(t, VerdictRemediation, result.Verdict)
	assert.True(t, result.Verdict.RequiresApproval())
	assert.False(t, result.Verdict.Blocks())

	result = c.Classify("kubectl delete pod api-0 -n default", nil)
	assert.Equal(t, VerdictRemediation, result.Verdict,
		"pod deletion is allowed remediation, approval-gated")

	// The allow-list is verb-phrase specific; deleting anything else stays
	// hard-blocked.
	result = c.Classify("kubectl delete deployment api -n default", nil)
	assert.Equal(t, VerdictMutating, result.Verdict)
}

func TestClassify_BulkReadsRequireApproval(t *testing.T) {
	c := newTestClassifier()

	bulk := []string{
		"kubectl get all -n default",
		"kubectl get pods --all-namespaces",
		"kubectl describe nodes",
	}
	for _, cmd := range bulk {
		result := c.Classify(cmd, nil)
		assert.Equal(t, VerdictNeedsApproval, result.Verdict, cmd)
	}
}

func TestClassify_ProviderDefaultDeny(t *testing.T) {
	c := newTestClassifier()

	// Reads on a provider CLI pass.
	result := c.Classify("aws eks describe-cluster --name prod", nil)
	assert.Equal(t, VerdictSafe, result.Verdict)

	result = c.Classify("gcloud container clusters list", nil)
	assert.Equal(t, VerdictSafe, result.Verdict)

	// Mutations on a provider CLI are hard-blocked.
	result = c.Classify("aws ec2 terminate-instances --instance-ids i-1234", nil)
	assert.Equal(t, VerdictProviderMutating, result.Verdict)
	assert.True(t, result.Verdict.Blocks())

	// Unrecognized provider commands fail closed.
	result = c.Classify("aws sts assume-role --role-arn arn:aws:iam::1:role/x", nil)
	assert.Equal(t, VerdictProviderUnknown, result.Verdict)
	assert.True(t, result.Verdict.Blocks())
}

func TestClassify_ShellSubstitutionGuard(t *testing.T) {
	c := newTestClassifier()

	rejected := []string{
		"kubectl logs $(kubectl get pods -o name | head -1)",
		"kubectl get pods -n ${NAMESPACE}",
		"kubectl logs `kubectl get pods -o name`",
		"NS=default kubectl get pods -n default",
	}
	for _, cmd := range rejected {
		result := c.Classify(cmd, nil)
		assert.True(t, result.Verdict.Blocks(), cmd)
		assert.Contains(t, result.Reason, "shell substitution", cmd)
	}
}

func TestClassify_PlaceholderGuardSuggestsDiscoveredEntities(t *testing.T) {
	c := newTestClassifier()

	discovered := map[string][]string{
		"pod":       {"api-0", "worker-1"},
		"namespace": {"default", "payments"},
	}

	result := c.Classify("kubectl logs <pod-name> -n default", discovered)
	assert.True(t, result.Verdict.Blocks())
	assert.Contains(t, result.Reason, "placeholder")
	assert.Contains(t, result.Reason, "api-0")
	assert.Contains(t, result.Reason, "payments")

	// Environment-style and bracket placeholders are caught too.
	result = c.Classify("kubectl logs $POD_NAME -n default", nil)
	assert.Contains(t, result.Reason, "placeholder")

	result = c.Classify("kubectl logs [pod] -n default", nil)
	assert.Contains(t, result.Reason, "placeholder")
}

func TestClassify_ClusterContextAsNamespaceRejected(t *testing.T) {
	c := newTestClassifier()

	result := c.Classify("kubectl get pods -n prod-cluster", nil)
	assert.True(t, result.Verdict.Blocks())
	assert.Contains(t, result.Reason, "cluster context")

	result = c.Classify("kubectl get pods --namespace prod-cluster", nil)
	assert.True(t, result.Verdict.Blocks())

	// The same name is fine anywhere other than a namespace flag.
	result = c.Classify("kubectl get pods -n default", nil)
	assert.Equal(t, VerdictSafe, result.Verdict)
}

func TestClassify_EmptyCommand(t *testing.T) {
	c := newTestClassifier()

	result := c.Classify("   ", nil)
	assert.True(t, result.Verdict.Blocks())
}

func TestClassify_GuardWinsOverSafeVerb(t *testing.T) {
	c := newTestClassifier()

	// A read-only verb with a placeholder is still rejected.
	result := c.Classify("kubectl get pod <name>", nil)
	assert.True(t, result.Verdict.Blocks())
}
