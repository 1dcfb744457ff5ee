// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package evidence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeDiscovered_Union(t *testing.T) {
	existing := map[string][]string{
		"pod": {"api-0", "worker-1"},
	}
	more := map[string][]string{
		"pod":       {"api-0", "api-1"},
		"namespace": {"payments"},
	}

	merged := MergeDiscovered(existing, more)

	assert.Equal(t, []string{"api-0", "api-1", "worker-1"}, merged["pod"])
	assert.Equal(t, []string{"payments"}, merged["namespace"])
}

func TestMergeDiscovered_Idempotent(t *testing.T) {
	a := map[string][]string{"pod": {"api-0"}}
	b := map[string][]string{"pod": {"api-1"}, "node": {"worker-1"}}

	once := MergeDiscovered(a, b)
	twice := MergeDiscovered(once, b)

	assert.Equal(t, once, twice)
}

func TestMergeDiscovered_DoesNotMutateInputs(t *testing.T) {
	existing := map[string][]string{"pod": {"api-0"}}
	more := map[string][]string{"pod": {"api-1"}}

	MergeDiscovered(existing, more)

	assert.Equal(t, []string{"api-0"}, existing["pod"])
	assert.Equal(t, []string{"api-1"}, more["pod"])
}

func TestMergeDiscovered_NilInputs(t *testing.T) {
	merged := MergeDiscovered(nil, nil)
	require.NotNil(t, merged)
	assert.Empty(t, merged)

	merged = MergeDiscovered(nil, map[string][]string{"pod": {"api-0", "", "api-0"}})
	assert.Equal(t, []string{"api-0"}, merged["pod"])
}

func TestAppendEvidence_OrderPreservingDedup(t *testing.T) {
	existing := []string{"api-0 restarted 12 times"}

	out := AppendEvidence(existing, []string{
		"logs show OOMKilled",
		"api-0 restarted 12 times",
		"  ",
		"logs show OOMKilled",
		"memory limit is 128Mi",
	})

	assert.Equal(t, []string{
		"api-0 restarted 12 times",
		"logs show OOMKilled",
		"memory limit is 128Mi",
	}, out)

	assert.Equal(t, []string{"api-0 restarted 12 times"}, existing,
		"existing slice untouched")
}

func TestAppendEvidence_NoNewFacts(t *testing.T) {
	existing := []string{"a", "b"}
	out := AppendEvidence(existing, nil)
	assert.Equal(t, existing, out)
}

func TestExtractEntities_NameForm(t *testing.T) {
	stdout := "pod/api-0\npod/worker-1\nservice/api\n"
	got := ExtractEntities("kubectl get pods,services -o name -n default", stdout)

	assert.Equal(t, []string{"api-0", "worker-1"}, got["pod"])
	assert.Equal(t, []string{"api"}, got["service"])
}

func TestExtractEntities_TabularForm(t *testing.T) {
	stdout := "NAME      READY   STATUS             RESTARTS   AGE\n" +
		"api-0     0/1     CrashLoopBackOff   12         3h\n" +
		"worker-1  1/1     Running            0          3h\n"
	got := ExtractEntities("kubectl get pods -n default", stdout)

	assert.Equal(t, []string{"api-0", "worker-1"}, got["pod"])
}

func TestExtractEntities_AllNamespacesTabularForm(t *testing.T) {
	stdout := "NAMESPACE   NAME      READY   STATUS    RESTARTS   AGE\n" +
		"default     api-0     0/1     Pending   0          3h\n" +
		"payments    ledger-0  1/1     Running   0          9h\n"
	got := ExtractEntities("kubectl get pods --all-namespaces", stdout)

	assert.Equal(t, []string{"api-0", "ledger-0"}, got["pod"],
		"the name column shifts right of the namespace column")

	// The short flag shifts the column too, even without a header row.
	stdout = "default    api-0     0/1   Pending   0   3h\n"
	got = ExtractEntities("kubectl get pods -A --no-headers", stdout)
	assert.Equal(t, []string{"api-0"}, got["pod"])
}

func TestExtractEntities_AliasCategories(t *testing.T) {
	stdout := "NAME   STATUS   AGE\ndefault   Active   30d\npayments  Active   12d\n"
	got := ExtractEntities("kubectl get ns", stdout)

	assert.Equal(t, []string{"default", "payments"}, got["namespace"])
}

func TestExtractEntities_UnknownResourceOrOutput(t *testing.T) {
	got := ExtractEntities("kubectl get crd", "NAME\nfoo.example.com\n")
	assert.Empty(t, got, "unknown resource kinds are not harvested")

	got = ExtractEntities("kubectl logs api-0", "some log line\nanother line\n")
	assert.Empty(t, got, "non-listing commands yield nothing")

	got = ExtractEntities("kubectl get pods", "   ")
	assert.Empty(t, got)
}
