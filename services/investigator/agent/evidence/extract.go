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

import "strings"

// resourceCategories maps kubectl resource tokens to a canonical category.
var resourceCategories = map[string]string{
	"pod": "pod", "pods": "pod", "po": "pod",
	"namespace": "namespace", "namespaces": "namespace", "ns": "namespace",
	"node": "node", "nodes": "node", "no": "node",
	"deployment": "deployment", "deployments": "deployment", "deploy": "deployment",
	"service": "service", "services": "service", "svc": "service",
	"statefulset": "statefulset", "statefulsets": "statefulset", "sts": "statefulset",
	"daemonset": "daemonset", "daemonsets": "daemonset", "ds": "daemonset",
	"replicaset": "replicaset", "replicasets": "replicaset", "rs": "replicaset",
	"configmap": "configmap", "configmaps": "configmap", "cm": "configmap",
	"job": "job", "jobs": "job",
	"ingress": "ingress", "ingresses": "ingress", "ing": "ingress",
	"pvc": "pvc", "persistentvolumeclaim": "pvc", "persistentvolumeclaims": "pvc",
}

// ExtractEntities parses entity names out of a listing command's output.
//
// Description:
//
//	Recognizes the tabular output of kubectl get/describe for common
//	resource kinds. The category is derived from the resource token that
//	follows the verb in the command; names come from the first column of
//	non-header rows, or from "kind/name" lines under -o name. Output that
//	does not look like a listing yields an empty map, never an error.
//
// Inputs:
//
//	command - The command that produced the output
//	stdout - The captured standard output
//
// Outputs:
//
//	map[string][]string - Category to discovered names; may be empty
func ExtractEntities(command, stdout string) map[string][]string {
	out := make(map[string][]string)
	if strings.TrimSpace(stdout) == "" {
		return out
	}

	category := commandCategory(command)

	// Cluster-wide listings prefix every row with the namespace; the
	// resource name moves to the second column.
	nameIdx := 0
	if hasAllNamespaces(command) {
		nameIdx = 1
	}

	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		first := fields[0]

		// "-o name" form: kind/name on each line, category from the kind.
		if kind, name, ok := strings.Cut(first, "/"); ok && name != "" {
			if cat, known := resourceCategories[strings.ToLower(kind)]; known {
				out[cat] = append(out[cat], name)
			}
			continue
		}

		if category == "" {
			continue
		}
		// Tabular form: the header row is skipped but fixes the name
		// column, whatever the command flags claimed.
		if strings.EqualFold(first, "NAME") {
			nameIdx = 0
			continue
		}
		if strings.EqualFold(first, "NAMESPACE") {
			nameIdx = 1
			continue
		}
		if len(fields) <= nameIdx {
			continue
		}
		out[category] = append(out[category], fields[nameIdx])
	}

	for cat, names := range out {
		out[cat] = dedupSorted(names)
	}
	return out
}

// hasAllNamespaces reports whether the command listed across namespaces.
// Checked case-sensitively: kubectl's -A is not -a.
func hasAllNamespaces(command string) bool {
	for _, f := range strings.Fields(command) {
		if f == "--all-namespaces" || f == "-A" {
			return true
		}
	}
	return false
}

// commandCategory finds the resource token after a get/describe verb.
func commandCategory(command string) string {
	fields := strings.Fields(strings.ToLower(command))
	for i, f := range fields {
		if f != "get" && f != "describe" {
			continue
		}
		for _, tok := range fields[i+1:] {
			if strings.HasPrefix(tok, "-") {
				continue
			}
			if cat, ok := resourceCategories[tok]; ok {
				return cat
			}
			return ""
		}
	}
	return ""
}
