// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package knowledge retrieves runbook snippets from Weaviate.
//
// Retrieval is advisory: planning proceeds with zero snippets when the
// backend is down, so a degraded vector store never blocks investigations.
package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
)

// RunbookClassName is the Weaviate class holding runbook documents.
const RunbookClassName = "OpsRunbook"

// Config configures the retriever.
type Config struct {
	// Host is the Weaviate host, e.g. "localhost:8080".
	Host string

	// Scheme is "http" or "https".
	Scheme string

	// APIKey optionally authenticates the connection.
	APIKey string
}

// Retriever is the production agent.KnowledgeBase implementation.
//
// Thread Safety:
//
//	Retriever is safe for concurrent use.
type Retriever struct {
	client *weaviate.Client
}

// NewRetriever connects to Weaviate.
func NewRetriever(cfg Config) (*Retriever, error) {
	if cfg.Scheme == "" {
		cfg.Scheme = "http"
	}
	wcfg := weaviate.Config{
		Host:   cfg.Host,
		Scheme: cfg.Scheme,
	}
	if cfg.APIKey != "" {
		wcfg.Headers = map[string]string{
			"Authorization": "Bearer " + cfg.APIKey,
		}
	}
	client, err := weaviate.NewClient(wcfg)
	if err != nil {
		return nil, fmt.Errorf("knowledge: create weaviate client: %w", err)
	}
	return &Retriever{client: client}, nil
}

// Search implements agent.KnowledgeBase.
//
// Description:
//
//	Runs a nearText query over the runbook class and returns snippet
//	bodies ranked by the vector distance. Backend failures surface as an
//	error; the caller decides whether to degrade.
//
// Inputs:
//
//	ctx - Context for cancellation and timeout
//	query - The investigation goal text
//	limit - Maximum snippets to return
//
// Outputs:
//
//	[]string - Snippet bodies, best match first
//	error - Non-nil on backend failure
func (r *Retriever) Search(ctx context.Context, query string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 3
	}

	nearText := r.client.GraphQL().NearTextArgBuilder().
		WithConcepts([]string{query})

	fields := []graphql.Field{
		{Name: "title"},
		{Name: "body"},
	}

	result, err := r.client.GraphQL().Get().
		WithClassName(RunbookClassName).
		WithFields(fields...).
		WithNearText(nearText).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("knowledge: search: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("knowledge: search: %s", result.Errors[0].Message)
	}

	data := make(map[string]any, len(result.Data))
	for k, v := range result.Data {
		data[k] = v
	}
	snippets := parseSnippets(data, limit)
	slog.Debug("Runbook retrieval completed",
		slog.Int("query_len", len(query)),
		slog.Int("snippets", len(snippets)),
	)
	return snippets, nil
}

// parseSnippets extracts title/body pairs from the GraphQL payload.
func parseSnippets(data map[string]any, limit int) []string {
	get, ok := data["Get"].(map[string]any)
	if !ok {
		return nil
	}
	items, ok := get[RunbookClassName].([]any)
	if !ok {
		return nil
	}

	var snippets []string
	for _, item := range items {
		if len(snippets) >= limit {
			break
		}
		fields, ok := item.(map[string]any)
		if !ok {
			continue
		}
		body, _ := fields["body"].(string)
		if strings.TrimSpace(body) == "" {
			continue
		}
		if title, _ := fields["title"].(string); title != "" {
			snippets = append(snippets, title+"\n"+body)
		} else {
			snippets = append(snippets, body)
		}
	}
	return snippets
}
