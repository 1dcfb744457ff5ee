// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package oracle implements the reasoning backend on top of an
// OpenAI-compatible chat completion API.
//
// Every call builds a structured prompt, requests JSON output, and parses
// the response leniently: strict JSON first, then fenced blocks, then
// best-effort field scavenging. The oracle is rate limited so a hot
// investigation loop cannot exhaust the upstream quota.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/ankitjain91/opspilot-sub000/services/investigator/agent"
	"github.com/ankitjain91/opspilot-sub000/services/investigator/metrics"
)

// Option configures the client.
type Option func(*Client)

// WithModel overrides the default chat model.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithRateLimit overrides the default request rate limit.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = baseURL }
}

// Client is the production agent.Oracle implementation.
//
// Thread Safety:
//
//	Client is safe for concurrent use.
type Client struct {
	api     *openai.Client
	model   string
	baseURL string
	limiter *rate.Limiter
}

// NewClient creates an oracle client.
//
// Inputs:
//
//	apiKey - The upstream API key
//	opts - Optional overrides
//
// Outputs:
//
//	*Client - The client
//	error - Non-nil when the API key is empty
func NewClient(apiKey string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("oracle: api key is required")
	}
	c := &Client{
		model:   openai.GPT4oMini,
		limiter: rate.NewLimiter(rate.Limit(2), 4),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.baseURL != "" {
		cfg := openai.DefaultConfig(apiKey)
		cfg.BaseURL = c.baseURL
		c.api = openai.NewClientWithConfig(cfg)
	} else {
		c.api = openai.NewClient(apiKey)
	}
	return c, nil
}

// Plan implements agent.Oracle.
func (c *Client) Plan(ctx context.Context, req agent.PlanRequest) (agent.PlanResponse, error) {
	prompt := buildPlanPrompt(req)
	raw, err := c.complete(ctx, "plan", planSystemPrompt, prompt)
	if err != nil {
		return agent.PlanResponse{}, err
	}

	var payload struct {
		Steps []string `json:"steps"`
	}
	if err := parseLenient(raw, &payload); err != nil {
		// Fall back to line scavenging: numbered or bulleted lines become steps.
		payload.Steps = scavengeList(raw)
	}
	return agent.PlanResponse{Steps: payload.Steps}, nil
}

// Command implements agent.Oracle.
func (c *Client) Command(ctx context.Context, req agent.CommandRequest) (agent.CommandResponse, error) {
	prompt := buildCommandPrompt(req)
	raw, err := c.complete(ctx, "command", commandSystemPrompt, prompt)
	if err != nil {
		return agent.CommandResponse{}, err
	}

	var payload struct {
		Command string `json:"command"`
		Note    string `json:"note"`
	}
	if err := parseLenient(raw, &payload); err != nil {
		// A bare command line is acceptable output.
		payload.Command = firstNonEmptyLine(raw)
	}
	return agent.CommandResponse{
		Command: strings.TrimSpace(payload.Command),
		Note:    payload.Note,
	}, nil
}

// Reflect implements agent.Oracle.
func (c *Client) Reflect(ctx context.Context, req agent.ReflectRequest) (agent.Directive, error) {
	prompt := buildReflectPrompt(req)
	raw, err := c.complete(ctx, "reflect", reflectSystemPrompt, prompt)
	if err != nil {
		return agent.Directive{}, err
	}

	var d agent.Directive
	if err := parseLenient(raw, &d); err != nil {
		d = scavengeDirective(raw)
	}
	return d, nil
}

// Synthesize implements agent.Oracle.
func (c *Client) Synthesize(ctx context.Context, req agent.SynthesizeRequest) (agent.SynthesizeResponse, error) {
	prompt := buildSynthesizePrompt(req)
	raw, err := c.complete(ctx, "synthesize", synthesizeSystemPrompt, prompt)
	if err != nil {
		return agent.SynthesizeResponse{}, err
	}

	var payload agent.SynthesizeResponse
	if err := parseLenient(raw, &payload); err != nil {
		// Treat unstructured prose as the answer itself.
		payload = agent.SynthesizeResponse{
			Sufficient: true,
			Answer:     strings.TrimSpace(raw),
		}
	}
	if req.Forced && strings.TrimSpace(payload.Answer) == "" {
		payload.Answer = strings.TrimSpace(raw)
	}
	return payload, nil
}

// complete performs one rate-limited chat completion.
func (c *Client) complete(ctx context.Context, operation, system, user string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("oracle: rate limiter: %w", err)
	}

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: 0.1,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	metrics.RecordOracleCall(operation, err, time.Since(start))
	if err != nil {
		return "", fmt.Errorf("oracle: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("oracle: completion returned no choices")
	}

	slog.Debug("Oracle call completed",
		slog.String("model", c.model),
		slog.Duration("duration", time.Since(start)),
		slog.Int("prompt_tokens", resp.Usage.PromptTokens),
		slog.Int("completion_tokens", resp.Usage.CompletionTokens),
	)
	return resp.Choices[0].Message.Content, nil
}

// parseLenient unmarshals strict JSON, then retries on fenced or embedded
// JSON objects.
func parseLenient(raw string, out any) error {
	trimmed := strings.TrimSpace(raw)
	if err := json.Unmarshal([]byte(trimmed), out); err == nil {
		return nil
	}

	if fenced := extractFenced(trimmed); fenced != "" {
		if err := json.Unmarshal([]byte(fenced), out); err == nil {
			return nil
		}
	}

	if embedded := extractObject(trimmed); embedded != "" {
		if err := json.Unmarshal([]byte(embedded), out); err == nil {
			return nil
		}
	}
	return fmt.Errorf("oracle: no parseable JSON in response")
}

// extractFenced returns the body of the first ``` fence, if any.
func extractFenced(s string) string {
	start := strings.Index(s, "```")
	if start < 0 {
		return ""
	}
	body := s[start+3:]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		// Drop a language tag like "json".
		first := strings.TrimSpace(body[:nl])
		if len(first) <= 8 && !strings.ContainsAny(first, "{[") {
			body = body[nl+1:]
		}
	}
	end := strings.Index(body, "```")
	if end < 0 {
		return strings.TrimSpace(body)
	}
	return strings.TrimSpace(body[:end])
}

// extractObject returns the outermost {...} span, if any.
func extractObject(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

// scavengeList extracts numbered or bulleted lines as plan steps.
func scavengeList(raw string) []string {
	var steps []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "0123456789.)- *")
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "```") {
			steps = append(steps, line)
		}
	}
	return steps
}

// scavengeDirective keyword-matches a directive kind out of free text.
//
// The caller's normalization layer enforces the field contract; this only
// has to guess the kind and carry the text as the reason.
func scavengeDirective(raw string) agent.Directive {
	upper := strings.ToUpper(raw)
	d := agent.Directive{Reason: strings.TrimSpace(raw)}
	switch {
	case strings.Contains(upper, "SOLVED"):
		d.Kind = agent.DirectiveSolved
		d.FinalAnswer = strings.TrimSpace(raw)
	case strings.Contains(upper, "ABORT"):
		d.Kind = agent.DirectiveAbort
	case strings.Contains(upper, "CONTINUE"):
		d.Kind = agent.DirectiveContinue
	default:
		d.Kind = agent.DirectiveRetry
		d.NextHint = strings.TrimSpace(raw)
	}
	return d
}

// firstNonEmptyLine returns the first non-blank, non-fence line.
func firstNonEmptyLine(raw string) string {
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "```") {
			return line
		}
	}
	return ""
}
