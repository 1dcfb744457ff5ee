// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the service configuration from a YAML file with
// environment variable overrides.
//
// Precedence, lowest to highest: defaults, YAML file, environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/ankitjain91/opspilot-sub000/services/investigator/agent"
)

// Config is the full service configuration.
type Config struct {
	// Server configures the HTTP API.
	Server ServerConfig `yaml:"server"`

	// Oracle configures the reasoning backend.
	Oracle OracleConfig `yaml:"oracle"`

	// Knowledge configures runbook retrieval.
	Knowledge KnowledgeConfig `yaml:"knowledge"`

	// Storage configures session persistence.
	Storage StorageConfig `yaml:"storage"`

	// Agent configures the investigation loop.
	Agent AgentConfig `yaml:"agent"`

	// Telemetry configures tracing export.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	// Addr is the listen address.
	Addr string `yaml:"addr" validate:"required"`

	// ReadTimeout bounds request reads.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout bounds response writes. Zero disables it, which SSE
	// streaming requires.
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// OracleConfig configures the reasoning backend.
type OracleConfig struct {
	// APIKey authenticates against the completion API. Env: OPSPILOT_ORACLE_API_KEY
	APIKey string `yaml:"api_key" validate:"required"`

	// Model is the chat model name.
	Model string `yaml:"model"`

	// BaseURL points at an OpenAI-compatible endpoint. Empty uses the default.
	BaseURL string `yaml:"base_url"`

	// RequestsPerSecond rate limits oracle calls.
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gte=0"`

	// Burst is the rate limiter burst size.
	Burst int `yaml:"burst" validate:"gte=0"`
}

// KnowledgeConfig configures runbook retrieval.
type KnowledgeConfig struct {
	// Enabled toggles retrieval; disabled runs plan with zero snippets.
	Enabled bool `yaml:"enabled"`

	// Host is the Weaviate host.
	Host string `yaml:"host"`

	// Scheme is "http" or "https".
	Scheme string `yaml:"scheme" validate:"omitempty,oneof=http https"`

	// APIKey optionally authenticates the connection.
	APIKey string `yaml:"api_key"`
}

// StorageConfig configures session persistence.
type StorageConfig struct {
	// Path is the BadgerDB directory. Empty means in-memory.
	Path string `yaml:"path"`

	// TTL is how long idle sessions survive.
	TTL time.Duration `yaml:"ttl"`

	// HistoryWindow caps persisted command history entries.
	HistoryWindow int `yaml:"history_window" validate:"gte=0"`
}

// AgentConfig mirrors the loop's tunables.
type AgentConfig struct {
	// MaxIterations bounds reasoning iterations per attempt.
	MaxIterations int `yaml:"max_iterations" validate:"gte=0"`

	// MaxPlanIterations bounds the plan sub-loop.
	MaxPlanIterations int `yaml:"max_plan_iterations" validate:"gte=0"`

	// MaxAttempts bounds the backtracking envelope.
	MaxAttempts int `yaml:"max_attempts" validate:"gte=0"`

	// MaxStepRetries bounds retries per plan step.
	MaxStepRetries int `yaml:"max_step_retries" validate:"gte=0"`

	// CommandTimeout bounds one command execution.
	CommandTimeout time.Duration `yaml:"command_timeout"`

	// OracleTimeout bounds one oracle call.
	OracleTimeout time.Duration `yaml:"oracle_timeout"`

	// TotalTimeout bounds an entire run.
	TotalTimeout time.Duration `yaml:"total_timeout"`

	// BatchConcurrency bounds the batch execution pool.
	BatchConcurrency int `yaml:"batch_concurrency" validate:"gte=0"`

	// EmptyResultKeywords enable the empty-output short-circuit.
	EmptyResultKeywords []string `yaml:"empty_result_keywords"`

	// ClusterContext is the orchestrator's own cluster-context name.
	ClusterContext string `yaml:"cluster_context"`
}

// TelemetryConfig configures tracing export.
type TelemetryConfig struct {
	// Enabled toggles the OTLP exporter.
	Enabled bool `yaml:"enabled"`

	// Endpoint is the OTLP gRPC endpoint.
	Endpoint string `yaml:"endpoint"`

	// ServiceName names this service in traces.
	ServiceName string `yaml:"service_name"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:        ":8090",
			ReadTimeout: 30 * time.Second,
		},
		Oracle: OracleConfig{
			RequestsPerSecond: 2,
			Burst:             4,
		},
		Knowledge: KnowledgeConfig{
			Scheme: "http",
		},
		Storage: StorageConfig{
			TTL:           24 * time.Hour,
			HistoryWindow: 50,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "opspilot-investigator",
		},
	}
}

// Load reads the configuration file, applies environment overrides, and
// validates the result.
//
// Inputs:
//
//	path - The YAML file path; empty skips the file layer
//
// Outputs:
//
//	*Config - The resolved configuration
//	error - Non-nil on read, parse, or validation failure
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return cfg, nil
}

// AgentConfig converts the YAML tunables into the loop's config,
// falling back to the loop defaults for zero values.
func (c *Config) AgentConfig() *agent.Config {
	out := agent.DefaultConfig()
	a := c.Agent
	if a.MaxIterations > 0 {
		out.MaxIterations = a.MaxIterations
	}
	if a.MaxPlanIterations > 0 {
		out.MaxPlanIterations = a.MaxPlanIterations
	}
	if a.MaxAttempts > 0 {
		out.MaxAttempts = a.MaxAttempts
	}
	if a.MaxStepRetries > 0 {
		out.MaxStepRetries = a.MaxStepRetries
	}
	if a.CommandTimeout > 0 {
		out.CommandTimeout = a.CommandTimeout
	}
	if a.OracleTimeout > 0 {
		out.OracleTimeout = a.OracleTimeout
	}
	if a.TotalTimeout > 0 {
		out.TotalTimeout = a.TotalTimeout
	}
	if a.BatchConcurrency > 0 {
		out.BatchConcurrency = a.BatchConcurrency
	}
	if len(a.EmptyResultKeywords) > 0 {
		out.EmptyResultKeywords = a.EmptyResultKeywords
	}
	out.ClusterContext = a.ClusterContext
	return out
}

// applyEnv layers environment overrides onto the configuration.
func applyEnv(cfg *Config) {
	if v := os.Getenv("OPSPILOT_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("OPSPILOT_ORACLE_API_KEY"); v != "" {
		cfg.Oracle.APIKey = v
	}
	if v := os.Getenv("OPSPILOT_ORACLE_MODEL"); v != "" {
		cfg.Oracle.Model = v
	}
	if v := os.Getenv("OPSPILOT_ORACLE_BASE_URL"); v != "" {
		cfg.Oracle.BaseURL = v
	}
	if v := os.Getenv("OPSPILOT_KNOWLEDGE_HOST"); v != "" {
		cfg.Knowledge.Host = v
		cfg.Knowledge.Enabled = true
	}
	if v := os.Getenv("OPSPILOT_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("OPSPILOT_CLUSTER_CONTEXT"); v != "" {
		cfg.Agent.ClusterContext = v
	}
	if v := os.Getenv("OPSPILOT_OTLP_ENDPOINT"); v != "" {
		cfg.Telemetry.Endpoint = v
		cfg.Telemetry.Enabled = true
	}
	if v := os.Getenv("OPSPILOT_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Agent.MaxIterations = n
		}
	}
}
