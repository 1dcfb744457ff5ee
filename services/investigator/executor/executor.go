// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package executor runs verified commands against the cluster.
//
// Commands are executed as argv vectors, never through a shell, so the
// safety layer's guarantees about substitution and quoting survive into
// execution. Batch execution fans out over a weighted semaphore and
// reassembles results in request order.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ankitjain91/opspilot-sub000/services/investigator/agent"
)

// Option configures the executor.
type Option func(*CommandExecutor)

// WithConcurrency bounds the batch worker pool.
func WithConcurrency(n int) Option {
	return func(e *CommandExecutor) {
		if n > 0 {
			e.concurrency = int64(n)
		}
	}
}

// WithOutputLimit caps captured stdout/stderr per command, in bytes.
func WithOutputLimit(n int) Option {
	return func(e *CommandExecutor) {
		if n > 0 {
			e.outputLimit = n
		}
	}
}

// WithBatchCommandTimeout bounds each command of a batch individually.
func WithBatchCommandTimeout(d time.Duration) Option {
	return func(e *CommandExecutor) {
		if d > 0 {
			e.cmdTimeout = d
		}
	}
}

// CommandExecutor is the production agent.Executor implementation.
//
// Thread Safety:
//
//	CommandExecutor is safe for concurrent use.
type CommandExecutor struct {
	concurrency int64
	outputLimit int
	cmdTimeout  time.Duration
}

// NewCommandExecutor creates an executor.
func NewCommandExecutor(opts ...Option) *CommandExecutor {
	e := &CommandExecutor{
		concurrency: 12,
		outputLimit: 256 * 1024,
		cmdTimeout:  60 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run implements agent.Executor.
//
// Description:
//
//	Splits the command into an argv vector with quote awareness, runs the
//	process under the context deadline, and captures both streams. A
//	deadline kill is reported as a timed-out result with exit code -1,
//	never as a Go error; the reflection phase treats it as evidence.
func (e *CommandExecutor) Run(ctx context.Context, command string) agent.ExecResult {
	start := time.Now()

	argv, err := splitArgs(command)
	if err != nil {
		return agent.ExecResult{
			ExitCode: -1,
			Err:      err.Error(),
			Duration: time.Since(start),
		}
	}
	if len(argv) == 0 {
		return agent.ExecResult{
			ExitCode: -1,
			Err:      "empty command",
			Duration: time.Since(start),
		}
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	res := agent.ExecResult{
		Stdout:   capBytes(stdout.Bytes(), e.outputLimit),
		Stderr:   capBytes(stderr.Bytes(), e.outputLimit),
		Duration: time.Since(start),
	}

	switch {
	case runErr == nil:
		res.ExitCode = 0

	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		res.ExitCode = -1
		res.TimedOut = true
		res.Err = fmt.Sprintf("command timed out after %s", res.Duration.Round(time.Millisecond))

	default:
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = -1
			res.Err = runErr.Error()
		}
	}

	slog.Debug("Command finished",
		slog.String("binary", argv[0]),
		slog.Int("exit_code", res.ExitCode),
		slog.Bool("timed_out", res.TimedOut),
		slog.Duration("duration", res.Duration),
	)
	return res
}

// RunBatch implements agent.Executor.
//
// Description:
//
//	Executes commands concurrently under the configured semaphore weight.
//	Results come back in request order, one per input, including entries
//	for commands that timed out or failed to start. Each command runs
//	under its own timeout so one hung process cannot stall the batch;
//	the aggregate context additionally bounds the whole pass.
func (e *CommandExecutor) RunBatch(ctx context.Context, commands []string) []agent.ExecResult {
	results := make([]agent.ExecResult, len(commands))
	sem := semaphore.NewWeighted(e.concurrency)

	var wg sync.WaitGroup
	for i, command := range commands {
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = agent.ExecResult{
				ExitCode: -1,
				TimedOut: true,
				Err:      "batch canceled before execution",
			}
			continue
		}
		wg.Add(1)
		go func(i int, command string) {
			defer wg.Done()
			defer sem.Release(1)
			cctx, cancel := context.WithTimeout(ctx, e.cmdTimeout)
			defer cancel()
			results[i] = e.Run(cctx, command)
		}(i, command)
	}
	wg.Wait()
	return results
}

// capBytes returns the buffer as a string, cut at limit.
func capBytes(b []byte, limit int) string {
	if limit > 0 && len(b) > limit {
		return string(b[:limit]) + "... [truncated]"
	}
	return string(b)
}

// splitArgs splits a command into argv honoring single and double quotes.
//
// The safety layer has already rejected substitution and assignments, so
// quoting is the only shell feature that has to survive.
func splitArgs(command string) ([]string, error) {
	var (
		args    []string
		current strings.Builder
		quote   rune
		active  bool
	)
	for _, r := range command {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				current.WriteRune(r)
			}

		case r == '\'' || r == '"':
			quote = r
			active = true

		case r == ' ' || r == '\t' || r == '\n':
			if active || current.Len() > 0 {
				args = append(args, current.String())
				current.Reset()
				active = false
			}

		default:
			current.WriteRune(r)
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unbalanced quote in command")
	}
	if active || current.Len() > 0 {
		args = append(args, current.String())
	}
	return args, nil
}
