// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging provides structured logging for the investigator service.
//
// Built on log/slog with two destinations: stderr text output for
// interactive use, and optional JSON file output for deployments. Init
// installs the configured logger as the slog default so the rest of the
// codebase logs through the standard package-level functions.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Level is the minimum severity emitted.
type Level int

const (
	// LevelDebug emits everything.
	LevelDebug Level = iota

	// LevelInfo is the production default.
	LevelInfo

	// LevelWarn emits warnings and errors only.
	LevelWarn

	// LevelError emits errors only.
	LevelError
)

// ParseLevel maps a configuration string to a Level.
//
// Unknown strings fall back to LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// String returns the level name.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// toSlogLevel converts to the slog scale.
func (l Level) toSlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config configures the logger.
type Config struct {
	// Level is the minimum severity emitted.
	Level Level

	// Service names the emitting service in file names and attributes.
	Service string

	// LogDir enables JSON file logging when non-empty. Supports a
	// leading ~ for the home directory.
	LogDir string
}

// Logger wraps slog with an optional file destination.
//
// Thread Safety:
//
//	Logger is safe for concurrent use.
type Logger struct {
	slog *slog.Logger
	file *os.File
}

// Init builds the logger and installs it as the slog default.
//
// Description:
//
//	Always logs text to stderr. When LogDir is set, additionally logs
//	JSON to {service}_{date}.log in that directory, creating it as
//	needed.
//
// Outputs:
//
//	*Logger - The logger; call Close on shutdown when file logging is on
//	error - Non-nil when the log directory or file cannot be created
func Init(config Config) (*Logger, error) {
	if config.Service == "" {
		config.Service = "opspilot"
	}
	level := config.Level.toSlogLevel()

	handlers := []slog.Handler{
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}),
	}

	var file *os.File
	if config.LogDir != "" {
		dir := expandPath(config.LogDir)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("logging: create %s: %w", dir, err)
		}
		name := fmt.Sprintf("%s_%s.log", config.Service, time.Now().Format("2006-01-02"))
		f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("logging: open log file: %w", err)
		}
		file = f
		handlers = append(handlers,
			slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level}))
	}

	base := slog.New(&multiHandler{handlers: handlers}).
		With(slog.String("service", config.Service))
	slog.SetDefault(base)

	return &Logger{slog: base, file: file}, nil
}

// Slog returns the underlying slog logger.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// Close flushes and closes the file destination, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	if err := l.file.Sync(); err != nil {
		l.file.Close()
		return err
	}
	return l.file.Close()
}

// multiHandler fans out log records to multiple slog handlers.
//
// This enables simultaneous output to stderr and file with different
// formats (text vs JSON).
type multiHandler struct {
	handlers []slog.Handler
}

// Enabled returns true if any handler is enabled for the level.
func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle sends the record to all enabled handlers.
func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			if err := handler.Handle(ctx, r); err != nil {
				return err
			}
		}
	}
	return nil
}

// WithAttrs returns a new handler with additional attributes.
func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

// WithGroup returns a new handler with a group name.
func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
