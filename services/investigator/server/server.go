// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package server exposes the investigation API over HTTP.
//
// Runs execute asynchronously; clients follow progress over an SSE stream
// and deliver approval decisions through the approval endpoint.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/ankitjain91/opspilot-sub000/services/investigator/agent"
	"github.com/ankitjain91/opspilot-sub000/services/investigator/agent/events"
	"github.com/ankitjain91/opspilot-sub000/services/investigator/metrics"
)

// Server is the HTTP front end for the investigation loop.
type Server struct {
	loop   agent.Loop
	broker *events.Broker
	config *agent.Config
	engine *gin.Engine
	http   *http.Server
}

// New builds the server and its routes.
//
// Inputs:
//
//	loop - The investigation loop
//	broker - The event broker the loop emits into
//	config - Session configuration applied to new sessions
func New(loop agent.Loop, broker *events.Broker, config *agent.Config) *Server {
	s := &Server{
		loop:   loop,
		broker: broker,
		config: config,
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(otelgin.Middleware("opspilot-investigator"))

	engine.GET("/healthz", s.handleHealth)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := engine.Group("/api/v1")
	{
		api.POST("/investigations", s.handleCreate)
		api.GET("/investigations/:id", s.handleGet)
		api.GET("/investigations/:id/events", s.handleEvents)
		api.POST("/investigations/:id/approval", s.handleApproval)
		api.DELETE("/investigations/:id", s.handleDelete)
	}

	s.engine = engine
	return s
}

// Start begins serving on addr and blocks until the listener fails.
func (s *Server) Start(addr string, readTimeout, writeTimeout time.Duration) error {
	s.http = &http.Server{
		Addr:        addr,
		Handler:     s.engine,
		ReadTimeout: readTimeout,
		// WriteTimeout stays unset unless configured; SSE streams are
		// long-lived and must not be cut by a global write deadline.
		WriteTimeout: writeTimeout,
	}
	slog.Info("Investigator API listening", slog.String("addr", addr))
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// Engine exposes the router for tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// recordOutcome feeds run results into the metrics registry.
func recordOutcome(result *agent.RunResult) {
	if result == nil {
		return
	}
	metrics.RecordRun(result.State.String(), result.Duration, result.Attempts)
	metrics.RecordCommands(result.CommandsRun, result.CommandsBlocked)
}
