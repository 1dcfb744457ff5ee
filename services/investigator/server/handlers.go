// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ankitjain91/opspilot-sub000/services/investigator/agent"
	"github.com/ankitjain91/opspilot-sub000/services/investigator/agent/events"
	"github.com/ankitjain91/opspilot-sub000/services/investigator/metrics"
)

// createRequest starts an investigation.
type createRequest struct {
	Goal string `json:"goal" binding:"required"`
}

// approvalRequest delivers a human decision to a parked run.
type approvalRequest struct {
	Granted bool   `json:"granted"`
	Reason  string `json:"reason"`
}

// errorBody is the uniform error response.
type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleCreate starts an asynchronous investigation run.
func (s *Server) handleCreate(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: "goal is required"})
		return
	}

	session, err := agent.NewSession(s.config)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}

	go func() {
		// The run outlives the HTTP request; progress flows over SSE.
		result, runErr := s.loop.Run(context.Background(), session, req.Goal)
		recordOutcome(result)
		if runErr != nil {
			slog.Error("Investigation run failed",
				slog.String("session_id", session.ID),
				slog.String("error", runErr.Error()),
			)
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{
		"session_id": session.ID,
		"state":      session.GetState().String(),
	})
}

// handleGet returns the session's current state and investigation record.
func (s *Server) handleGet(c *gin.Context) {
	session, err := s.loop.GetSession(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, errorBody{Error: "session not found"})
		return
	}
	c.JSON(http.StatusOK, session.ToSnapshot())
}

// handleApproval resumes a parked run with the operator's decision.
func (s *Server) handleApproval(c *gin.Context) {
	var req approvalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: "invalid approval payload"})
		return
	}
	sessionID := c.Param("id")

	metrics.RecordApproval(req.Granted)

	go func() {
		result, err := s.loop.Resume(context.Background(), sessionID, agent.ApprovalDecision{
			Granted: req.Granted,
			Reason:  req.Reason,
		})
		recordOutcome(result)
		if err != nil && !errors.Is(err, agent.ErrNotAwaitingApproval) {
			slog.Error("Investigation resume failed",
				slog.String("session_id", sessionID),
				slog.String("error", err.Error()),
			)
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"session_id": sessionID})
}

// handleDelete closes a session.
func (s *Server) handleDelete(c *gin.Context) {
	if err := s.loop.CloseSession(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, errorBody{Error: "session not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

// handleEvents streams session events over SSE until the client leaves.
func (s *Server) handleEvents(c *gin.Context) {
	sessionID := c.Param("id")
	if _, err := s.loop.GetSession(sessionID); err != nil {
		c.JSON(http.StatusNotFound, errorBody{Error: "session not found"})
		return
	}

	ch, cancel := s.broker.Subscribe(sessionID)
	defer cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	c.Stream(func(w io.Writer) bool {
		select {
		case event, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(string(event.Type), event)
			// Terminal events end the stream.
			return event.Type != events.TypeDone && event.Type != events.TypeError

		case <-c.Request.Context().Done():
			return false
		}
	})
}
