// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jinterlante1206/MentorLocal/services/mentor/accounts"
	"github.com/jinterlante1206/MentorLocal/services/mentor/analytics"
	"github.com/jinterlante1206/MentorLocal/services/mentor/datatypes"
	"github.com/jinterlante1206/MentorLocal/services/mentor/middleware"
	"github.com/jinterlante1206/MentorLocal/services/mentor/session"
)

// GetSession serves GET /v1/sessions/:sessionId. Sessions owned by an
// account are only visible to that account (or an admin); anonymous
// sessions are readable by anyone holding the id.
func GetSession(o *Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := o.loadOwnedSession(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, sess)
	}
}

// EndSession serves POST /v1/sessions/:sessionId/end. Idempotent.
func EndSession(o *Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := o.loadOwnedSession(c)
		if !ok {
			return
		}

		var req datatypes.EndSessionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		wasActive := sess.Active()
		ended, err := o.Ledger.End(c.Request.Context(), sess.ID, req.Completed)
		if err != nil {
			slog.Error("Failed to end the session", "sessionId", sess.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to end session"})
			return
		}
		if wasActive {
			o.Events.Record(c.Request.Context(), analytics.EventSessionEnded, map[string]interface{}{
				"completed":   req.Completed,
				"duration_ms": float64(ended.Metrics.DurationMs),
				"hints":       float64(ended.Metrics.HintsRequested),
				"analyses":    float64(ended.Metrics.CodeAnalyses),
			}, ended.AccountID, ended.ID)
		}
		c.JSON(http.StatusOK, ended)
	}
}

// RecordFeedback serves POST /v1/sessions/:sessionId/feedback.
func RecordFeedback(o *Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := o.loadOwnedSession(c)
		if !ok {
			return
		}

		var req datatypes.FeedbackRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":  "validation failed",
				"fields": datatypes.FieldErrors(err),
			})
			return
		}

		updated, err := o.Ledger.RecordFeedback(c.Request.Context(), sess.ID, req.Rating, req.Comment)
		if err != nil {
			if errors.Is(err, session.ErrInvalidRating) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			slog.Error("Failed to record feedback", "sessionId", sess.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record feedback"})
			return
		}
		o.Events.Record(c.Request.Context(), analytics.EventFeedbackGiven, map[string]interface{}{
			"rating": float64(req.Rating),
		}, updated.AccountID, updated.ID)
		c.JSON(http.StatusOK, gin.H{"status": "feedback recorded"})
	}
}

// loadOwnedSession resolves the :sessionId param and enforces ownership.
// Writes the error response itself and returns ok=false on any failure.
func (o *Orchestrator) loadOwnedSession(c *gin.Context) (*session.Session, bool) {
	sess, err := o.Ledger.Get(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return nil, false
		}
		slog.Error("Failed to load the session", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session store unavailable"})
		return nil, false
	}

	if sess.AccountID != "" {
		acct := middleware.GetAccount(c)
		if acct == nil || (acct.ID != sess.AccountID && acct.Role != accounts.RoleAdmin) {
			c.JSON(http.StatusForbidden, gin.H{"error": "not your session"})
			return nil, false
		}
	}
	return sess, true
}
