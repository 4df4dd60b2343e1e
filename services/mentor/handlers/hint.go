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
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/jinterlante1206/MentorLocal/services/mentor/analytics"
	"github.com/jinterlante1206/MentorLocal/services/mentor/datatypes"
	"github.com/jinterlante1206/MentorLocal/services/mentor/middleware"
	"github.com/jinterlante1206/MentorLocal/services/mentor/resilience"
	"github.com/jinterlante1206/MentorLocal/services/mentor/session"
)

// GenerateHint serves POST /v1/hints.
func GenerateHint(o *Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqCtx, span := tracer.Start(c.Request.Context(), "GenerateHint")
		defer span.End()
		start := time.Now()

		var req datatypes.HintRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			slog.Error("Failed to parse the hint request", "error", err)
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
		span.SetAttributes(attribute.String("mentor.platform", req.Platform))

		accountID := ""
		if acct := middleware.GetAccount(c); acct != nil {
			accountID = acct.ID
		}

		// A disconnecting client must not cancel the provider call or the
		// session append; the completed work is kept, only the response
		// write is skipped.
		ctx := context.WithoutCancel(reqCtx)

		sess, err := o.Ledger.FindOrCreate(ctx, c.GetHeader(SessionIDHeader), session.Problem{
			Title:      req.ProblemTitle,
			Platform:   req.Platform,
			Difficulty: req.Difficulty,
			Statement:  req.ProblemStatement,
		}, accountID)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Failed to resolve the session", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "session store unavailable"})
			return
		}
		if len(sess.Hints) == 0 && len(sess.Analyses) == 0 {
			o.Events.Record(ctx, analytics.EventSessionStarted, map[string]interface{}{
				"platform": sess.Problem.Platform,
			}, accountID, sess.ID)
		}

		priorHints := make([]string, 0, len(sess.Hints))
		for _, h := range sess.Hints {
			priorHints = append(priorHints, h.Content)
		}
		if len(priorHints) == 0 {
			priorHints = req.PreviousHints
		}

		content := o.AI.ProduceHint(ctx, resilience.HintContext{
			Title:         sess.Problem.Title,
			Statement:     req.ProblemStatement,
			Platform:      sess.Problem.Platform,
			Difficulty:    sess.Problem.Difficulty,
			PreviousHints: priorHints,
			UserCode:      req.UserCode,
			HintIndex:     len(priorHints),
			Verbosity:     req.Verbosity,
		})

		updated, err := o.Ledger.AppendHint(ctx, sess.ID, session.Hint{
			Content:   content.Text,
			CodeInput: req.UserCode,
			LatencyMs: content.LatencyMs,
			Degraded:  content.Degraded,
		})
		if err != nil {
			// Losing a produced hint silently would corrupt the session
			// record, so append failures are surfaced.
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Failed to append the hint", "sessionId", sess.ID, "error", err)
			o.Events.Record(ctx, analytics.EventErrorOccurred, map[string]interface{}{
				"operation": "append_hint",
			}, accountID, sess.ID)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to persist the hint"})
			return
		}

		responseTime := time.Since(start).Milliseconds()
		o.Events.Record(ctx, analytics.EventHintRequested, map[string]interface{}{
			"platform":         updated.Problem.Platform,
			"hint_number":      updated.Metrics.HintsRequested,
			"degraded":         content.Degraded,
			"response_time_ms": float64(responseTime),
		}, accountID, updated.ID)
		o.observe("hint", content.Degraded, start)

		c.JSON(http.StatusOK, datatypes.HintResponse{
			Hint:           content.Text,
			HintNumber:     updated.Metrics.HintsRequested,
			SessionID:      updated.ID,
			ResponseTimeMs: responseTime,
			Degraded:       content.Degraded,
		})
	}
}

// observe updates the request metrics for one mentoring response.
func (o *Orchestrator) observe(endpoint string, degraded bool, start time.Time) {
	if o.Metrics == nil {
		return
	}
	mode := "live"
	if degraded {
		mode = "fallback"
	}
	o.Metrics.RequestsTotal.WithLabelValues(endpoint, mode).Inc()
	o.Metrics.ResponseSeconds.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}
