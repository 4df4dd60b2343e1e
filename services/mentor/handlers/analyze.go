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
	"go.opentelemetry.io/otel/codes"

	"github.com/jinterlante1206/MentorLocal/services/mentor/analytics"
	"github.com/jinterlante1206/MentorLocal/services/mentor/datatypes"
	"github.com/jinterlante1206/MentorLocal/services/mentor/middleware"
	"github.com/jinterlante1206/MentorLocal/services/mentor/resilience"
	"github.com/jinterlante1206/MentorLocal/services/mentor/session"
)

// AnalyzeCode serves POST /v1/analyze.
func AnalyzeCode(o *Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqCtx, span := tracer.Start(c.Request.Context(), "AnalyzeCode")
		defer span.End()
		start := time.Now()

		var req datatypes.AnalyzeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			slog.Error("Failed to parse the analyze request", "error", err)
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

		accountID := ""
		if acct := middleware.GetAccount(c); acct != nil {
			accountID = acct.ID
		}

		// Same disconnect semantics as GenerateHint: finish the provider
		// call and the append even if the client goes away.
		ctx := context.WithoutCancel(reqCtx)

		sess, err := o.Ledger.FindOrCreate(ctx, c.GetHeader(SessionIDHeader), session.Problem{
			Title:     req.ProblemTitle,
			Platform:  req.Platform,
			Statement: req.ProblemStatement,
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

		content := o.AI.ProduceAnalysis(ctx, resilience.AnalysisContext{
			Title:     sess.Problem.Title,
			Statement: req.ProblemStatement,
			Platform:  sess.Problem.Platform,
			UserCode:  req.UserCode,
		})
		language := resilience.DetectLanguage(req.UserCode)

		updated, err := o.Ledger.AppendAnalysis(ctx, sess.ID, session.CodeAnalysis{
			Content:   content.Text,
			CodeInput: req.UserCode,
			Language:  language,
			LatencyMs: content.LatencyMs,
			Degraded:  content.Degraded,
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Failed to append the analysis", "sessionId", sess.ID, "error", err)
			o.Events.Record(ctx, analytics.EventErrorOccurred, map[string]interface{}{
				"operation": "append_analysis",
			}, accountID, sess.ID)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to persist the analysis"})
			return
		}

		responseTime := time.Since(start).Milliseconds()
		o.Events.Record(ctx, analytics.EventCodeAnalyzed, map[string]interface{}{
			"platform":         updated.Problem.Platform,
			"language":         language,
			"degraded":         content.Degraded,
			"response_time_ms": float64(responseTime),
		}, accountID, updated.ID)
		o.observe("analyze", content.Degraded, start)

		c.JSON(http.StatusOK, datatypes.AnalyzeResponse{
			Analysis:         content.Text,
			SessionID:        updated.ID,
			ResponseTimeMs:   responseTime,
			DetectedLanguage: language,
			Degraded:         content.Degraded,
		})
	}
}
