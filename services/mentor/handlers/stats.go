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
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jinterlante1206/MentorLocal/services/mentor/analytics"
	"github.com/jinterlante1206/MentorLocal/services/mentor/middleware"
)

// sinceParam parses the optional ?days query parameter, defaulting to 7.
func sinceParam(c *gin.Context) time.Time {
	days := 7
	if raw := c.Query("days"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 90 {
			days = n
		}
	}
	return time.Now().UTC().AddDate(0, 0, -days)
}

// DailyStats serves GET /v1/stats/daily.
func DailyStats(o *Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		counts, err := o.Events.DailyCounts(c.Request.Context(), sinceParam(c))
		if err != nil {
			slog.Error("Failed to aggregate daily counts", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "analytics unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"daily": counts})
	}
}

// PlatformStats serves GET /v1/stats/platforms.
func PlatformStats(o *Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		rollup, err := o.Events.PlatformRollup(c.Request.Context(), sinceParam(c))
		if err != nil {
			slog.Error("Failed to aggregate platform usage", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "analytics unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"platforms": rollup})
	}
}

// LatencyStats serves GET /v1/stats/latency. The ?kind parameter selects
// the event kind, defaulting to hint_requested.
func LatencyStats(o *Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		kind := analytics.EventKind(c.DefaultQuery("kind", string(analytics.EventHintRequested)))
		switch kind {
		case analytics.EventHintRequested, analytics.EventCodeAnalyzed:
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "kind must be hint_requested or code_analyzed"})
			return
		}

		pct, err := o.Events.ResponseTimePercentiles(c.Request.Context(), kind, sinceParam(c))
		if err != nil {
			slog.Error("Failed to aggregate latency percentiles", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "analytics unavailable"})
			return
		}
		c.JSON(http.StatusOK, pct)
	}
}

// MyEngagement serves GET /v1/stats/me. Requires authentication.
func MyEngagement(o *Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		acct := middleware.GetAccount(c)
		if acct == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
			return
		}

		engagement, err := o.Events.Engagement(c.Request.Context(), acct.ID)
		if err != nil {
			slog.Error("Failed to aggregate engagement", "accountId", acct.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "analytics unavailable"})
			return
		}
		c.JSON(http.StatusOK, engagement)
	}
}
