// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/jinterlante1206/MentorLocal/services/mentor/handlers"
	"github.com/jinterlante1206/MentorLocal/services/mentor/middleware"
)

// SetupRoutes wires every endpoint of the mentor service.
//
// The mentoring endpoints (/v1/hints, /v1/analyze) take anonymous or
// authenticated traffic and carry a stricter, independent rate limit than
// the rest of the API.
func SetupRoutes(router *gin.Engine, orch *handlers.Orchestrator) {
	router.GET("/health", handlers.HealthCheck(orch.AI))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// General traffic: 1 req/s sustained, bursts of 20 per client.
	generalLimit := middleware.NewRateLimiter("general", rate.Limit(1), 20)
	// AI traffic: one request every 6s sustained, bursts of 3 per client.
	aiLimit := middleware.NewRateLimiter("ai", rate.Every(6*time.Second), 3)

	// API version 1 group
	v1 := router.Group("/v1")
	v1.Use(middleware.OptionalAuth(orch.Guard))
	v1.Use(generalLimit.Middleware())
	{
		ai := v1.Group("")
		ai.Use(aiLimit.Middleware())
		{
			ai.POST("/hints", handlers.GenerateHint(orch))
			ai.POST("/analyze", handlers.AnalyzeCode(orch))
		}

		auth := v1.Group("/auth")
		{
			auth.POST("/register", handlers.Register(orch))
			auth.POST("/login", handlers.Login(orch))
			auth.POST("/password", middleware.RequireAuth(orch.Guard), handlers.ChangePassword(orch))
			auth.DELETE("/account", middleware.RequireAuth(orch.Guard), handlers.DeleteAccount(orch))
		}

		sessions := v1.Group("/sessions")
		{
			sessions.GET("/:sessionId", handlers.GetSession(orch))
			sessions.POST("/:sessionId/end", handlers.EndSession(orch))
			sessions.POST("/:sessionId/feedback", handlers.RecordFeedback(orch))
		}

		stats := v1.Group("/stats")
		{
			stats.GET("/daily", handlers.DailyStats(orch))
			stats.GET("/platforms", handlers.PlatformStats(orch))
			stats.GET("/latency", handlers.LatencyStats(orch))
			stats.GET("/me", middleware.RequireAuth(orch.Guard), handlers.MyEngagement(orch))
		}
	}
}
