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
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jinterlante1206/MentorLocal/services/mentor/resilience"
)

// HealthCheck serves GET /health. It reports the wrapper's current health
// belief; it does not trigger a probe, probes are pull-based on the
// mentoring path.
func HealthCheck(ai *resilience.Wrapper) gin.HandlerFunc {
	return func(c *gin.Context) {
		// The service still answers hint/analysis requests in degraded
		// mode, so a sick provider is not a 503.
		c.JSON(http.StatusOK, ai.Status())
	}
}
