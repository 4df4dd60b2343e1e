// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the HTTP handlers of the mentor service. The
// Orchestrator bundle drives each mentoring request through session
// resolution, content production, persistence, and event emission; provider
// failures are absorbed as degraded content, so the hint and analysis
// endpoints never answer with a bare provider error.
package handlers

import (
	"go.opentelemetry.io/otel"

	"github.com/jinterlante1206/MentorLocal/services/mentor/accounts"
	"github.com/jinterlante1206/MentorLocal/services/mentor/analytics"
	"github.com/jinterlante1206/MentorLocal/services/mentor/observability"
	"github.com/jinterlante1206/MentorLocal/services/mentor/resilience"
	"github.com/jinterlante1206/MentorLocal/services/mentor/session"
)

var tracer = otel.Tracer("mentor.handlers")

// SessionIDHeader carries the client-supplied correlation id. When absent
// or stale the ledger generates a fresh session id, returned in the body.
const SessionIDHeader = "X-Session-Id"

// Orchestrator bundles the components a mentoring request flows through.
type Orchestrator struct {
	Guard   *accounts.Guard
	Ledger  *session.Ledger
	AI      *resilience.Wrapper
	Events  *analytics.Recorder
	Metrics *observability.MentorMetrics
}
