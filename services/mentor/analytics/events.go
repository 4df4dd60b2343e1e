// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package analytics is the append-only usage event sink. Events are
// immutable facts; every aggregate is computed over them on the read side,
// never maintained as mutable state.
package analytics

import "time"

// EventKind is the closed enumeration of recordable facts.
type EventKind string

const (
	EventSessionStarted    EventKind = "session_started"
	EventSessionEnded      EventKind = "session_ended"
	EventHintRequested     EventKind = "hint_requested"
	EventCodeAnalyzed      EventKind = "code_analyzed"
	EventUserRegistered    EventKind = "user_registered"
	EventUserLogin         EventKind = "user_login"
	EventLoginFailed       EventKind = "login_failed"
	EventAccountLocked     EventKind = "account_locked"
	EventFeedbackGiven     EventKind = "feedback_given"
	EventProviderDegraded  EventKind = "provider_degraded"
	EventProviderRecovered EventKind = "provider_recovered"
	EventErrorOccurred     EventKind = "error_occurred"
)

// Event is an immutable fact record. Account and session references are
// weak: they relate the event, they never own the referenced record.
type Event struct {
	ID        string                 `json:"id"`
	Kind      EventKind              `json:"kind"`
	AccountID string                 `json:"account_id,omitempty"`
	SessionID string                 `json:"session_id,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}
