// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session owns the per-attempt session record: it accumulates hints
// and code analyses, computes duration and engagement metrics, and drives
// the status transitions (active, completed, abandoned, error).
package session

import (
	"errors"
	"time"
)

// Supported problem platforms.
const (
	PlatformLeetCode   = "leetcode"
	PlatformCodeforces = "codeforces"
	PlatformCodeChef   = "codechef"
)

// Session status values. Any status other than StatusActive implies EndedAt
// is set.
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusAbandoned = "abandoned"
	StatusError     = "error"
)

// Bounded-capture budgets applied uniformly at the ledger boundary. User
// input beyond these byte limits is truncated before storage, never at the
// individual call sites.
const (
	MaxStatementBytes = 2000
	MaxCodeBytes      = 8192
	MaxCommentBytes   = 1000
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionEnded    = errors.New("session is not active")
	ErrInvalidRating   = errors.New("rating must be between 1 and 5")
)

// Problem describes the problem-solving attempt. It is written once at
// session creation; later requests with the same correlation id never
// overwrite it.
type Problem struct {
	Title      string `json:"title"`
	Platform   string `json:"platform"`
	Difficulty string `json:"difficulty,omitempty"`
	Statement  string `json:"statement,omitempty"`
}

// Hint is an immutable entry appended to exactly one session.
type Hint struct {
	Number    int       `json:"number"`
	Content   string    `json:"content"`
	CodeInput string    `json:"code_input,omitempty"`
	LatencyMs int64     `json:"latency_ms"`
	Degraded  bool      `json:"degraded,omitempty"`
	Helpful   *bool     `json:"helpful,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// CodeAnalysis is an immutable entry appended to exactly one session.
type CodeAnalysis struct {
	Number    int       `json:"number"`
	Content   string    `json:"content"`
	CodeInput string    `json:"code_input"`
	Language  string    `json:"language,omitempty"`
	LatencyMs int64     `json:"latency_ms"`
	Degraded  bool      `json:"degraded,omitempty"`
	Helpful   *bool     `json:"helpful,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Metrics are derived aggregates recalculated on every append; the hint and
// analysis sequences themselves are append-only.
type Metrics struct {
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	LastActivityAt time.Time  `json:"last_activity_at"`
	HintsRequested int        `json:"hints_requested"`
	CodeAnalyses   int        `json:"code_analyses"`
	DurationMs     int64      `json:"duration_ms,omitempty"`
}

// Feedback is the optional end-of-session user rating.
type Feedback struct {
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is one problem-solving attempt, correlated across requests by its
// ID.
type Session struct {
	ID        string         `json:"id"`
	AccountID string         `json:"account_id,omitempty"`
	Problem   Problem        `json:"problem"`
	Hints     []Hint         `json:"hints"`
	Analyses  []CodeAnalysis `json:"analyses"`
	Metrics   Metrics        `json:"metrics"`
	Status    string         `json:"status"`
	Feedback  *Feedback      `json:"feedback,omitempty"`
}

// Active reports whether the session still accepts appends.
func (s *Session) Active() bool {
	return s.Status == StatusActive
}

// ValidPlatform reports whether p is a known platform value.
func ValidPlatform(p string) bool {
	switch p {
	case PlatformLeetCode, PlatformCodeforces, PlatformCodeChef:
		return true
	}
	return false
}

// truncate caps s at max bytes. Applied to every user-supplied text field
// before it is stored.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
