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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/jinterlante1206/MentorLocal/services/llm"
	"github.com/jinterlante1206/MentorLocal/services/mentor/accounts"
	"github.com/jinterlante1206/MentorLocal/services/mentor/analytics"
	"github.com/jinterlante1206/MentorLocal/services/mentor/datatypes"
	"github.com/jinterlante1206/MentorLocal/services/mentor/middleware"
	"github.com/jinterlante1206/MentorLocal/services/mentor/resilience"
	"github.com/jinterlante1206/MentorLocal/services/mentor/session"
	storage "github.com/jinterlante1206/MentorLocal/services/mentor/storage/badger"
)

// fakeLLM is a scriptable backend for handler tests.
type fakeLLM struct {
	response string
	err      error
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string, params llm.GenerationParams) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func (f *fakeLLM) Name() string { return "fake" }

type harness struct {
	router *gin.Engine
	orch   *Orchestrator
	llm    *fakeLLM
}

// newHarness wires an orchestrator over in-memory storage and registers the
// handler routes without rate limiting, which has its own tests.
func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := storage.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	guardCfg := accounts.DefaultConfig()
	guardCfg.BcryptCost = bcrypt.MinCost
	guardCfg.TokenSecret = []byte("test-secret")
	guard := accounts.NewGuard(accounts.NewStore(db), guardCfg)

	backend := &fakeLLM{response: "Think about what you could precompute."}
	orch := &Orchestrator{
		Guard:  guard,
		Ledger: session.NewLedger(db, session.DefaultConfig()),
		AI: resilience.NewWrapper(backend, resilience.Config{
			CallTimeout:   time.Second,
			ProbeTimeout:  time.Second,
			ProbeInterval: time.Minute,
		}),
		Events: analytics.NewRecorder(db, analytics.DefaultConfig()),
	}

	router := gin.New()
	router.GET("/health", HealthCheck(orch.AI))
	v1 := router.Group("/v1", middleware.OptionalAuth(guard))
	{
		v1.POST("/hints", GenerateHint(orch))
		v1.POST("/analyze", AnalyzeCode(orch))

		auth := v1.Group("/auth")
		auth.POST("/register", Register(orch))
		auth.POST("/login", Login(orch))
		auth.POST("/password", middleware.RequireAuth(guard), ChangePassword(orch))
		auth.DELETE("/account", middleware.RequireAuth(guard), DeleteAccount(orch))

		sessions := v1.Group("/sessions")
		sessions.GET("/:sessionId", GetSession(orch))
		sessions.POST("/:sessionId/end", EndSession(orch))
		sessions.POST("/:sessionId/feedback", RecordFeedback(orch))

		stats := v1.Group("/stats")
		stats.GET("/daily", DailyStats(orch))
		stats.GET("/platforms", PlatformStats(orch))
		stats.GET("/latency", LatencyStats(orch))
		stats.GET("/me", middleware.RequireAuth(guard), MyEngagement(orch))
	}

	return &harness{router: router, orch: orch, llm: backend}
}

type reqOpt func(*http.Request)

func withToken(token string) reqOpt {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func withSession(id string) reqOpt {
	return func(r *http.Request) { r.Header.Set(SessionIDHeader, id) }
}

func (h *harness) do(t *testing.T, method, path string, body interface{}, opts ...reqOpt) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for _, opt := range opts {
		opt(req)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

var hintBody = datatypes.HintRequest{
	ProblemTitle: "Two Sum",
	Platform:     "leetcode",
	Difficulty:   "easy",
}

// TestGenerateHint verifies the full hint flow: session creation on the
// first call, correlation on the second, and progressive numbering.
func TestGenerateHint(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodPost, "/v1/hints", hintBody)
	require.Equal(t, http.StatusOK, w.Code)
	first := decode[datatypes.HintResponse](t, w)
	assert.Equal(t, h.llm.response, first.Hint)
	assert.Equal(t, 1, first.HintNumber)
	assert.NotEmpty(t, first.SessionID)
	assert.False(t, first.Degraded)

	t.Run("correlated request continues the session", func(t *testing.T) {
		w := h.do(t, http.MethodPost, "/v1/hints", hintBody, withSession(first.SessionID))
		require.Equal(t, http.StatusOK, w.Code)
		second := decode[datatypes.HintResponse](t, w)
		assert.Equal(t, first.SessionID, second.SessionID)
		assert.Equal(t, 2, second.HintNumber)
	})

	t.Run("stale correlation id starts a new session", func(t *testing.T) {
		w := h.do(t, http.MethodPost, "/v1/hints", hintBody, withSession("gone"))
		require.Equal(t, http.StatusOK, w.Code)
		fresh := decode[datatypes.HintResponse](t, w)
		assert.NotEqual(t, first.SessionID, fresh.SessionID)
		assert.Equal(t, 1, fresh.HintNumber)
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/hints", bytes.NewBufferString("{not json"))
		w := httptest.NewRecorder()
		h.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("validation failure names the field", func(t *testing.T) {
		bad := hintBody
		bad.ProblemTitle = ""
		w := h.do(t, http.MethodPost, "/v1/hints", bad)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "ProblemTitle")
	})
}

// TestGenerateHintDegraded verifies provider failure still answers 200 with
// fallback content.
func TestGenerateHintDegraded(t *testing.T) {
	h := newHarness(t)
	h.llm.err = errors.New("connection refused")

	w := h.do(t, http.MethodPost, "/v1/hints", hintBody)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[datatypes.HintResponse](t, w)
	assert.True(t, got.Degraded)
	assert.NotEmpty(t, got.Hint)

	t.Run("health endpoint reflects the degradation", func(t *testing.T) {
		w := h.do(t, http.MethodGet, "/health", nil)
		require.Equal(t, http.StatusOK, w.Code)
		status := decode[resilience.HealthStatus](t, w)
		assert.False(t, status.Healthy)
		assert.Equal(t, "fake", status.Provider)
	})
}

// TestAnalyzeCode verifies the analysis flow and language detection.
func TestAnalyzeCode(t *testing.T) {
	h := newHarness(t)
	h.llm.response = "The nested loop makes this quadratic."

	body := datatypes.AnalyzeRequest{
		ProblemTitle: "Two Sum",
		Platform:     "leetcode",
		UserCode:     "def two_sum(nums, target):\n    seen = {}\n",
	}
	w := h.do(t, http.MethodPost, "/v1/analyze", body)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[datatypes.AnalyzeResponse](t, w)
	assert.Equal(t, h.llm.response, got.Analysis)
	assert.Equal(t, "python", got.DetectedLanguage)
	assert.NotEmpty(t, got.SessionID)

	t.Run("hints and analyses share one session", func(t *testing.T) {
		w := h.do(t, http.MethodPost, "/v1/hints", hintBody, withSession(got.SessionID))
		require.Equal(t, http.StatusOK, w.Code)
		hint := decode[datatypes.HintResponse](t, w)
		assert.Equal(t, got.SessionID, hint.SessionID)
	})

	t.Run("missing code rejected", func(t *testing.T) {
		bad := body
		bad.UserCode = ""
		w := h.do(t, http.MethodPost, "/v1/analyze", bad)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

type authResponse struct {
	Token   string                  `json:"token"`
	Account accounts.PublicAccount `json:"account"`
}

// TestAuthFlow walks register, duplicate register, login, bad login, and the
// lockout surface.
func TestAuthFlow(t *testing.T) {
	h := newHarness(t)

	register := datatypes.RegisterRequest{
		Email:    "alice@example.com",
		Handle:   "alice",
		Password: "correct-horse",
	}
	w := h.do(t, http.MethodPost, "/v1/auth/register", register)
	require.Equal(t, http.StatusCreated, w.Code)
	created := decode[authResponse](t, w)
	assert.NotEmpty(t, created.Token)
	assert.Equal(t, "alice", created.Account.Handle)
	assert.NotContains(t, w.Body.String(), "password_hash")

	t.Run("duplicate register", func(t *testing.T) {
		w := h.do(t, http.MethodPost, "/v1/auth/register", register)
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("login with handle", func(t *testing.T) {
		w := h.do(t, http.MethodPost, "/v1/auth/login",
			datatypes.LoginRequest{Identifier: "alice", Password: "correct-horse"})
		require.Equal(t, http.StatusOK, w.Code)
		assert.NotEmpty(t, decode[authResponse](t, w).Token)
	})

	t.Run("wrong password", func(t *testing.T) {
		w := h.do(t, http.MethodPost, "/v1/auth/login",
			datatypes.LoginRequest{Identifier: "alice", Password: "wrong"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("lockout answers 423 with the remaining time", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			h.do(t, http.MethodPost, "/v1/auth/login",
				datatypes.LoginRequest{Identifier: "alice", Password: "wrong"})
		}
		w := h.do(t, http.MethodPost, "/v1/auth/login",
			datatypes.LoginRequest{Identifier: "alice", Password: "correct-horse"})
		assert.Equal(t, http.StatusLocked, w.Code)
		assert.Contains(t, w.Body.String(), "remainingMinutes")
	})
}

// TestChangePassword verifies the authenticated password change and that the
// old token stops working.
func TestChangePassword(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodPost, "/v1/auth/register", datatypes.RegisterRequest{
		Email: "bob@example.com", Handle: "bob", Password: "correct-horse",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	token := decode[authResponse](t, w).Token

	t.Run("requires auth", func(t *testing.T) {
		w := h.do(t, http.MethodPost, "/v1/auth/password", datatypes.ChangePasswordRequest{
			OldPassword: "correct-horse", NewPassword: "new-horse-stapler",
		})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("wrong old password", func(t *testing.T) {
		w := h.do(t, http.MethodPost, "/v1/auth/password", datatypes.ChangePasswordRequest{
			OldPassword: "wrong", NewPassword: "new-horse-stapler",
		}, withToken(token))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	w = h.do(t, http.MethodPost, "/v1/auth/password", datatypes.ChangePasswordRequest{
		OldPassword: "correct-horse", NewPassword: "new-horse-stapler",
	}, withToken(token))
	require.Equal(t, http.StatusOK, w.Code)

	t.Run("old token superseded", func(t *testing.T) {
		w := h.do(t, http.MethodPost, "/v1/auth/password", datatypes.ChangePasswordRequest{
			OldPassword: "new-horse-stapler", NewPassword: "another-long-one",
		}, withToken(token))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "superseded")
	})
}

// TestSessionEndpoints verifies retrieval, ownership, idempotent end, and
// feedback.
func TestSessionEndpoints(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodPost, "/v1/auth/register", datatypes.RegisterRequest{
		Email: "carol@example.com", Handle: "carol", Password: "correct-horse",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	token := decode[authResponse](t, w).Token

	w = h.do(t, http.MethodPost, "/v1/hints", hintBody, withToken(token))
	require.Equal(t, http.StatusOK, w.Code)
	sessionID := decode[datatypes.HintResponse](t, w).SessionID

	t.Run("owner reads the session", func(t *testing.T) {
		w := h.do(t, http.MethodGet, "/v1/sessions/"+sessionID, nil, withToken(token))
		require.Equal(t, http.StatusOK, w.Code)
		sess := decode[session.Session](t, w)
		assert.Equal(t, sessionID, sess.ID)
		assert.Len(t, sess.Hints, 1)
	})

	t.Run("anonymous reader is refused", func(t *testing.T) {
		w := h.do(t, http.MethodGet, "/v1/sessions/"+sessionID, nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("unknown session", func(t *testing.T) {
		w := h.do(t, http.MethodGet, "/v1/sessions/no-such-id", nil, withToken(token))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("end is idempotent", func(t *testing.T) {
		w := h.do(t, http.MethodPost, "/v1/sessions/"+sessionID+"/end",
			datatypes.EndSessionRequest{Completed: true}, withToken(token))
		require.Equal(t, http.StatusOK, w.Code)
		ended := decode[session.Session](t, w)
		assert.Equal(t, session.StatusCompleted, ended.Status)

		w = h.do(t, http.MethodPost, "/v1/sessions/"+sessionID+"/end",
			datatypes.EndSessionRequest{Completed: false}, withToken(token))
		require.Equal(t, http.StatusOK, w.Code)
		again := decode[session.Session](t, w)
		assert.Equal(t, session.StatusCompleted, again.Status)
	})

	t.Run("feedback after end", func(t *testing.T) {
		w := h.do(t, http.MethodPost, "/v1/sessions/"+sessionID+"/feedback",
			datatypes.FeedbackRequest{Rating: 5, Comment: "solved it"}, withToken(token))
		assert.Equal(t, http.StatusOK, w.Code)

		w = h.do(t, http.MethodPost, "/v1/sessions/"+sessionID+"/feedback",
			datatypes.FeedbackRequest{Rating: 9}, withToken(token))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

// TestStatsEndpoints seeds traffic through the public surface and verifies
// the aggregate endpoints answer from it.
func TestStatsEndpoints(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodPost, "/v1/auth/register", datatypes.RegisterRequest{
		Email: "dave@example.com", Handle: "dave", Password: "correct-horse",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	token := decode[authResponse](t, w).Token

	w = h.do(t, http.MethodPost, "/v1/hints", hintBody, withToken(token))
	require.Equal(t, http.StatusOK, w.Code)
	sessionID := decode[datatypes.HintResponse](t, w).SessionID

	w = h.do(t, http.MethodPost, "/v1/analyze", datatypes.AnalyzeRequest{
		ProblemTitle: "Two Sum", UserCode: "def f():\n    return 1\n",
	}, withToken(token), withSession(sessionID))
	require.Equal(t, http.StatusOK, w.Code)

	t.Run("daily counts", func(t *testing.T) {
		w := h.do(t, http.MethodGet, "/v1/stats/daily", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "hint_requested")
	})

	t.Run("platform rollup", func(t *testing.T) {
		w := h.do(t, http.MethodGet, "/v1/stats/platforms", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "leetcode")
	})

	t.Run("latency percentiles", func(t *testing.T) {
		w := h.do(t, http.MethodGet, "/v1/stats/latency?kind=hint_requested", nil)
		require.Equal(t, http.StatusOK, w.Code)
		got := decode[analytics.LatencyPercentiles](t, w)
		assert.Equal(t, 1, got.Count)
	})

	t.Run("latency rejects other kinds", func(t *testing.T) {
		w := h.do(t, http.MethodGet, "/v1/stats/latency?kind=user_login", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("engagement requires auth", func(t *testing.T) {
		w := h.do(t, http.MethodGet, "/v1/stats/me", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)

		w = h.do(t, http.MethodGet, "/v1/stats/me", nil, withToken(token))
		require.Equal(t, http.StatusOK, w.Code)
		got := decode[analytics.AccountEngagement](t, w)
		assert.Equal(t, 1, got.SessionsOpened)
		assert.Equal(t, 1, got.HintsRequested)
		assert.Equal(t, 1, got.CodeAnalyses)
	})
}
