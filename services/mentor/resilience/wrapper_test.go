// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resilience

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinterlante1206/MentorLocal/services/llm"
)

// stubClient is a scriptable LLMClient for wrapper tests.
type stubClient struct {
	response string
	err      error
	calls    atomic.Int64
	// lastPrompt holds the most recent prompt; read only after calls settle.
	lastPrompt atomic.Value
}

func (s *stubClient) Generate(ctx context.Context, prompt string, params llm.GenerationParams) (string, error) {
	s.calls.Add(1)
	s.lastPrompt.Store(prompt)
	if s.err != nil {
		return "", s.err
	}
	return s.response, nil
}

func (s *stubClient) Name() string { return "stub" }

func newTestWrapper(client *stubClient) *Wrapper {
	w := NewWrapper(client, Config{
		CallTimeout:   time.Second,
		ProbeTimeout:  time.Second,
		ProbeInterval: time.Minute,
	})
	return w
}

// TestProduceHintHealthy verifies the live path returns provider output and
// stays healthy.
func TestProduceHintHealthy(t *testing.T) {
	client := &stubClient{response: "Consider what data structure gives O(1) lookups."}
	w := newTestWrapper(client)

	got := w.ProduceHint(context.Background(), HintContext{Title: "Two Sum", HintIndex: 0})
	assert.False(t, got.Degraded)
	assert.Equal(t, client.response, got.Text)
	assert.True(t, w.Status().Healthy)
}

// TestProduceHintDegraded verifies that a provider failure yields fallback
// content, flips the health flag, and fires the transition callback once.
func TestProduceHintDegraded(t *testing.T) {
	client := &stubClient{err: errors.New("connection refused")}
	w := newTestWrapper(client)

	var transitions []bool
	w.OnTransition = func(healthy bool) { transitions = append(transitions, healthy) }

	got := w.ProduceHint(context.Background(), HintContext{Title: "Two Sum", HintIndex: 0})
	assert.True(t, got.Degraded)
	assert.NotEmpty(t, got.Text)
	assert.False(t, w.Status().Healthy)
	assert.Equal(t, []bool{false}, transitions)

	t.Run("second failure does not re-notify", func(t *testing.T) {
		// Already degraded and inside the probe interval, so no live call
		// happens and no further transition fires.
		before := client.calls.Load()
		_ = w.ProduceHint(context.Background(), HintContext{HintIndex: 1})
		assert.Equal(t, before, client.calls.Load())
		assert.Equal(t, []bool{false}, transitions)
	})
}

// TestFallbackLadderProgression verifies successive degraded hints walk the
// ladder without repeating and hold at the final entry.
func TestFallbackLadderProgression(t *testing.T) {
	client := &stubClient{err: errors.New("down")}
	w := newTestWrapper(client)
	ctx := context.Background()

	var hints []string
	for i := 0; i < len(ladder.Hints)+3; i++ {
		got := w.ProduceHint(ctx, HintContext{HintIndex: i})
		require.True(t, got.Degraded)
		hints = append(hints, got.Text)
	}

	for i := 1; i < len(ladder.Hints); i++ {
		assert.NotEqual(t, hints[i-1], hints[i], "ladder entries must not repeat")
	}
	last := ladder.Hints[len(ladder.Hints)-1]
	for i := len(ladder.Hints); i < len(hints); i++ {
		assert.Equal(t, last, hints[i], "ladder holds at its final entry")
	}
}

// TestProduceAnalysisDegraded verifies the degraded analysis derives its
// findings from the submitted code rather than returning a canned string.
func TestProduceAnalysisDegraded(t *testing.T) {
	client := &stubClient{err: errors.New("down")}
	w := newTestWrapper(client)
	ctx := context.Background()

	nested := "for i in range(n):\n    for j in range(n):\n        check(i, j)\n"
	got := w.ProduceAnalysis(ctx, AnalysisContext{Title: "Two Sum", UserCode: nested})
	assert.True(t, got.Degraded)
	assert.Contains(t, got.Text, "multiple loops")

	empty := w.ProduceAnalysis(ctx, AnalysisContext{Title: "Two Sum", UserCode: "   "})
	assert.Contains(t, empty.Text, "No code was submitted")
	assert.NotEqual(t, got.Text, empty.Text)
}

// TestProbe verifies canary classification and recovery.
func TestProbe(t *testing.T) {
	client := &stubClient{err: errors.New("down")}
	w := newTestWrapper(client)
	ctx := context.Background()

	var transitions []bool
	w.OnTransition = func(healthy bool) { transitions = append(transitions, healthy) }

	_ = w.ProduceHint(ctx, HintContext{HintIndex: 0})
	require.False(t, w.Status().Healthy)

	t.Run("failed probe stays degraded", func(t *testing.T) {
		status := w.Probe(ctx)
		assert.False(t, status.Healthy)
	})

	t.Run("wrong canary answer stays degraded", func(t *testing.T) {
		client.err = nil
		client.response = "I am a large language model."
		status := w.Probe(ctx)
		assert.False(t, status.Healthy)
	})

	t.Run("acknowledged canary recovers", func(t *testing.T) {
		client.response = "READY"
		status := w.Probe(ctx)
		assert.True(t, status.Healthy)
		assert.Equal(t, []bool{false, true}, transitions)
	})

	t.Run("case and surrounding text accepted", func(t *testing.T) {
		w.healthy.Store(false)
		client.response = "Sure! ready."
		assert.True(t, w.Probe(ctx).Healthy)
	})
}

// TestMaybeProbeInterval verifies degraded requests only probe once the
// interval has elapsed, and that recovery restores the live path.
func TestMaybeProbeInterval(t *testing.T) {
	client := &stubClient{err: errors.New("down")}
	w := newTestWrapper(client)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	w.now = func() time.Time { return now }

	_ = w.ProduceHint(ctx, HintContext{HintIndex: 0}) // degrade
	callsAfterDegrade := client.calls.Load()

	// Inside the interval: no provider traffic at all.
	now = base.Add(30 * time.Second)
	_ = w.ProduceHint(ctx, HintContext{HintIndex: 1})
	assert.Equal(t, callsAfterDegrade, client.calls.Load())

	// Past the interval the request triggers a probe; provider is back.
	client.err = nil
	client.response = "READY"
	now = base.Add(2 * time.Minute)
	got := w.ProduceHint(ctx, HintContext{HintIndex: 1})
	assert.False(t, got.Degraded)
	assert.True(t, w.Status().Healthy)
}

// TestHintPromptShape verifies prior hints and the no-spoilers instruction
// make it into the provider prompt, and that inputs are clipped.
func TestHintPromptShape(t *testing.T) {
	hc := HintContext{
		Title:         "Two Sum",
		Platform:      "leetcode",
		Difficulty:    "easy",
		Statement:     strings.Repeat("s", promptStatementBudget*2),
		PreviousHints: []string{"think about lookups", "one pass is enough"},
		UserCode:      "def solve():\n    pass",
		HintIndex:     2,
		Verbosity:     "detailed",
	}
	prompt := buildHintPrompt(hc)

	assert.Contains(t, prompt, `"Two Sum"`)
	assert.Contains(t, prompt, "do not repeat")
	assert.Contains(t, prompt, "think about lookups")
	assert.Contains(t, prompt, "hint number 3")
	assert.Contains(t, prompt, "Never reveal the full solution")
	assert.NotContains(t, prompt, strings.Repeat("s", promptStatementBudget+1))
}

// TestAnalysisPromptShape verifies the critique prompt carries the code and
// the no-solution instruction.
func TestAnalysisPromptShape(t *testing.T) {
	prompt := buildAnalysisPrompt(AnalysisContext{
		Title:    "Two Sum",
		UserCode: "def solve(): pass",
	})
	assert.Contains(t, prompt, "def solve(): pass")
	assert.Contains(t, prompt, "Never provide a complete working solution")
}
