// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resilience wraps the LLM backend with health tracking and
// degraded-mode fallbacks. ProduceHint and ProduceAnalysis never fail: when
// the provider is unreachable they return locally generated guidance, under
// the same no-spoilers contract as the live path.
package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jinterlante1206/MentorLocal/services/llm"
)

// Fixed prompt budgets. These are deliberately not configurable: they bound
// provider cost and latency regardless of deployment settings.
const (
	promptStatementBudget = 2000
	promptCodeBudget      = 4000
	promptHintsBudget     = 1500
)

// probeAckPattern classifies a canary response as healthy.
var probeAckPattern = regexp.MustCompile(`(?i)\bready\b`)

// Config tunes the resilience wrapper timeouts.
type Config struct {
	// CallTimeout bounds live hint/analysis provider calls.
	CallTimeout time.Duration

	// ProbeTimeout bounds the canary call.
	ProbeTimeout time.Duration

	// ProbeInterval is the minimum time between probes while degraded.
	// Probes are pull-based: the next request past the interval triggers
	// one, there is no background timer.
	ProbeInterval time.Duration
}

// DefaultConfig returns production timeouts.
func DefaultConfig() Config {
	return Config{
		CallTimeout:   20 * time.Second,
		ProbeTimeout:  5 * time.Second,
		ProbeInterval: 60 * time.Second,
	}
}

// HealthStatus is the externally visible provider health state.
type HealthStatus struct {
	Healthy   bool      `json:"healthy"`
	Provider  string    `json:"provider"`
	LastCheck time.Time `json:"lastCheckTimestamp"`
}

// Content is the product of a hint or analysis request. Degraded marks
// fallback content produced without the provider.
type Content struct {
	Text      string
	Degraded  bool
	LatencyMs int64
}

// HintContext carries everything the prompt builder needs for one hint.
type HintContext struct {
	Title         string
	Statement     string
	Platform      string
	Difficulty    string
	PreviousHints []string
	UserCode      string
	// HintIndex is the zero-based position of the requested hint; it also
	// selects the fallback ladder entry in degraded mode.
	HintIndex int
	// Verbosity is "brief" or "detailed".
	Verbosity string
}

// AnalysisContext carries the inputs for one code analysis.
type AnalysisContext struct {
	Title     string
	Statement string
	Platform  string
	UserCode  string
}

// Wrapper owns the provider health belief for this instance. The flag is a
// plain atomic read on the hot path; probe outcomes write it atomically.
// Multiple service instances each keep an independent belief.
type Wrapper struct {
	client llm.LLMClient
	cfg    Config

	healthy   atomic.Bool
	lastCheck atomic.Int64 // unix nanos of the last probe or failed call

	probeGroup singleflight.Group

	// OnTransition, when set, is invoked on every health state change.
	// Wired by main to the event recorder and metrics.
	OnTransition func(healthy bool)

	now func() time.Time
}

// NewWrapper creates a wrapper that starts out healthy.
func NewWrapper(client llm.LLMClient, cfg Config) *Wrapper {
	w := &Wrapper{client: client, cfg: cfg, now: time.Now}
	w.healthy.Store(true)
	w.lastCheck.Store(w.now().UnixNano())
	return w
}

// Status returns the current health belief for the health endpoint.
func (w *Wrapper) Status() HealthStatus {
	return HealthStatus{
		Healthy:   w.healthy.Load(),
		Provider:  w.client.Name(),
		LastCheck: time.Unix(0, w.lastCheck.Load()),
	}
}

// ProduceHint generates the next hint for the context. Never returns an
// error: provider failure flips the wrapper to degraded and yields the
// fallback ladder entry for the hint index.
func (w *Wrapper) ProduceHint(ctx context.Context, hc HintContext) Content {
	start := w.now()
	w.maybeProbe(ctx)

	if w.healthy.Load() {
		callCtx, cancel := context.WithTimeout(ctx, w.cfg.CallTimeout)
		defer cancel()

		text, err := w.client.Generate(callCtx, buildHintPrompt(hc), llm.GenerationParams{})
		if err == nil && strings.TrimSpace(text) != "" {
			return Content{Text: text, LatencyMs: w.sinceMs(start)}
		}
		w.markDegraded(err)
	}

	return Content{
		Text:      FallbackHint(hc.HintIndex),
		Degraded:  true,
		LatencyMs: w.sinceMs(start),
	}
}

// ProduceAnalysis reviews the submitted code. Never returns an error: in
// degraded mode the analysis is rule-based rather than a static string, so
// it still carries context from the submitted code.
func (w *Wrapper) ProduceAnalysis(ctx context.Context, ac AnalysisContext) Content {
	start := w.now()
	w.maybeProbe(ctx)

	if w.healthy.Load() {
		callCtx, cancel := context.WithTimeout(ctx, w.cfg.CallTimeout)
		defer cancel()

		text, err := w.client.Generate(callCtx, buildAnalysisPrompt(ac), llm.GenerationParams{})
		if err == nil && strings.TrimSpace(text) != "" {
			return Content{Text: text, LatencyMs: w.sinceMs(start)}
		}
		w.markDegraded(err)
	}

	return Content{
		Text:      FallbackAnalysis(ac.UserCode),
		Degraded:  true,
		LatencyMs: w.sinceMs(start),
	}
}

// Probe sends a minimal canary prompt and reclassifies the wrapper. Healthy
// iff the response matches the acknowledgment pattern within the probe
// timeout.
func (w *Wrapper) Probe(ctx context.Context) HealthStatus {
	probeCtx, cancel := context.WithTimeout(ctx, w.cfg.ProbeTimeout)
	defer cancel()

	resp, err := w.client.Generate(probeCtx,
		"Health check. Respond with the single word: READY", llm.GenerationParams{})

	ok := err == nil && probeAckPattern.MatchString(resp)
	w.lastCheck.Store(w.now().UnixNano())
	if prev := w.healthy.Swap(ok); prev != ok {
		if ok {
			slog.Info("AI provider recovered", "provider", w.client.Name())
		} else {
			slog.Warn("AI provider probe failed", "provider", w.client.Name(), "error", err)
		}
		w.notify(ok)
	}
	return w.Status()
}

// maybeProbe triggers a deduplicated probe when degraded and the probe
// interval has elapsed. Concurrent requests share one probe call.
func (w *Wrapper) maybeProbe(ctx context.Context) {
	if w.healthy.Load() {
		return
	}
	elapsed := w.now().UnixNano() - w.lastCheck.Load()
	if time.Duration(elapsed) < w.cfg.ProbeInterval {
		return
	}
	w.probeGroup.Do("probe", func() (interface{}, error) {
		return w.Probe(ctx), nil
	})
}

func (w *Wrapper) markDegraded(err error) {
	w.lastCheck.Store(w.now().UnixNano())
	if prev := w.healthy.Swap(false); prev {
		slog.Warn("AI provider call failed, entering degraded mode",
			"provider", w.client.Name(), "error", err)
		w.notify(false)
	}
}

func (w *Wrapper) notify(healthy bool) {
	if w.OnTransition != nil {
		w.OnTransition(healthy)
	}
}

func (w *Wrapper) sinceMs(start time.Time) int64 {
	return w.now().Sub(start).Milliseconds()
}

// buildHintPrompt assembles the provider prompt for a progressive hint.
// Prior hints are included so the provider never repeats itself verbatim;
// all free-form inputs are clipped to fixed budgets.
func buildHintPrompt(hc HintContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "A student is solving %q", hc.Title)
	if hc.Platform != "" {
		fmt.Fprintf(&b, " on %s", hc.Platform)
	}
	if hc.Difficulty != "" {
		fmt.Fprintf(&b, " (difficulty: %s)", hc.Difficulty)
	}
	b.WriteString(".\n")

	if hc.Statement != "" {
		fmt.Fprintf(&b, "Problem statement:\n%s\n", clip(hc.Statement, promptStatementBudget))
	}
	if len(hc.PreviousHints) > 0 {
		b.WriteString("Hints already given (do not repeat any of these):\n")
		budget := promptHintsBudget
		for i, h := range hc.PreviousHints {
			h = clip(h, budget)
			fmt.Fprintf(&b, "%d. %s\n", i+1, h)
			budget -= len(h)
			if budget <= 0 {
				break
			}
		}
	}
	if strings.TrimSpace(hc.UserCode) != "" {
		fmt.Fprintf(&b, "The student's current code:\n```\n%s\n```\n", clip(hc.UserCode, promptCodeBudget))
	}

	fmt.Fprintf(&b, "Give hint number %d: one step more specific than the previous hints, "+
		"nudging the student toward the right approach.\n", hc.HintIndex+1)
	if hc.Verbosity == "detailed" {
		b.WriteString("Use up to four sentences.\n")
	} else {
		b.WriteString("Use one or two sentences.\n")
	}
	b.WriteString("Never reveal the full solution or write the solving code for them.")
	return b.String()
}

// buildAnalysisPrompt assembles the provider prompt for a code critique.
func buildAnalysisPrompt(ac AnalysisContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "A student is solving %q", ac.Title)
	if ac.Platform != "" {
		fmt.Fprintf(&b, " on %s", ac.Platform)
	}
	b.WriteString(" and submitted this code for review:\n")
	fmt.Fprintf(&b, "```\n%s\n```\n", clip(ac.UserCode, promptCodeBudget))
	if ac.Statement != "" {
		fmt.Fprintf(&b, "Problem statement:\n%s\n", clip(ac.Statement, promptStatementBudget))
	}
	b.WriteString("Point out correctness risks, complexity concerns, and style issues " +
		"as short bullet points. Suggest what to reconsider, not the fixed code. " +
		"Never provide a complete working solution.")
	return b.String()
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
