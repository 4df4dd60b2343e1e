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
	_ "embed"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed fallback.yaml
var fallbackYAML []byte

type fallbackLadder struct {
	Hints []string `yaml:"hints"`
}

var ladder fallbackLadder

func init() {
	if err := yaml.Unmarshal(fallbackYAML, &ladder); err != nil {
		panic(fmt.Sprintf("resilience: invalid embedded fallback.yaml: %v", err))
	}
	if len(ladder.Hints) == 0 {
		panic("resilience: embedded fallback.yaml has no hints")
	}
}

// FallbackHint returns the ladder entry for the zero-based hint index.
// Successive indexes walk the ladder without repetition; past the last entry
// the ladder holds at its final hint.
func FallbackHint(index int) string {
	if index < 0 {
		index = 0
	}
	if index >= len(ladder.Hints) {
		index = len(ladder.Hints) - 1
	}
	return ladder.Hints[index]
}

// Shallow pattern checks used for degraded-mode analysis.
var (
	placeholderReturn = regexp.MustCompile(`(?m)return\s+(null|None|nil|0|-1|""|'')\s*;?\s*$`)
	todoMarker        = regexp.MustCompile(`(?im)\b(TODO|FIXME|XXX)\b|^\s*pass\s*$`)
	loopKeyword       = regexp.MustCompile(`(?m)\b(for|while)\b`)
)

// FallbackAnalysis produces a rule-based critique of the submitted code.
// Unlike the hint ladder this is not a canned string: the bullets are
// derived from shallow checks on the code itself, so degraded mode still
// carries contextual value.
func FallbackAnalysis(code string) string {
	trimmed := strings.TrimSpace(code)
	if trimmed == "" {
		return "No code was submitted. Write out your current approach, even if incomplete, and resubmit for feedback."
	}

	var findings []string

	if loops := loopKeyword.FindAllString(trimmed, -1); len(loops) >= 2 {
		findings = append(findings,
			"There are multiple loops; if they are nested over the same input, the solution may be quadratic. Check whether the inner pass can be replaced with a precomputed lookup.")
	}
	if placeholderReturn.MatchString(trimmed) {
		findings = append(findings,
			"A return statement still yields a placeholder value. Make sure every path returns the computed result.")
	}
	if todoMarker.MatchString(trimmed) {
		findings = append(findings,
			"There are TODO or placeholder markers left; the marked branches are not implemented yet.")
	}
	if lines := strings.Count(trimmed, "\n") + 1; lines > 80 {
		findings = append(findings,
			"The solution is getting long. Consider extracting helper functions so each piece can be reasoned about separately.")
	}
	if findings == nil {
		findings = append(findings,
			"No obvious structural issues were detected. Walk through your code with an edge case (empty input, single element, duplicates) and verify each step by hand.")
	}

	var b strings.Builder
	b.WriteString("Automated review (the AI mentor is temporarily unavailable):\n")
	for _, f := range findings {
		b.WriteString("- ")
		b.WriteString(f)
		b.WriteString("\n")
	}
	b.WriteString("Request another analysis in a minute for a full review.")
	return b.String()
}

// Language detection heuristics, checked in order.
var languageSignatures = []struct {
	name    string
	pattern *regexp.Regexp
}{
	{"python", regexp.MustCompile(`(?m)^\s*def\s+\w+\s*\(|^\s*import\s+\w+$|^\s*elif\s`)},
	{"cpp", regexp.MustCompile(`#include\s*<|std::|\bcout\b`)},
	{"java", regexp.MustCompile(`public\s+(static\s+)?\w+\s+\w+\s*\(|System\.out|public\s+class\s`)},
	{"go", regexp.MustCompile(`\bfunc\s+\w+\s*\(|:=|\bpackage\s+\w+`)},
	{"javascript", regexp.MustCompile(`\bfunction\s*\w*\s*\(|=>|\bconsole\.log\b|\b(const|let)\s+\w+\s*=`)},
	{"rust", regexp.MustCompile(`\bfn\s+\w+\s*\(|\blet\s+mut\b|println!`)},
}

// DetectLanguage guesses the language of submitted code. Returns "unknown"
// when no signature matches.
func DetectLanguage(code string) string {
	for _, sig := range languageSignatures {
		if sig.pattern.MatchString(code) {
			return sig.name
		}
	}
	return "unknown"
}
