// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the HTTP request and response shapes for the
// mentor service, with go-playground/validator rules attached to every
// inbound type.
package datatypes

import (
	"regexp"

	"github.com/go-playground/validator/v10"
)

const (
	// MaxCodeBytes is the maximum size of a submitted code snippet.
	// Checked by byte length, not rune count, to bound memory.
	MaxCodeBytes = 32 * 1024 // 32KB

	// MaxStatementBytes is the maximum size of a submitted problem
	// statement.
	MaxStatementBytes = 16 * 1024

	// MaxPreviousHints bounds the prior-hint history a client may replay.
	MaxPreviousHints = 20
)

// mentorValidate is the shared validator instance for all request types.
// Initialized in init() with custom validators.
var mentorValidate *validator.Validate

var handlePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

func init() {
	mentorValidate = validator.New()
	_ = mentorValidate.RegisterValidation("codebytes", validateCodeBytes)
	_ = mentorValidate.RegisterValidation("statementbytes", validateStatementBytes)
	_ = mentorValidate.RegisterValidation("handle", validateHandle)
}

func validateCodeBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxCodeBytes
}

func validateStatementBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxStatementBytes
}

// validateHandle restricts handles to letters, digits, underscore, hyphen.
func validateHandle(fl validator.FieldLevel) bool {
	return handlePattern.MatchString(fl.Field().String())
}

// FieldError is one field-level validation failure, surfaced to the caller.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

// FieldErrors converts a validator error into field-level detail. Returns
// nil for non-validation errors.
func FieldErrors(err error) []FieldError {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return nil
	}
	out := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, FieldError{Field: fe.Field(), Rule: fe.Tag()})
	}
	return out
}

// HintRequest is the generate-hint request body.
type HintRequest struct {
	ProblemTitle     string   `json:"problemTitle" validate:"required,max=300"`
	ProblemStatement string   `json:"problemStatement,omitempty" validate:"omitempty,statementbytes"`
	Platform         string   `json:"platform,omitempty" validate:"omitempty,oneof=leetcode codeforces codechef"`
	Difficulty       string   `json:"difficulty,omitempty" validate:"omitempty,max=30"`
	PreviousHints    []string `json:"previousHints,omitempty" validate:"omitempty,max=20,dive,max=4000"`
	UserCode         string   `json:"userCode,omitempty" validate:"omitempty,codebytes"`
	Verbosity        string   `json:"verbosity,omitempty" validate:"omitempty,oneof=brief detailed"`
}

// Validate checks the request against its rules.
func (r *HintRequest) Validate() error {
	return mentorValidate.Struct(r)
}

// HintResponse is the generate-hint response body.
type HintResponse struct {
	Hint           string `json:"hint"`
	HintNumber     int    `json:"hintNumber"`
	SessionID      string `json:"sessionId"`
	ResponseTimeMs int64  `json:"responseTimeMs"`
	Degraded       bool   `json:"degraded,omitempty"`
}

// AnalyzeRequest is the analyze-code request body.
type AnalyzeRequest struct {
	ProblemTitle     string `json:"problemTitle" validate:"required,max=300"`
	UserCode         string `json:"userCode" validate:"required,codebytes"`
	Platform         string `json:"platform,omitempty" validate:"omitempty,oneof=leetcode codeforces codechef"`
	ProblemStatement string `json:"problemStatement,omitempty" validate:"omitempty,statementbytes"`
}

// Validate checks the request against its rules.
func (r *AnalyzeRequest) Validate() error {
	return mentorValidate.Struct(r)
}

// AnalyzeResponse is the analyze-code response body.
type AnalyzeResponse struct {
	Analysis         string `json:"analysis"`
	SessionID        string `json:"sessionId"`
	ResponseTimeMs   int64  `json:"responseTimeMs"`
	DetectedLanguage string `json:"detectedLanguage,omitempty"`
	Degraded         bool   `json:"degraded,omitempty"`
}

// RegisterRequest is the account registration body.
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Handle   string `json:"handle" validate:"required,min=3,max=30,handle"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

// Validate checks the request against its rules.
func (r *RegisterRequest) Validate() error {
	return mentorValidate.Struct(r)
}

// LoginRequest is the login body. Identifier is an email or handle.
type LoginRequest struct {
	Identifier string `json:"identifier" validate:"required,max=254"`
	Password   string `json:"password" validate:"required,max=128"`
}

// Validate checks the request against its rules.
func (r *LoginRequest) Validate() error {
	return mentorValidate.Struct(r)
}

// ChangePasswordRequest is the password-change body.
type ChangePasswordRequest struct {
	OldPassword string `json:"oldPassword" validate:"required,max=128"`
	NewPassword string `json:"newPassword" validate:"required,min=8,max=128"`
}

// Validate checks the request against its rules.
func (r *ChangePasswordRequest) Validate() error {
	return mentorValidate.Struct(r)
}

// EndSessionRequest marks a session finished.
type EndSessionRequest struct {
	Completed bool `json:"completed"`
}

// FeedbackRequest attaches a session rating.
type FeedbackRequest struct {
	Rating  int    `json:"rating" validate:"required,min=1,max=5"`
	Comment string `json:"comment,omitempty" validate:"omitempty,max=1000"`
}

// Validate checks the request against its rules.
func (r *FeedbackRequest) Validate() error {
	return mentorValidate.Struct(r)
}
