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
	"errors"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jinterlante1206/MentorLocal/services/mentor/accounts"
	"github.com/jinterlante1206/MentorLocal/services/mentor/analytics"
	"github.com/jinterlante1206/MentorLocal/services/mentor/datatypes"
	"github.com/jinterlante1206/MentorLocal/services/mentor/middleware"
)

// Register serves POST /v1/auth/register.
func Register(o *Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.RegisterRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":  "validation failed",
				"fields": datatypes.FieldErrors(err),
			})
			return
		}

		acct, err := o.Guard.Register(c.Request.Context(), req.Email, req.Handle, req.Password)
		if err != nil {
			if errors.Is(err, accounts.ErrDuplicateIdentity) {
				c.JSON(http.StatusConflict, gin.H{"error": "email or handle already registered"})
				return
			}
			slog.Error("Registration failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "registration failed"})
			return
		}

		token, err := o.Guard.IssueToken(acct)
		if err != nil {
			slog.Error("Failed to issue a token after registration", "accountId", acct.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
			return
		}

		o.Events.Record(c.Request.Context(), analytics.EventUserRegistered, nil, acct.ID, "")
		c.JSON(http.StatusCreated, gin.H{"token": token, "account": acct.Public()})
	}
}

// Login serves POST /v1/auth/login.
func Login(o *Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":  "validation failed",
				"fields": datatypes.FieldErrors(err),
			})
			return
		}

		acct, err := o.Guard.Authenticate(c.Request.Context(), req.Identifier, req.Password)
		if err != nil {
			o.rejectLogin(c, err)
			return
		}

		token, err := o.Guard.IssueToken(acct)
		if err != nil {
			slog.Error("Failed to issue a token", "accountId", acct.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
			return
		}

		o.Events.Record(c.Request.Context(), analytics.EventUserLogin, nil, acct.ID, "")
		c.JSON(http.StatusOK, gin.H{"token": token, "account": acct.Public()})
	}
}

// rejectLogin maps authentication failures onto the 4xx surface and records
// them as security events. None of these paths is retried.
func (o *Orchestrator) rejectLogin(c *gin.Context, err error) {
	ctx := c.Request.Context()

	var locked *accounts.LockedError
	switch {
	case errors.As(err, &locked):
		remainingMinutes := int(math.Ceil(locked.Remaining().Minutes()))
		o.Events.Record(ctx, analytics.EventAccountLocked, map[string]interface{}{
			"remaining_minutes": float64(remainingMinutes),
		}, "", "")
		o.authFailure("locked")
		c.JSON(http.StatusLocked, gin.H{
			"error":            "account locked due to repeated failed logins",
			"remainingMinutes": remainingMinutes,
		})
	case errors.Is(err, accounts.ErrAccountInactive):
		o.authFailure("inactive")
		c.JSON(http.StatusForbidden, gin.H{"error": "account is inactive"})
	case errors.Is(err, accounts.ErrInvalidCredentials):
		o.Events.Record(ctx, analytics.EventLoginFailed, nil, "", "")
		o.authFailure("invalid_credentials")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
	default:
		slog.Error("Authentication failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "authentication unavailable"})
	}
}

func (o *Orchestrator) authFailure(reason string) {
	if o.Metrics == nil {
		return
	}
	o.Metrics.AuthFailuresTotal.WithLabelValues(reason).Inc()
	if reason == "locked" {
		o.Metrics.LockoutsTotal.Inc()
	}
}

// ChangePassword serves POST /v1/auth/password. Requires authentication;
// success supersedes every previously issued token, including the one used
// for this request.
func ChangePassword(o *Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		acct := middleware.GetAccount(c)
		if acct == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
			return
		}

		var req datatypes.ChangePasswordRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":  "validation failed",
				"fields": datatypes.FieldErrors(err),
			})
			return
		}

		if err := o.Guard.ChangePassword(c.Request.Context(), acct, req.OldPassword, req.NewPassword); err != nil {
			if errors.Is(err, accounts.ErrInvalidCredentials) {
				o.authFailure("invalid_credentials")
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
				return
			}
			slog.Error("Password change failed", "accountId", acct.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "password change failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "password changed, previous tokens are no longer valid"})
	}
}

// DeleteAccount serves DELETE /v1/auth/account. Soft delete: the record is
// anonymized and deactivated, never removed.
func DeleteAccount(o *Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		acct := middleware.GetAccount(c)
		if acct == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
			return
		}

		if err := o.Guard.Deactivate(c.Request.Context(), acct); err != nil {
			slog.Error("Account deactivation failed", "accountId", acct.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "account deletion failed"})
			return
		}
		slog.Info("Account deactivated", "accountId", acct.ID, "at", time.Now().UTC())
		c.JSON(http.StatusOK, gin.H{"status": "account deleted"})
	}
}
