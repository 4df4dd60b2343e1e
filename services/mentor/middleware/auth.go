// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the mentor service.
//
// The auth middleware extracts a bearer token from the Authorization header,
// verifies it against the credential guard, and stores the resolved account
// in the Gin context for downstream handlers. The mentoring endpoints accept
// anonymous traffic, so they use OptionalAuth; account management endpoints
// use RequireAuth.
package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jinterlante1206/MentorLocal/services/mentor/accounts"
	"github.com/jinterlante1206/MentorLocal/services/mentor/observability"
)

// accountKey is the context key for the authenticated account.
// Using a dedicated key prevents collisions with other context values.
const accountKey = "mentor_account"

// SetAccount stores the authenticated account in the Gin context.
func SetAccount(c *gin.Context, acct *accounts.Account) {
	c.Set(accountKey, acct)
}

// GetAccount retrieves the authenticated account from the Gin context.
// Returns nil for anonymous requests.
func GetAccount(c *gin.Context) *accounts.Account {
	if v, exists := c.Get(accountKey); exists {
		if acct, ok := v.(*accounts.Account); ok {
			return acct
		}
	}
	return nil
}

// OptionalAuth authenticates the request when a bearer token is present and
// lets anonymous requests pass through. A present-but-bad token is rejected:
// authentication failure is the one case that short-circuits before any
// session work happens.
func OptionalAuth(guard *accounts.Guard) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c)
		if token == "" {
			c.Next()
			return
		}
		authenticate(c, guard, token)
	}
}

// RequireAuth rejects requests without a valid bearer token.
func RequireAuth(guard *accounts.Guard) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		authenticate(c, guard, token)
	}
}

func authenticate(c *gin.Context, guard *accounts.Guard, token string) {
	acct, err := guard.VerifyToken(c.Request.Context(), token)
	if err != nil {
		if m := observability.DefaultMetrics; m != nil {
			m.AuthFailuresTotal.WithLabelValues("token").Inc()
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": tokenErrorMessage(err)})
		return
	}
	SetAccount(c, acct)
	c.Next()
}

// tokenErrorMessage maps token verification failures onto stable client
// messages. Logged as security events by the guard itself.
func tokenErrorMessage(err error) string {
	switch {
	case errors.Is(err, accounts.ErrTokenExpired):
		return "token expired"
	case errors.Is(err, accounts.ErrTokenSuperseded):
		return "token superseded, log in again"
	case errors.Is(err, accounts.ErrAccountInactive):
		return "account is inactive"
	default:
		return "invalid token"
	}
}

// extractBearerToken parses the Authorization header, expecting the format
// "Bearer <token>". Returns empty string if missing or malformed. The
// "Bearer" prefix is case-insensitive per RFC 7235.
func extractBearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
