// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package accounts owns the account-security state machine: registration,
// login-attempt counting with lockout, bearer-token issue/verify, and
// password-change invalidation of previously issued tokens.
package accounts

import (
	"errors"
	"fmt"
	"time"
)

// Roles assignable to an account.
const (
	RoleUser      = "user"
	RoleModerator = "moderator"
	RoleAdmin     = "admin"
)

// Account is the stored identity record. Credential and security counter
// fields never leave the service; handlers expose Public() projections only.
type Account struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	Handle       string `json:"handle"`
	PasswordHash string `json:"password_hash"`

	// LoginAttempts counts consecutive failed logins. Reset to zero on a
	// successful login and when an expired lock is lazily cleared.
	LoginAttempts int        `json:"login_attempts"`
	LockUntil     *time.Time `json:"lock_until,omitempty"`

	// PasswordChangedAt invalidates every token issued before it.
	PasswordChangedAt *time.Time `json:"password_changed_at,omitempty"`

	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// LockedAt reports whether the account is locked at the given instant.
func (a *Account) LockedAt(now time.Time) bool {
	return a.LockUntil != nil && now.Before(*a.LockUntil)
}

// PublicAccount is the projection returned to clients. No credential
// material, no security counters.
type PublicAccount struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Handle    string    `json:"handle"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

// Public returns the client-safe projection of the account.
func (a *Account) Public() PublicAccount {
	return PublicAccount{
		ID:        a.ID,
		Email:     a.Email,
		Handle:    a.Handle,
		Role:      a.Role,
		CreatedAt: a.CreatedAt,
	}
}

// Sentinel errors for the credential guard. Handlers map these onto the
// 4xx surface; none of them is ever retried internally.
var (
	ErrDuplicateIdentity  = errors.New("email or handle already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountInactive    = errors.New("account is inactive")
	ErrAccountNotFound    = errors.New("account not found")

	ErrTokenExpired    = errors.New("token expired")
	ErrTokenInvalid    = errors.New("token invalid")
	ErrTokenSuperseded = errors.New("token superseded by password change")
)

// LockedError is returned while an account lockout is in effect. It carries
// the remaining lock time for user messaging.
type LockedError struct {
	Until time.Time
	now   time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked, retry in %s", e.Remaining().Round(time.Second))
}

// Remaining returns the time left until the lock expires.
func (e *LockedError) Remaining() time.Duration {
	d := e.Until.Sub(e.now)
	if d < 0 {
		return 0
	}
	return d
}
