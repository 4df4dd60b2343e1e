// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package accounts

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Config tunes the credential guard.
type Config struct {
	// BcryptCost is the password hashing work factor.
	BcryptCost int

	// MaxAttempts is the number of consecutive failed logins that locks
	// the account.
	MaxAttempts int

	// LockoutDuration is how long a lock stays in effect.
	LockoutDuration time.Duration

	// TokenTTL is the bearer token lifetime.
	TokenTTL time.Duration

	// TokenSecret signs bearer tokens (HS256). Must not be empty.
	TokenSecret []byte
}

// DefaultConfig returns production defaults. The token secret still has to
// be supplied by the caller.
func DefaultConfig() Config {
	return Config{
		BcryptCost:      bcrypt.DefaultCost,
		MaxAttempts:     5,
		LockoutDuration: 2 * time.Hour,
		TokenTTL:        7 * 24 * time.Hour,
	}
}

// Guard implements the account-security state machine over a Store.
//
// Login attempt counting goes through Store.Update, a single atomic
// read-modify-write per attempt, so two concurrent failed attempts never
// under-count.
type Guard struct {
	store *Store
	cfg   Config

	// now is swappable for tests (lock expiry, token supersession).
	now func() time.Time
}

// NewGuard creates a credential guard.
func NewGuard(store *Store, cfg Config) *Guard {
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	return &Guard{store: store, cfg: cfg, now: time.Now}
}

// Register creates a new active user account with a hashed password.
// Input shape (email format, handle charset, password length) is enforced
// at the HTTP boundary; the guard only enforces uniqueness.
func (g *Guard) Register(ctx context.Context, email, handle, password string) (*Account, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), g.cfg.BcryptCost)
	if err != nil {
		return nil, err
	}

	acct := &Account{
		ID:           uuid.NewString(),
		Email:        normalize(email),
		Handle:       handle,
		PasswordHash: string(hash),
		Role:         RoleUser,
		Active:       true,
		CreatedAt:    g.now().UTC(),
	}
	if err := g.store.Create(ctx, acct); err != nil {
		return nil, err
	}
	slog.Info("Registered account", "accountId", acct.ID, "handle", acct.Handle)
	return acct, nil
}

// Authenticate resolves the identifier against email or handle and checks
// the password.
//
// Failure paths:
//   - unknown identifier or wrong password: ErrInvalidCredentials. A wrong
//     password increments LoginAttempts; crossing MaxAttempts sets LockUntil.
//   - lock in effect: *LockedError carrying the remaining lock time.
//   - inactive account: ErrAccountInactive.
//
// An expired lock is cleared lazily on the next attempt, so the first
// failure after expiry restarts the counter at 1 instead of piling onto the
// stale count. There is no background unlock sweep.
func (g *Guard) Authenticate(ctx context.Context, identifier, password string) (*Account, error) {
	acct, err := g.store.GetByIdentifier(ctx, identifier)
	if err != nil {
		if err == ErrAccountNotFound {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !acct.Active {
		return nil, ErrAccountInactive
	}

	now := g.now()
	if acct.LockedAt(now) {
		slog.Warn("Login rejected, account locked", "accountId", acct.ID)
		return nil, &LockedError{Until: *acct.LockUntil, now: now}
	}

	passOK := bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)) == nil

	updated, err := g.store.Update(ctx, acct.ID, func(a *Account) error {
		if a.LockUntil != nil && !now.Before(*a.LockUntil) {
			// Lazy clear of an expired lock; this attempt restarts the count.
			a.LockUntil = nil
			a.LoginAttempts = 0
		}
		if passOK {
			a.LoginAttempts = 0
			return nil
		}
		a.LoginAttempts++
		if a.LoginAttempts >= g.cfg.MaxAttempts && a.LockUntil == nil {
			until := now.Add(g.cfg.LockoutDuration)
			a.LockUntil = &until
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !passOK {
		if updated.LockUntil != nil {
			slog.Warn("Account locked after repeated failures",
				"accountId", acct.ID, "attempts", updated.LoginAttempts)
		}
		return nil, ErrInvalidCredentials
	}
	return updated, nil
}

// ChangePassword re-hashes the credential and stamps PasswordChangedAt,
// which supersedes every previously issued token.
func (g *Guard) ChangePassword(ctx context.Context, acct *Account, oldPassword, newPassword string) error {
	if bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(oldPassword)) != nil {
		return ErrInvalidCredentials
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), g.cfg.BcryptCost)
	if err != nil {
		return err
	}

	changedAt := g.now().UTC()
	_, err = g.store.Update(ctx, acct.ID, func(a *Account) error {
		a.PasswordHash = string(hash)
		a.PasswordChangedAt = &changedAt
		return nil
	})
	if err == nil {
		slog.Info("Password changed, prior tokens superseded", "accountId", acct.ID)
	}
	return err
}

// Deactivate soft-deletes the account (anonymized, Active=false).
func (g *Guard) Deactivate(ctx context.Context, acct *Account) error {
	return g.store.Anonymize(ctx, acct.ID)
}
