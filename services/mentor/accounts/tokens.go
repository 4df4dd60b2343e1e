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
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// IssueToken mints a signed bearer token for the account. The issue time
// embedded in the claims is what VerifyToken compares against
// PasswordChangedAt; there is no revocation list.
func (g *Guard) IssueToken(acct *Account) (string, error) {
	if len(g.cfg.TokenSecret) == 0 {
		return "", errors.New("token secret is not configured")
	}

	now := g.now()
	claims := jwt.RegisteredClaims{
		Subject:   acct.ID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(g.cfg.TokenTTL)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(g.cfg.TokenSecret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken validates a bearer token and resolves its account.
//
// Failure modes: ErrTokenExpired, ErrTokenInvalid (bad signature, malformed,
// unknown subject), ErrTokenSuperseded (issued before the account's last
// password change), ErrAccountInactive.
func (g *Guard) VerifyToken(ctx context.Context, tokenString string) (*Account, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{},
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return g.cfg.TokenSecret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(g.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" || claims.IssuedAt == nil {
		return nil, ErrTokenInvalid
	}

	acct, err := g.store.GetByID(ctx, claims.Subject)
	if err != nil {
		if err == ErrAccountNotFound {
			return nil, ErrTokenInvalid
		}
		return nil, err
	}
	if !acct.Active {
		return nil, ErrAccountInactive
	}
	if acct.PasswordChangedAt != nil && claims.IssuedAt.Time.Before(*acct.PasswordChangedAt) {
		return nil, ErrTokenSuperseded
	}
	return acct, nil
}
