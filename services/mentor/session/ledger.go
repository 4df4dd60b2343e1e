// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	storage "github.com/jinterlante1206/MentorLocal/services/mentor/storage/badger"
)

const keySessionPrefix = "session:"

const updateRetries = 5

// Config tunes the session ledger.
type Config struct {
	// Retention is the hard-delete window, enforced as a BadgerDB entry
	// TTL counted from the last write to the session.
	Retention time.Duration

	// IdleThreshold is how long an active session may sit without
	// activity before a sweep marks it abandoned.
	IdleThreshold time.Duration
}

// DefaultConfig returns production retention settings.
func DefaultConfig() Config {
	return Config{
		Retention:     24 * time.Hour,
		IdleThreshold: 30 * time.Minute,
	}
}

// Ledger persists sessions in BadgerDB.
//
// Appends against one session are serialized by a per-session mutex on top
// of a single read-modify-write transaction, so concurrent requests with the
// same correlation id never lose counter updates. Different sessions do not
// contend.
type Ledger struct {
	db    *storage.DB
	cfg   Config
	locks sync.Map // session id -> *sync.Mutex

	now func() time.Time
}

// NewLedger creates a session ledger.
func NewLedger(db *storage.DB, cfg Config) *Ledger {
	return &Ledger{db: db, cfg: cfg, now: time.Now}
}

// FindOrCreate resolves the correlation id to an existing active session, or
// creates a new one. An existing session is returned unchanged: the original
// attempt's problem descriptor stays authoritative. A missing, expired, or
// already-ended session yields a fresh session under a newly generated id.
func (l *Ledger) FindOrCreate(ctx context.Context, correlationID string, problem Problem, accountID string) (*Session, error) {
	if correlationID != "" {
		existing, err := l.Get(ctx, correlationID)
		if err == nil && existing.Active() {
			return existing, nil
		}
		if err != nil && !errors.Is(err, ErrSessionNotFound) {
			return nil, err
		}
	}

	now := l.now().UTC()
	sess := &Session{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Problem: Problem{
			Title:      problem.Title,
			Platform:   problem.Platform,
			Difficulty: problem.Difficulty,
			Statement:  truncate(problem.Statement, MaxStatementBytes),
		},
		Hints:    []Hint{},
		Analyses: []CodeAnalysis{},
		Metrics: Metrics{
			StartedAt:      now,
			LastActivityAt: now,
		},
		Status: StatusActive,
	}
	if err := l.put(ctx, sess); err != nil {
		return nil, err
	}
	slog.Info("Created session", "sessionId", sess.ID, "platform", sess.Problem.Platform)
	return sess, nil
}

// Get loads a session by id.
func (l *Ledger) Get(ctx context.Context, id string) (*Session, error) {
	var sess *Session
	err := l.db.WithReadTxn(ctx, func(txn *badgerdb.Txn) error {
		var err error
		sess, err = getSession(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// AppendHint appends a hint record and recomputes the hint counter. The hint
// number is assigned here from the resulting sequence length.
func (l *Ledger) AppendHint(ctx context.Context, id string, hint Hint) (*Session, error) {
	return l.update(ctx, id, func(s *Session) error {
		if !s.Active() {
			return ErrSessionEnded
		}
		hint.Number = len(s.Hints) + 1
		hint.CodeInput = truncate(hint.CodeInput, MaxCodeBytes)
		hint.CreatedAt = l.now().UTC()
		s.Hints = append(s.Hints, hint)
		s.Metrics.HintsRequested = len(s.Hints)
		s.Metrics.LastActivityAt = hint.CreatedAt
		return nil
	})
}

// AppendAnalysis appends a code analysis record and recomputes its counter.
func (l *Ledger) AppendAnalysis(ctx context.Context, id string, analysis CodeAnalysis) (*Session, error) {
	return l.update(ctx, id, func(s *Session) error {
		if !s.Active() {
			return ErrSessionEnded
		}
		analysis.Number = len(s.Analyses) + 1
		analysis.CodeInput = truncate(analysis.CodeInput, MaxCodeBytes)
		analysis.CreatedAt = l.now().UTC()
		s.Analyses = append(s.Analyses, analysis)
		s.Metrics.CodeAnalyses = len(s.Analyses)
		s.Metrics.LastActivityAt = analysis.CreatedAt
		return nil
	})
}

// End closes the session and derives its duration. Idempotent: ending an
// already-ended session returns it unchanged.
func (l *Ledger) End(ctx context.Context, id string, completed bool) (*Session, error) {
	status := StatusAbandoned
	if completed {
		status = StatusCompleted
	}
	return l.end(ctx, id, status)
}

// MarkError closes the session with the error status. Used when a persisted
// session cannot make forward progress (for example a failed append midway
// through a request).
func (l *Ledger) MarkError(ctx context.Context, id string) (*Session, error) {
	return l.end(ctx, id, StatusError)
}

func (l *Ledger) end(ctx context.Context, id string, status string) (*Session, error) {
	return l.update(ctx, id, func(s *Session) error {
		if !s.Active() {
			return nil // already ended
		}
		now := l.now().UTC()
		s.Status = status
		s.Metrics.EndedAt = &now
		s.Metrics.DurationMs = now.Sub(s.Metrics.StartedAt).Milliseconds()
		return nil
	})
}

// RecordFeedback attaches a 1-5 rating and optional comment.
func (l *Ledger) RecordFeedback(ctx context.Context, id string, rating int, comment string) (*Session, error) {
	if rating < 1 || rating > 5 {
		return nil, ErrInvalidRating
	}
	return l.update(ctx, id, func(s *Session) error {
		s.Feedback = &Feedback{
			Rating:    rating,
			Comment:   truncate(comment, MaxCommentBytes),
			CreatedAt: l.now().UTC(),
		}
		return nil
	})
}

// SweepAbandoned transitions every active session with no activity since the
// cutoff to abandoned. Returns the number of sessions swept. Invoked by the
// Sweeper scheduler, not by request handlers.
func (l *Ledger) SweepAbandoned(ctx context.Context, cutoff time.Time) (int, error) {
	var stale []string
	err := l.db.WithReadTxn(ctx, func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(keySessionPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var sess Session
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &sess)
			}); err != nil {
				slog.Warn("Skipping undecodable session during sweep", "error", err)
				continue
			}
			if sess.Active() && sess.Metrics.LastActivityAt.Before(cutoff) {
				stale = append(stale, sess.ID)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, id := range stale {
		if _, err := l.end(ctx, id, StatusAbandoned); err != nil {
			slog.Warn("Failed to abandon idle session", "sessionId", id, "error", err)
			continue
		}
		swept++
	}
	return swept, nil
}

// update applies mutate under the session's mutex in a single transaction,
// retried on conflict, and refreshes the retention TTL.
func (l *Ledger) update(ctx context.Context, id string, mutate func(*Session) error) (*Session, error) {
	mu := l.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	var updated *Session
	for attempt := 0; attempt < updateRetries; attempt++ {
		err := l.db.WithTxn(ctx, func(txn *badgerdb.Txn) error {
			sess, err := getSession(txn, id)
			if err != nil {
				return err
			}
			if err := mutate(sess); err != nil {
				return err
			}
			updated = sess
			return setSession(txn, sess, l.cfg.Retention)
		})
		if errors.Is(err, badgerdb.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, fmt.Errorf("update session %s: %w", id, badgerdb.ErrConflict)
}

func (l *Ledger) put(ctx context.Context, sess *Session) error {
	return l.db.WithTxn(ctx, func(txn *badgerdb.Txn) error {
		return setSession(txn, sess, l.cfg.Retention)
	})
}

func (l *Ledger) lockFor(id string) *sync.Mutex {
	mu, _ := l.locks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func getSession(txn *badgerdb.Txn, id string) (*Session, error) {
	item, err := txn.Get([]byte(keySessionPrefix + id))
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	var sess Session
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &sess)
	}); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &sess, nil
}

func setSession(txn *badgerdb.Txn, sess *Session, retention time.Duration) error {
	doc, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	entry := badgerdb.NewEntry([]byte(keySessionPrefix+sess.ID), doc)
	if retention > 0 {
		entry = entry.WithTTL(retention)
	}
	return txn.SetEntry(entry)
}
