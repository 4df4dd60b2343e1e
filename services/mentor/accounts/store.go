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
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	badgerdb "github.com/dgraph-io/badger/v4"

	storage "github.com/jinterlante1206/MentorLocal/services/mentor/storage/badger"
)

// Key layout. The email and handle keys are secondary indexes holding the
// account id; the id key holds the JSON document.
const (
	keyAccountByID     = "account:id:"
	keyAccountByEmail  = "account:email:"
	keyAccountByHandle = "account:handle:"
)

// updateRetries bounds optimistic-transaction retries on write conflict.
// Concurrent failed logins against one account serialize through this; each
// conflicting attempt re-reads before it retries, so counts are never lost.
const updateRetries = 10

// Store persists accounts in BadgerDB with unique email/handle indexes.
type Store struct {
	db *storage.DB
}

// NewStore creates an account store on the given database.
func NewStore(db *storage.DB) *Store {
	return &Store{db: db}
}

// Create inserts a new account. Fails with ErrDuplicateIdentity when the
// email or handle index key already exists. The uniqueness check and the
// three writes happen in one transaction.
func (s *Store) Create(ctx context.Context, acct *Account) error {
	emailKey := keyAccountByEmail + normalize(acct.Email)
	handleKey := keyAccountByHandle + normalize(acct.Handle)

	return s.db.WithTxn(ctx, func(txn *badgerdb.Txn) error {
		for _, key := range []string{emailKey, handleKey} {
			_, err := txn.Get([]byte(key))
			if err == nil {
				return ErrDuplicateIdentity
			}
			if !errors.Is(err, badgerdb.ErrKeyNotFound) {
				return fmt.Errorf("check identity key %s: %w", key, err)
			}
		}

		doc, err := json.Marshal(acct)
		if err != nil {
			return fmt.Errorf("marshal account: %w", err)
		}
		if err := txn.Set([]byte(keyAccountByID+acct.ID), doc); err != nil {
			return err
		}
		if err := txn.Set([]byte(emailKey), []byte(acct.ID)); err != nil {
			return err
		}
		return txn.Set([]byte(handleKey), []byte(acct.ID))
	})
}

// GetByID loads an account by its id.
func (s *Store) GetByID(ctx context.Context, id string) (*Account, error) {
	var acct *Account
	err := s.db.WithReadTxn(ctx, func(txn *badgerdb.Txn) error {
		var err error
		acct, err = getAccount(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return acct, nil
}

// GetByIdentifier resolves an account by email or handle. Identifiers
// containing '@' are tried as email first, everything else as handle first;
// the other index is consulted on a miss.
func (s *Store) GetByIdentifier(ctx context.Context, identifier string) (*Account, error) {
	keys := []string{
		keyAccountByHandle + normalize(identifier),
		keyAccountByEmail + normalize(identifier),
	}
	if strings.Contains(identifier, "@") {
		keys[0], keys[1] = keys[1], keys[0]
	}

	var acct *Account
	err := s.db.WithReadTxn(ctx, func(txn *badgerdb.Txn) error {
		for _, key := range keys {
			item, err := txn.Get([]byte(key))
			if errors.Is(err, badgerdb.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return fmt.Errorf("resolve identifier: %w", err)
			}
			id, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("read identity index: %w", err)
			}
			acct, err = getAccount(txn, string(id))
			return err
		}
		return ErrAccountNotFound
	})
	if err != nil {
		return nil, err
	}
	return acct, nil
}

// Update applies mutate to the stored account in a single read-modify-write
// transaction and returns the updated document. Retried on transaction
// conflict so concurrent counter updates are never lost.
func (s *Store) Update(ctx context.Context, id string, mutate func(*Account) error) (*Account, error) {
	var updated *Account
	for attempt := 0; attempt < updateRetries; attempt++ {
		err := s.db.WithTxn(ctx, func(txn *badgerdb.Txn) error {
			acct, err := getAccount(txn, id)
			if err != nil {
				return err
			}
			if err := mutate(acct); err != nil {
				return err
			}
			doc, err := json.Marshal(acct)
			if err != nil {
				return fmt.Errorf("marshal account: %w", err)
			}
			updated = acct
			return txn.Set([]byte(keyAccountByID+id), doc)
		})
		if errors.Is(err, badgerdb.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, fmt.Errorf("update account %s: %w", id, badgerdb.ErrConflict)
}

// Anonymize soft-deletes the account: identity fields are blanked, the
// index keys removed, and the record kept with Active=false. Accounts are
// never hard-deleted.
func (s *Store) Anonymize(ctx context.Context, id string) error {
	return s.db.WithTxn(ctx, func(txn *badgerdb.Txn) error {
		acct, err := getAccount(txn, id)
		if err != nil {
			return err
		}
		if err := txn.Delete([]byte(keyAccountByEmail + normalize(acct.Email))); err != nil {
			return err
		}
		if err := txn.Delete([]byte(keyAccountByHandle + normalize(acct.Handle))); err != nil {
			return err
		}

		acct.Email = "deleted-" + acct.ID + "@anon.invalid"
		acct.Handle = "deleted-" + acct.ID
		acct.Active = false

		doc, err := json.Marshal(acct)
		if err != nil {
			return fmt.Errorf("marshal account: %w", err)
		}
		return txn.Set([]byte(keyAccountByID+id), doc)
	})
}

func getAccount(txn *badgerdb.Txn, id string) (*Account, error) {
	item, err := txn.Get([]byte(keyAccountByID + id))
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", id, err)
	}
	var acct Account
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &acct)
	}); err != nil {
		return nil, fmt.Errorf("decode account %s: %w", id, err)
	}
	return &acct, nil
}

func normalize(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}
