// Libretorio - Personal Media Library Server
// Copyright 2026 Rigo85
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rigo85/libretorio

package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

// Key prefixes for BadgerDB storage.
const (
	userKeyPrefix  = "user:"
	tokenKeyPrefix = "token:"
)

// BadgerStore is the durable session store. It implements TokenSource
// and Validator.
type BadgerStore struct {
	db         *badger.DB
	cookieName string
}

// NewBadgerStore wraps an open Badger database. cookieName is the HTTP
// cookie carrying the session token.
func NewBadgerStore(db *badger.DB, cookieName string) *BadgerStore {
	return &BadgerStore{db: db, cookieName: cookieName}
}

// Put stores a session as the user's current one. Any previous session
// of the same user stops resolving immediately.
func (s *BadgerStore) Put(ctx context.Context, session *Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		userKey := []byte(userKeyPrefix + session.UserID)

		// Unlink the superseded token so cookie lookups of the old
		// session fail from this point on.
		if item, err := txn.Get(userKey); err == nil {
			var prev Session
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &prev)
			}); err == nil && prev.Token != "" {
				if err := txn.Delete([]byte(tokenKeyPrefix + prev.Token)); err != nil {
					return fmt.Errorf("unlink previous token: %w", err)
				}
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("load previous session: %w", err)
		}

		if err := txn.Set(userKey, data); err != nil {
			return fmt.Errorf("store session: %w", err)
		}
		if err := txn.Set([]byte(tokenKeyPrefix+session.Token), []byte(session.UserID)); err != nil {
			return fmt.Errorf("store token mapping: %w", err)
		}
		return nil
	})
}

// Delete removes a user's session.
func (s *BadgerStore) Delete(ctx context.Context, userID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		userKey := []byte(userKeyPrefix + userID)

		item, err := txn.Get(userKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		var sess Session
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &sess)
		}); err != nil {
			return err
		}

		if sess.Token != "" {
			if err := txn.Delete([]byte(tokenKeyPrefix + sess.Token)); err != nil {
				return err
			}
		}
		return txn.Delete(userKey)
	})
}

// CurrentToken implements TokenSource.
func (s *BadgerStore) CurrentToken(ctx context.Context, userID string) (string, error) {
	sess, err := s.bySessionUser(userID)
	if err != nil {
		return "", err
	}
	if sess.IsExpired() {
		return "", ErrSessionExpired
	}
	return sess.Token, nil
}

// Resolve implements Validator: cookie token -> user -> current session.
// The session must still be the user's current one and unexpired.
func (s *BadgerStore) Resolve(ctx context.Context, r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(s.cookieName)
	if err != nil || cookie.Value == "" {
		return nil, ErrSessionNotFound
	}
	token := cookie.Value

	var userID string
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(tokenKeyPrefix + token))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrSessionNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			userID = string(val)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sess, err := s.bySessionUser(userID)
	if err != nil {
		return nil, err
	}
	if sess.Token != token {
		return nil, ErrSessionNotFound
	}
	if sess.IsExpired() {
		return nil, ErrSessionExpired
	}
	return sess, nil
}

// CleanupExpired removes every expired session and its token mapping.
// Returns the number of sessions removed.
func (s *BadgerStore) CleanupExpired(ctx context.Context) (int, error) {
	type victim struct {
		userID string
		token  string
	}
	var victims []victim

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(userKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var sess Session
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &sess)
			}); err != nil {
				continue
			}
			if sess.IsExpired() {
				victims = append(victims, victim{userID: sess.UserID, token: sess.Token})
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, v := range victims {
		if err := s.db.Update(func(txn *badger.Txn) error {
			if v.token != "" {
				if err := txn.Delete([]byte(tokenKeyPrefix + v.token)); err != nil {
					return err
				}
			}
			return txn.Delete([]byte(userKeyPrefix + v.userID))
		}); err != nil {
			return 0, err
		}
	}

	return len(victims), nil
}

func (s *BadgerStore) bySessionUser(userID string) (*Session, error) {
	var sess Session
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(userKeyPrefix + userID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrSessionNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &sess)
		})
	})
	if err != nil {
		return nil, err
	}
	return &sess, nil
}
