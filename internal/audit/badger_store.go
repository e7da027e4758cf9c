// Libretorio - Personal Media Library Server
// Copyright 2026 Rigo85
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rigo85/libretorio

package audit

import (
	"context"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

const eventKeyPrefix = "audit:"

// BadgerStore is the durable audit trail. Keys order events by
// timestamp, so iteration replays them chronologically.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore wraps an open Badger database.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

// Save persists one event.
func (s *BadgerStore) Save(ctx context.Context, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	key := fmt.Sprintf("%s%020d:%s", eventKeyPrefix, event.Timestamp.UnixNano(), event.ID)
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

// Events returns up to limit events in chronological order.
func (s *BadgerStore) Events(ctx context.Context, limit int) ([]Event, error) {
	var events []Event

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(eventKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid() && len(events) < limit; it.Next() {
			var event Event
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &event)
			}); err != nil {
				return err
			}
			events = append(events, event)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}
