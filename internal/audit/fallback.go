// Sentinel - Security & Audit Event Pipeline
// Copyright 2026 SNU-SE
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/SNU-SE/sentinel

package audit

import (
	"encoding/binary"
	"fmt"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/SNU-SE/sentinel/internal/logging"
	"github.com/SNU-SE/sentinel/internal/metrics"
)

// fallbackPrefix namespaces fallback keys. Keys are the prefix plus an
// 8-byte big-endian sequence number, so Badger's lexicographic iteration
// order is insertion order.
var fallbackPrefix = []byte("fbk/")

// DefaultFallbackCapacity bounds the fallback buffer when no capacity is
// configured.
const DefaultFallbackCapacity = 100

// FallbackStore buffers audit events in Badger when the primary store is
// unavailable. The buffer is capped; once full, the oldest events are
// evicted to make room. Losing the oldest is preferred over losing the
// newest, which describe the most recent activity.
type FallbackStore struct {
	db       *badger.DB
	capacity int

	mu      sync.Mutex
	nextSeq uint64
	count   int
}

// NewFallbackStore creates a fallback buffer on an open Badger database.
// Existing entries from a previous run are counted and preserved.
func NewFallbackStore(db *badger.DB, capacity int) (*FallbackStore, error) {
	if capacity <= 0 {
		capacity = DefaultFallbackCapacity
	}

	f := &FallbackStore{
		db:       db,
		capacity: capacity,
	}

	err := db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = fallbackPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			f.count++
			key := it.Item().Key()
			if seq, ok := parseFallbackKey(key); ok && seq >= f.nextSeq {
				f.nextSeq = seq + 1
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan fallback store: %w", err)
	}

	if f.count > 0 {
		logging.Info().Int("pending", f.count).Msg("Fallback store has events awaiting drain")
	}

	return f, nil
}

// Append buffers events, evicting the oldest entries when the cap is hit.
func (f *FallbackStore) Append(events []Event) error {
	if len(events) == 0 {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	err := f.db.Update(func(txn *badger.Txn) error {
		for i := range events {
			data, err := json.Marshal(&events[i])
			if err != nil {
				return fmt.Errorf("failed to marshal fallback event: %w", err)
			}
			if err := txn.Set(fallbackKey(f.nextSeq+uint64(i)), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append to fallback store: %w", err)
	}

	f.nextSeq += uint64(len(events))
	f.count += len(events)
	metrics.AuditFallbackWrites.Add(float64(len(events)))

	if f.count > f.capacity {
		evict := f.count - f.capacity
		if err := f.evictOldest(evict); err != nil {
			logging.Error().Err(err).Int("evict", evict).Msg("Failed to evict oldest fallback events")
			return nil
		}
		metrics.AuditFallbackEvictions.Add(float64(evict))
		logging.Warn().Int("evicted", evict).Int("capacity", f.capacity).
			Msg("Fallback store full, evicted oldest events")
	}

	return nil
}

// evictOldest removes the n oldest entries. Caller holds f.mu.
func (f *FallbackStore) evictOldest(n int) error {
	keys, err := f.oldestKeys(n)
	if err != nil {
		return err
	}

	err = f.db.Update(func(txn *badger.Txn) error {
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	f.count -= len(keys)
	return nil
}

// Drain removes and returns up to n of the oldest buffered events.
// Events are returned in insertion order.
func (f *FallbackStore) Drain(n int) ([]Event, error) {
	if n <= 0 {
		return nil, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	var (
		events []Event
		keys   [][]byte
	)

	err := f.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = fallbackPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid() && len(events) < n; it.Next() {
			item := it.Item()
			var event Event
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &event)
			})
			if err != nil {
				logging.Warn().Err(err).Msg("Skipping corrupt fallback entry")
			} else {
				events = append(events, event)
			}
			keys = append(keys, item.KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read fallback store: %w", err)
	}

	if len(keys) == 0 {
		return nil, nil
	}

	err = f.db.Update(func(txn *badger.Txn) error {
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to remove drained fallback events: %w", err)
	}

	f.count -= len(keys)
	return events, nil
}

// Len returns the number of buffered events.
func (f *FallbackStore) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

// oldestKeys returns copies of the n oldest keys. Caller holds f.mu.
func (f *FallbackStore) oldestKeys(n int) ([][]byte, error) {
	var keys [][]byte
	err := f.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = fallbackPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid() && len(keys) < n; it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	return keys, err
}

func fallbackKey(seq uint64) []byte {
	key := make([]byte, len(fallbackPrefix)+8)
	copy(key, fallbackPrefix)
	binary.BigEndian.PutUint64(key[len(fallbackPrefix):], seq)
	return key
}

func parseFallbackKey(key []byte) (uint64, bool) {
	if len(key) != len(fallbackPrefix)+8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(key[len(fallbackPrefix):]), true
}
