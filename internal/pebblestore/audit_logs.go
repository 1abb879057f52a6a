package pebblestore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"smsrelay/internal/models"

	"github.com/cockroachdb/pebble"
)

// SaveLogEntry appends an audit entry and trims to the newest keep entries.
func (s *Store) SaveLogEntry(_ context.Context, entry models.LogEntry, keep int) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode log entry: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batch := s.db.NewBatch()
	defer batch.Close()

	if err := batch.Set(logKey(s.nextSeq), raw, nil); err != nil {
		return err
	}

	if keep > 0 {
		keys, err := s.logKeys()
		if err != nil {
			return err
		}
		// The new entry is not in keys yet.
		excess := len(keys) + 1 - keep
		for i := 0; i < excess && i < len(keys); i++ {
			if err := batch.Delete(keys[i], nil); err != nil {
				return err
			}
		}
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to save log entry: %w", err)
	}
	s.nextSeq++
	return nil
}

// ListLogEntries returns up to limit of the newest entries, oldest first.
func (s *Store) ListLogEntries(_ context.Context, limit int) ([]models.LogEntry, error) {
	iter, err := s.db.NewIter(prefixBounds(logPrefix))
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var newestFirst []models.LogEntry
	for iter.Last(); iter.Valid() && (limit <= 0 || len(newestFirst) < limit); iter.Prev() {
		var entry models.LogEntry
		if err := json.Unmarshal(iter.Value(), &entry); err != nil {
			return nil, fmt.Errorf("failed to decode log entry: %w", err)
		}
		newestFirst = append(newestFirst, entry)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}

	entries := make([]models.LogEntry, len(newestFirst))
	for i, e := range newestFirst {
		entries[len(newestFirst)-1-i] = e
	}
	return entries, nil
}

// ClearLogEntries removes every persisted audit entry.
func (s *Store) ClearLogEntries(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.DeleteRange([]byte(logPrefix), []byte(logPrefix+"~"), pebble.Sync)
}

func (s *Store) logKeys() ([][]byte, error) {
	iter, err := s.db.NewIter(prefixBounds(logPrefix))
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var keys [][]byte
	for iter.First(); iter.Valid(); iter.Next() {
		keys = append(keys, append([]byte(nil), iter.Key()...))
	}
	return keys, iter.Error()
}

func (s *Store) lastLogSeq() (uint64, error) {
	iter, err := s.db.NewIter(prefixBounds(logPrefix))
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	if !iter.Last() {
		return 0, iter.Error()
	}
	seq, err := strconv.ParseUint(strings.TrimPrefix(string(iter.Key()), logPrefix), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid log key %q: %w", iter.Key(), err)
	}
	return seq, nil
}

func logKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", logPrefix, seq))
}
