// Package pebblestore keeps work items and the audit trail in an embedded
// pebble key-value store, as an alternative to the sqlite database.
package pebblestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"smsrelay/internal/database"
	"smsrelay/internal/models"
	"smsrelay/internal/queue"

	"github.com/cockroachdb/pebble"
)

const (
	workPrefix = "work/"
	logPrefix  = "log/"
)

// workRecord is the on-disk form of a work item. The payload is sealed with
// the shared encryptor.
type workRecord struct {
	WorkID          string                          `json:"workId"`
	Status          models.WorkStatus               `json:"status"`
	Attempt         int                             `json:"attempt"`
	RequiresNetwork bool                            `json:"requiresNetwork"`
	Revision        int64                           `json:"revision"`
	Payload         string                          `json:"payload"`
	Endpoints       map[string]models.EndpointState `json:"endpoints"`
	LastError       string                          `json:"lastError,omitempty"`
	NextAttemptAt   int64                           `json:"nextAttemptAt"`
	CreatedAt       int64                           `json:"createdAt"`
	UpdatedAt       int64                           `json:"updatedAt"`
}

type Store struct {
	db        *pebble.DB
	encryptor *database.Encryptor

	// mu serializes read-modify-write sequences; pebble has no transactions.
	mu      sync.Mutex
	nextSeq uint64
}

func Open(dir string, encryptor *database.Encryptor) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble store: %w", err)
	}
	if encryptor == nil {
		encryptor = &database.Encryptor{}
	}

	s := &Store{db: db, encryptor: encryptor}
	seq, err := s.lastLogSeq()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.nextSeq = seq + 1
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) GetWorkItem(_ context.Context, workID string) (*models.WorkItem, error) {
	return s.get(workID)
}

func (s *Store) CreateWorkItem(_ context.Context, item *models.WorkItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.get(item.WorkID); err == nil {
		return queue.ErrExists
	} else if !errors.Is(err, queue.ErrNotFound) {
		return err
	}
	return s.put(item)
}

func (s *Store) UpdateWorkItem(_ context.Context, item *models.WorkItem, expectedRevision int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.get(item.WorkID)
	if err != nil {
		return err
	}
	if current.Revision != expectedRevision {
		return queue.ErrStaleRevision
	}
	return s.put(item)
}

func (s *Store) ListDueWorkItems(_ context.Context, now time.Time, limit int) ([]*models.WorkItem, error) {
	type broken struct {
		workID string
		rec    workRecord
		cause  error
	}
	var (
		due []*models.WorkItem
		bad []broken
	)
	err := s.scanWork(func(key []byte, rec workRecord, decodeErr error) error {
		if decodeErr != nil {
			bad = append(bad, broken{workID: string(key[len(workPrefix):]), cause: decodeErr})
			return nil
		}
		if rec.Status != models.WorkStatusPending || rec.NextAttemptAt > now.UnixMilli() {
			return nil
		}
		item, err := s.decode(rec)
		if err != nil {
			bad = append(bad, broken{workID: rec.WorkID, rec: rec, cause: err})
			return nil
		}
		due = append(due, item)
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, b := range bad {
		item, err := s.failUnreadable(b.workID, b.rec, b.cause, now)
		if err != nil {
			return nil, err
		}
		if item != nil {
			due = append(due, item)
		}
	}

	sort.SliceStable(due, func(i, j int) bool {
		if due[i].NextAttemptAt.Equal(due[j].NextAttemptAt) {
			return due[i].CreatedAt.Before(due[j].CreatedAt)
		}
		return due[i].NextAttemptAt.Before(due[j].NextAttemptAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// failUnreadable rewrites a record that cannot be decoded as a
// failed-permanent item with an empty payload. seen is what the scan could
// read of it; nil is returned when the record changed since.
func (s *Store) failUnreadable(workID string, seen workRecord, cause error, now time.Time) (*models.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	val, closer, err := s.db.Get(workKey(workID))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get work item: %w", err)
	}
	var current workRecord
	decodeErr := json.Unmarshal(val, &current)
	closer.Close()
	if decodeErr == nil && current.Revision != seen.Revision {
		return nil, nil
	}

	item := &models.WorkItem{
		WorkID:        workID,
		Attempt:       seen.Attempt,
		Revision:      seen.Revision + 1,
		NextAttemptAt: time.UnixMilli(seen.NextAttemptAt),
		CreatedAt:     time.UnixMilli(seen.CreatedAt),
	}
	queue.MarkUnreadable(item, cause, now)
	if err := s.put(item); err != nil {
		return nil, err
	}
	return item, nil
}

func (s *Store) PurgeTerminalWorkItems(_ context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := s.db.NewBatch()
	defer batch.Close()

	purged := 0
	err := s.scanWork(func(key []byte, rec workRecord, decodeErr error) error {
		if decodeErr != nil || !rec.Status.Terminal() || rec.UpdatedAt >= olderThan.UnixMilli() {
			return nil
		}
		purged++
		return batch.Delete(append([]byte(nil), key...), nil)
	})
	if err != nil {
		return 0, err
	}
	if purged == 0 {
		return 0, nil
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return 0, fmt.Errorf("failed to purge work items: %w", err)
	}
	return purged, nil
}

func (s *Store) CountWorkItems(_ context.Context) (map[models.WorkStatus]int, error) {
	counts := make(map[models.WorkStatus]int)
	err := s.scanWork(func(_ []byte, rec workRecord, decodeErr error) error {
		if decodeErr != nil {
			return nil
		}
		counts[rec.Status]++
		return nil
	})
	return counts, err
}

func (s *Store) get(workID string) (*models.WorkItem, error) {
	val, closer, err := s.db.Get(workKey(workID))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, queue.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get work item: %w", err)
	}
	defer closer.Close()

	var rec workRecord
	if err := json.Unmarshal(val, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode work item: %w", err)
	}
	return s.decode(rec)
}

func (s *Store) put(item *models.WorkItem) error {
	payload, err := database.SealPayload(s.encryptor, item.WorkID, item.Payload)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(workRecord{
		WorkID:          item.WorkID,
		Status:          item.Status,
		Attempt:         item.Attempt,
		RequiresNetwork: item.RequiresNetwork,
		Revision:        item.Revision,
		Payload:         payload,
		Endpoints:       item.Endpoints,
		LastError:       item.LastError,
		NextAttemptAt:   item.NextAttemptAt.UnixMilli(),
		CreatedAt:       item.CreatedAt.UnixMilli(),
		UpdatedAt:       item.UpdatedAt.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode work item: %w", err)
	}
	return s.db.Set(workKey(item.WorkID), raw, pebble.Sync)
}

func (s *Store) decode(rec workRecord) (*models.WorkItem, error) {
	plan, err := database.OpenPayload(s.encryptor, rec.WorkID, rec.Payload)
	if err != nil {
		return nil, err
	}
	endpoints := rec.Endpoints
	if endpoints == nil {
		endpoints = make(map[string]models.EndpointState)
	}
	return &models.WorkItem{
		WorkID:          rec.WorkID,
		Payload:         plan,
		Attempt:         rec.Attempt,
		Status:          rec.Status,
		RequiresNetwork: rec.RequiresNetwork,
		Endpoints:       endpoints,
		Revision:        rec.Revision,
		NextAttemptAt:   time.UnixMilli(rec.NextAttemptAt),
		LastError:       rec.LastError,
		CreatedAt:       time.UnixMilli(rec.CreatedAt),
		UpdatedAt:       time.UnixMilli(rec.UpdatedAt),
	}, nil
}

// scanWork visits every work record. A record that is not valid JSON is
// passed with its decode error instead of stopping the scan.
func (s *Store) scanWork(fn func(key []byte, rec workRecord, decodeErr error) error) error {
	iter, err := s.db.NewIter(prefixBounds(workPrefix))
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var rec workRecord
		var decodeErr error
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			decodeErr = fmt.Errorf("failed to decode work item %s: %w", iter.Key(), err)
		}
		if err := fn(iter.Key(), rec, decodeErr); err != nil {
			return err
		}
	}
	return iter.Error()
}

func workKey(workID string) []byte {
	return []byte(workPrefix + workID)
}

func prefixBounds(prefix string) *pebble.IterOptions {
	return &pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: []byte(prefix + "~"),
	}
}
