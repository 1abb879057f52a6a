package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"smsrelay/internal/constants"
	"smsrelay/internal/migrations"
	"smsrelay/internal/models"
	"smsrelay/internal/queue"
	"smsrelay/internal/retry"
	"smsrelay/internal/security"

	_ "github.com/mattn/go-sqlite3"
)

type Database struct {
	db        *sql.DB
	encryptor *Encryptor
}

func New(ctx context.Context, dbPath string, encryptor *Encryptor) (*Database, error) {
	if len(dbPath) == 0 || dbPath[0] == '\x00' {
		return nil, fmt.Errorf("invalid database path")
	}

	if err := security.ValidateFilePath(dbPath); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}

	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, constants.DefaultFilePerm)
	if err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close database file: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	backoff := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: time.Duration(constants.DefaultDatabaseOpenBackoffMs) * time.Millisecond,
		MaxDelay:     time.Duration(constants.DefaultDatabaseOpenMaxBackoffMs) * time.Millisecond,
		Multiplier:   2,
		MaxAttempts:  constants.DefaultDatabaseRetryAttempts,
	})
	if err := backoff.RetryWithPredicate(ctx, func() error { return db.PingContext(ctx) }, isRetryableDBError); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to ping database: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := migrations.Apply(ctx, db); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if encryptor == nil {
		encryptor = &Encryptor{}
	}

	return &Database{db: db, encryptor: encryptor}, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

const workItemColumns = `work_id, status, attempt, requires_network, revision, payload,
		endpoint_states, last_error, next_attempt_at, created_at, updated_at`

func (d *Database) GetWorkItem(ctx context.Context, workID string) (*models.WorkItem, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+workItemColumns+` FROM work_items WHERE work_id = ?`, workID)
	item, err := d.scanWorkItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, queue.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get work item: %w", err)
	}
	return item, nil
}

func (d *Database) CreateWorkItem(ctx context.Context, item *models.WorkItem) error {
	args, err := d.workItemArgs(item)
	if err != nil {
		return err
	}

	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, `INSERT INTO work_items (`+workItemColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
		if err != nil && strings.Contains(err.Error(), "UNIQUE constraint") {
			return queue.ErrExists
		}
		return err
	}, "create work item")
}

func (d *Database) UpdateWorkItem(ctx context.Context, item *models.WorkItem, expectedRevision int64) error {
	args, err := d.workItemArgs(item)
	if err != nil {
		return err
	}
	// SET values follow the column order, then the WHERE arguments.
	args = append(args[1:], item.WorkID, expectedRevision)

	return retryableDBOperation(ctx, func() error {
		res, err := d.db.ExecContext(ctx, `UPDATE work_items SET
				status = ?, attempt = ?, requires_network = ?, revision = ?, payload = ?,
				endpoint_states = ?, last_error = ?, next_attempt_at = ?, created_at = ?, updated_at = ?
			WHERE work_id = ? AND revision = ?`, args...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 1 {
			return nil
		}

		var exists int
		err = d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM work_items WHERE work_id = ?`, item.WorkID).Scan(&exists)
		if err != nil {
			return err
		}
		if exists == 0 {
			return queue.ErrNotFound
		}
		return queue.ErrStaleRevision
	}, "update work item")
}

func (d *Database) ListDueWorkItems(ctx context.Context, now time.Time, limit int) ([]*models.WorkItem, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT `+workItemColumns+` FROM work_items
		WHERE status = ? AND next_attempt_at <= ?
		ORDER BY next_attempt_at, created_at
		LIMIT ?`, string(models.WorkStatusPending), now.UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due work items: %w", err)
	}

	type listed struct {
		item  *models.WorkItem
		row   workRow
		cause error
	}
	var scanned []listed
	for rows.Next() {
		r, err := scanWorkRow(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan work item: %w", err)
		}
		item, err := d.decodeWorkRow(r)
		scanned = append(scanned, listed{item: item, row: r, cause: err})
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to list due work items: %w", err)
	}

	// Broken rows are failed once the cursor is closed.
	due := make([]*models.WorkItem, 0, len(scanned))
	for _, l := range scanned {
		if l.cause == nil {
			due = append(due, l.item)
			continue
		}
		failed, err := d.failUnreadable(ctx, l.row, l.cause, now)
		if err != nil {
			return nil, err
		}
		if failed != nil {
			due = append(due, failed)
		}
	}
	return due, nil
}

// failUnreadable stores a row that cannot be decoded as failed-permanent. It
// returns nil when the row changed since it was listed. The stored payload
// is left as it is.
func (d *Database) failUnreadable(ctx context.Context, r workRow, cause error, now time.Time) (*models.WorkItem, error) {
	item := &models.WorkItem{
		WorkID:        r.workID,
		Attempt:       r.attempt,
		Revision:      r.revision + 1,
		NextAttemptAt: time.UnixMilli(r.nextAttemptAt),
		CreatedAt:     time.UnixMilli(r.createdAt),
	}
	queue.MarkUnreadable(item, cause, now)

	var affected int64
	err := retryableDBOperation(ctx, func() error {
		res, err := d.db.ExecContext(ctx, `UPDATE work_items SET
				status = ?, requires_network = 0, revision = ?, endpoint_states = '{}', last_error = ?, updated_at = ?
			WHERE work_id = ? AND revision = ?`,
			string(item.Status), item.Revision, item.LastError, now.UnixMilli(), r.workID, r.revision)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	}, "fail unreadable work item")
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, nil
	}
	return item, nil
}

func (d *Database) PurgeTerminalWorkItems(ctx context.Context, olderThan time.Time) (int, error) {
	var purged int64
	err := retryableDBOperation(ctx, func() error {
		res, err := d.db.ExecContext(ctx, `DELETE FROM work_items WHERE status IN (?, ?) AND updated_at < ?`,
			string(models.WorkStatusDelivered), string(models.WorkStatusFailedPermanent), olderThan.UnixMilli())
		if err != nil {
			return err
		}
		purged, err = res.RowsAffected()
		return err
	}, "purge work items")
	return int(purged), err
}

func (d *Database) CountWorkItems(ctx context.Context) (map[models.WorkStatus]int, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM work_items GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count work items: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.WorkStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan work item count: %w", err)
		}
		counts[models.WorkStatus(status)] = n
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// workRow is a work_items row before its payload and endpoint states are
// decoded.
type workRow struct {
	workID, status, payload, states, lastError string
	attempt, requiresNetwork                   int
	revision                                   int64
	nextAttemptAt, createdAt, updatedAt        int64
}

func scanWorkRow(row rowScanner) (workRow, error) {
	var r workRow
	err := row.Scan(&r.workID, &r.status, &r.attempt, &r.requiresNetwork, &r.revision,
		&r.payload, &r.states, &r.lastError, &r.nextAttemptAt, &r.createdAt, &r.updatedAt)
	return r, err
}

func (d *Database) scanWorkItem(row rowScanner) (*models.WorkItem, error) {
	r, err := scanWorkRow(row)
	if err != nil {
		return nil, err
	}
	return d.decodeWorkRow(r)
}

func (d *Database) decodeWorkRow(r workRow) (*models.WorkItem, error) {
	plan, err := OpenPayload(d.encryptor, r.workID, r.payload)
	if err != nil {
		return nil, err
	}

	item := models.WorkItem{
		WorkID:          r.workID,
		Payload:         plan,
		Attempt:         r.attempt,
		Status:          models.WorkStatus(r.status),
		RequiresNetwork: r.requiresNetwork != 0,
		Endpoints:       make(map[string]models.EndpointState),
		Revision:        r.revision,
		LastError:       r.lastError,
		NextAttemptAt:   time.UnixMilli(r.nextAttemptAt),
		CreatedAt:       time.UnixMilli(r.createdAt),
		UpdatedAt:       time.UnixMilli(r.updatedAt),
	}
	if err := json.Unmarshal([]byte(r.states), &item.Endpoints); err != nil {
		return nil, fmt.Errorf("failed to unmarshal endpoint states of %s: %w", r.workID, err)
	}
	return &item, nil
}

func (d *Database) workItemArgs(item *models.WorkItem) ([]interface{}, error) {
	payload, err := SealPayload(d.encryptor, item.WorkID, item.Payload)
	if err != nil {
		return nil, err
	}

	states, err := json.Marshal(item.Endpoints)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal endpoint states: %w", err)
	}
	if item.Endpoints == nil {
		states = []byte("{}")
	}

	requiresNetwork := 0
	if item.RequiresNetwork {
		requiresNetwork = 1
	}

	return []interface{}{
		item.WorkID,
		string(item.Status),
		item.Attempt,
		requiresNetwork,
		item.Revision,
		payload,
		string(states),
		item.LastError,
		item.NextAttemptAt.UnixMilli(),
		item.CreatedAt.UnixMilli(),
		item.UpdatedAt.UnixMilli(),
	}, nil
}
