package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"smsrelay/internal/models"
)

// SaveLogEntry appends an audit entry and trims the table to the newest keep rows.
func (d *Database) SaveLogEntry(ctx context.Context, entry models.LogEntry, keep int) error {
	var data sql.NullString
	if len(entry.Data) > 0 {
		raw, err := json.Marshal(entry.Data)
		if err != nil {
			return fmt.Errorf("failed to marshal log data: %w", err)
		}
		data = sql.NullString{String: string(raw), Valid: true}
	}

	return retryableDBOperation(ctx, func() error {
		tx, err := d.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `INSERT INTO audit_logs (id, timestamp, level, category, message, data, stack_trace)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			entry.ID, entry.Timestamp.UnixMilli(), string(entry.Level), string(entry.Category),
			entry.Message, data, entry.StackTrace); err != nil {
			_ = tx.Rollback()
			return err
		}

		if keep > 0 {
			if _, err := tx.ExecContext(ctx, `DELETE FROM audit_logs WHERE seq NOT IN (
				SELECT seq FROM audit_logs ORDER BY seq DESC LIMIT ?)`, keep); err != nil {
				_ = tx.Rollback()
				return err
			}
		}

		return tx.Commit()
	}, "save log entry")
}

// ListLogEntries returns up to limit of the newest entries, oldest first.
func (d *Database) ListLogEntries(ctx context.Context, limit int) ([]models.LogEntry, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT id, timestamp, level, category, message, data, stack_trace
		FROM (SELECT * FROM audit_logs ORDER BY seq DESC LIMIT ?)
		ORDER BY seq ASC`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list log entries: %w", err)
	}
	defer rows.Close()

	var entries []models.LogEntry
	for rows.Next() {
		var (
			entry           models.LogEntry
			ts              int64
			level, category string
			data, stack     sql.NullString
		)
		if err := rows.Scan(&entry.ID, &ts, &level, &category, &entry.Message, &data, &stack); err != nil {
			return nil, fmt.Errorf("failed to scan log entry: %w", err)
		}
		entry.Timestamp = time.UnixMilli(ts)
		entry.Level = models.LogLevel(level)
		entry.Category = models.LogCategory(category)
		entry.StackTrace = stack.String
		if data.Valid && data.String != "" {
			if err := json.Unmarshal([]byte(data.String), &entry.Data); err != nil {
				return nil, fmt.Errorf("failed to unmarshal log data: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// ClearLogEntries removes every persisted audit entry.
func (d *Database) ClearLogEntries(ctx context.Context) error {
	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, `DELETE FROM audit_logs`)
		return err
	}, "clear log entries")
}
