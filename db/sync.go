// ABOUTME: Database operations for the sync_log table
// ABOUTME: Records each remote calendar operation and answers history queries
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/harperreed/issuecal/models"
)

// SyncLog implements the controller's history sink.
type SyncLog struct {
	db *sql.DB
}

func NewSyncLog(db *sql.DB) *SyncLog {
	return &SyncLog{db: db}
}

// RecordSync inserts entry, assigning an id and timestamp when missing.
func (l *SyncLog) RecordSync(ctx context.Context, entry models.SyncLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO sync_log (id, run_id, issue_id, user_id, rule, operation, event_id, status, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.RunID, entry.IssueID, entry.UserID, entry.Rule, entry.Operation,
		nullString(entry.EventID), entry.Status, nullString(entry.Error), entry.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to create sync log: %w", err)
	}
	return nil
}

// SyncLogFilter narrows a history query. Zero values match everything.
type SyncLogFilter struct {
	IssueID string
	UserID  string
	Status  string
	Limit   int
}

// List returns matching entries, newest first.
func (l *SyncLog) List(ctx context.Context, filter SyncLogFilter) ([]models.SyncLogEntry, error) {
	query := `
		SELECT id, run_id, issue_id, user_id, rule, operation, event_id, status, error_message, created_at
		FROM sync_log
		WHERE 1=1`
	var args []any

	if filter.IssueID != "" {
		query += " AND issue_id = ?"
		args = append(args, filter.IssueID)
	}
	if filter.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, filter.UserID)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " ORDER BY created_at DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []models.SyncLogEntry
	for rows.Next() {
		var entry models.SyncLogEntry
		var eventID, errorMessage sql.NullString

		err := rows.Scan(
			&entry.ID,
			&entry.RunID,
			&entry.IssueID,
			&entry.UserID,
			&entry.Rule,
			&entry.Operation,
			&eventID,
			&entry.Status,
			&errorMessage,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync log: %w", err)
		}

		entry.EventID = eventID.String
		entry.Error = errorMessage.String
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync log: %w", err)
	}

	return entries, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
