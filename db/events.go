// ABOUTME: Database operations for the issue_events table
// ABOUTME: Stores the synced calendar event id for each issue
package db

import (
	"context"
	"database/sql"
	"fmt"
)

// EventRefStore persists issue to event references.
type EventRefStore struct {
	db *sql.DB
}

func NewEventRefStore(db *sql.DB) *EventRefStore {
	return &EventRefStore{db: db}
}

// EventID returns "" for issues that are not synced.
func (s *EventRefStore) EventID(ctx context.Context, issueID string) (string, error) {
	var eventID string
	err := s.db.QueryRowContext(ctx, `SELECT event_id FROM issue_events WHERE issue_id = ?`, issueID).Scan(&eventID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get event id: %w", err)
	}
	return eventID, nil
}

// SetEventID stores eventID, or removes the reference when it is empty.
func (s *EventRefStore) SetEventID(ctx context.Context, issueID, eventID string) error {
	if eventID == "" {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM issue_events WHERE issue_id = ?`, issueID); err != nil {
			return fmt.Errorf("failed to clear event id: %w", err)
		}
		return nil
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO issue_events (issue_id, event_id, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(issue_id) DO UPDATE SET
			event_id = excluded.event_id,
			updated_at = CURRENT_TIMESTAMP
	`, issueID, eventID)
	if err != nil {
		return fmt.Errorf("failed to set event id: %w", err)
	}
	return nil
}
