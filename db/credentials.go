// ABOUTME: SQLite-backed per-user credential store for calendar settings and OAuth tokens
// ABOUTME: Seals token columns at rest and applies partial updates inside a transaction
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/harperreed/issuecal/models"
)

// CredentialStore implements the sync engine's per-user property bag.
type CredentialStore struct {
	db     *sql.DB
	sealer *Sealer
}

func NewCredentialStore(db *sql.DB, sealer *Sealer) *CredentialStore {
	return &CredentialStore{db: db, sealer: sealer}
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Get returns the stored credentials, or an empty record for unknown users.
func (s *CredentialStore) Get(ctx context.Context, userID string) (*models.Credentials, error) {
	return s.get(ctx, s.db, userID)
}

func (s *CredentialStore) get(ctx context.Context, q queryer, userID string) (*models.Credentials, error) {
	creds := &models.Credentials{UserID: userID}
	var refresh, access, relayKey string
	var expiryMillis int64

	err := q.QueryRowContext(ctx, `
		SELECT calendar_id, refresh_token, access_token, token_expiry_ms, relay_url, relay_api_key
		FROM user_credentials
		WHERE user_id = ?
	`, userID).Scan(&creds.CalendarID, &refresh, &access, &expiryMillis, &creds.RelayURL, &relayKey)

	if err == sql.ErrNoRows {
		return creds, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credentials: %w", err)
	}

	if creds.RefreshToken, err = s.sealer.Open(refresh); err != nil {
		return nil, err
	}
	if creds.AccessToken, err = s.sealer.Open(access); err != nil {
		return nil, err
	}
	if creds.RelayAPIKey, err = s.sealer.Open(relayKey); err != nil {
		return nil, err
	}
	if expiryMillis > 0 {
		creds.TokenExpiry = time.UnixMilli(expiryMillis).UTC()
	}

	return creds, nil
}

// Put merges patch into the stored record.
func (s *CredentialStore) Put(ctx context.Context, userID string, patch models.CredentialPatch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	creds, err := s.get(ctx, tx, userID)
	if err != nil {
		return err
	}
	creds.Apply(patch)

	refresh, err := s.sealer.Seal(creds.RefreshToken)
	if err != nil {
		return err
	}
	access, err := s.sealer.Seal(creds.AccessToken)
	if err != nil {
		return err
	}
	relayKey, err := s.sealer.Seal(creds.RelayAPIKey)
	if err != nil {
		return err
	}
	var expiryMillis int64
	if !creds.TokenExpiry.IsZero() {
		expiryMillis = creds.TokenExpiry.UnixMilli()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO user_credentials (user_id, calendar_id, refresh_token, access_token, token_expiry_ms, relay_url, relay_api_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(user_id) DO UPDATE SET
			calendar_id = excluded.calendar_id,
			refresh_token = excluded.refresh_token,
			access_token = excluded.access_token,
			token_expiry_ms = excluded.token_expiry_ms,
			relay_url = excluded.relay_url,
			relay_api_key = excluded.relay_api_key,
			updated_at = CURRENT_TIMESTAMP
	`, userID, creds.CalendarID, refresh, access, expiryMillis, creds.RelayURL, relayKey)
	if err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit credentials: %w", err)
	}
	return nil
}

// ListUsers returns the ids of every user with a stored record.
func (s *CredentialStore) ListUsers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM user_credentials ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}
	return users, nil
}
