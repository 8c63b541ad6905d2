// ABOUTME: Database schema definitions and migrations
// ABOUTME: Handles SQLite table creation for credentials, event references and sync history
package db

import (
	"database/sql"
)

const schema = `
CREATE TABLE IF NOT EXISTS user_credentials (
	user_id TEXT PRIMARY KEY,
	calendar_id TEXT NOT NULL DEFAULT '',
	refresh_token TEXT NOT NULL DEFAULT '',
	access_token TEXT NOT NULL DEFAULT '',
	token_expiry_ms INTEGER NOT NULL DEFAULT 0,
	relay_url TEXT NOT NULL DEFAULT '',
	relay_api_key TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS issue_events (
	issue_id TEXT PRIMARY KEY,
	event_id TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS sync_log (
	id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL,
	issue_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	rule TEXT NOT NULL,
	operation TEXT NOT NULL,
	event_id TEXT,
	status TEXT NOT NULL CHECK(status IN ('ok', 'failed')),
	error_message TEXT,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_sync_log_issue ON sync_log(issue_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_sync_log_user ON sync_log(user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_sync_log_run ON sync_log(run_id);
`

func InitSchema(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
