// ABOUTME: SQLite connection setup for credentials, event references and sync history
// ABOUTME: Opens the database in WAL mode under the XDG data dir and applies the schema
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultPath is the database location when none is configured.
func DefaultPath() string {
	return filepath.Join(xdg.DataHome, "issuecal", "issuecal.db")
}

// OpenDatabase opens (creating if needed) the database at path and makes
// sure every table exists. The parent directory is private to the user
// since it holds OAuth tokens.
func OpenDatabase(path string) (*sql.DB, error) {
	if path == "" {
		path = DefaultPath()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	// One writer at a time; the webhook and CLI may share the file.
	db.SetMaxOpenConns(1)

	if err := InitSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}
