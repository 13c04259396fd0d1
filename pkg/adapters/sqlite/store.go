// Package sqlite persists session update logs in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/aretw0/gluedoc/pkg/core"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS session_updates (
		seq        INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		payload    BLOB NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_session_updates_session ON session_updates (session_id, seq)`,
}

// Store implements core.UpdateStore on a SQL database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the SQLite database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY between our own goroutines.
	db.SetMaxOpenConns(1)

	s, err := New(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database and creates the schema.
func New(ctx context.Context, db *sql.DB) (*Store, error) {
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	for _, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to migrate: %w", err)
		}
	}
	return &Store{db: db}, nil
}

// AppendUpdate implements core.UpdateStore.
func (s *Store) AppendUpdate(ctx context.Context, sessionID string, update []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_updates (session_id, payload, created_at) VALUES (?, ?, ?)`,
		sessionID, update, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to append update: %w", err)
	}
	return nil
}

// Updates implements core.UpdateStore.
func (s *Store) Updates(ctx context.Context, sessionID string) ([][]byte, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM session_updates WHERE session_id = ? ORDER BY seq`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query updates: %w", err)
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan update: %w", err)
		}
		out = append(out, payload)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read updates: %w", err)
	}
	return out, nil
}

// Compact implements core.UpdateStore. The history is replaced in one
// transaction so a crash never leaves a session without its snapshot.
func (s *Store) Compact(ctx context.Context, sessionID string, snapshot []byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin compaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM session_updates WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to clear updates: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO session_updates (session_id, payload, created_at) VALUES (?, ?, ?)`,
		sessionID, snapshot, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("failed to store snapshot: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit compaction: %w", err)
	}
	return nil
}

// Delete implements core.UpdateStore.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session_updates WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to delete updates: %w", err)
	}
	return nil
}

// Sessions returns the ids of every session with stored updates.
func (s *Store) Sessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT session_id FROM session_updates ORDER BY session_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close implements core.UpdateStore.
func (s *Store) Close() error {
	return s.db.Close()
}

var _ core.UpdateStore = (*Store)(nil)
