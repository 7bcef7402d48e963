package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/scrypster/recall/pkg/types"
)

// SQLiteStore persists session contexts as JSON rows in SQLite. The full
// record lives in one blob column; id and session_id are broken out for
// lookups.
type SQLiteStore struct {
	db *sql.DB
}

var _ ContextStore = (*SQLiteStore)(nil)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS session_contexts (
	id         TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	data       TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_session_contexts_session ON session_contexts(session_id);
`

// NewSQLiteStore opens (or creates) the database at path. Use ":memory:"
// for an ephemeral store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("session: open sqlite %s: %w", path, err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("session: ensure schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// List returns every stored context.
func (s *SQLiteStore) List(ctx context.Context) ([]*types.SessionContext, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM session_contexts ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("session: list: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.SessionContext
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("session: scan: %w", err)
		}
		var sc types.SessionContext
		if err := json.Unmarshal([]byte(data), &sc); err != nil {
			return nil, fmt.Errorf("session: unmarshal context: %w", err)
		}
		out = append(out, &sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("session: rows: %w", err)
	}
	return out, nil
}

// Put inserts or replaces a context by ID.
func (s *SQLiteStore) Put(ctx context.Context, sc *types.SessionContext) error {
	if sc == nil || sc.ID == "" {
		return errors.New("session: context requires an ID")
	}
	data, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("session: marshal context %s: %w", sc.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO session_contexts (id, session_id, data, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			session_id = excluded.session_id,
			data = excluded.data,
			updated_at = excluded.updated_at
	`, sc.ID, sc.SessionID, string(data), sc.UpdatedAt.UTC().Format("2006-01-02T15:04:05.000Z"))
	if err != nil {
		return fmt.Errorf("session: put %s: %w", sc.ID, err)
	}
	return nil
}

// Delete removes a context by ID.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session_contexts WHERE id = ?`, id); err != nil {
		return fmt.Errorf("session: delete %s: %w", id, err)
	}
	return nil
}
