// Package handoff implements the alias registry and the CLI-side handoff
// that moves a desktop agent session into a chat thread.
package handoff

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrAliasNotFound is the normal outcome of resolving an alias that was
// never recorded (typo, legacy format). Callers treat it as "no match".
var ErrAliasNotFound = errors.New("alias not found")

// ErrAliasTaken is returned when recording an alias already bound to a
// different session. Aliases are never reused.
var ErrAliasTaken = errors.New("alias already bound to another session")

// DefaultRetention is how many records Prune keeps by default.
const DefaultRetention = 200

// Record is one persisted alias→session mapping.
type Record struct {
	Alias              string
	SessionID          string
	SourceConversation string
	CreatedAt          time.Time
}

// Registry is the durable alias→session store. sqlite in WAL mode gives
// the concurrent-readers, single-writer discipline the bridge needs.
type Registry struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the registry database under dataDir.
func Open(dataDir string) (*Registry, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "handoffs.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}

	r := &Registry{db: db, path: dbPath}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return r, nil
}

func (r *Registry) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS handoffs (
		alias TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		source_conversation TEXT,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_handoffs_created ON handoffs(created_at DESC);
	`
	_, err := r.db.Exec(schema)
	return err
}

// Close closes the backing database.
func (r *Registry) Close() error {
	return r.db.Close()
}

// Record durably binds alias to sessionID. Recording the same pair again
// is idempotent; binding an existing alias to a different session fails
// with ErrAliasTaken.
func (r *Registry) Record(ctx context.Context, sessionID, alias, sourceConversation string) error {
	if alias == "" || sessionID == "" {
		return errors.New("alias and session id required")
	}

	var existing string
	err := r.db.QueryRowContext(ctx,
		`SELECT session_id FROM handoffs WHERE alias = ?`, alias).Scan(&existing)
	switch {
	case err == nil:
		if existing != sessionID {
			return fmt.Errorf("%w: %s", ErrAliasTaken, alias)
		}
		return nil
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("lookup alias: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO handoffs (alias, session_id, source_conversation, created_at)
		VALUES (?, ?, ?, ?)
	`, alias, sessionID, nullable(sourceConversation), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record handoff: %w", err)
	}
	return nil
}

// Resolve returns the session identifier bound to alias.
func (r *Registry) Resolve(ctx context.Context, alias string) (string, error) {
	var sessionID string
	err := r.db.QueryRowContext(ctx,
		`SELECT session_id FROM handoffs WHERE alias = ?`, alias).Scan(&sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrAliasNotFound, alias)
	}
	if err != nil {
		return "", fmt.Errorf("resolve alias: %w", err)
	}
	return sessionID, nil
}

// Exists reports whether alias is already recorded. Used by the alias
// generator's collision check.
func (r *Registry) Exists(ctx context.Context, alias string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM handoffs WHERE alias = ?`, alias).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// List returns the most recent records, newest first.
func (r *Registry) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = DefaultRetention
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT alias, session_id, source_conversation, created_at
		FROM handoffs ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var source sql.NullString
		if err := rows.Scan(&rec.Alias, &rec.SessionID, &source, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if source.Valid {
			rec.SourceConversation = source.String
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Prune deletes all but the keep most recent records. Lookups tolerate an
// unbounded registry; pruning just keeps the practical population small.
func (r *Registry) Prune(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		keep = DefaultRetention
	}
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM handoffs WHERE alias NOT IN (
			SELECT alias FROM handoffs ORDER BY created_at DESC LIMIT ?
		)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune registry: %w", err)
	}
	return res.RowsAffected()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
