// Package sqlitestore persists the project table in an embedded SQLite
// database so versions and tombstones survive restarts.
//
// The database runs in WAL mode through the cgo-free ncruces driver.
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/fyrsmithlabs/projectd/internal/project"
)

const schema = `
CREATE TABLE IF NOT EXISTS projects (
	id         TEXT PRIMARY KEY,
	seq        INTEGER NOT NULL,
	payload    TEXT NOT NULL,
	version    INTEGER NOT NULL,
	updated_at TEXT NOT NULL,
	deleted    INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_projects_seq ON projects(seq);
CREATE TABLE IF NOT EXISTS floors (
	id      TEXT PRIMARY KEY,
	version INTEGER NOT NULL
);
`

// DB is a project.Persister backed by SQLite.
type DB struct {
	conn *sql.DB
	path string
}

var _ project.Persister = (*DB)(nil)

// Open opens or creates the database at path and applies the schema.
// The caller must Close it.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// The store serializes writes itself.
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn, path: path}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	if _, err := conn.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return db, nil
}

// Path returns the database file path.
func (db *DB) Path() string { return db.path }

// Close checkpoints the WAL and closes the connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	_, _ = db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return db.conn.Close()
}

// LoadAll returns every row ordered by insertion sequence.
func (db *DB) LoadAll(ctx context.Context) ([]project.Row, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, seq, payload, version, updated_at, deleted FROM projects ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to query projects: %w", err)
	}
	defer rows.Close()

	var out []project.Row
	for rows.Next() {
		var (
			row       project.Row
			updatedAt string
			deleted   int
		)
		if err := rows.Scan(&row.Record.ID, &row.Seq, &row.Record.Payload,
			&row.Record.Version, &updatedAt, &deleted); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, updatedAt)
		if err != nil {
			return nil, fmt.Errorf("project %s: bad updated_at %q: %w", row.Record.ID, updatedAt, err)
		}
		row.Record.UpdatedAt = ts
		row.Record.Deleted = deleted != 0
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate projects: %w", err)
	}
	return out, nil
}

// Put upserts rec at insertion position seq.
func (db *DB) Put(ctx context.Context, seq int64, rec project.Record) error {
	deleted := 0
	if rec.Deleted {
		deleted = 1
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO projects (id, seq, payload, version, updated_at, deleted)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			seq = excluded.seq,
			payload = excluded.payload,
			version = excluded.version,
			updated_at = excluded.updated_at,
			deleted = excluded.deleted`,
		rec.ID, seq, rec.Payload, rec.Version,
		rec.UpdatedAt.UTC().Format(time.RFC3339Nano), deleted)
	if err != nil {
		return fmt.Errorf("failed to upsert project %s: %w", rec.ID, err)
	}
	return nil
}

// LoadFloors returns the recorded version floor of every purged id.
func (db *DB) LoadFloors(ctx context.Context) (map[string]int64, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT id, version FROM floors`)
	if err != nil {
		return nil, fmt.Errorf("failed to query floors: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var (
			id      string
			version int64
		)
		if err := rows.Scan(&id, &version); err != nil {
			return nil, fmt.Errorf("failed to scan floor: %w", err)
		}
		out[id] = version
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate floors: %w", err)
	}
	return out, nil
}

// Remove deletes the row for id and raises its floor to at least floor in
// one transaction. Removing a missing row is not an error.
func (db *DB) Remove(ctx context.Context, id string, floor int64) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete project %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO floors (id, version) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET version = MAX(version, excluded.version)`,
		id, floor); err != nil {
		return fmt.Errorf("failed to record floor for %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit removal of %s: %w", id, err)
	}
	return nil
}

// Count returns the number of stored rows, tombstones included.
func (db *DB) Count(ctx context.Context) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM projects`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count projects: %w", err)
	}
	return n, nil
}
