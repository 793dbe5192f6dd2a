// Package storage is the SQLite persistence layer behind the relay's document
// backend: one documents table plus an append-only change log that lets other
// processes sharing the file notice writes.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps a SQLite database file.
type DB struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// DocRow is a stored document body.
type DocRow struct {
	ID        string
	Body      []byte
	UpdatedAt time.Time
}

// ChangeRow is one entry of the change log.
type ChangeRow struct {
	Seq        int64
	Collection string
	ID         string
}

// Open opens or creates the database file at path.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", "file:"+path+"?_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// PRAGMAs are per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS documents (
			collection TEXT NOT NULL,
			id         TEXT NOT NULL,
			body       BLOB NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (collection, id)
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create documents table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS changes (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			collection TEXT NOT NULL,
			id         TEXT NOT NULL,
			at         INTEGER NOT NULL
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create changes table: %w", err)
	}

	return &DB{db: db, path: path}, nil
}

func (d *DB) Close() error { return d.db.Close() }

func (d *DB) Path() string { return d.path }

// GetDoc returns the body of a document, or found=false.
func (d *DB) GetDoc(ctx context.Context, collection, id string) (body []byte, found bool, err error) {
	err = d.db.QueryRowContext(ctx,
		`SELECT body FROM documents WHERE collection = ? AND id = ?`, collection, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return body, true, nil
}

// PutDoc replaces a document.
func (d *DB) PutDoc(ctx context.Context, collection, id string, body []byte) error {
	return d.UpdateDoc(ctx, collection, id, func([]byte, bool) ([]byte, error) { return body, nil })
}

// UpdateDoc runs a read-modify-write of one document inside a write
// transaction. fn receives the current body (found=false when missing).
func (d *DB) UpdateDoc(ctx context.Context, collection, id string, fn func(cur []byte, found bool) ([]byte, error)) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var cur []byte
	found := true
	err = tx.QueryRowContext(ctx,
		`SELECT body FROM documents WHERE collection = ? AND id = ?`, collection, id).Scan(&cur)
	if errors.Is(err, sql.ErrNoRows) {
		found = false
	} else if err != nil {
		return err
	}

	next, err := fn(cur, found)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO documents (collection, id, body, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (collection, id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		collection, id, next, now); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO changes (collection, id, at) VALUES (?, ?, ?)`, collection, id, now); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteDoc removes a document. Deleting a missing document is not an error.
func (d *DB) DeleteDoc(ctx context.Context, collection, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND id = ?`, collection, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO changes (collection, id, at) VALUES (?, ?, ?)`, collection, id, time.Now().UnixMilli()); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListDocs returns all documents in a collection ordered by id.
func (d *DB) ListDocs(ctx context.Context, collection string) ([]DocRow, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, body, updated_at FROM documents WHERE collection = ? ORDER BY id`, collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DocRow
	for rows.Next() {
		var r DocRow
		var at int64
		if err := rows.Scan(&r.ID, &r.Body, &at); err != nil {
			return nil, err
		}
		r.UpdatedAt = time.UnixMilli(at)
		out = append(out, r)
	}
	return out, rows.Err()
}

// LastSeq returns the newest change sequence number, 0 when the log is empty.
func (d *DB) LastSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := d.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM changes`).Scan(&seq); err != nil {
		return 0, err
	}
	return seq.Int64, nil
}

// ChangesSince returns change log entries after seq, oldest first.
func (d *DB) ChangesSince(ctx context.Context, seq int64, limit int) ([]ChangeRow, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT seq, collection, id FROM changes WHERE seq > ? ORDER BY seq LIMIT ?`, seq, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ChangeRow
	for rows.Next() {
		var c ChangeRow
		if err := rows.Scan(&c.Seq, &c.Collection, &c.ID); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// PruneChanges drops change log entries older than cutoff.
func (d *DB) PruneChanges(ctx context.Context, cutoff time.Time) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	res, err := d.db.ExecContext(ctx, `DELETE FROM changes WHERE at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
