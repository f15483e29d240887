package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/omniflow-labs/omniflow/internal/apperr"
)

const blobSchemaSQL = `
CREATE TABLE IF NOT EXISTS blobs (
	path       TEXT PRIMARY KEY,
	content    BLOB NOT NULL,
	size       INTEGER NOT NULL DEFAULT 0,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// SQLite implements Provider on a single-table SQLite database. It serves
// deployments without a shared filesystem; writes are transactional so the
// no-partial-write guarantee comes for free.
type SQLite struct {
	conn *sql.DB
}

// OpenSQLite opens (or creates) the database and applies the schema.
func OpenSQLite(dsn string) (*SQLite, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite: %w", err)
	}
	if _, err := conn.Exec(blobSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("storage: apply schema: %w", err)
	}
	return &SQLite{conn: conn}, nil
}

// Close closes the underlying database handle.
func (s *SQLite) Close() error { return s.conn.Close() }

// Exists reports whether a blob is present at path.
func (s *SQLite) Exists(ctx context.Context, path string) (bool, error) {
	var one int
	err := s.conn.QueryRowContext(ctx, `SELECT 1 FROM blobs WHERE path = ?`, path).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, apperr.Wrap(apperr.KindStorageUnavailable, err, "stat %s", path)
	}
	return true, nil
}

// Read returns the raw bytes of the blob at path.
func (s *SQLite) Read(ctx context.Context, path string) ([]byte, error) {
	var content []byte
	err := s.conn.QueryRowContext(ctx, `SELECT content FROM blobs WHERE path = ?`, path).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "blob not found: %s", path)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorageUnavailable, err, "read %s", path)
	}
	return content, nil
}

// Write replaces the blob at path with content.
func (s *SQLite) Write(ctx context.Context, path string, content []byte) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO blobs (path, content, size, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET content = excluded.content,
			size = excluded.size, updated_at = excluded.updated_at`,
		path, content, len(content), time.Now().UTC())
	if err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, err, "write %s", path)
	}
	return nil
}

// List returns metadata for every blob under prefix, ordered by path.
func (s *SQLite) List(ctx context.Context, prefix string) ([]Info, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT path, size, updated_at FROM blobs WHERE path LIKE ? ESCAPE '\' ORDER BY path`,
		escapeLike(prefix)+"%")
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorageUnavailable, err, "list %s", prefix)
	}
	defer rows.Close()

	var out []Info
	for rows.Next() {
		var info Info
		if err := rows.Scan(&info.Path, &info.Size, &info.UpdatedAt); err != nil {
			return nil, apperr.Wrap(apperr.KindStorageUnavailable, err, "scan listing for %s", prefix)
		}
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindStorageUnavailable, err, "list %s", prefix)
	}
	return out, nil
}

// Delete removes the blob at path.
func (s *SQLite) Delete(ctx context.Context, path string) error {
	res, err := s.conn.ExecContext(ctx, `DELETE FROM blobs WHERE path = ?`, path)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, err, "delete %s", path)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.KindNotFound, "blob not found: %s", path)
	}
	return nil
}

// Rename moves a blob to newPath inside one transaction.
func (s *SQLite) Rename(ctx context.Context, oldPath, newPath string) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, err, "begin rename %s", oldPath)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM blobs WHERE path = ?`, newPath); err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, err, "clear rename target %s", newPath)
	}
	res, err := tx.ExecContext(ctx, `UPDATE blobs SET path = ?, updated_at = ? WHERE path = ?`,
		newPath, time.Now().UTC(), oldPath)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, err, "rename %s to %s", oldPath, newPath)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.KindNotFound, "blob not found: %s", oldPath)
	}
	if err := tx.Commit(); err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, err, "commit rename %s", oldPath)
	}
	return nil
}

// escapeLike escapes LIKE metacharacters in a literal prefix.
func escapeLike(s string) string {
	var out []byte
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}

// Verify both backends satisfy Provider at compile time.
var (
	_ Provider = (*FS)(nil)
	_ Provider = (*SQLite)(nil)
)
