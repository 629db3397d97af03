package blob

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver

	uperr "github.com/sealbox/sealbox/internal/errors"
)

// timeFormat is the ISO 8601 format used for all timestamps in SQLite.
const timeFormat = "2006-01-02T15:04:05.000Z"

// Record is one row of the blob index. Several records may share a digest;
// the content object is deleted only when the last referencing record goes.
type Record struct {
	ID          string
	Digest      string
	Size        int64
	Filename    string
	ContentType string
	CreatedAt   time.Time
}

// Index is the SQLite-backed blob record index. It provides durable,
// ACID-compliant record storage suitable for single-node deployments.
type Index struct {
	db *sql.DB
}

// NewIndex opens (or creates) the SQLite index at the given DSN and
// initializes the schema.
func NewIndex(dsn string) (*Index, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening SQLite database: %w", err)
	}

	idx := &Index{db: db}
	if err := idx.initDB(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing blob index: %w", err)
	}
	return idx, nil
}

// initDB applies PRAGMAs and creates the required tables and indexes.
// Safe to call multiple times (idempotent via IF NOT EXISTS).
func (i *Index) initDB() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := i.db.Exec(p); err != nil {
			return fmt.Errorf("executing %q: %w", p, err)
		}
	}

	schema := `
		CREATE TABLE IF NOT EXISTS blobs (
			id           TEXT PRIMARY KEY,
			digest       TEXT NOT NULL,
			size         INTEGER NOT NULL,
			filename     TEXT NOT NULL DEFAULT 'upload',
			content_type TEXT NOT NULL DEFAULT 'application/octet-stream',
			created_at   TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_blobs_digest ON blobs(digest);
	`
	if _, err := i.db.Exec(schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// Insert adds a blob record.
func (i *Index) Insert(ctx context.Context, rec *Record) error {
	_, err := i.db.ExecContext(ctx,
		`INSERT INTO blobs (id, digest, size, filename, content_type, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Digest, rec.Size, rec.Filename, rec.ContentType,
		rec.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting blob record: %w", err)
	}
	return nil
}

// Get retrieves a blob record by id. Returns ErrNotFound if absent.
func (i *Index) Get(ctx context.Context, id string) (*Record, error) {
	row := i.db.QueryRowContext(ctx,
		`SELECT id, digest, size, filename, content_type, created_at
		 FROM blobs WHERE id = ?`, id)

	var rec Record
	var createdAt string
	err := row.Scan(&rec.ID, &rec.Digest, &rec.Size, &rec.Filename, &rec.ContentType, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, uperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading blob record: %w", err)
	}

	rec.CreatedAt, err = time.Parse(timeFormat, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing blob timestamp: %w", err)
	}
	return &rec, nil
}

// Delete removes a blob record and reports the digest it referenced plus the
// number of remaining records sharing that digest, so the caller can decide
// whether the content object itself is still needed.
func (i *Index) Delete(ctx context.Context, id string) (digest string, remaining int, err error) {
	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return "", 0, fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT digest FROM blobs WHERE id = ?`, id)
	if err := row.Scan(&digest); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", 0, uperr.ErrNotFound
		}
		return "", 0, fmt.Errorf("reading blob record: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM blobs WHERE id = ?`, id); err != nil {
		return "", 0, fmt.Errorf("deleting blob record: %w", err)
	}

	row = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM blobs WHERE digest = ?`, digest)
	if err := row.Scan(&remaining); err != nil {
		return "", 0, fmt.Errorf("counting digest references: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", 0, fmt.Errorf("committing delete transaction: %w", err)
	}
	return digest, remaining, nil
}

// Ping checks connectivity to the index database.
func (i *Index) Ping(ctx context.Context) error {
	return i.db.PingContext(ctx)
}

// Close closes the index database.
func (i *Index) Close() error {
	return i.db.Close()
}
