package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/kotoba/internal/models"
)

const defaultBusyTimeoutMs = 5000

// SQLiteTable implements ResponseTable using SQLite. Transactions start with
// BEGIN IMMEDIATE so concurrent Appends queue on the write lock instead of
// failing when they upgrade from a read.
type SQLiteTable struct {
	db *sql.DB
}

// NewSQLiteTable opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteTable(dbPath string, opts Options) (*SQLiteTable, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	busy := defaultBusyTimeoutMs
	if opts.OpenTimeout > 0 {
		busy = int(opts.OpenTimeout.Milliseconds())
	}
	dsn := fmt.Sprintf("%s?_txlock=immediate&_busy_timeout=%d&_synchronous=FULL", dbPath, busy)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteTable{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS responses (
		key BLOB PRIMARY KEY,
		bucket BLOB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS imports (
		file_id TEXT PRIMARY KEY,
		fingerprint TEXT NOT NULL,
		imported_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := db.Exec(schema)
	return err
}

// Append adds r to the bucket under key in one immediate transaction.
func (s *SQLiteTable) Append(ctx context.Context, key []byte, r models.Response) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var existing []byte
	err = tx.QueryRowContext(ctx, `SELECT bucket FROM responses WHERE key = ?`, key).Scan(&existing)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		existing = nil
	} else if existing == nil {
		// a stored zero-length blob scans as nil; keep it distinguishable from "absent"
		existing = []byte{}
	}
	data, err := models.AppendEncoded(existing, r)
	if err != nil {
		return fmt.Errorf("%w: key %x: %w", ErrCorrupt, key, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO responses (key, bucket) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET bucket = excluded.bucket`,
		key, data,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// Get returns the bucket stored under key.
func (s *SQLiteTable) Get(ctx context.Context, key []byte) (models.Bucket, bool, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT bucket FROM responses WHERE key = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	bucket, err := decodeStored(key, data)
	if err != nil {
		return nil, false, err
	}
	return bucket, true, nil
}

// ForEach walks every stored pair in key order.
func (s *SQLiteTable) ForEach(ctx context.Context, fn func(key []byte, bucket models.Bucket) error) error {
	rows, err := s.db.QueryContext(ctx, `SELECT key, bucket FROM responses ORDER BY key`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key, data []byte
		if err := rows.Scan(&key, &data); err != nil {
			return err
		}
		bucket, err := decodeStored(key, data)
		if err != nil {
			return err
		}
		if err := fn(key, bucket); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Count returns the number of stored keys.
func (s *SQLiteTable) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM responses`).Scan(&count)
	return count, err
}

// ImportFingerprint returns the fingerprint recorded for fileID.
func (s *SQLiteTable) ImportFingerprint(ctx context.Context, fileID string) (string, bool, error) {
	var fp string
	err := s.db.QueryRowContext(ctx, `SELECT fingerprint FROM imports WHERE file_id = ?`, fileID).Scan(&fp)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return fp, true, nil
}

// SetImportFingerprint records the fingerprint for fileID.
func (s *SQLiteTable) SetImportFingerprint(ctx context.Context, fileID, fingerprint string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO imports (file_id, fingerprint) VALUES (?, ?)
		 ON CONFLICT(file_id) DO UPDATE SET fingerprint = excluded.fingerprint, imported_at = CURRENT_TIMESTAMP`,
		fileID, fingerprint,
	)
	return err
}

// Close closes the database connection.
func (s *SQLiteTable) Close() error {
	return s.db.Close()
}
