package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS dataset_memory (
	dataset_id TEXT PRIMARY KEY,
	record     TEXT NOT NULL,
	updated_at TEXT NOT NULL
)`

// sqliteBackend stores each record as a row
type sqliteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens or creates the database at path. Use ":memory:"
// for a throwaway database.
func NewSQLiteBackend(path string) (Backend, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection serializes writers and keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return &sqliteBackend{db: db}, nil
}

func (b *sqliteBackend) Load(ctx context.Context, id string) (*Record, error) {
	var data string
	err := b.db.QueryRowContext(ctx,
		`SELECT record FROM dataset_memory WHERE dataset_id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return decodeRecord(nil)
	}
	if err != nil {
		return nil, fmt.Errorf("querying memory: %w", err)
	}
	return decodeRecord([]byte(data))
}

func (b *sqliteBackend) Update(ctx context.Context, id string, fn func(*Record) error) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var data string
	err = tx.QueryRowContext(ctx,
		`SELECT record FROM dataset_memory WHERE dataset_id = ?`, id).Scan(&data)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("querying memory: %w", err)
	}
	r, err := decodeRecord([]byte(data))
	if err != nil {
		return err
	}
	if err := fn(r); err != nil {
		return err
	}
	encoded, err := encodeRecord(r)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO dataset_memory (dataset_id, record, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(dataset_id) DO UPDATE SET record = excluded.record, updated_at = excluded.updated_at`,
		id, string(encoded), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("saving memory: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing memory: %w", err)
	}
	return nil
}

func (b *sqliteBackend) Close() error {
	return b.db.Close()
}
