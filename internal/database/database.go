// Package database opens the SQLite database shared by the job, retry and
// schedule stores and applies the embedded schema.
package database

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jo-hoe/pinwriter/internal/common"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var schema string

// Open opens (creating if needed) the SQLite database at path and migrates it.
func Open(path string) (*sql.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("database path is required")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("ensure database dir: %w", err)
		}
	}
	// Pragmas are applied on every new connection by the driver. foreign_keys
	// must be on for job_retries to cascade when jobs are cleaned up.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)",
		path, common.SQLiteBusyTimeoutMS)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := Migrate(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate applies the schema. It is idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// Millis converts t to unix milliseconds for storage.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// FromMillis converts stored unix milliseconds back to a UTC time.
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// NullMillis converts a nullable column to a time pointer.
func NullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := FromMillis(v.Int64)
	return &t
}

// NullString returns nil for blank strings so they are stored as NULL.
func NullString(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
