package database

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"
)

func TestOpen_MigratesAndIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if err := Migrate(context.Background(), db); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	for _, table := range []string{"jobs", "job_retries", "scheduled_content"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		if err != nil {
			t.Fatalf("table %s missing: %v", table, err)
		}
	}
}

func TestOpen_ForeignKeysCascade(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "fk.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if _, err := db.Exec(`INSERT INTO jobs (id, status, topic, steps_json, created_at, updated_at) VALUES ('j1','failed','t','{}',1,1)`); err != nil {
		t.Fatalf("insert job: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO job_retries (job_id, retry_count, max_retries, next_retry_at, created_at) VALUES ('j1',0,3,1,1)`); err != nil {
		t.Fatalf("insert retry: %v", err)
	}
	if _, err := db.Exec(`DELETE FROM jobs WHERE id = 'j1'`); err != nil {
		t.Fatalf("delete job: %v", err)
	}
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM job_retries`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatalf("retry rows should cascade, got %d", n)
	}
}

func TestOpen_EmptyPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestMillisRoundTrip(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 30, 15, 123_456_789, time.UTC)
	got := FromMillis(Millis(now))
	if !got.Equal(now.Truncate(time.Millisecond)) {
		t.Fatalf("round trip = %v, want %v", got, now.Truncate(time.Millisecond))
	}
	if NullMillis(sql.NullInt64{}) != nil {
		t.Fatalf("invalid NullInt64 should map to nil")
	}
	if NullString(" ") != nil || NullString("x") != "x" {
		t.Fatalf("NullString mismatch")
	}
}
