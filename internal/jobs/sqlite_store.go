package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jo-hoe/pinwriter/internal/common"
	"github.com/jo-hoe/pinwriter/internal/database"
	"github.com/jo-hoe/pinwriter/internal/util"
)

const defaultListLimit = 50

// SQLiteStore persists jobs in the shared SQLite database.
// All mutations of a single job are serialized through a per-job lock.
type SQLiteStore struct {
	db    *sql.DB
	locks keyedMutex
	now   func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore wraps an opened and migrated database (see database.Open).
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock overrides the time source; used by tests.
func (s *SQLiteStore) WithClock(now func() time.Time) *SQLiteStore {
	s.now = now
	return s
}

func (s *SQLiteStore) CreateJob(ctx context.Context, topic string) (*Job, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, errors.New("topic is required")
	}
	now := s.now()
	job := &Job{
		ID:        util.NewID(),
		Status:    StatusQueued,
		Topic:     topic,
		Steps:     NewSteps(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	steps, err := json.Marshal(job.Steps)
	if err != nil {
		return nil, fmt.Errorf("marshal steps: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, status, topic, steps_json, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		job.ID, string(job.Status), job.Topic, string(steps), database.Millis(now), database.Millis(now),
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	// Millisecond storage precision; return what a later GetJob would.
	job.CreatedAt = database.FromMillis(database.Millis(now))
	job.UpdatedAt = job.CreatedAt
	return job, nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, selectJob+` WHERE id = ?`, id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	return job, nil
}

// UpdateJob merges upd into the stored job. A status other than failed clears the stored error.
func (s *SQLiteStore) UpdateJob(ctx context.Context, id string, upd JobUpdate) error {
	if upd.Status != nil && !upd.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidState, *upd.Status)
	}
	if upd.Steps != nil {
		if err := upd.Steps.Validate(); err != nil {
			return err
		}
	}
	return s.mutate(ctx, id, func(job *Job) error {
		if upd.Status != nil {
			job.Status = *upd.Status
		}
		if upd.Result != nil {
			r := *upd.Result
			job.Result = &r
		}
		if upd.Steps != nil {
			job.Steps = *upd.Steps
		}
		if upd.Error != nil {
			e := *upd.Error
			job.Error = &e
		}
		if job.Status != StatusFailed {
			job.Error = nil
		}
		return nil
	})
}

// UpdateStep atomically sets a single step status without touching the other steps.
func (s *SQLiteStore) UpdateStep(ctx context.Context, id string, step Step, status StepStatus) error {
	if _, err := NewSteps().Get(step); err != nil {
		return err
	}
	if !status.Valid() {
		return fmt.Errorf("%w: step status %q", ErrInvalidState, status)
	}
	return s.mutate(ctx, id, func(job *Job) error {
		return job.Steps.Set(step, status)
	})
}

// mutate runs a read-modify-write of one job under its lock and inside a transaction.
func (s *SQLiteStore) mutate(ctx context.Context, id string, fn func(job *Job) error) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	job, err := scanJob(tx.QueryRowContext(ctx, selectJob+` WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return fmt.Errorf("scan job: %w", err)
	}
	if err := fn(job); err != nil {
		return err
	}

	steps, err := json.Marshal(job.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}
	var result any
	if job.Result != nil {
		b, err := json.Marshal(job.Result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		result = string(b)
	}
	var errMsg any
	if job.Error != nil {
		errMsg = *job.Error
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE jobs SET status = ?, steps_json = ?, result_json = ?, error_message = ?, updated_at = ? WHERE id = ?`,
		string(job.Status), string(steps), result, errMsg, database.Millis(s.now()), id,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit job update: %w", err)
	}
	return nil
}

// ListJobs returns up to limit jobs, newest first.
func (s *SQLiteStore) ListJobs(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, selectJob+` ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, *job)
	}
	return out, rows.Err()
}

// CleanupOldJobs deletes all but the keep most recently created jobs and
// returns how many were removed. Retry entries of removed jobs cascade.
func (s *SQLiteStore) CleanupOldJobs(ctx context.Context, keep int) (int, error) {
	if keep <= 0 {
		keep = common.DefaultJobsKept
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE id NOT IN (SELECT id FROM jobs ORDER BY created_at DESC, rowid DESC LIMIT ?)`, keep)
	if err != nil {
		return 0, fmt.Errorf("cleanup jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cleanup rows affected: %w", err)
	}
	return int(n), nil
}

const selectJob = `SELECT id, status, topic, steps_json, result_json, error_message, created_at, updated_at FROM jobs`

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(sc scanner) (*Job, error) {
	var (
		job              Job
		status, steps    string
		result, errMsg   sql.NullString
		created, updated int64
	)
	if err := sc.Scan(&job.ID, &status, &job.Topic, &steps, &result, &errMsg, &created, &updated); err != nil {
		return nil, err
	}
	job.Status = Status(status)
	if err := json.Unmarshal([]byte(steps), &job.Steps); err != nil {
		return nil, fmt.Errorf("decode steps for %s: %w", job.ID, err)
	}
	job.Steps.normalize()
	if result.Valid && result.String != "" {
		var r Result
		if err := json.Unmarshal([]byte(result.String), &r); err != nil {
			return nil, fmt.Errorf("decode result for %s: %w", job.ID, err)
		}
		job.Result = &r
	}
	if errMsg.Valid {
		v := errMsg.String
		job.Error = &v
	}
	job.CreatedAt = database.FromMillis(created)
	job.UpdatedAt = database.FromMillis(updated)
	return &job, nil
}
