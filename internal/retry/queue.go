// Package retry tracks failed jobs that may be re-executed and decides when.
package retry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/jo-hoe/pinwriter/internal/common"
	"github.com/jo-hoe/pinwriter/internal/database"
)

// ReasonMaxRetriesExceeded is reported once an entry has used up its retries.
const ReasonMaxRetriesExceeded = "Max retries exceeded"

var (
	ErrJobNotFound = errors.New("job not found")
	ErrNotFound    = errors.New("retry entry not found")
)

// Entry is the retry bookkeeping for one failed job.
type Entry struct {
	ID          int64     `json:"id"`
	JobID       string    `json:"job_id"`
	RetryCount  int       `json:"retry_count"`
	MaxRetries  int       `json:"max_retries"`
	NextRetryAt time.Time `json:"next_retry_at"`
	LastError   string    `json:"last_error"`
	CreatedAt   time.Time `json:"created_at"`
}

// Exhausted reports whether the entry may no longer be offered for execution.
func (e Entry) Exhausted() bool {
	return e.RetryCount >= e.MaxRetries
}

// QueueResult is the outcome of QueueForRetry.
type QueueResult struct {
	Queued      bool       `json:"queued"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
	RetryCount  *int       `json:"retry_count,omitempty"`
	Reason      string     `json:"reason,omitempty"`
}

// Stats summarizes the retry queue.
type Stats struct {
	Pending   int `json:"pending"`
	DueNow    int `json:"due_now"`
	Exhausted int `json:"exhausted"`
}

// Queue persists retry entries in the shared SQLite database.
type Queue struct {
	db        *sql.DB
	now       func() time.Time
	jitter    func() float64
	batchSize int
}

// NewSQLiteQueue wraps an opened and migrated database (see database.Open).
func NewSQLiteQueue(db *sql.DB) *Queue {
	return &Queue{
		db:        db,
		now:       func() time.Time { return time.Now().UTC() },
		jitter:    func() float64 { return rand.Float64()*2 - 1 },
		batchSize: common.DefaultBatchSize,
	}
}

// WithClock overrides the time source.
func (q *Queue) WithClock(now func() time.Time) *Queue {
	q.now = now
	return q
}

// WithJitter overrides the jitter source; it must return values in [-1, 1].
func (q *Queue) WithJitter(jitter func() float64) *Queue {
	q.jitter = jitter
	return q
}

// WithBatchSize bounds how many entries GetJobsDueForRetry returns.
func (q *Queue) WithBatchSize(n int) *Queue {
	if n > 0 {
		q.batchSize = n
	}
	return q
}

// QueueForRetry records a failure for jobID and schedules the next attempt.
//
// The first call creates the entry with retry count 0. Later calls increment
// the count; the call that would reach the entry's stored ceiling marks it
// exhausted and is refused, as is every call after that. cfg.MaxRetries only
// applies when the entry is created.
func (q *Queue) QueueForRetry(ctx context.Context, jobID, errMsg string, cfg Config) (QueueResult, error) {
	cfg = cfg.withDefaults()
	now := q.now()

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return QueueResult{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	entry, err := scanEntry(tx.QueryRowContext(ctx, selectEntry+` WHERE job_id = ?`, jobID))
	if errors.Is(err, sql.ErrNoRows) {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM jobs WHERE id = ?`, jobID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return QueueResult{}, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		}
		if err != nil {
			return QueueResult{}, fmt.Errorf("lookup job: %w", err)
		}
		next := now.Add(Backoff(cfg, 0, q.jitter()))
		_, err = tx.ExecContext(ctx,
			`INSERT INTO job_retries (job_id, retry_count, max_retries, next_retry_at, last_error, created_at) VALUES (?, 0, ?, ?, ?, ?)`,
			jobID, cfg.MaxRetries, database.Millis(next), errMsg, database.Millis(now),
		)
		if err != nil {
			return QueueResult{}, fmt.Errorf("insert retry entry: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return QueueResult{}, fmt.Errorf("commit retry entry: %w", err)
		}
		return queued(next, 0), nil
	}
	if err != nil {
		return QueueResult{}, fmt.Errorf("scan retry entry: %w", err)
	}

	if entry.Exhausted() {
		return QueueResult{Queued: false, Reason: ReasonMaxRetriesExceeded}, nil
	}

	count := entry.RetryCount + 1
	if count >= entry.MaxRetries {
		_, err = tx.ExecContext(ctx,
			`UPDATE job_retries SET retry_count = ?, last_error = ? WHERE id = ?`,
			entry.MaxRetries, errMsg, entry.ID,
		)
		if err != nil {
			return QueueResult{}, fmt.Errorf("exhaust retry entry: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return QueueResult{}, fmt.Errorf("commit retry entry: %w", err)
		}
		return QueueResult{Queued: false, Reason: ReasonMaxRetriesExceeded}, nil
	}

	next := now.Add(Backoff(cfg, count, q.jitter()))
	_, err = tx.ExecContext(ctx,
		`UPDATE job_retries SET retry_count = ?, next_retry_at = ?, last_error = ? WHERE id = ?`,
		count, database.Millis(next), errMsg, entry.ID,
	)
	if err != nil {
		return QueueResult{}, fmt.Errorf("update retry entry: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return QueueResult{}, fmt.Errorf("commit retry entry: %w", err)
	}
	return queued(next, count), nil
}

func queued(next time.Time, count int) QueueResult {
	next = database.FromMillis(database.Millis(next))
	return QueueResult{Queued: true, NextRetryAt: &next, RetryCount: &count}
}

// GetJobsDueForRetry returns non-exhausted entries whose time has come and
// whose job is currently failed, earliest first, bounded by the batch size.
func (q *Queue) GetJobsDueForRetry(ctx context.Context) ([]Entry, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT r.id, r.job_id, r.retry_count, r.max_retries, r.next_retry_at, r.last_error, r.created_at
		FROM job_retries r
		JOIN jobs j ON j.id = r.job_id
		WHERE r.next_retry_at <= ? AND r.retry_count < r.max_retries AND j.status = 'failed'
		ORDER BY r.next_retry_at ASC, r.id ASC
		LIMIT ?`,
		database.Millis(q.now()), q.batchSize,
	)
	if err != nil {
		return nil, fmt.Errorf("query due retries: %w", err)
	}
	return collect(rows)
}

// GetEntry returns the retry entry for jobID.
func (q *Queue) GetEntry(ctx context.Context, jobID string) (*Entry, error) {
	e, err := scanEntry(q.db.QueryRowContext(ctx, selectEntry+` WHERE job_id = ?`, jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("scan retry entry: %w", err)
	}
	return e, nil
}

// ListEntries returns up to limit entries ordered by next retry time.
func (q *Queue) ListEntries(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := q.db.QueryContext(ctx, selectEntry+` ORDER BY next_retry_at ASC, id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list retries: %w", err)
	}
	return collect(rows)
}

// MarkRetrySuccessful drops the entry once the job has completed.
func (q *Queue) MarkRetrySuccessful(ctx context.Context, jobID string) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM job_retries WHERE job_id = ?`, jobID); err != nil {
		return fmt.Errorf("delete retry entry: %w", err)
	}
	return nil
}

// CancelRetries deletes the entry unconditionally and reports whether one existed.
func (q *Queue) CancelRetries(ctx context.Context, jobID string) (bool, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM job_retries WHERE job_id = ?`, jobID)
	if err != nil {
		return false, fmt.Errorf("cancel retries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("cancel rows affected: %w", err)
	}
	return n > 0, nil
}

// PurgeExhausted deletes exhausted entries created before cutoff.
func (q *Queue) PurgeExhausted(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := q.db.ExecContext(ctx,
		`DELETE FROM job_retries WHERE retry_count >= max_retries AND created_at < ?`, database.Millis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("purge exhausted retries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge rows affected: %w", err)
	}
	return int(n), nil
}

// GetRetryQueueStats counts pending, due and exhausted entries.
func (q *Queue) GetRetryQueueStats(ctx context.Context) (Stats, error) {
	var st Stats
	var pending, due, exhausted sql.NullInt64
	err := q.db.QueryRowContext(ctx, `
		SELECT
			SUM(CASE WHEN retry_count < max_retries THEN 1 ELSE 0 END),
			SUM(CASE WHEN retry_count < max_retries AND next_retry_at <= ? THEN 1 ELSE 0 END),
			SUM(CASE WHEN retry_count >= max_retries THEN 1 ELSE 0 END)
		FROM job_retries`,
		database.Millis(q.now()),
	).Scan(&pending, &due, &exhausted)
	if err != nil {
		return st, fmt.Errorf("retry stats: %w", err)
	}
	st.Pending = int(pending.Int64)
	st.DueNow = int(due.Int64)
	st.Exhausted = int(exhausted.Int64)
	return st, nil
}

const selectEntry = `SELECT id, job_id, retry_count, max_retries, next_retry_at, last_error, created_at FROM job_retries`

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(sc scanner) (*Entry, error) {
	var (
		e             Entry
		lastErr       sql.NullString
		next, created int64
	)
	if err := sc.Scan(&e.ID, &e.JobID, &e.RetryCount, &e.MaxRetries, &next, &lastErr, &created); err != nil {
		return nil, err
	}
	e.LastError = lastErr.String
	e.NextRetryAt = database.FromMillis(next)
	e.CreatedAt = database.FromMillis(created)
	return &e, nil
}

func collect(rows *sql.Rows) ([]Entry, error) {
	defer func() { _ = rows.Close() }()
	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan retry entry: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}
