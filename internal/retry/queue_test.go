package retry

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jo-hoe/pinwriter/internal/database"
)

type fixture struct {
	db  *sql.DB
	q   *Queue
	now time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "retry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	f := &fixture{db: db, now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	f.q = NewSQLiteQueue(db).
		WithClock(func() time.Time { return f.now }).
		WithJitter(func() float64 { return 0 })
	return f
}

func (f *fixture) insertJob(t *testing.T, id, status string) {
	t.Helper()
	_, err := f.db.Exec(`INSERT INTO jobs (id, status, topic, steps_json, created_at, updated_at) VALUES (?, ?, 'topic', '{}', 0, 0)`, id, status)
	require.NoError(t, err)
}

func (f *fixture) setStatus(t *testing.T, id, status string) {
	t.Helper()
	_, err := f.db.Exec(`UPDATE jobs SET status = ? WHERE id = ?`, status, id)
	require.NoError(t, err)
}

func TestQueueForRetry_SequenceUntilExhausted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.insertJob(t, "job1", "failed")
	cfg := Config{MaxRetries: 2, BaseDelay: time.Second, MaxDelay: 5 * time.Second}

	first, err := f.q.QueueForRetry(ctx, "job1", "boom", cfg)
	require.NoError(t, err)
	require.True(t, first.Queued)
	require.Equal(t, 0, *first.RetryCount)
	require.Equal(t, f.now.Add(time.Second), *first.NextRetryAt)

	second, err := f.q.QueueForRetry(ctx, "job1", "boom", cfg)
	require.NoError(t, err)
	require.True(t, second.Queued)
	require.Equal(t, 1, *second.RetryCount)
	require.Equal(t, f.now.Add(2*time.Second), *second.NextRetryAt)

	third, err := f.q.QueueForRetry(ctx, "job1", "boom", cfg)
	require.NoError(t, err)
	require.False(t, third.Queued)
	require.Equal(t, ReasonMaxRetriesExceeded, third.Reason)
	require.Nil(t, third.RetryCount)

	stats, err := f.q.GetRetryQueueStats(ctx)
	require.NoError(t, err)
	require.GreaterOrEqual(t, stats.Exhausted, 1)
	require.Equal(t, 0, stats.Pending)
}

func TestQueueForRetry_ExhaustionIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.insertJob(t, "job1", "failed")
	cfg := Config{MaxRetries: 1, BaseDelay: time.Second, MaxDelay: time.Minute}

	_, err := f.q.QueueForRetry(ctx, "job1", "first", cfg)
	require.NoError(t, err)
	res, err := f.q.QueueForRetry(ctx, "job1", "second", cfg)
	require.NoError(t, err)
	require.False(t, res.Queued)

	before, err := f.q.GetEntry(ctx, "job1")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		// A larger ceiling passed later must not revive the entry.
		res, err := f.q.QueueForRetry(ctx, "job1", "again", Config{MaxRetries: 10})
		require.NoError(t, err)
		require.False(t, res.Queued)
		require.Equal(t, ReasonMaxRetriesExceeded, res.Reason)
	}
	after, err := f.q.GetEntry(ctx, "job1")
	require.NoError(t, err)
	require.Equal(t, before, after)
	require.Equal(t, 1, after.RetryCount)
	require.Equal(t, 1, after.MaxRetries)
}

func TestQueueForRetry_StoredCeilingWins(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.insertJob(t, "job1", "failed")

	_, err := f.q.QueueForRetry(ctx, "job1", "boom", Config{MaxRetries: 3})
	require.NoError(t, err)
	res, err := f.q.QueueForRetry(ctx, "job1", "boom", Config{MaxRetries: 1})
	require.NoError(t, err)
	require.True(t, res.Queued, "ceiling is fixed at creation")

	e, err := f.q.GetEntry(ctx, "job1")
	require.NoError(t, err)
	require.Equal(t, 3, e.MaxRetries)
	require.Equal(t, "boom", e.LastError)
}

func TestQueueForRetry_ZeroMaxRetriesStoresDefault(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.insertJob(t, "job1", "failed")

	res, err := f.q.QueueForRetry(ctx, "job1", "boom", Config{})
	require.NoError(t, err)
	require.True(t, res.Queued)

	e, err := f.q.GetEntry(ctx, "job1")
	require.NoError(t, err)
	require.Equal(t, DefaultMaxRetries, e.MaxRetries)
	require.Equal(t, f.now.Add(DefaultBaseDelay), e.NextRetryAt)
}

func TestQueueForRetry_UnknownJob(t *testing.T) {
	f := newFixture(t)
	_, err := f.q.QueueForRetry(context.Background(), "nope", "boom", DefaultConfig())
	require.ErrorIs(t, err, ErrJobNotFound)
}

func TestGetJobsDueForRetry_Filters(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	cfg := Config{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: time.Minute}

	f.insertJob(t, "due-late", "failed")
	f.insertJob(t, "due-early", "failed")
	f.insertJob(t, "not-failed", "failed")
	f.insertJob(t, "future", "failed")
	f.insertJob(t, "exhausted", "failed")

	for _, id := range []string{"due-late", "due-early", "not-failed", "future", "exhausted"} {
		_, err := f.q.QueueForRetry(ctx, id, "boom", cfg)
		require.NoError(t, err)
	}
	_, err := f.db.Exec(`UPDATE job_retries SET next_retry_at = ? WHERE job_id = 'due-early'`, database.Millis(f.now.Add(-time.Hour)))
	require.NoError(t, err)
	_, err = f.db.Exec(`UPDATE job_retries SET next_retry_at = ? WHERE job_id IN ('due-late','not-failed','exhausted')`, database.Millis(f.now.Add(-time.Minute)))
	require.NoError(t, err)
	_, err = f.db.Exec(`UPDATE job_retries SET next_retry_at = ? WHERE job_id = 'future'`, database.Millis(f.now.Add(time.Hour)))
	require.NoError(t, err)
	_, err = f.db.Exec(`UPDATE job_retries SET retry_count = max_retries WHERE job_id = 'exhausted'`)
	require.NoError(t, err)
	f.setStatus(t, "not-failed", "processing")

	due, err := f.q.GetJobsDueForRetry(ctx)
	require.NoError(t, err)
	require.Len(t, due, 2)
	require.Equal(t, "due-early", due[0].JobID)
	require.Equal(t, "due-late", due[1].JobID)
	for _, e := range due {
		require.Less(t, e.RetryCount, e.MaxRetries)
	}

	stats, err := f.q.GetRetryQueueStats(ctx)
	require.NoError(t, err)
	require.Equal(t, Stats{Pending: 4, DueNow: 3, Exhausted: 1}, stats)
}

func TestGetJobsDueForRetry_BatchBound(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.q.WithBatchSize(3)
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		f.insertJob(t, id, "failed")
		_, err := f.q.QueueForRetry(ctx, id, "boom", DefaultConfig())
		require.NoError(t, err)
	}
	f.now = f.now.Add(time.Hour)
	due, err := f.q.GetJobsDueForRetry(ctx)
	require.NoError(t, err)
	require.Len(t, due, 3)
}

func TestMarkSuccessfulAndCancel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.insertJob(t, "ok", "failed")
	f.insertJob(t, "manual", "failed")
	_, err := f.q.QueueForRetry(ctx, "ok", "boom", DefaultConfig())
	require.NoError(t, err)
	_, err = f.q.QueueForRetry(ctx, "manual", "boom", DefaultConfig())
	require.NoError(t, err)

	require.NoError(t, f.q.MarkRetrySuccessful(ctx, "ok"))
	_, err = f.q.GetEntry(ctx, "ok")
	require.ErrorIs(t, err, ErrNotFound)

	existed, err := f.q.CancelRetries(ctx, "manual")
	require.NoError(t, err)
	require.True(t, existed)
	existed, err = f.q.CancelRetries(ctx, "manual")
	require.NoError(t, err)
	require.False(t, existed)

	// a fresh failure after success starts counting from zero again
	res, err := f.q.QueueForRetry(ctx, "ok", "boom again", DefaultConfig())
	require.NoError(t, err)
	require.True(t, res.Queued)
	require.Equal(t, 0, *res.RetryCount)
}

func TestPurgeExhausted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.insertJob(t, "old", "failed")
	f.insertJob(t, "live", "failed")
	cfg := Config{MaxRetries: 1}
	_, err := f.q.QueueForRetry(ctx, "old", "boom", cfg)
	require.NoError(t, err)
	_, err = f.q.QueueForRetry(ctx, "old", "boom", cfg)
	require.NoError(t, err)
	_, err = f.q.QueueForRetry(ctx, "live", "boom", DefaultConfig())
	require.NoError(t, err)

	n, err := f.q.PurgeExhausted(ctx, f.now.Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, 1, n)

	entries, err := f.q.ListEntries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "live", entries[0].JobID)
}
