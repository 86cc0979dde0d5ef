package schedule

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jo-hoe/pinwriter/internal/common"
	"github.com/jo-hoe/pinwriter/internal/database"
	"github.com/jo-hoe/pinwriter/internal/util"
)

const defaultListLimit = 50

// Store persists scheduled content in the shared SQLite database.
type Store struct {
	db        *sql.DB
	now       func() time.Time
	loc       *time.Location
	batchSize int
	anchor    Anchor
}

// NewSQLiteStore wraps an opened and migrated database (see database.Open).
func NewSQLiteStore(db *sql.DB) *Store {
	return &Store{
		db:        db,
		now:       time.Now,
		loc:       time.Local,
		batchSize: common.DefaultBatchSize,
		anchor:    AnchorCompletion,
	}
}

// WithClock overrides the time source.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// WithLocation sets the zone used for calendar arithmetic and for "today".
func (s *Store) WithLocation(loc *time.Location) *Store {
	if loc != nil {
		s.loc = loc
	}
	return s
}

// WithBatchSize bounds how many rows GetContentDueForExecution returns.
func (s *Store) WithBatchSize(n int) *Store {
	if n > 0 {
		s.batchSize = n
	}
	return s
}

// WithAnchor selects how the next occurrence of a recurring row is computed.
func (s *Store) WithAnchor(a Anchor) *Store {
	if a == AnchorScheduled || a == AnchorCompletion {
		s.anchor = a
	}
	return s
}

// ScheduleContent inserts a pending row.
func (s *Store) ScheduleContent(ctx context.Context, topic string, at time.Time, r Recurrence) (*Content, error) {
	return s.insert(ctx, s.db, topic, at, r)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) insert(ctx context.Context, db execer, topic string, at time.Time, r Recurrence) (*Content, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, errors.New("topic is required")
	}
	if at.IsZero() {
		return nil, errors.New("scheduled time is required")
	}
	if _, err := ParseRecurrence(string(r)); err != nil {
		return nil, err
	}
	now := s.now()
	c := &Content{
		ID:          util.NewID(),
		Topic:       topic,
		ScheduledAt: database.FromMillis(database.Millis(at)),
		Status:      StatusPending,
		Recurrence:  r,
		CreatedAt:   database.FromMillis(database.Millis(now)),
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO scheduled_content (id, topic, scheduled_at, status, recurrence, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.Topic, database.Millis(c.ScheduledAt), string(c.Status), database.NullString(string(r)), database.Millis(c.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("insert scheduled content: %w", err)
	}
	return c, nil
}

// GetContent returns the row with id.
func (s *Store) GetContent(ctx context.Context, id string) (*Content, error) {
	return s.getOne(ctx, s.db.QueryRowContext(ctx, selectContent+` WHERE id = ?`, id), id)
}

// GetByJobID returns the most recent row that spawned jobID.
func (s *Store) GetByJobID(ctx context.Context, jobID string) (*Content, error) {
	row := s.db.QueryRowContext(ctx, selectContent+` WHERE job_id = ? ORDER BY created_at DESC LIMIT 1`, jobID)
	return s.getOne(ctx, row, "job "+jobID)
}

func (s *Store) getOne(_ context.Context, row *sql.Row, key string) (*Content, error) {
	c, err := scanContent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("scan scheduled content: %w", err)
	}
	return c, nil
}

// GetContentDueForExecution returns pending rows whose time has come,
// earliest first, bounded by the batch size.
func (s *Store) GetContentDueForExecution(ctx context.Context) ([]Content, error) {
	rows, err := s.db.QueryContext(ctx,
		selectContent+` WHERE status = 'pending' AND scheduled_at <= ? ORDER BY scheduled_at ASC, rowid ASC LIMIT ?`,
		database.Millis(s.now()), s.batchSize,
	)
	if err != nil {
		return nil, fmt.Errorf("query due content: %w", err)
	}
	return collect(rows)
}

// GetUpcomingScheduledContent returns pending rows ordered by scheduled time.
func (s *Store) GetUpcomingScheduledContent(ctx context.Context, limit int) ([]Content, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.db.QueryContext(ctx,
		selectContent+` WHERE status = 'pending' ORDER BY scheduled_at ASC, rowid ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query upcoming content: %w", err)
	}
	return collect(rows)
}

// ListContent returns rows of any status, most recently scheduled first.
// An empty status lists everything.
func (s *Store) ListContent(ctx context.Context, status Status, limit int) ([]Content, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	query := selectContent
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY scheduled_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list scheduled content: %w", err)
	}
	return collect(rows)
}

// MarkAsProcessing records that the row spawned jobID. A row that already
// settled is left alone, since a fast job may finish before it is claimed.
func (s *Store) MarkAsProcessing(ctx context.Context, id, jobID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_content SET status = 'processing', job_id = ? WHERE id = ? AND status IN ('pending', 'processing')`,
		jobID, id)
	if err := expectRow(res, err, id, "mark processing"); err != nil {
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		if _, err := s.GetContent(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// MarkAsFailed records a failed run. Recurring rows are not rescheduled.
func (s *Store) MarkAsFailed(ctx context.Context, id, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_content SET status = 'failed', executed_at = ?, error_message = ? WHERE id = ?`,
		database.Millis(s.now()), errMsg, id)
	return expectRow(res, err, id, "mark failed")
}

// MarkAsCompleted completes the row and, when it recurs, inserts the next
// occurrence as a new pending sibling which is returned. Completing an
// already completed row is a no-op so a recurrence is never spawned twice.
func (s *Store) MarkAsCompleted(ctx context.Context, id string) (*Content, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	c, err := scanContent(tx.QueryRowContext(ctx, selectContent+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("scan scheduled content: %w", err)
	}
	if c.Status == StatusCompleted {
		return nil, nil
	}

	now := s.now()
	if _, err := tx.ExecContext(ctx,
		`UPDATE scheduled_content SET status = 'completed', executed_at = ?, error_message = NULL WHERE id = ?`,
		database.Millis(now), id); err != nil {
		return nil, fmt.Errorf("mark completed: %w", err)
	}

	var next *Content
	if at, ok := s.nextRun(c, now); ok {
		next, err = s.insert(ctx, tx, c.Topic, at, c.Recurrence)
		if err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit completion: %w", err)
	}
	return next, nil
}

func (s *Store) nextRun(c *Content, now time.Time) (time.Time, bool) {
	if s.anchor == AnchorScheduled {
		return nextAfter(c.ScheduledAt.In(s.loc), now, c.Recurrence)
	}
	return NextOccurrence(now.In(s.loc), c.Recurrence)
}

// CancelScheduledContent moves a pending row to cancelled. It reports false
// for rows in any other state.
func (s *Store) CancelScheduledContent(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_content SET status = 'cancelled' WHERE id = ? AND status = 'pending'`, id)
	if err != nil {
		return false, fmt.Errorf("cancel scheduled content: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("cancel rows affected: %w", err)
	}
	return n > 0, nil
}

// UpdateScheduledContent edits a pending row in place. It reports false when
// the row is not pending or nothing would change.
func (s *Store) UpdateScheduledContent(ctx context.Context, id string, upd Update) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	c, err := scanContent(tx.QueryRowContext(ctx, selectContent+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return false, fmt.Errorf("scan scheduled content: %w", err)
	}
	if c.Status != StatusPending {
		return false, nil
	}

	changed := false
	if upd.Topic != nil {
		topic := strings.TrimSpace(*upd.Topic)
		if topic == "" {
			return false, errors.New("topic is required")
		}
		if topic != c.Topic {
			c.Topic = topic
			changed = true
		}
	}
	if upd.ScheduledAt != nil {
		at := database.FromMillis(database.Millis(*upd.ScheduledAt))
		if !at.Equal(c.ScheduledAt) {
			c.ScheduledAt = at
			changed = true
		}
	}
	if upd.Recurrence != nil {
		r, err := ParseRecurrence(string(*upd.Recurrence))
		if err != nil {
			return false, err
		}
		if r != c.Recurrence {
			c.Recurrence = r
			changed = true
		}
	}
	if !changed {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE scheduled_content SET topic = ?, scheduled_at = ?, recurrence = ? WHERE id = ? AND status = 'pending'`,
		c.Topic, database.Millis(c.ScheduledAt), database.NullString(string(c.Recurrence)), id); err != nil {
		return false, fmt.Errorf("update scheduled content: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit update: %w", err)
	}
	return true, nil
}

// GetSchedulerStats counts rows by state. "Today" runs from local midnight to now.
func (s *Store) GetSchedulerStats(ctx context.Context) (Stats, error) {
	now := s.now().In(s.loc)
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)

	var st Stats
	var pending, processing, completed, failed, upcoming sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT
			SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'processing' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'completed' AND executed_at >= ? AND executed_at <= ? THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'failed' AND executed_at >= ? AND executed_at <= ? THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'pending' AND scheduled_at >= ? AND scheduled_at <= ? THEN 1 ELSE 0 END)
		FROM scheduled_content`,
		database.Millis(midnight), database.Millis(now),
		database.Millis(midnight), database.Millis(now),
		database.Millis(now), database.Millis(now.Add(24*time.Hour)),
	).Scan(&pending, &processing, &completed, &failed, &upcoming)
	if err != nil {
		return st, fmt.Errorf("scheduler stats: %w", err)
	}
	st.Pending = int(pending.Int64)
	st.Processing = int(processing.Int64)
	st.CompletedToday = int(completed.Int64)
	st.FailedToday = int(failed.Int64)
	st.Upcoming24h = int(upcoming.Int64)
	return st, nil
}

func expectRow(res sql.Result, err error, id, op string) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

const selectContent = `SELECT id, topic, scheduled_at, status, job_id, recurrence, created_at, executed_at, error_message FROM scheduled_content`

type scanner interface {
	Scan(dest ...any) error
}

func scanContent(sc scanner) (*Content, error) {
	var (
		c                         Content
		status                    string
		jobID, recurrence, errMsg sql.NullString
		scheduled, created        int64
		executed                  sql.NullInt64
	)
	if err := sc.Scan(&c.ID, &c.Topic, &scheduled, &status, &jobID, &recurrence, &created, &executed, &errMsg); err != nil {
		return nil, err
	}
	c.Status = Status(status)
	c.JobID = jobID.String
	c.Recurrence = Recurrence(recurrence.String)
	c.Error = errMsg.String
	c.ScheduledAt = database.FromMillis(scheduled)
	c.CreatedAt = database.FromMillis(created)
	c.ExecutedAt = database.NullMillis(executed)
	return &c, nil
}

func collect(rows *sql.Rows) ([]Content, error) {
	defer func() { _ = rows.Close() }()
	var out []Content
	for rows.Next() {
		c, err := scanContent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scheduled content: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}
