// Package schedule persists future and recurring content requests and drives
// them into the pipeline on a timer.
package schedule

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound          = errors.New("scheduled content not found")
	ErrInvalidRecurrence = errors.New("invalid recurrence")
)

// Status is the lifecycle state of a scheduled content row.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Recurrence tags a row that spawns a sibling after it completes.
// The empty value means one-shot.
type Recurrence string

const (
	RecurrenceNone    Recurrence = ""
	RecurrenceDaily   Recurrence = "daily"
	RecurrenceWeekly  Recurrence = "weekly"
	RecurrenceMonthly Recurrence = "monthly"
)

// ParseRecurrence validates a user supplied tag. "none" and "" both mean one-shot.
func ParseRecurrence(s string) (Recurrence, error) {
	switch r := Recurrence(s); r {
	case RecurrenceNone, RecurrenceDaily, RecurrenceWeekly, RecurrenceMonthly:
		return r, nil
	case "none":
		return RecurrenceNone, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRecurrence, s)
}

// Anchor selects the base time for the next occurrence of a recurring row.
type Anchor string

const (
	// AnchorCompletion computes the next run from the completion time, so the
	// cadence drifts when runs are late.
	AnchorCompletion Anchor = "completion"
	// AnchorScheduled keeps the cadence of the original scheduledAt.
	AnchorScheduled Anchor = "scheduled"
)

// Content is one scheduled request to run the pipeline for a topic.
type Content struct {
	ID          string     `json:"id"`
	Topic       string     `json:"topic"`
	ScheduledAt time.Time  `json:"scheduled_at"`
	Status      Status     `json:"status"`
	JobID       string     `json:"job_id,omitempty"`
	Recurrence  Recurrence `json:"recurrence,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ExecutedAt  *time.Time `json:"executed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Update lists the editable fields of a pending row; nil fields are left alone.
type Update struct {
	Topic       *string
	ScheduledAt *time.Time
	Recurrence  *Recurrence
}

// Stats aggregates the schedule for dashboards.
type Stats struct {
	Pending        int `json:"pending"`
	Processing     int `json:"processing"`
	CompletedToday int `json:"completed_today"`
	FailedToday    int `json:"failed_today"`
	Upcoming24h    int `json:"upcoming_24h"`
}
