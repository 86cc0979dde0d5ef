package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound     = errors.New("job not found")
	ErrInvalidStep  = errors.New("invalid step")
	ErrInvalidState = errors.New("invalid status")
)

// Status represents the lifecycle status of a content job.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is a known job status.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Step names one of the four pipeline phases tracked on a job.
type Step string

const (
	StepArticle   Step = "article"
	StepImage     Step = "image"
	StepWordPress Step = "wordpress"
	StepPins      Step = "pins"
)

// AllSteps lists the pipeline steps in execution order.
var AllSteps = []Step{StepArticle, StepImage, StepWordPress, StepPins}

// StepStatus is the sub-status of a single step.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepProcessing StepStatus = "processing"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
	StepSkipped    StepStatus = "skipped"
)

// Valid reports whether s is a known step status.
func (s StepStatus) Valid() bool {
	switch s {
	case StepPending, StepProcessing, StepCompleted, StepFailed, StepSkipped:
		return true
	}
	return false
}

// Settled reports whether the step reached a final outcome for this run.
func (s StepStatus) Settled() bool {
	return s == StepCompleted || s == StepFailed || s == StepSkipped
}

// Steps holds the four independent step statuses. Being a struct, it always
// carries exactly the four keys when serialized.
type Steps struct {
	Article   StepStatus `json:"article"`
	Image     StepStatus `json:"image"`
	WordPress StepStatus `json:"wordpress"`
	Pins      StepStatus `json:"pins"`
}

// NewSteps returns a Steps record with every step pending.
func NewSteps() Steps {
	return Steps{Article: StepPending, Image: StepPending, WordPress: StepPending, Pins: StepPending}
}

// Get returns the status of step.
func (s Steps) Get(step Step) (StepStatus, error) {
	switch step {
	case StepArticle:
		return s.Article, nil
	case StepImage:
		return s.Image, nil
	case StepWordPress:
		return s.WordPress, nil
	case StepPins:
		return s.Pins, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStep, step)
}

// Status returns the status of step, or "" for an unknown step.
func (s Steps) Status(step Step) StepStatus {
	st, _ := s.Get(step)
	return st
}

// Set updates the status of step.
func (s *Steps) Set(step Step, status StepStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: step status %q", ErrInvalidState, status)
	}
	switch step {
	case StepArticle:
		s.Article = status
	case StepImage:
		s.Image = status
	case StepWordPress:
		s.WordPress = status
	case StepPins:
		s.Pins = status
	default:
		return fmt.Errorf("%w: %q", ErrInvalidStep, step)
	}
	return nil
}

// Settled reports whether every step has a final outcome.
func (s Steps) Settled() bool {
	return s.Article.Settled() && s.Image.Settled() && s.WordPress.Settled() && s.Pins.Settled()
}

// Validate checks that all four steps carry a known status.
func (s Steps) Validate() error {
	for _, step := range AllSteps {
		st, _ := s.Get(step)
		if !st.Valid() {
			return fmt.Errorf("%w: step %s has status %q", ErrInvalidState, step, st)
		}
	}
	return nil
}

// normalize fills steps missing from older or partial records with pending.
func (s *Steps) normalize() {
	for _, step := range AllSteps {
		if st, _ := s.Get(step); !st.Valid() {
			_ = s.Set(step, StepPending)
		}
	}
}

// Result is the structured pipeline output, filled in as steps complete.
type Result struct {
	Title       string   `json:"title,omitempty"`
	Excerpt     string   `json:"excerpt,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
	ArticlePath string   `json:"article_path,omitempty"`
	PostID      string   `json:"post_id,omitempty"`
	PostURL     string   `json:"post_url,omitempty"`
	ImagePaths  []string `json:"image_paths,omitempty"`
	PinCount    int      `json:"pin_count,omitempty"`
	PinsPath    string   `json:"pins_path,omitempty"`
}

// Job is one tracked execution of the content pipeline for a topic.
type Job struct {
	ID        string    `json:"id"`
	Status    Status    `json:"status"`
	Topic     string    `json:"topic"`
	Steps     Steps     `json:"steps"`
	Result    *Result   `json:"result,omitempty"`
	Error     *string   `json:"error,omitempty"` // set only while Status is failed
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// JobUpdate carries the fields to merge into a stored job. Nil fields are left untouched.
type JobUpdate struct {
	Status *Status
	Result *Result
	Error  *string
	// Steps replaces the whole steps record. Prefer Store.UpdateStep for single-step transitions.
	Steps *Steps
}

// Store defines persistence for Jobs and their lifecycle.
type Store interface {
	CreateJob(ctx context.Context, topic string) (*Job, error)
	GetJob(ctx context.Context, id string) (*Job, error)
	UpdateJob(ctx context.Context, id string, upd JobUpdate) error
	UpdateStep(ctx context.Context, id string, step Step, status StepStatus) error
	ListJobs(ctx context.Context, limit int) ([]Job, error)
	CleanupOldJobs(ctx context.Context, keep int) (int, error)
}

// StatusPtr is a small helper for building JobUpdates.
func StatusPtr(s Status) *Status { return &s }

// StringPtr is a small helper for building JobUpdates.
func StringPtr(s string) *string { return &s }
