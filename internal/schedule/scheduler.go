package schedule

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jo-hoe/pinwriter/internal/common"
)

// DefaultInterval is how often the scheduler looks for due content.
const DefaultInterval = time.Minute

// Executor starts pipeline work for a due row and returns the spawned job id.
// It must return once the job is submitted, not when it finishes.
type Executor func(ctx context.Context, c Content) (string, error)

// Claimer is the part of Store the scheduler drives.
type Claimer interface {
	GetContentDueForExecution(ctx context.Context) ([]Content, error)
	MarkAsProcessing(ctx context.Context, id, jobID string) error
	MarkAsFailed(ctx context.Context, id, errMsg string) error
}

// Scheduler runs due content through an Executor on a timer. Ticks never
// overlap; one that fires while the previous batch is running is skipped.
type Scheduler struct {
	log   *slog.Logger
	store Claimer

	mu sync.Mutex
	c  *cron.Cron
}

// NewScheduler returns a stopped scheduler over store.
func NewScheduler(log *slog.Logger, store Claimer) *Scheduler {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Scheduler{log: log.With("component", "scheduler"), store: store}
}

// Start installs the timer. A second call while running logs a warning,
// leaves the running timer alone and reports false.
func (s *Scheduler) Start(ctx context.Context, exec Executor, interval time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		s.log.Warn("scheduler already running")
		return false
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	logger := common.NewCronLogger(s.log)
	s.c = cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	s.c.Schedule(cron.Every(interval), cron.FuncJob(func() {
		if _, err := s.Tick(ctx, exec); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Error("scheduler tick failed", "err", err)
		}
	}))
	s.c.Start()
	s.log.Info("scheduler started", "interval", interval)
	return true
}

// Stop cancels the timer and waits for a running tick. It is idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	s.log.Info("scheduler stopped")
}

// Running reports whether the timer is installed.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c != nil
}

// Tick processes one batch of due rows in scheduled order and returns how
// many were handed to the executor successfully. An executor error fails the
// row directly; store errors abort the tick.
func (s *Scheduler) Tick(ctx context.Context, exec Executor) (int, error) {
	due, err := s.store.GetContentDueForExecution(ctx)
	if err != nil {
		return 0, err
	}
	started := 0
	for _, c := range due {
		if err := ctx.Err(); err != nil {
			return started, err
		}
		log := s.log.With("schedule_id", c.ID, "topic", c.Topic)
		jobID, err := exec(ctx, c)
		if err != nil {
			log.Warn("executor rejected scheduled content", "err", err)
			if err := s.store.MarkAsFailed(ctx, c.ID, err.Error()); err != nil {
				return started, err
			}
			continue
		}
		if err := s.store.MarkAsProcessing(ctx, c.ID, jobID); err != nil {
			return started, err
		}
		log.Info("scheduled content started", "job_id", jobID)
		started++
	}
	return started, nil
}
