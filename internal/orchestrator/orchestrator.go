// Package orchestrator wires the job store, the retry queue and the content
// scheduler around the pipeline worker pool.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jo-hoe/pinwriter/internal/jobs"
	"github.com/jo-hoe/pinwriter/internal/retry"
	"github.com/jo-hoe/pinwriter/internal/schedule"
)

// Options configures an Orchestrator. Zero values use package defaults.
type Options struct {
	Workers       int
	QueueCapacity int
	// Keep is how many jobs CleanupOldJobs retains after each creation.
	Keep int

	SchedulerEnabled  bool
	SchedulerInterval time.Duration

	RetryEnabled bool
	Retry        retry.Config
	Poller       retry.PollerOptions
}

// Orchestrator owns the worker queue and the two timers. It implements
// jobs.Processor by running the wrapped processor and settling the outcome
// with the retry queue and the originating schedule row.
type Orchestrator struct {
	log       *slog.Logger
	jobs      jobs.Store
	retries   *retry.Queue
	schedules *schedule.Store
	proc      jobs.Processor
	opts      Options

	queue     *jobs.Queue
	scheduler *schedule.Scheduler
	poller    *retry.Poller
}

var _ jobs.Processor = (*Orchestrator)(nil)

// New creates a stopped orchestrator.
func New(log *slog.Logger, store jobs.Store, retries *retry.Queue, schedules *schedule.Store, proc jobs.Processor, opts Options) *Orchestrator {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Orchestrator{
		log:       log,
		jobs:      store,
		retries:   retries,
		schedules: schedules,
		proc:      proc,
		opts:      opts,
		queue:     jobs.NewQueue(log, opts.QueueCapacity, opts.Workers),
		scheduler: schedule.NewScheduler(log, schedules),
		poller:    retry.NewPoller(log, retries, opts.Poller),
	}
}

// Start launches the workers and, when enabled, the scheduler and retry timers.
// Cancelling ctx stops the timers only; running jobs end through Shutdown.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.queue.OnAbandon = o.abandon
	if err := o.queue.Start(context.WithoutCancel(ctx), o); err != nil {
		return err
	}
	if o.opts.SchedulerEnabled {
		o.scheduler.Start(ctx, o.ExecuteScheduled, o.opts.SchedulerInterval)
	}
	if o.opts.RetryEnabled {
		o.poller.Start(ctx, o.DispatchRetry)
	}
	return nil
}

// Shutdown stops the timers first so no new work arrives, then waits for
// running jobs up to grace. Jobs that never started are left resumable.
func (o *Orchestrator) Shutdown(grace time.Duration) {
	o.scheduler.Stop()
	o.poller.Stop()
	o.queue.Shutdown(grace)
}

// Submit creates a job for topic and queues it. This is the manual trigger.
func (o *Orchestrator) Submit(ctx context.Context, topic string) (*jobs.Job, error) {
	job, err := o.create(ctx, topic)
	if err != nil {
		return nil, err
	}
	if err := o.enqueue(ctx, *job); err != nil {
		return job, err
	}
	return job, nil
}

// ExecuteScheduled is the scheduler's executor. It creates a job for the
// row, links the two and queues the job without waiting for it.
func (o *Orchestrator) ExecuteScheduled(ctx context.Context, c schedule.Content) (string, error) {
	job, err := o.create(ctx, c.Topic)
	if err != nil {
		return "", err
	}
	// Link before queueing so settlement can always find the row.
	if err := o.schedules.MarkAsProcessing(ctx, c.ID, job.ID); err != nil {
		return "", err
	}
	if err := o.enqueue(ctx, *job); err != nil {
		return "", err
	}
	return job.ID, nil
}

// DispatchRetry re-queues the failed job of a due retry entry under the same id.
func (o *Orchestrator) DispatchRetry(ctx context.Context, e retry.Entry) error {
	return o.requeue(ctx, e.JobID)
}

// Retrigger manually re-runs a failed job. Exhausted retry state is left as
// is; cancel it first to start counting afresh.
func (o *Orchestrator) Retrigger(ctx context.Context, jobID string) error {
	return o.requeue(ctx, jobID)
}

func (o *Orchestrator) requeue(ctx context.Context, jobID string) error {
	if o.queue.Active(jobID) {
		return fmt.Errorf("%w: %s", jobs.ErrAlreadyQueued, jobID)
	}
	job, err := o.jobs.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != jobs.StatusFailed {
		return fmt.Errorf("%w: job %s is %s", jobs.ErrInvalidState, jobID, job.Status)
	}
	// The job stays failed until a worker picks it up; the active set keeps
	// the poller from dispatching it twice.
	return o.queue.Enqueue(jobs.WorkItem{Job: *job, Retry: true})
}

// abandon restores a job the workers never started. A retry item is still
// failed and due. A fresh job is failed and settled like a run failure, so
// the retry queue picks it up after the next start.
func (o *Orchestrator) abandon(item jobs.WorkItem) {
	log := o.log.With("job_id", item.Job.ID)
	if item.Retry {
		log.Info("retry not started before shutdown")
		return
	}
	ctx := context.Background()
	cause := errors.New("not started before shutdown")
	msg := cause.Error()
	upd := jobs.JobUpdate{Status: jobs.StatusPtr(jobs.StatusFailed), Error: &msg}
	if err := o.jobs.UpdateJob(ctx, item.Job.ID, upd); err != nil {
		log.Error("record abandoned job failed", "err", err)
		return
	}
	log.Info("job not started before shutdown")
	o.settle(ctx, item.Job.ID, cause)
}

func (o *Orchestrator) create(ctx context.Context, topic string) (*jobs.Job, error) {
	job, err := o.jobs.CreateJob(ctx, topic)
	if err != nil {
		return nil, err
	}
	if n, err := o.jobs.CleanupOldJobs(ctx, o.opts.Keep); err != nil {
		o.log.Warn("job cleanup failed", "err", err)
	} else if n > 0 {
		o.log.Debug("old jobs removed", "count", n)
	}
	return job, nil
}

// enqueue hands a fresh job to the workers. When that fails the job is
// recorded as failed; it does not enter the retry queue.
func (o *Orchestrator) enqueue(ctx context.Context, job jobs.Job) error {
	err := o.queue.Enqueue(jobs.WorkItem{Job: job})
	if err == nil {
		return nil
	}
	msg := "enqueue: " + err.Error()
	upd := jobs.JobUpdate{Status: jobs.StatusPtr(jobs.StatusFailed), Error: &msg}
	if uerr := o.jobs.UpdateJob(context.WithoutCancel(ctx), job.ID, upd); uerr != nil {
		err = errors.Join(err, uerr)
	}
	return fmt.Errorf("enqueue job %s: %w", job.ID, err)
}

// Process runs one job and settles its outcome.
func (o *Orchestrator) Process(ctx context.Context, item jobs.WorkItem) error {
	err := o.proc.Process(ctx, item)
	o.settle(context.WithoutCancel(ctx), item.Job.ID, err)
	return err
}

// settle records the outcome of a run. Success clears retry state and
// completes the originating schedule row, which may spawn its next
// occurrence. Failure goes to the retry queue; once that refuses, the row
// is failed.
func (o *Orchestrator) settle(ctx context.Context, jobID string, runErr error) {
	log := o.log.With("job_id", jobID)
	if runErr == nil {
		if err := o.retries.MarkRetrySuccessful(ctx, jobID); err != nil {
			log.Error("clear retry entry failed", "err", err)
		}
		o.settleSchedule(ctx, log, jobID, nil)
		return
	}

	o.ensureFailed(ctx, log, jobID, runErr)
	if !o.opts.RetryEnabled {
		o.settleSchedule(ctx, log, jobID, runErr)
		return
	}
	res, err := o.retries.QueueForRetry(ctx, jobID, runErr.Error(), o.opts.Retry)
	if err != nil {
		log.Error("queue for retry failed", "err", err)
		return
	}
	if res.Queued {
		log.Info("job queued for retry", "retry_count", *res.RetryCount, "next_retry_at", *res.NextRetryAt)
		return
	}
	log.Info("job not retried", "reason", res.Reason)
	o.settleSchedule(ctx, log, jobID, fmt.Errorf("%s: %w", res.Reason, runErr))
}

// ensureFailed records runErr on a job the processor left in another state,
// so the retry poller can find it.
func (o *Orchestrator) ensureFailed(ctx context.Context, log *slog.Logger, jobID string, runErr error) {
	job, err := o.jobs.GetJob(ctx, jobID)
	if err != nil {
		log.Error("load failed job", "err", err)
		return
	}
	if job.Status == jobs.StatusFailed {
		return
	}
	msg := runErr.Error()
	upd := jobs.JobUpdate{Status: jobs.StatusPtr(jobs.StatusFailed), Error: &msg}
	if err := o.jobs.UpdateJob(ctx, jobID, upd); err != nil {
		log.Error("mark job failed", "err", err)
	}
}

func (o *Orchestrator) settleSchedule(ctx context.Context, log *slog.Logger, jobID string, runErr error) {
	row, err := o.schedules.GetByJobID(ctx, jobID)
	if errors.Is(err, schedule.ErrNotFound) {
		return
	}
	if err != nil {
		log.Error("lookup schedule row failed", "err", err)
		return
	}
	if row.Status != schedule.StatusProcessing {
		return
	}
	log = log.With("schedule_id", row.ID)
	if runErr != nil {
		if err := o.schedules.MarkAsFailed(ctx, row.ID, runErr.Error()); err != nil {
			log.Error("mark schedule failed", "err", err)
		}
		return
	}
	next, err := o.schedules.MarkAsCompleted(ctx, row.ID)
	if err != nil {
		log.Error("mark schedule completed", "err", err)
		return
	}
	if next != nil {
		log.Info("next occurrence scheduled", "next_id", next.ID, "scheduled_at", next.ScheduledAt)
	}
}

// Stats is an overview of the whole subsystem.
type Stats struct {
	InFlight  int            `json:"in_flight"`
	Retries   retry.Stats    `json:"retries"`
	Scheduler schedule.Stats `json:"scheduler"`
}

// Stats collects queue, retry and scheduler counters.
func (o *Orchestrator) Stats(ctx context.Context) (Stats, error) {
	rs, err := o.retries.GetRetryQueueStats(ctx)
	if err != nil {
		return Stats{}, err
	}
	ss, err := o.schedules.GetSchedulerStats(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{InFlight: o.queue.Len(), Retries: rs, Scheduler: ss}, nil
}
