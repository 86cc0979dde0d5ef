package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jo-hoe/pinwriter/internal/common"
)

var (
	ErrQueueNotStarted = errors.New("queue not started")
	ErrQueueFull       = errors.New("queue is full")
	ErrQueueClosed     = errors.New("queue is shut down")
	ErrAlreadyQueued   = errors.New("job already queued or running")
)

// WorkItem contains a copy of the job data needed for processing.
type WorkItem struct {
	Job   Job
	Retry bool // re-execution of a failed job driven by the retry queue
}

// Processor defines how to process a WorkItem.
type Processor interface {
	Process(ctx context.Context, item WorkItem) error
}

// Queue is an in-memory bounded queue for WorkItems with a worker pool.
// A job id is admitted at most once until its run finishes.
type Queue struct {
	log        *slog.Logger
	ch         chan WorkItem
	stop       chan struct{}
	workers    int
	wg         sync.WaitGroup
	cancelOnce sync.Once
	cancel     context.CancelFunc
	started    bool
	closed     bool
	mu         sync.Mutex
	active     map[string]struct{}

	// OnAbandon receives every admitted item that no worker started before
	// Shutdown. It must be set before Start.
	OnAbandon func(item WorkItem)
}

// NewQueue creates a new Queue with the given capacity and worker count.
func NewQueue(logger *slog.Logger, capacity int, workers int) *Queue {
	if capacity <= 0 {
		capacity = common.DefaultQueueCapacity
	}
	if workers <= 0 {
		workers = common.DefaultWorkerCount
	}
	return &Queue{
		log:     logger,
		ch:      make(chan WorkItem, capacity),
		stop:    make(chan struct{}),
		workers: workers,
		active:  make(map[string]struct{}),
	}
}

// Start launches worker goroutines that consume WorkItems and process them using the provided Processor.
// Cancelling ctx aborts running items; use Shutdown to stop gracefully.
func (q *Queue) Start(ctx context.Context, p Processor) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return errors.New("queue already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, p, i)
	}
	q.started = true
	return nil
}

func (q *Queue) worker(ctx context.Context, p Processor, idx int) {
	defer q.wg.Done()
	log := q.log.With("worker", idx)
	for {
		select {
		case <-q.stop:
			log.Debug("queue stopping, worker exiting")
			return
		case <-ctx.Done():
			log.Debug("worker stopping due to context cancellation")
			return
		case item := <-q.ch:
			// stop and a buffered item can be ready at once; never start work after stop.
			select {
			case <-q.stop:
				q.abandon(item)
				return
			default:
			}
			jobLog := log.With("job_id", item.Job.ID)
			jobLog.Info("processing job", "status", item.Job.Status, "retry", item.Retry)
			start := time.Now()
			if err := p.Process(ctx, item); err != nil {
				jobLog.Error("job processing failed", "err", err, "duration", time.Since(start))
			} else {
				jobLog.Info("job processed", "duration", time.Since(start))
			}
			q.release(item.Job.ID)
		}
	}
}

// Enqueue adds a WorkItem to the queue without blocking.
func (q *Queue) Enqueue(item WorkItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.started {
		return ErrQueueNotStarted
	}
	if q.closed {
		return ErrQueueClosed
	}
	if _, busy := q.active[item.Job.ID]; busy {
		return ErrAlreadyQueued
	}
	select {
	case q.ch <- item:
		q.active[item.Job.ID] = struct{}{}
		return nil
	default:
		return ErrQueueFull
	}
}

// Active reports whether the job id is queued or being processed.
func (q *Queue) Active(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.active[id]
	return ok
}

// Len returns the number of queued or running items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.active)
}

func (q *Queue) release(id string) {
	q.mu.Lock()
	delete(q.active, id)
	q.mu.Unlock()
}

func (q *Queue) abandon(item WorkItem) {
	q.release(item.Job.ID)
	if q.OnAbandon == nil {
		q.log.Warn("queued job dropped at shutdown", "job_id", item.Job.ID)
		return
	}
	q.OnAbandon(item)
}

// Shutdown stops accepting work, hands every item that has not started to
// OnAbandon and waits for running items up to the deadline. Running items
// still busy at the deadline have their context cancelled.
func (q *Queue) Shutdown(deadline time.Duration) {
	q.cancelOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		started := q.started
		q.mu.Unlock()

		// Enqueue checks closed under the same lock, so nothing new arrives.
		close(q.stop)
		if !started {
			return
		}
		defer q.cancel()
		q.drain()

		// wait with deadline
		done := make(chan struct{})
		go func() {
			defer close(done)
			q.wg.Wait()
		}()

		if deadline <= 0 {
			<-done
			return
		}

		timer := time.NewTimer(deadline)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
			q.log.Warn("queue shutdown deadline reached; cancelling running jobs")
		}
	})
}

func (q *Queue) drain() {
	for {
		select {
		case item := <-q.ch:
			q.abandon(item)
		default:
			return
		}
	}
}
