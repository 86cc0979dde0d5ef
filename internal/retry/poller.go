package retry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"github.com/jo-hoe/pinwriter/internal/common"
)

// DefaultPollInterval is how often the poller looks for due retries.
const DefaultPollInterval = time.Minute

// Dispatcher re-invokes the executor for a due entry. It must not block until
// the job finishes.
type Dispatcher func(ctx context.Context, e Entry) error

// Source is the part of Queue the poller needs.
type Source interface {
	GetJobsDueForRetry(ctx context.Context) ([]Entry, error)
	PurgeExhausted(ctx context.Context, cutoff time.Time) (int, error)
}

// PollerOptions configure a Poller. Zero values use defaults.
type PollerOptions struct {
	Interval time.Duration
	// DispatchPerSecond paces dispatches within one tick; 0 disables pacing.
	DispatchPerSecond float64
	// ExhaustedRetention purges exhausted entries older than this on each tick; 0 keeps them.
	ExhaustedRetention time.Duration
}

// Poller periodically dispatches due retries. Ticks never overlap: a tick
// that fires while the previous one is still dispatching is skipped.
type Poller struct {
	log       *slog.Logger
	src       Source
	interval  time.Duration
	limiter   *rate.Limiter
	retention time.Duration
	now       func() time.Time

	mu sync.Mutex
	c  *cron.Cron
}

// NewPoller builds a poller over src.
func NewPoller(log *slog.Logger, src Source, opts PollerOptions) *Poller {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultPollInterval
	}
	limit := rate.Inf
	if opts.DispatchPerSecond > 0 {
		limit = rate.Limit(opts.DispatchPerSecond)
	}
	return &Poller{
		log:       log.With("component", "retry-poller"),
		src:       src,
		interval:  opts.Interval,
		limiter:   rate.NewLimiter(limit, 1),
		retention: opts.ExhaustedRetention,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Start installs the periodic timer. It reports false and does nothing if the
// poller is already running.
func (p *Poller) Start(ctx context.Context, dispatch Dispatcher) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.c != nil {
		p.log.Warn("retry poller already running")
		return false
	}
	logger := common.NewCronLogger(p.log)
	p.c = cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	p.c.Schedule(cron.Every(p.interval), cron.FuncJob(func() {
		if _, err := p.Tick(ctx, dispatch); err != nil && !errors.Is(err, context.Canceled) {
			p.log.Error("retry poll failed", "err", err)
		}
	}))
	p.c.Start()
	p.log.Info("retry poller started", "interval", p.interval)
	return true
}

// Stop cancels the timer and waits for a running tick. It is idempotent.
func (p *Poller) Stop() {
	p.mu.Lock()
	c := p.c
	p.c = nil
	p.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	p.log.Info("retry poller stopped")
}

// Running reports whether the timer is installed.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.c != nil
}

// Tick runs one poll pass and returns how many entries were dispatched.
// Dispatch errors are logged and leave the entry for the next tick.
func (p *Poller) Tick(ctx context.Context, dispatch Dispatcher) (int, error) {
	if p.retention > 0 {
		n, err := p.src.PurgeExhausted(ctx, p.now().Add(-p.retention))
		if err != nil {
			return 0, err
		}
		if n > 0 {
			p.log.Info("purged exhausted retry entries", "count", n)
		}
	}

	due, err := p.src.GetJobsDueForRetry(ctx)
	if err != nil {
		return 0, err
	}
	dispatched := 0
	for _, e := range due {
		if err := p.limiter.Wait(ctx); err != nil {
			return dispatched, err
		}
		log := p.log.With("job_id", e.JobID, "retry_count", e.RetryCount)
		if err := dispatch(ctx, e); err != nil {
			log.Warn("retry dispatch failed", "err", err)
			continue
		}
		log.Info("retry dispatched")
		dispatched++
	}
	return dispatched, nil
}
