package main

import (
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"strings"

	appcfg "github.com/jo-hoe/pinwriter/internal/config"
	"github.com/jo-hoe/pinwriter/internal/database"
	"github.com/jo-hoe/pinwriter/internal/images"
	"github.com/jo-hoe/pinwriter/internal/jobs"
	"github.com/jo-hoe/pinwriter/internal/llm"
	"github.com/jo-hoe/pinwriter/internal/llm/aiproxy"
	"github.com/jo-hoe/pinwriter/internal/llm/mock"
	"github.com/jo-hoe/pinwriter/internal/orchestrator"
	"github.com/jo-hoe/pinwriter/internal/pins"
	"github.com/jo-hoe/pinwriter/internal/processor"
	"github.com/jo-hoe/pinwriter/internal/publish/wordpress"
	"github.com/jo-hoe/pinwriter/internal/retry"
	"github.com/jo-hoe/pinwriter/internal/schedule"
	"github.com/jo-hoe/pinwriter/internal/storage"
)

// app holds what every command needs: config, logger and the three stores
// over one SQLite database.
type app struct {
	cfg       *appcfg.Config
	log       *slog.Logger
	db        *sql.DB
	jobs      *jobs.SQLiteStore
	retries   *retry.Queue
	schedules *schedule.Store
}

func openApp(configPath string, logOut io.Writer) (*app, error) {
	cfg, err := appcfg.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg.Server.LogLevel, cfg.Server.LogFormat, logOut)

	db, err := database.Open(cfg.Server.DatabasePath)
	if err != nil {
		return nil, err
	}
	return &app{
		cfg:     cfg,
		log:     logger,
		db:      db,
		jobs:    jobs.NewSQLiteStore(db),
		retries: retry.NewSQLiteQueue(db).WithBatchSize(cfg.Retry.BatchSize),
		schedules: schedule.NewSQLiteStore(db).
			WithBatchSize(cfg.Scheduler.BatchSize).
			WithAnchor(schedule.Anchor(cfg.Scheduler.RecurrenceAnchor)),
	}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

// worker assembles the pipeline from the configured providers. Disabled
// optional steps leave their collaborator nil.
func (a *app) worker() (*processor.Worker, error) {
	var client llm.Client
	switch strings.ToLower(a.cfg.LLM.Provider) {
	case "mock":
		client = mock.New(a.cfg.LLM.Mock)
	case "aiproxy":
		client = aiproxy.New(a.cfg.LLM.AIProxy)
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", a.cfg.LLM.Provider)
	}

	w := processor.New(a.log, a.jobs, client, storage.NewAssets(a.cfg.Server.StorageDir))
	switch strings.ToLower(a.cfg.Images.Provider) {
	case "", "none":
	case "mock":
		w.Images = images.Mock{}
	case "aiproxy":
		w.Images = images.NewAIProxy(a.cfg.Images.AIProxy, a.cfg.Images.Size)
	default:
		return nil, fmt.Errorf("unsupported images provider %q", a.cfg.Images.Provider)
	}
	if a.cfg.WordPress.Enabled {
		p, err := wordpress.New(a.cfg.WordPress)
		if err != nil {
			return nil, fmt.Errorf("init wordpress: %w", err)
		}
		w.Publisher = p
	}
	if a.cfg.Pins.Enabled {
		w.Pins = pins.NewBuilder(a.cfg.Pins.Variations, a.cfg.Pins.BoardName, a.cfg.Pins.SiteURL)
	}
	return w, nil
}

func (a *app) orchestrator(proc jobs.Processor) *orchestrator.Orchestrator {
	c := a.cfg
	return orchestrator.New(a.log, a.jobs, a.retries, a.schedules, proc, orchestrator.Options{
		Workers:           c.Server.WorkerCount,
		QueueCapacity:     c.Server.QueueCapacity,
		Keep:              c.Jobs.Keep,
		SchedulerEnabled:  c.Scheduler.Enabled,
		SchedulerInterval: c.Scheduler.Interval,
		RetryEnabled:      c.Retry.Enabled,
		Retry: retry.Config{
			MaxRetries: c.Retry.MaxRetries,
			BaseDelay:  c.Retry.BaseDelay,
			MaxDelay:   c.Retry.MaxDelay,
		},
		Poller: retry.PollerOptions{
			Interval:           c.Retry.Interval,
			DispatchPerSecond:  c.Retry.DispatchPerSecond,
			ExhaustedRetention: c.Retry.ExhaustedRetention,
		},
	})
}

func newLogger(level, format string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
