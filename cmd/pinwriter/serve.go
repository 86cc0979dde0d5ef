package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jo-hoe/pinwriter/internal/server"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the worker pool, the scheduler and the retry poller",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, serve)
		},
	}
}

func serve(a *app) error {
	logger := a.log
	cfg := a.cfg

	worker, err := a.worker()
	if err != nil {
		return err
	}
	orch := a.orchestrator(worker)

	rootCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := orch.Start(rootCtx); err != nil {
		return err
	}

	httpSrv := server.NewHTTPServer(&server.Service{
		Log:          logger,
		Cfg:          cfg,
		Jobs:         a.jobs,
		Retries:      a.retries,
		Schedules:    a.schedules,
		Orchestrator: orch,
	})

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", "address", cfg.Server.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case serveErr = <-errCh:
		if serveErr != nil {
			logger.Error("server error", "err", serveErr)
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
	defer cancelShutdown()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "err", err)
	}
	// Timers stop before the workers drain.
	orch.Shutdown(cfg.Server.ShutdownGrace)
	logger.Info("server stopped")
	return serveErr
}
