// Package main provides the worker executing delegated scan runs.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/raphaelgruber/dataquality/internal/app"
	"github.com/raphaelgruber/dataquality/internal/config"
)

const version = "0.1.0"

func main() {
	once := flag.Bool("once", false, "execute the scheduled runs and exit")
	flag.Parse()

	cfg := config.Load()

	logger, cleanup := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer cleanup()

	logger.Info("dataquality-worker starting",
		"version", version,
		"store_backend", cfg.StoreBackend,
		"dataset_backend", cfg.DatasetBackend,
		"max_concurrent_runs", cfg.MaxConcurrentRuns,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open backends", "error", err)
		os.Exit(1)
	}
	defer func() {
		logger.Info("closing backends")
		if err := a.Close(context.Background()); err != nil {
			logger.Warn("failed to close backends", "error", err)
		}
	}()

	// Runs left running by a crashed worker are rescheduled first.
	if n, err := a.Runs.ResumeIncomplete(ctx); err != nil {
		logger.Error("failed to resume runs", "error", err)
	} else if n > 0 {
		logger.Info("resumed interrupted runs", "count", n)
	}

	if *once {
		n, err := a.Runs.RunPending(ctx)
		if err != nil {
			logger.Error("worker failed", "error", err)
			os.Exit(1)
		}
		logger.Info("worker finished", "runs", n)
		return
	}

	logger.Info("worker ready, polling for runs", "interval", cfg.WorkerInterval)
	if err := a.Runs.Work(ctx, cfg.WorkerInterval); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker failed", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
