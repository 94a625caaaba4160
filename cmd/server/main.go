package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/csvsplit/internal/config"
	"github.com/JonMunkholm/csvsplit/internal/core"
	"github.com/JonMunkholm/csvsplit/internal/history"
	"github.com/JonMunkholm/csvsplit/internal/logging"
	"github.com/JonMunkholm/csvsplit/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"addr", cfg.Server.Addr(),
		"upload_max_concurrent", cfg.Upload.MaxConcurrent,
		"split_threshold_bytes", cfg.Split.ThresholdBytes,
		"rows_per_part", cfg.Split.RowsPerPart,
		"rate_limit_enabled", cfg.Rate.Enabled,
		"history_enabled", cfg.History.Enabled(),
	)
	slog.Debug("effective configuration", "config", cfg.String())

	ctx := context.Background()

	// Run history is optional; without a database runs are only logged.
	var recorder core.HistoryRecorder = core.NopHistory{}
	if cfg.History.Enabled() {
		pool, err := history.Connect(ctx, cfg.History)
		if err != nil {
			slog.Error("failed to connect to history database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		store := history.New(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			slog.Error("failed to prepare history schema", "error", err)
			os.Exit(1)
		}
		recorder = store
		slog.Info("connected to history database", "max_conns", cfg.History.MaxConns)
	}

	service, err := core.NewService(cfg, recorder)
	if err != nil {
		slog.Error("failed to create service", "error", err)
		os.Exit(1)
	}

	server := web.NewServer(cfg, service)

	// Create cancellable context for background jobs
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	go service.StartJanitor(jobCtx)

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Wait for running submissions, then remove every session
		status := service.Status()
		if status.Limiter.Active > 0 {
			slog.Info("waiting for processing to complete", "active", status.Limiter.Active)
		}
		if err := service.Shutdown(shutdownCtx); err != nil {
			slog.Warn("processing did not complete in time", "error", err)
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server failed", "error", err)
		cancelJobs()
		os.Exit(1)
	}
	<-done
	slog.Info("server stopped")
}
