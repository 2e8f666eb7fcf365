package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/classkit/roster/internal/config"
	"github.com/classkit/roster/internal/history"
	"github.com/classkit/roster/internal/importer"
	"github.com/classkit/roster/internal/logging"
	"github.com/classkit/roster/internal/roster"
	"github.com/classkit/roster/internal/web"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
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

	// Setup structured logging based on config
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"backend_base_url", cfg.Backend.BaseURL,
		"import_max_concurrent", cfg.Import.MaxConcurrent,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	ctx := context.Background()

	// Job history is optional: without a database URL the service still
	// runs, it just keeps no record of past imports.
	var hist *history.Store
	if cfg.History.DatabaseURL != "" {
		poolConfig, err := pgxpool.ParseConfig(cfg.History.DatabaseURL)
		if err != nil {
			slog.Error("failed to parse history database URL", "error", err)
			os.Exit(1)
		}
		poolConfig.MaxConns = int32(cfg.History.MaxConns)
		poolConfig.MinConns = int32(cfg.History.MinConns)

		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			slog.Error("failed to create history pool", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		if err := pool.Ping(ctx); err != nil {
			slog.Error("failed to ping history database", "error", err)
			os.Exit(1)
		}

		hist = history.NewStore(pool)
		if err := hist.EnsureSchema(ctx); err != nil {
			slog.Error("failed to ensure history schema", "error", err)
			os.Exit(1)
		}
		slog.Info("import history enabled")
	} else {
		slog.Info("import history disabled (no HISTORY_DATABASE_URL)")
	}

	importer.MaxFileSize = cfg.Import.MaxFileSize

	backend := roster.NewClient(cfg.Backend.BaseURL, cfg.Backend.APIToken, cfg.Backend.RequestTimeout)

	opts := importer.Options{
		MaxConcurrent:     cfg.Import.MaxConcurrent,
		MaxWait:           cfg.Import.MaxWaitTime,
		CommitConcurrency: cfg.Import.CommitConcurrency,
		RequestTimeout:    cfg.Backend.RequestTimeout,
		JobTimeout:        cfg.Import.JobTimeout,
	}
	if hist != nil {
		opts.Recorder = hist
	}
	service := importer.NewService(backend, opts)

	server := web.NewServer(service, hist, cfg)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Wait for in-flight imports to settle (with timeout)
		if active := service.Limiter().ActiveCount(); active > 0 {
			slog.Info("waiting for imports to complete", "active", active)
			if err := service.Limiter().WaitForDrain(shutdownCtx); err != nil {
				slog.Warn("imports did not complete in time", "error", err)
			} else {
				slog.Info("all imports completed")
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	// Start server (uses addr from config internally)
	slog.Info("server starting", "addr", cfg.Server.Addr())
	if err := server.Start(); err != nil {
		slog.Info("server stopped", "error", err)
	}
}
