// Keeper - Back-office analytics, audit reporting and security monitoring.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-finance/keeper/internal/api"
	"github.com/opensource-finance/keeper/internal/auth"
	"github.com/opensource-finance/keeper/internal/bus"
	"github.com/opensource-finance/keeper/internal/cache"
	"github.com/opensource-finance/keeper/internal/config"
	"github.com/opensource-finance/keeper/internal/domain"
	"github.com/opensource-finance/keeper/internal/metrics"
	"github.com/opensource-finance/keeper/internal/report"
	"github.com/opensource-finance/keeper/internal/repository"
	"github.com/opensource-finance/keeper/internal/rules"
	"github.com/opensource-finance/keeper/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(newLogger(cfg.Logging))

	slog.Info("starting keeper",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"timezone", cfg.Monitoring.Timezone,
	)

	if err := run(cfg); err != nil {
		slog.Error("keeper stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("keeper shutdown complete")
}

func run(cfg *domain.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	m := metrics.New()

	// Initialize Rule Engine with the stored detection rules
	engine, err := rules.NewEngine(0)
	if err != nil {
		return fmt.Errorf("failed to initialize rule engine: %w", err)
	}
	defer engine.Close()
	loadRulesFromDatabase(ctx, repo, engine)
	slog.Info("rule engine initialized", "rules_count", engine.RulesCount())

	authn, err := auth.New(cfg.Auth)
	if err != nil {
		return fmt.Errorf("failed to initialize authenticator (set KEEPER_AUTH__JWT_SECRET): %w", err)
	}

	reports, err := report.New(repo, report.Options{
		Engine:  engine,
		Bus:     busImpl,
		Cache:   cacheImpl,
		Metrics: m,
		Config:  cfg.Monitoring,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize report service: %w", err)
	}

	// Alert worker records published findings as notifications
	var alertWorker *worker.Worker
	if cfg.Monitoring.AlertWorker {
		alertWorker = worker.NewWorker(busImpl, repo, m)
		if err := alertWorker.Start(); err != nil {
			return fmt.Errorf("failed to start alert worker: %w", err)
		}
	}

	srv := api.NewServer(cfg.Server, api.Deps{
		Repo:       repo,
		Cache:      cacheImpl,
		Bus:        busImpl,
		Engine:     engine,
		Reports:    reports,
		Auth:       authn,
		Metrics:    m,
		Monitoring: cfg.Monitoring,
		Version:    Version,
	})

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	slog.Info("keeper is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	select {
	case <-ctx.Done():
		slog.Info("received shutdown signal")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	// Stop consuming events before the bus closes
	if alertWorker != nil {
		if err := alertWorker.Stop(); err != nil {
			slog.Error("failed to stop alert worker", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	return nil
}

// loadRulesFromDatabase loads the stored detection rules into the engine.
// A failure leaves the engine empty; rules can be reloaded via the API.
func loadRulesFromDatabase(ctx context.Context, repo domain.Repository, engine *rules.Engine) {
	stored, err := repo.ListDetectionRules(ctx)
	if err != nil {
		slog.Warn("failed to list detection rules from database", "error", err)
		return
	}
	if len(stored) == 0 {
		slog.Info("no detection rules in database - configure via POST /api/monitoring/rules")
		return
	}
	if err := engine.ReloadRules(stored); err != nil {
		slog.Warn("failed to load detection rules", "error", err)
	}
}

func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
