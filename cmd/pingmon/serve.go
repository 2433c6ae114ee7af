package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hazz-dev/pingmon/internal/alert"
	"github.com/hazz-dev/pingmon/internal/config"
	"github.com/hazz-dev/pingmon/internal/event"
	"github.com/hazz-dev/pingmon/internal/logging"
	"github.com/hazz-dev/pingmon/internal/metrics"
	"github.com/hazz-dev/pingmon/internal/probe"
	"github.com/hazz-dev/pingmon/internal/registry"
	"github.com/hazz-dev/pingmon/internal/scheduler"
	"github.com/hazz-dev/pingmon/internal/server"
	"github.com/hazz-dev/pingmon/internal/storage"
)

func runServe(cmd *cobra.Command, _ []string) error {
	// 1. Load config
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// 2. Logger
	logger, logCloser, err := logging.New(cfg.Log, os.Stderr)
	if err != nil {
		return fmt.Errorf("configuring logging: %w", err)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)
	logger.Info("config loaded", "targets", len(cfg.Targets))

	// 3. Signal context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// 4. Metrics
	mp, err := metrics.NewProvider(ctx, cfg.Metrics)
	if err != nil {
		return fmt.Errorf("configuring metrics: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mp.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics shutdown", "error", err)
		}
	}()
	meter := mp.Meter(metrics.MeterName)
	metricsHandler, err := metrics.NewMetricsHandler(meter)
	if err != nil {
		return fmt.Errorf("creating metrics instruments: %w", err)
	}

	// 5. Open SQLite
	db, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	// 6. Event hub and reporters
	hub := event.NewHub(logger)
	hub.Attach("storage", storage.NewRecorder(db, logger))
	hub.Attach("metrics", metricsHandler)
	if wh := cfg.Alerts.Webhook; wh.URL != "" {
		hub.Attach("alert", alert.New(wh.URL, wh.Format, wh.Cooldown.Duration, logger))
	}

	// 7. Registry and scheduler
	reg := registry.New(cfg.Monitor.FailureThreshold)
	if err := metrics.ObserveTargets(meter, reg.Snapshot); err != nil {
		return fmt.Errorf("creating target gauge: %w", err)
	}
	sched := scheduler.New(reg, probe.New, hub, scheduler.Options{
		MaxInflight:     cfg.Monitor.MaxInflightProbes,
		DefaultInterval: cfg.Monitor.DefaultInterval.Duration,
		DefaultTimeout:  cfg.Monitor.DefaultTimeout.Duration,
	}, logger)
	for _, t := range cfg.Targets {
		if err := sched.Register(t.RegistryTarget()); err != nil {
			return fmt.Errorf("registering target %q: %w", t.ID, err)
		}
	}

	// 8. API server
	apiServer := server.New(sched, db, hub, cfg.Server.CORSOrigins, logger)
	httpServer := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           apiServer.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// 9. Start scheduler
	sched.Start(ctx)
	logger.Info("scheduler started",
		"targets", len(cfg.Targets),
		"max_inflight", cfg.Monitor.MaxInflightProbes,
	)

	// 10. Start HTTP server in background
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "address", cfg.Server.Address)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// 11. Wait for signal or server error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		stop()
		sched.Wait()
		hub.Close()
		return fmt.Errorf("HTTP server: %w", err)
	}

	// 12. Graceful shutdown
	sched.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown", "error", err)
	}

	// Drains queued events into storage, alerts and metrics.
	hub.Close()
	logger.Info("shutdown complete")
	return nil
}
