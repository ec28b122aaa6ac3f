package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/vbonduro/docustitch/internal/db"
	"github.com/vbonduro/docustitch/internal/metrics"
	"github.com/vbonduro/docustitch/internal/service"
	"github.com/vbonduro/docustitch/internal/store"
	"github.com/vbonduro/docustitch/internal/web"
	"github.com/vbonduro/docustitch/internal/web/templates"
)

// generationDrainTimeout bounds how long shutdown waits for running
// generations before the database is closed under them.
const generationDrainTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the web form.",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, cleanup, err := setup()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		return err
	}
	defer func() {
		if err := database.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	images, err := newImageStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize image store", "error", err)
		return err
	}

	metrics.Register()
	svc := service.NewSessionService(
		store.NewSessionStore(database),
		newOrchestrator(cfg, logger),
		images,
		cfg.ScreenshotMaxDimension,
		logger,
	)
	// Let running generations record their outcome before the database closes.
	defer drainGenerations(svc, generationDrainTimeout, logger)

	janitor, err := startJanitor(svc, cfg.SessionPurgeSchedule, cfg.SessionTTL, logger)
	if err != nil {
		return err
	}
	defer func() { <-janitor.Stop().Done() }()

	server, err := web.NewServer(svc, templates.FS, logger, web.WithSecureCookie(cfg.CookieSecure))
	if err != nil {
		return fmt.Errorf("failed to parse templates: %w", err)
	}
	if err := server.ListenAndServe(ctx, cfg.ListenAddr); err != nil {
		logger.Error("server error", "error", err)
		return err
	}
	return nil
}

func drainGenerations(svc *service.SessionService, timeout time.Duration, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := svc.Wait(ctx); err != nil {
		logger.Warn("shutting down with generations still running", "timeout", timeout.String(), "error", err)
	}
}

// startJanitor schedules PurgeExpired on schedule. Runs never overlap.
func startJanitor(svc *service.SessionService, schedule string, ttl time.Duration, logger *slog.Logger) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := svc.PurgeExpired(ctx, ttl); err != nil {
			logger.Error("session purge failed", "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid SESSION_PURGE_SCHEDULE %q: %w", schedule, err)
	}
	c.Start()
	logger.Info("session janitor started", "schedule", schedule, "ttl", ttl.String())
	return c, nil
}
