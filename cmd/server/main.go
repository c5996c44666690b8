package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/brojonat/myfinance/service/app"
	"github.com/brojonat/myfinance/service/config"
	"github.com/brojonat/myfinance/service/inbox"
	"github.com/brojonat/myfinance/service/metrics"
	"github.com/brojonat/myfinance/service/server"
	"github.com/brojonat/myfinance/service/temporal"
)

func main() {
	_ = godotenv.Load()

	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"smtp_addr", cfg.SMTPAddr,
		"log_level", cfg.LogLevel,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsCollector := metrics.NewMetrics(nil)

	store, closeLedger, err := app.OpenLedger(ctx, cfg, metricsCollector)
	if err != nil {
		logger.Error("failed to open ledger", "error", err)
		os.Exit(1)
	}
	defer closeLedger()
	logger.Info("connected to database")

	mailbox, err := app.OpenInbox(ctx, cfg)
	if err != nil {
		logger.Error("failed to open inbox", "path", cfg.InboxPath, "error", err)
		os.Exit(1)
	}
	defer mailbox.Close()

	prices := app.NewPriceClient(cfg, metricsCollector, logger)

	// The reconcile trigger is optional; the query surface works without Temporal.
	var scheduler temporal.Scheduler
	temporalClient, err := temporal.NewClient(cfg.TemporalHost, cfg.TemporalNamespace, cfg.TemporalTaskQueue, logger)
	if err != nil {
		logger.Warn("temporal unavailable, reconcile trigger disabled", "error", err)
	} else {
		defer temporalClient.Close()
		scheduler = temporalClient
	}

	httpServer := server.New(cfg.ServerAddr, cfg, store, prices, scheduler, metricsCollector, logger)

	smtpServer := inbox.NewSMTPServer(inbox.SMTPConfig{
		Addr:     cfg.SMTPAddr,
		Domain:   cfg.SMTPDomain,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
	}, mailbox, metricsCollector, logger)

	serverErrors := make(chan error, 2)
	go func() {
		serverErrors <- httpServer.Start()
	}()
	go func() {
		serverErrors <- smtpServer.ListenAndServe()
	}()

	// Wait for shutdown signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := smtpServer.Close(); err != nil {
			logger.Error("failed to close SMTP listener", "error", err)
		}
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
