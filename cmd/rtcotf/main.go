package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/app"
	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/config"
	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/logging"
	"github.com/GeoscienceAustralia/sar-rtc-opera/internal/observability"
)

func main() {
	configPath := flag.String("config", "", "path to the run configuration (defaults to $RTC_OTF_CONFIG)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(config.Path(*configPath))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, logCloser, err := logging.Open(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	tracing := cfg.Observability.Tracing
	shutdown, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     tracing.Enabled,
		ServiceName: tracing.ServiceName,
		Exporter:    tracing.Exporter,
		Endpoint:    tracing.Endpoint,
		SampleRatio: tracing.SampleRatio,
	}, logger)
	if err != nil {
		logger.Error("tracing init failed", "error", err)
		os.Exit(1)
	}

	os.Exit(run(ctx, cfg, logger, func() {
		observability.ShutdownWithTimeout(context.Background(), shutdown, logger)
		_ = logCloser.Close()
	}))
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger, cleanup func()) int {
	defer cleanup()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("application setup failed", "error", err)
		return 1
	}
	defer func() {
		if err := application.Close(); err != nil {
			logger.Warn("close application", "error", err)
		}
	}()

	report, err := application.Run(ctx)
	if err != nil {
		logger.Error("application stopped", "error", err)
		return 1
	}
	logger.Info("run finished",
		"run_id", report.RunID,
		"succeeded", len(report.Succeeded),
		"failed", len(report.Failed),
		"elapsed", report.Elapsed.String(),
	)
	return 0
}
