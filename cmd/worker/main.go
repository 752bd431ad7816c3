package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/fawtara/fawtara/internal/app"
	"github.com/fawtara/fawtara/internal/authority"
	"github.com/fawtara/fawtara/internal/certificates"
	"github.com/fawtara/fawtara/internal/compliance"
	"github.com/fawtara/fawtara/internal/events"
	"github.com/fawtara/fawtara/internal/invoices"
	jobmetrics "github.com/fawtara/fawtara/internal/jobs"
	"github.com/fawtara/fawtara/internal/platform/db"
	"github.com/fawtara/fawtara/internal/shared"
	"github.com/fawtara/fawtara/internal/signing"
	"github.com/fawtara/fawtara/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	publisher, closeEvents, err := events.Connect(cfg.NATSURL, logger)
	if err != nil {
		logger.Error("connect events", slog.Any("error", err))
		os.Exit(1)
	}
	defer closeEvents()

	metrics := jobmetrics.NewMetrics(nil)

	certService := certificates.NewService(certificates.NewRepository(pool), cfg.KeyEncryptionSecret, logger)
	signer := signing.NewService(certService, signing.TrailerFormat{}, shared.SystemActor)
	invoiceService, err := invoices.NewService(invoices.NewRepository(pool), publisher, cfg.InvoiceConfig(), logger)
	if err != nil {
		logger.Error("init invoice service", slog.Any("error", err))
		os.Exit(1)
	}
	processor := compliance.NewProcessor(
		compliance.NewStore(pool),
		invoiceService,
		signer,
		authority.NewClient(cfg.AuthorityConfig()),
		publisher,
		metrics,
		cfg.ProcessorConfig(),
		logger,
	)

	schedule, err := jobs.ComplianceSchedule(cfg.ComplianceMaxBatches)
	if err != nil {
		logger.Error("build compliance schedule", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers:  jobs.ComplianceHandlers(jobs.NewComplianceJob(processor, logger, metrics)),
		Cron:      schedule,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
