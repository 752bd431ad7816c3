package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/fawtara/fawtara/cmd/fawtara/cli"
	"github.com/fawtara/fawtara/internal/app"
	"github.com/fawtara/fawtara/internal/authority"
	"github.com/fawtara/fawtara/internal/certificates"
	"github.com/fawtara/fawtara/internal/compliance"
	"github.com/fawtara/fawtara/internal/events"
	"github.com/fawtara/fawtara/internal/invoices"
	jobmetrics "github.com/fawtara/fawtara/internal/jobs"
	"github.com/fawtara/fawtara/internal/observability"
	"github.com/fawtara/fawtara/internal/platform/cache"
	"github.com/fawtara/fawtara/internal/platform/db"
	"github.com/fawtara/fawtara/internal/platform/ratelimit"
	"github.com/fawtara/fawtara/internal/shared"
	"github.com/fawtara/fawtara/internal/signing"
	"github.com/fawtara/fawtara/internal/tenant"
	"github.com/fawtara/fawtara/jobs"
	"github.com/fawtara/fawtara/migrations"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	if err := newRootCommand(cfg, logger).ExecuteContext(ctx); err != nil {
		var exit cli.ExitError
		if errors.As(err, &exit) {
			os.Exit(exit.Code)
		}
		logger.Error("fawtara", slog.Any("error", err))
		os.Exit(1)
	}
}

func newRootCommand(cfg *app.Config, logger *slog.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:           "fawtara",
		Short:         "E-invoicing compliance API",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), cfg, logger)
		},
	}
	root.AddCommand(cli.NewJobsCommand(func() *cli.JobsCLI {
		return cli.NewJobsCLI(cfg.RedisAddr)
	}))
	return root
}

// serve runs the HTTP API and the lease reaper until ctx is done.
func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	if cfg.MigrateOnStart {
		if err := db.Migrate(cfg.PGDSN, migrations.FS); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		logger.Info("migrations applied")
	}

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	publisher, closeEvents, err := events.Connect(cfg.NATSURL, logger)
	if err != nil {
		return fmt.Errorf("connect events: %w", err)
	}
	defer closeEvents()

	metrics := observability.NewMetrics()
	jobMetrics := jobmetrics.NewMetrics(metrics.Registerer())

	certService := certificates.NewService(certificates.NewRepository(dbpool), cfg.KeyEncryptionSecret, logger)
	signer := signing.NewService(certService, signing.TrailerFormat{}, shared.SystemActor)
	authorityClient := authority.NewClient(cfg.AuthorityConfig())

	invoiceService, err := invoices.NewService(invoices.NewRepository(dbpool), publisher, cfg.InvoiceConfig(), logger)
	if err != nil {
		return fmt.Errorf("init invoice service: %w", err)
	}

	jobStore := compliance.NewStore(dbpool)
	processor := compliance.NewProcessor(jobStore, invoiceService, signer, authorityClient, publisher, jobMetrics, cfg.ProcessorConfig(), logger)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		Metrics:            metrics,
		Limiter:            ratelimit.New(redisClient, logger),
		Resolver:           tenant.NewResolver(tenant.NewRepository(dbpool), logger),
		InvoiceHandler:     invoices.NewHandler(invoiceService, logger),
		CertificateHandler: certificates.NewHandler(certService, logger),
		ComplianceHandler:  compliance.NewHandler(processor, jobStore, cfg.ComplianceProcessSecret, logger),
		JobHandler:         jobs.NewHandler(inspector, logger),
		DB:                 dbpool,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		reapLoop(gctx, processor, cfg.ReapInterval, logger)
		return nil
	})
	group.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		return fmt.Errorf("server stopped: %w", err)
	}
	return nil
}

// reapLoop requeues jobs whose lease expired until ctx is done.
func reapLoop(ctx context.Context, processor *compliance.Processor, every time.Duration, logger *slog.Logger) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := processor.Reap(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("reap expired leases", slog.Any("error", err))
			}
		}
	}
}
