package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wasteflow/wasteflow/internal/app"
	"github.com/wasteflow/wasteflow/internal/declaration"
	jobmetrics "github.com/wasteflow/wasteflow/internal/jobs"
	"github.com/wasteflow/wasteflow/internal/platform/cache"
	"github.com/wasteflow/wasteflow/internal/platform/db"
	"github.com/wasteflow/wasteflow/jobs"
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

	logger := app.NewLogger(cfg).With(slog.String("process", "worker"))

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	// The worker needs redis for the queue itself, so a failed ping is fatal.
	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	services := app.NewServices(cfg, pool, redisClient, nil, logger)
	metrics := jobmetrics.NewMetrics(nil)

	queueOpts := cache.QueueOpts(cfg.RedisAddr)
	client := jobs.NewClient(queueOpts)
	defer func() {
		if err := client.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	backfillJob := jobs.NewDeclarationBackfillJob(services.Declarations, client, logger, metrics)
	declareJob := jobs.NewDeclareLineJob(services.Declarations, declaration.LogSubmitter{Logger: logger}, logger, metrics)
	importJob := jobs.NewImportBatchJob(services.Imports, services.Idempotency, cfg.ImportUploadDir, logger, metrics)

	backfillTask, err := jobs.NewDeclarationBackfillTask(time.Time{})
	if err != nil {
		logger.Error("build backfill task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: queueOpts,
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskDeclarationBackfill, Handler: backfillJob.Handle},
			{Type: jobs.TaskDeclareLine, Handler: declareJob.Handle},
			{Type: jobs.TaskImportBatch, Handler: importJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.DeclarationBackfillCron, Task: backfillTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
		Location: cfg.Location(),
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if cfg.WorkerMetricsAddr != "" {
		metricsServer := &http.Server{
			Addr:              cfg.WorkerMetricsAddr,
			Handler:           promhttp.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("worker metrics server", slog.Any("error", err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}

	logger.Info("worker started",
		slog.String("backfill_cron", cfg.DeclarationBackfillCron),
		slog.String("timezone", cfg.Location().String()),
	)
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
