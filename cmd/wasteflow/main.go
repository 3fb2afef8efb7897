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
	"github.com/redis/go-redis/v9"

	"github.com/wasteflow/wasteflow/cmd/wasteflow/cli"
	"github.com/wasteflow/wasteflow/internal/app"
	"github.com/wasteflow/wasteflow/internal/companies"
	"github.com/wasteflow/wasteflow/internal/declaration"
	"github.com/wasteflow/wasteflow/internal/lmaimport"
	"github.com/wasteflow/wasteflow/internal/observability"
	"github.com/wasteflow/wasteflow/internal/platform/cache"
	"github.com/wasteflow/wasteflow/internal/platform/db"
	"github.com/wasteflow/wasteflow/internal/signature"
	"github.com/wasteflow/wasteflow/internal/weightticket"
	"github.com/wasteflow/wasteflow/jobs"
	"github.com/wasteflow/wasteflow/migrations"
)

const usage = `usage: wasteflow [command]

commands:
  serve                      run the HTTP API (default)
  migrate                    apply pending schema migrations
  jobs trigger <task>        enqueue a job (declaration:backfill)
  jobs stats                 show queue depth
  jobs scheduled             list scheduled tasks
  import <file.csv|xlsx>     queue an LMA export for import
  companies load <file.json> upsert the company register`

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

	args := os.Args[1:]
	if len(args) == 0 {
		args = []string{"serve"}
	}
	switch args[0] {
	case "serve":
		err = serve(ctx, cfg, logger)
	case "migrate":
		var version uint
		if version, err = migrations.Up(cfg.PGDSN); err == nil {
			logger.Info("schema up to date", slog.Uint64("version", uint64(version)))
		}
	case "jobs":
		err = runJobs(ctx, cfg, args[1:])
	case "import":
		if len(args) != 2 {
			err = errors.New(usage)
			break
		}
		err = runImport(ctx, cfg, args[1])
	case "companies":
		if len(args) != 3 || args[1] != "load" {
			err = errors.New(usage)
			break
		}
		err = loadCompanies(ctx, cfg, args[2])
	default:
		err = errors.New(usage)
	}
	if err != nil {
		logger.Error(args[0], slog.Any("error", err))
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{})
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		// locks and the company cache are disabled without redis
		logger.Warn("redis unavailable", slog.Any("error", err))
	}
	defer closeRedis(redisClient, logger)

	metrics := observability.NewMetrics()
	services := app.NewServices(cfg, pool, redisClient, metrics, logger)

	queueOpts := cache.QueueOpts(cfg.RedisAddr)
	inspector := asynq.NewInspector(queueOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobClient := jobs.NewClient(queueOpts)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:  logger,
		Config:  cfg,
		Metrics: metrics,
		Ready: func(ctx context.Context) error {
			if err := pool.Ping(ctx); err != nil {
				return fmt.Errorf("postgres: %w", err)
			}
			if redisClient != nil {
				if err := redisClient.Ping(ctx).Err(); err != nil {
					return fmt.Errorf("redis: %w", err)
				}
			}
			return nil
		},
		WeightTicketHandler: weightticket.NewHandler(logger, services.WeightTickets),
		SignatureHandler:    signature.NewHandler(logger, services.Signatures),
		DeclarationHandler:  declaration.NewHandler(logger, services.Declarations),
		ImportHandler:       lmaimport.NewHandler(logger, services.Imports),
		JobHandler:          jobs.NewHandler(inspector, jobClient, logger),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

func runJobs(ctx context.Context, cfg *app.Config, args []string) error {
	if len(args) == 0 {
		return errors.New(usage)
	}
	jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr, cfg.ImportUploadDir)
	if err != nil {
		return err
	}
	defer jobsCLI.Close()

	switch args[0] {
	case "trigger":
		if len(args) != 2 {
			return errors.New(usage)
		}
		info, err := jobsCLI.Trigger(ctx, args[1])
		if err != nil {
			return err
		}
		fmt.Printf("enqueued %s as %s on %s\n", info.Type, info.ID, info.Queue)
	case "stats":
		stats, err := jobsCLI.InspectQueues(ctx)
		if err != nil {
			return err
		}
		for _, s := range stats {
			fmt.Printf("%-14s pending=%d active=%d scheduled=%d retry=%d\n", s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry)
		}
	case "scheduled":
		tasks, err := jobsCLI.ListScheduled(ctx, 20)
		if err != nil {
			return err
		}
		for _, t := range tasks {
			fmt.Printf("%s %s next=%s\n", t.ID, t.Type, t.NextProcessAt.Format(time.RFC3339))
		}
	default:
		return errors.New(usage)
	}
	return nil
}

func runImport(ctx context.Context, cfg *app.Config, path string) error {
	jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr, cfg.ImportUploadDir)
	if err != nil {
		return err
	}
	defer jobsCLI.Close()

	info, err := jobsCLI.ImportFile(ctx, path)
	if err != nil {
		return err
	}
	fmt.Printf("import queued as %s\n", info.ID)
	return nil
}

func loadCompanies(ctx context.Context, cfg *app.Config, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: 2})
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	var bumper cli.CacheBumper
	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err == nil {
		defer closeRedis(redisClient, slog.Default())
		bumper = companies.NewCachedLookup(nil, redisClient, cfg.CompanyCacheTTL)
	}

	n, err := cli.NewCompaniesCLI(companies.NewRepository(pool), bumper).Load(ctx, f)
	if err != nil {
		return err
	}
	fmt.Printf("loaded %d companies\n", n)
	return nil
}

func closeRedis(client *redis.Client, logger *slog.Logger) {
	if client == nil {
		return
	}
	if err := client.Close(); err != nil {
		logger.Warn("redis close", slog.Any("error", err))
	}
}
