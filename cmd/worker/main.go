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

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/tallybridge/tallybridge/internal/app"
	jobmetrics "github.com/tallybridge/tallybridge/internal/jobs"
	"github.com/tallybridge/tallybridge/internal/observability"
	"github.com/tallybridge/tallybridge/internal/payment"
	"github.com/tallybridge/tallybridge/internal/platform/cache"
	"github.com/tallybridge/tallybridge/internal/platform/db"
	"github.com/tallybridge/tallybridge/internal/tally"
	"github.com/tallybridge/tallybridge/internal/vouchersync"
	"github.com/tallybridge/tallybridge/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	if len(cfg.TallyCompanies) == 0 {
		logger.Warn("no companies configured, voucher polling idle")
	}

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

	tallyClient := tally.NewClient(tally.ClientConfig{
		ImportURL: cfg.TallyImportURL,
		QueryURL:  cfg.TallyQueryURL,
		Timeout:   cfg.TallyTimeout,
		Logger:    logger,
	})
	poller := vouchersync.NewPoller(vouchersync.PollerConfig{
		Querier:     tallyClient,
		Store:       vouchersync.NewRedisStore(redisClient),
		Notifier:    vouchersync.NewRedisNotifier(redisClient),
		Token:       cfg.TallyAuthToken,
		Concurrency: cfg.PollConcurrency,
		Logger:      logger,
	})

	obs := observability.NewMetrics()
	metrics := jobmetrics.NewMetrics(obs.Registerer())
	pollJob := jobs.NewVoucherPollJob(poller, cfg.TallyCompanies, logger, metrics)

	schedule, err := jobs.PollSchedule(cfg.TallyCompanies, cfg.PollInterval)
	if err != nil {
		logger.Error("build poll schedule", slog.Any("error", err))
		os.Exit(1)
	}
	handlers := []jobs.TaskHandler{
		{Type: jobs.TaskVoucherPoll, Handler: pollJob.Handle},
	}

	if cfg.ServesPaymentBackend() {
		pool, err := db.New(ctx, cfg.PGDSN)
		if err != nil {
			logger.Error("connect database", slog.Any("error", err))
			os.Exit(1)
		}
		defer pool.Close()
		cleanupJob := jobs.NewPaymentCleanupJob(payment.NewPostgresStore(pool), logger, metrics)
		cleanupTask, err := jobs.NewPaymentCleanupTask(cfg.ProcessedPaymentRetention)
		if err != nil {
			logger.Error("build cleanup task", slog.Any("error", err))
			os.Exit(1)
		}
		handlers = append(handlers, jobs.TaskHandler{Type: jobs.TaskPaymentCleanup, Handler: cleanupJob.Handle})
		schedule = append(schedule, jobs.CronRegistration{
			Spec:    "30 2 * * *",
			Task:    cleanupTask,
			Options: []asynq.Option{asynq.MaxRetry(3)},
		})
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   cache.QueueOpts(cfg.RedisAddr),
		Logger:      logger,
		Concurrency: cfg.PollConcurrency,
		Handlers:    handlers,
		Cron:        schedule,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	inspector := asynq.NewInspector(cache.QueueOpts(cfg.RedisAddr))
	defer inspector.Close()
	r := chi.NewRouter()
	r.Method(http.MethodGet, "/metrics", obs.Handler())
	r.Route("/jobs", jobs.NewHandler(inspector, logger).MountRoutes)
	metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("worker metrics server", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("starting worker",
		slog.Int("companies", len(cfg.TallyCompanies)),
		slog.Duration("poll_interval", cfg.PollInterval))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
