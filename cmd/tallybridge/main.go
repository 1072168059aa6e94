package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/tallybridge/tallybridge/internal/api"
	"github.com/tallybridge/tallybridge/internal/app"
	"github.com/tallybridge/tallybridge/internal/authorize"
	"github.com/tallybridge/tallybridge/internal/credit"
	"github.com/tallybridge/tallybridge/internal/observability"
	"github.com/tallybridge/tallybridge/internal/orders"
	"github.com/tallybridge/tallybridge/internal/payment"
	"github.com/tallybridge/tallybridge/internal/platform/cache"
	"github.com/tallybridge/tallybridge/internal/platform/db"
	"github.com/tallybridge/tallybridge/internal/tally"
	"github.com/tallybridge/tallybridge/internal/voucher"
	"github.com/tallybridge/tallybridge/internal/vouchersync"
	"github.com/tallybridge/tallybridge/jobs"
	"github.com/tallybridge/tallybridge/migrations"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping server startup")
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

	tallyClient := tally.NewClient(tally.ClientConfig{
		ImportURL: cfg.TallyImportURL,
		QueryURL:  cfg.TallyQueryURL,
		Timeout:   cfg.TallyTimeout,
		Logger:    logger,
	})

	var redisClient *redis.Client
	if client, err := cache.New(ctx, cfg.RedisAddr); err != nil {
		logger.Warn("redis unavailable, manual sync disabled", slog.Any("error", err))
	} else {
		redisClient = client
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	var pool *pgxpool.Pool
	if cfg.ServesPaymentBackend() {
		pool, err = db.New(ctx, cfg.PGDSN)
		if err != nil {
			logger.Error("connect database", slog.Any("error", err))
			os.Exit(1)
		}
		defer pool.Close()
		if err := db.Migrate(ctx, pool, migrations.Files, logger); err != nil {
			logger.Error("migrate database", slog.Any("error", err))
			os.Exit(1)
		}
	}

	metrics := observability.NewMetrics()

	var (
		paymentHandler *payment.Handler
		backend        payment.Backend
	)
	switch {
	case cfg.ServesPaymentBackend():
		gateway := payment.NewRazorpayClient(cfg.RazorpayBaseURL, cfg.RazorpayKeyID, cfg.RazorpayKeySecret, nil)
		service := payment.NewService(gateway, payment.NewPostgresStore(pool), cfg.RazorpayKeySecret, logger)
		paymentHandler = payment.NewHandler(logger, service)
		backend = service
	case cfg.PaymentBackendURL != "":
		backend = payment.NewBackendClient(cfg.PaymentBackendURL, &http.Client{Timeout: cfg.TallyTimeout})
	}
	reconciler := payment.NewReconciler(payment.ReconcilerConfig{
		Enabled:    cfg.PaymentsEnabled,
		BankLedger: cfg.ReceiptBankLedger,
		Backend:    backend,
		Importer:   tallyClient,
		Logger:     logger,
	})

	gate := credit.NewGate(credit.NewTallyFetcher(tallyClient), credit.NewStaticPermissions(cfg.CreditHardBlockCompanies), logger)
	submitter := voucher.NewSubmitter(tallyClient, orders.VoucherOptions{SalesLedger: cfg.SalesLedger}, logger)
	placer := voucher.NewService(gate, submitter, reconciler, logger)

	handlerCfg := api.HandlerConfig{
		Logger:       logger,
		Placer:       placer,
		Authorizer:   authorize.New(tallyClient, logger),
		Companies:    cfg.TallyCompanies,
		DefaultToken: cfg.TallyAuthToken,
		Metrics:      metrics,
	}
	var jobHandler *jobs.Handler
	if redisClient != nil {
		handlerCfg.Poller = vouchersync.NewPoller(vouchersync.PollerConfig{
			Querier:     tallyClient,
			Store:       vouchersync.NewRedisStore(redisClient),
			Notifier:    vouchersync.NewRedisNotifier(redisClient),
			Token:       cfg.TallyAuthToken,
			Concurrency: cfg.PollConcurrency,
			Logger:      logger,
		})
		inspector := asynq.NewInspector(cache.QueueOpts(cfg.RedisAddr))
		defer inspector.Close()
		jobHandler = jobs.NewHandler(inspector, logger)
	}

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		APIHandler:     api.NewHandler(handlerCfg),
		PaymentHandler: paymentHandler,
		JobHandler:     jobHandler,
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.Int("companies", len(cfg.TallyCompanies)))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
