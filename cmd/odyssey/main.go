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

	"github.com/odyssey-erp/odyssey-treasury/internal/app"
	"github.com/odyssey-erp/odyssey-treasury/internal/observability"
	"github.com/odyssey-erp/odyssey-treasury/internal/payments"
	"github.com/odyssey-erp/odyssey-treasury/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-treasury/internal/platform/db"
	"github.com/odyssey-erp/odyssey-treasury/internal/transfers"
	"github.com/odyssey-erp/odyssey-treasury/internal/treasury/fx"
	"github.com/odyssey-erp/odyssey-treasury/jobs"
)

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	if cfg.TestMode {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := app.NewLogger(cfg)

	if len(os.Args) > 1 {
		os.Exit(runCommand(ctx, cfg, logger, os.Args[1:]))
	}

	if cfg.MigrationsAuto {
		if err := db.Migrate(cfg.PGDSN, logger); err != nil {
			logger.Error("migrate", slog.Any("error", err))
			os.Exit(1)
		}
	}

	dbpool, err := db.New(ctx, cfg.PGDSN, db.WithMaxConns(cfg.PGMaxConns), db.WithApplicationName("odyssey-treasury"))
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		logger.Warn("redis unavailable, currency cache disabled", slog.Any("error", err))
		redisClient = nil
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	metrics := observability.NewMetrics()
	currencyCache := fx.NewCurrencyCache(redisClient, fx.NewAccountStore(dbpool), cfg.CurrencyCacheTTL)

	paymentService := payments.NewService(payments.NewRepository(dbpool), logger, cfg.BaseCurrency)
	paymentService.SetCurrencyCache(currencyCache)
	paymentService.SetMetrics(metrics)

	transferService := transfers.NewService(transfers.NewRepository(dbpool), logger, cfg.BaseCurrency)
	transferService.SetCurrencyCache(currencyCache)
	transferService.SetMetrics(metrics)

	inspector := asynq.NewInspector(jobs.RedisOpts(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB))
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		Pool:             dbpool,
		PaymentsHandler:  payments.NewHandler(logger, paymentService),
		TransfersHandler: transfers.NewHandler(logger, transferService),
		JobHandler:       jobs.NewHandler(inspector, logger),
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("base_currency", cfg.BaseCurrency))
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
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
