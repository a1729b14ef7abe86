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

	"github.com/merkato-erp/merkato/internal/app"
	"github.com/merkato-erp/merkato/internal/credit"
	"github.com/merkato-erp/merkato/internal/ident"
	"github.com/merkato-erp/merkato/internal/platform/cache"
	"github.com/merkato-erp/merkato/internal/platform/db"
	"github.com/merkato-erp/merkato/internal/shared"
	"github.com/merkato-erp/merkato/internal/stock"
	"github.com/merkato-erp/merkato/internal/trade"
	"github.com/merkato-erp/merkato/internal/treasury"
	"github.com/merkato-erp/merkato/jobs"
)

func main() {
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
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, balance cache disabled", slog.Any("error", err))
	}
	defer func() {
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}
	}()
	balanceCache := cache.NewCache(redisClient, cfg.BalanceCacheTTL)

	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)

	treasuryRepo := treasury.NewRepository(pool, balanceCache)
	treasuryHandler := treasury.NewHandler(logger, treasuryRepo)

	tradeRepo := trade.NewRepository(pool)
	engine := trade.NewEngine(tradeRepo, ident.New(), auditLogger, idempotencyStore, treasuryRepo, logger, trade.EngineConfig{
		MaxAttempts:  cfg.EngineMaxAttempts,
		RetryBackoff: cfg.EngineRetryBackoff,
	})
	tradeHandler := trade.NewHandler(logger, engine, tradeRepo)

	stockRepo := stock.NewRepository(pool)
	stockHandler := stock.NewHandler(logger, stockRepo)

	creditRepo := credit.NewRepository(pool)
	creditHandler := credit.NewHandler(logger, creditRepo)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("asynq client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("asynq client close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, jobClient, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		TradeHandler:    tradeHandler,
		StockHandler:    stockHandler,
		TreasuryHandler: treasuryHandler,
		CreditHandler:   creditHandler,
		JobHandler:      jobHandler,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
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
