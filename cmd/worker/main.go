package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/lawnet-hq/accessd/internal/access"
	"github.com/lawnet-hq/accessd/internal/app"
	"github.com/lawnet-hq/accessd/internal/approval"
	"github.com/lawnet-hq/accessd/internal/events"
	jobmetrics "github.com/lawnet-hq/accessd/internal/jobs"
	"github.com/lawnet-hq/accessd/internal/platform/cache"
	"github.com/lawnet-hq/accessd/internal/platform/db"
	"github.com/lawnet-hq/accessd/jobs"
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
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

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

	// The worker publishes revocations through the broker so every running
	// server instance relays them to its open gates and streams.
	bus := events.NewBus()
	broker := events.NewBroker(bus, redisClient, cfg.EventChannel, logger)

	accessRepo := access.NewRepository(pool)
	accessCache := access.NewCache(redisClient, cfg.AccessCacheTTL)
	accessService := access.NewService(accessRepo, accessCache, bus, logger)

	approvalRepo := approval.NewRepository(pool)
	approvalService := approval.NewService(approvalRepo, accessService, cfg.DefaultGrantTTL, logger)

	sweepJob := jobs.NewExpirySweepJob(accessService, logger)
	cleanupJob := jobs.NewRequestCleanupJob(approvalService, logger)

	sweepTask, err := jobs.NewExpirySweepTask(500)
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewRequestCleanupTask(30 * 24 * time.Hour)
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskAccessExpirySweep, Handler: sweepJob.Handle},
			{Type: jobs.TaskRequestCleanup, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "* * * * *", Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "0 3 * * *", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
		Metrics: jobmetrics.NewMetrics(nil),
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := broker.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		if err := worker.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker exit", slog.Any("error", err))
		os.Exit(1)
	}
}
