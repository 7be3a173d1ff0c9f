package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/lawnet-hq/accessd/internal/access"
	"github.com/lawnet-hq/accessd/internal/app"
	"github.com/lawnet-hq/accessd/internal/approval"
	"github.com/lawnet-hq/accessd/internal/events"
	"github.com/lawnet-hq/accessd/internal/identity"
	"github.com/lawnet-hq/accessd/internal/observability"
	"github.com/lawnet-hq/accessd/internal/platform/cache"
	"github.com/lawnet-hq/accessd/internal/platform/db"
	"github.com/lawnet-hq/accessd/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	if cfg.AutoMigrate {
		migrator, err := app.NewMigrator(pool, cfg.MigrationsDir)
		if err != nil {
			logger.Error("init migrator", slog.Any("error", err))
			os.Exit(1)
		}
		if err := migrator.Run(ctx); err != nil {
			logger.Error("run migrations", slog.Any("error", err))
			os.Exit(1)
		}
		if err := migrator.Close(); err != nil {
			logger.Warn("close migrator", slog.Any("error", err))
		}
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

	metrics := observability.NewMetrics()

	bus := events.NewBus()
	bus.Subscribe(events.Filter{}, func(e events.Event) {
		metrics.RecordEvent(string(e.Type))
	})
	broker := events.NewBroker(bus, redisClient, cfg.EventChannel, logger)

	identityService := identity.NewService(redisClient, cfg.AdminKeyHash, cfg.ViewerTokenTTL, logger)

	accessRepo := access.NewRepository(pool)
	accessCache := access.NewCache(redisClient, cfg.AccessCacheTTL)
	accessService := access.NewService(accessRepo, accessCache, bus, logger)

	approvalRepo := approval.NewRepository(pool)
	approvalService := approval.NewService(approvalRepo, accessService, cfg.DefaultGrantTTL, logger)

	accessHandler := access.NewHandler(logger, accessService, bus, metrics, identityService.RequireAdmin)
	approvalHandler := approval.NewHandler(logger, approvalService, identityService.RequireAdmin)
	identityHandler := identity.NewHandler(logger, identityService)
	streamHandler := events.NewStreamHandler(bus, logger)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(asynq.NewInspector(redisOpts), jobClient, logger, identityService.RequireAdmin)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		AccessHandler:   accessHandler,
		ApprovalHandler: approvalHandler,
		IdentityHandler: identityHandler,
		StreamHandler:   streamHandler,
		JobHandler:      jobHandler,
		Metrics:         metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		if err := broker.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.AppRequestTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server exit", slog.Any("error", err))
		os.Exit(1)
	}
}
