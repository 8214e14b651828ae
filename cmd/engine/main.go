package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/speakup/notification-engine/internal/api/http"
	"github.com/speakup/notification-engine/internal/api/http/handlers"
	"github.com/speakup/notification-engine/internal/auth"
	"github.com/speakup/notification-engine/internal/config"
	"github.com/speakup/notification-engine/internal/engine"
	"github.com/speakup/notification-engine/internal/observability"
	"github.com/speakup/notification-engine/internal/persistence"
	"github.com/speakup/notification-engine/internal/source"
	"github.com/speakup/notification-engine/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := observability.NewMetrics()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	var viewerStore store.ViewerStateStore
	if err := redis.Ping(ctx); err != nil {
		logger.Warn("redis unavailable; viewer state will not survive restarts", zap.Error(err))
		viewerStore = store.NewMemoryStore()
	} else {
		viewerStore = store.NewRedisStore(redis.Client, logger)
	}

	var eventSource source.EventSource
	if pool := pg.PoolHandle(); pool != nil {
		eventSource = source.NewPostgresSource(pool, cfg.Postgres.PollInterval(), logger)
	} else {
		logger.Warn("no record store configured; serving an empty in-memory feed")
		eventSource = source.NewMemorySource()
	}

	clock := func() int64 { return time.Now().UnixMilli() }
	manager := engine.NewManager(eventSource, viewerStore, clock,
		engine.Config{HistoryCap: cfg.Engine.HistoryCap}, logger, metrics)
	defer manager.Shutdown()

	identity := auth.NewIdentityMiddleware(auth.NewTokenManager(cfg.Auth.JWTSecret))

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:        handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis),
		Notifications: handlers.NewNotificationsHandler(manager),
		Identity:      identity,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("server stopped", zap.Error(err))
		}
	}()
	logger.Info("notification engine listening", zap.String("addr", cfg.App.Addr()))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	if err := app.Shutdown(); err != nil {
		logger.Error("shutdown failed", zap.Error(err))
	}
}
