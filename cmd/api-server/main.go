package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/clinicbrain/clinic-scheduling/internal/api"
	"github.com/clinicbrain/clinic-scheduling/internal/appointment"
	"github.com/clinicbrain/clinic-scheduling/internal/config"
	"github.com/clinicbrain/clinic-scheduling/internal/conversation"
	"github.com/clinicbrain/clinic-scheduling/internal/db"
	"github.com/clinicbrain/clinic-scheduling/internal/logging"
	"github.com/clinicbrain/clinic-scheduling/internal/messaging"
	"github.com/clinicbrain/clinic-scheduling/internal/metrics"
	"github.com/clinicbrain/clinic-scheduling/internal/portal"
	redisclient "github.com/clinicbrain/clinic-scheduling/internal/redis"
	"github.com/clinicbrain/clinic-scheduling/internal/reminder"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("version", version))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		logger.Fatal("redis connection error", zap.Error(err))
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("error closing redis", zap.Error(err))
		}
	}()
	logger.Info("connected to Redis")

	repo := appointment.NewPgRepository(pgPool)
	gateway := messaging.NewGateway(cfg, logger)
	scheduling := appointment.NewService(repo, gateway, logger, cfg.DefaultTimezone)

	store := conversation.NewPgStore(pgPool)
	locker := redisclient.NewConversationLocker(rdb, cfg.ConvLockTTL)
	processor := conversation.NewProcessor(repo, store, locker, gateway, logger, cfg.BookingSiteURL)

	codes := portal.NewRedisCodes(rdb, cfg.OTPTTL)
	requests := portal.NewPgRequests(pgPool)
	portalSvc := portal.NewService(repo, scheduling, requests, codes, gateway, logger, cfg.OTPTTL)

	m := metrics.New()

	if cfg.SchedulerEnabled {
		scheduler := reminder.NewScheduler(repo, store, gateway, logger, m, cfg.ReminderInterval, cfg.DefaultTimezone)
		go scheduler.Run(rootCtx)
		logger.Info("reminder scheduler running", zap.Duration("interval", cfg.ReminderInterval))
	}

	router := api.NewRouter(api.RouterConfig{
		Scheduling:    scheduling,
		Portal:        portalSvc,
		Webhook:       processor,
		WebhookAPIKey: cfg.WebhookAPIKey,
		Metrics:       m,
		Logger:        logger,
		PgPool:        pgPool,
		Redis:         rdb,
		Env:           cfg.Env,
		Version:       version,
	})

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", server.Addr))
		serverErr <- server.ListenAndServe()
	}()

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server error", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	logger.Info("api-server stopped")
}
