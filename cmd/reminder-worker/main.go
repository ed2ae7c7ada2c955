package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/clinicbrain/clinic-scheduling/internal/appointment"
	"github.com/clinicbrain/clinic-scheduling/internal/config"
	"github.com/clinicbrain/clinic-scheduling/internal/conversation"
	"github.com/clinicbrain/clinic-scheduling/internal/db"
	"github.com/clinicbrain/clinic-scheduling/internal/logging"
	"github.com/clinicbrain/clinic-scheduling/internal/messaging"
	"github.com/clinicbrain/clinic-scheduling/internal/reminder"
)

// Standalone reminder sweeper. Deploy either this binary or the in-process
// scheduler in api-server (SCHEDULER_ENABLED), never both at once.
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

	logger.Info("reminder-worker starting up",
		zap.String("env", cfg.Env),
		zap.Duration("interval", cfg.ReminderInterval))

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

	repo := appointment.NewPgRepository(pgPool)
	store := conversation.NewPgStore(pgPool)
	gateway := messaging.NewGateway(cfg, logger)

	// The worker serves no HTTP; a nil metrics sink records nothing.
	scheduler := reminder.NewScheduler(repo, store, gateway, logger, nil, cfg.ReminderInterval, cfg.DefaultTimezone)
	scheduler.Run(rootCtx)

	logger.Info("reminder-worker stopped")
}
