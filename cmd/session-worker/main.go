package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/tutoring-reservation-engine/internal/booking"
	"github.com/hackgods/tutoring-reservation-engine/internal/config"
	"github.com/hackgods/tutoring-reservation-engine/internal/db"
	"github.com/hackgods/tutoring-reservation-engine/internal/logging"
	"github.com/hackgods/tutoring-reservation-engine/internal/metrics"
	redisclient "github.com/hackgods/tutoring-reservation-engine/internal/redis"
	"github.com/hackgods/tutoring-reservation-engine/internal/report"
	"github.com/hackgods/tutoring-reservation-engine/internal/wallet"
)

// session-worker moves schedules along as wall-clock time passes: started
// sessions become in_progress and ended ones await completion.
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("config load error: " + err.Error())
	}

	logger := logging.MustLogger(cfg.Env, cfg.LogLevel).Named("session-worker")
	defer func() { _ = logger.Sync() }()

	logger.Info("session worker starting up",
		zap.String("env", cfg.Env),
		zap.Duration("interval", cfg.WorkerInterval),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(rootCtx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		logger.Fatal("redis connection error", zap.Error(err))
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("error closing redis", zap.Error(err))
		}
	}()
	logger.Info("connected to Redis")

	svc, err := booking.NewService(booking.Deps{
		Repo:     booking.NewPgRepository(pgPool),
		Locker:   redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL, cfg.LockWait),
		Wallet:   wallet.NewPgLedger(pgPool),
		Disputes: report.NewPgStore(pgPool),
		Metrics:  metrics.NewBookingMetrics(nil),
		Logger:   logger,
	}, cfg)
	if err != nil {
		logger.Fatal("service init error", zap.Error(err))
	}

	// Run once at startup
	runOnce(rootCtx, svc, logger)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info("shutdown signal received, stopping session worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, logger)
		}
	}
}

func runOnce(ctx context.Context, svc *booking.Service, logger *zap.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	n, err := svc.MarkElapsedSchedules(runCtx)
	if err != nil {
		logger.Error("sweep run error", zap.Int("moved", n), zap.Error(err))
		return
	}
	logger.Info("sweep run complete", zap.Int("moved", n), zap.Duration("took", time.Since(start)))
}
