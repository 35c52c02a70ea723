package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/hackgods/tutoring-reservation-engine/internal/db"
	"github.com/hackgods/tutoring-reservation-engine/internal/logging"
)

// SimConfig drives a load run against a live api-server.
type SimConfig struct {
	APIBaseURL   string        `env:"SIM_API_BASE_URL" env-default:"http://localhost:8080"`
	Duration     time.Duration `env:"SIM_DURATION" env-default:"30s"`
	Workers      int           `env:"SIM_WORKERS" env-default:"10"`
	BookingRatio float64       `env:"SIM_BOOKING_RATIO" env-default:"0.5"`
	CancelRatio  float64       `env:"SIM_CANCEL_RATIO" env-default:"0.1"`
	ReadRatio    float64       `env:"SIM_READ_RATIO" env-default:"0.4"`
	MaxSessions  int           `env:"SIM_MAX_SESSIONS" env-default:"3"`
	HotTutors    int           `env:"SIM_HOT_TUTORS" env-default:"3"`
	LearnerLimit int           `env:"SIM_LEARNER_LIMIT" env-default:"2000"`
	SlotLimit    int           `env:"SIM_SLOT_LIMIT" env-default:"5000"`
	PostgresDSN  string        `env:"POSTGRES_DSN" env-required:"true"`
	Timezone     string        `env:"LOCAL_TIMEZONE" env-default:"Asia/Ho_Chi_Minh"`
	Env          string        `env:"APP_ENV" env-default:"dev"`
	LogLevel     string        `env:"LOG_LEVEL" env-default:"info"`
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	logger  *zap.Logger
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		color.Red("invalid config: %v", err)
		os.Exit(1)
	}

	logger := logging.MustLogger(cfg.Env, cfg.LogLevel).Named("simulate")
	defer func() { _ = logger.Sync() }()

	logger.Info("simulator starting",
		zap.Duration("duration", cfg.Duration),
		zap.Int("workers", cfg.Workers),
		zap.Float64("booking", cfg.BookingRatio),
		zap.Float64("cancel", cfg.CancelRatio),
		zap.Float64("read", cfg.ReadRatio),
		zap.Int("hot_tutors", cfg.HotTutors),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		logger.Fatal("load data pool", zap.Error(err))
	}
	logger.Info("data pool loaded",
		zap.Int("learners", len(dataPool.Learners)),
		zap.Int("subjects", len(dataPool.Subjects)),
		zap.Int("slots", dataPool.SlotCount()),
	)

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}

	sim.Run()
	sim.PrintReport()

	checkCtx, cancelCheck := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelCheck()
	violations, err := checkInvariants(checkCtx, pgPool)
	if err != nil {
		logger.Fatal("invariant check", zap.Error(err))
	}
	printInvariants(violations)
	if len(violations) > 0 {
		os.Exit(1)
	}
}

func loadConfig() (SimConfig, error) {
	_ = godotenv.Load()

	var cfg SimConfig
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return SimConfig{}, err
	}
	if cfg.Workers <= 0 {
		return SimConfig{}, fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return SimConfig{}, fmt.Errorf("SIM_DURATION must be > 0")
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return SimConfig{}, fmt.Errorf("invalid LOCAL_TIMEZONE: %w", err)
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 1
	}

	total := cfg.BookingRatio + cfg.CancelRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.CancelRatio /= total
		cfg.ReadRatio /= total
	}
	return cfg, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.logger.Info("starting simulation")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.logger.Info("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < s.config.BookingRatio:
				s.doBooking(ctx, rng)
			case r < s.config.BookingRatio+s.config.CancelRatio:
				s.doCancel(ctx, rng)
			default:
				if rng.Intn(2) == 0 {
					s.doReadWeek(ctx, rng)
				} else {
					s.doListSchedules(ctx, rng)
				}
			}
		}
	}
}
