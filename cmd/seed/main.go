package main

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hackgods/tutoring-reservation-engine/internal/availability"
	"github.com/hackgods/tutoring-reservation-engine/internal/config"
	"github.com/hackgods/tutoring-reservation-engine/internal/db"
	"github.com/hackgods/tutoring-reservation-engine/internal/logging"
	"github.com/hackgods/tutoring-reservation-engine/internal/wallet"
)

var subjects = []string{
	"Mathematics",
	"Physics",
	"Chemistry",
	"Biology",
	"English",
	"Literature",
	"History",
	"Computer Science",
	"Economics",
	"Music Theory",
}

type seedOptions struct {
	tutors   int
	learners int
	weeks    int
	density  float64
	balance  int64
}

func main() {
	var opts seedOptions
	flag.IntVar(&opts.tutors, "tutors", 100, "number of tutors to create")
	flag.IntVar(&opts.learners, "learners", 2000, "number of learner wallets to fund")
	flag.IntVar(&opts.weeks, "weeks", 2, "weeks of availability to publish, starting this week")
	flag.Float64Var(&opts.density, "density", 0.4, "share of catalog hours each tutor opens per day")
	flag.Int64Var(&opts.balance, "balance", 5000, "wallet top-up per learner")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic("config load error: " + err.Error())
	}
	logger := logging.MustLogger(cfg.Env, cfg.LogLevel).Named("seed")
	defer func() { _ = logger.Sync() }()

	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal("timezone", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	tutorIDs, err := seedTutors(ctx, pool, logger, opts.tutors)
	if err != nil {
		logger.Fatal("seed tutors", zap.Error(err))
	}

	today := civil.DateOf(time.Now().In(loc))
	if err := seedAvailability(ctx, pool, logger, tutorIDs, availability.WeekOf(today), opts); err != nil {
		logger.Fatal("seed availability", zap.Error(err))
	}

	if err := seedWallets(ctx, wallet.NewPgLedger(pool), logger, opts); err != nil {
		logger.Fatal("seed wallets", zap.Error(err))
	}

	logger.Info("seed complete")
}

func seedTutors(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger, count int) ([]uuid.UUID, error) {
	logger.Info("seeding tutors", zap.Int("count", count))

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		tutorID := uuid.New()
		email := strings.ToLower(gofakeit.FirstName()) + "." + tutorID.String()[:8] + "@tutors.example.com"

		// one to three priced subjects per tutor
		n := gofakeit.Number(1, 3)
		first := gofakeit.Number(0, len(subjects)-1)
		for k := 0; k < n; k++ {
			subject := subjects[(first+k)%len(subjects)]
			price := int64(gofakeit.Number(10, 60)) * 10
			_, err := tx.Exec(ctx, `
				INSERT INTO tutor_subjects (id, tutor_id, tutor_email, subject, unit_price)
				VALUES ($1, $2, $3, $4, $5)
			`, uuid.New(), tutorID, email, subject, price)
			if err != nil {
				return nil, err
			}
		}
		ids = append(ids, tutorID)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	logger.Info("tutors seeded")
	return ids, nil
}

// seedAvailability publishes a random subset of catalog hours per tutor per day
// with COPY. Tutors are freshly created, so no (tutor, start) pair can collide.
func seedAvailability(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger, tutorIDs []uuid.UUID, week availability.Week, opts seedOptions) error {
	catalog := availability.DefaultCatalog()
	days := make([]civil.Date, 0, opts.weeks*7)
	for w := 0; w < opts.weeks; w++ {
		days = append(days, week.Days()...)
		week = week.Next()
	}

	var rows [][]any
	for _, tutorID := range tutorIDs {
		for _, day := range days {
			for _, ts := range catalog.Slots() {
				if gofakeit.Float64Range(0, 1) >= opts.density {
					continue
				}
				start, end := ts.On(day)
				rows = append(rows, []any{uuid.New(), tutorID, start, end, ts.ID, string(availability.SlotAvailable)})
			}
		}
	}

	n, err := pool.CopyFrom(ctx,
		pgx.Identifier{"availability_slots"},
		[]string{"id", "tutor_id", "start_date", "end_date", "time_slot_id", "status"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("copy availability: %w", err)
	}

	logger.Info("availability seeded", zap.Int64("slots", n), zap.Int("days", len(days)))
	return nil
}

func seedWallets(ctx context.Context, w wallet.Wallet, logger *zap.Logger, opts seedOptions) error {
	logger.Info("funding learner wallets", zap.Int("count", opts.learners), zap.Int64("balance", opts.balance))

	batch := time.Now().UTC().Format("20060102T150405")
	for i := 0; i < opts.learners; i++ {
		email := fmt.Sprintf("learner%05d@learners.example.com", i)
		if err := w.Credit(ctx, email, opts.balance, wallet.TopUpRef(email, batch)); err != nil {
			return fmt.Errorf("top up %s: %w", email, err)
		}
		if (i+1)%500 == 0 {
			logger.Info("wallets funded", zap.Int("done", i+1), zap.Int("total", opts.learners))
		}
	}

	logger.Info("wallets funded")
	return nil
}
