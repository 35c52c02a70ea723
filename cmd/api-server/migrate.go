package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hackgods/tutoring-reservation-engine/internal/db"
)

func migrate(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) error {
	m, err := db.NewMigrator(pool, logger)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()

	if err := m.Up(ctx); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
