package report

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrDisputeExists = errors.New("an open dispute already exists for this schedule")
	ErrEmptyReason   = errors.New("dispute reason is required")
)

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgStore records learner disputes against finished sessions.
// Adjudication happens elsewhere; this store only answers whether one is open.
type PgStore struct {
	db rowQuerier
}

func NewPgStore(db rowQuerier) *PgStore {
	return &PgStore{db: db}
}

func (s *PgStore) HasOpenDispute(ctx context.Context, scheduleID uuid.UUID) (bool, error) {
	var open bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM schedule_reports
			WHERE schedule_id = $1 AND status = 'open'
		)
	`, scheduleID).Scan(&open)
	if err != nil {
		return false, fmt.Errorf("check open dispute: %w", err)
	}
	return open, nil
}

func (s *PgStore) FileDispute(ctx context.Context, scheduleID uuid.UUID, learnerEmail, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return ErrEmptyReason
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO schedule_reports (id, schedule_id, learner_email, reason, status, created_at)
		VALUES ($1, $2, $3, $4, 'open', now())
	`, uuid.New(), scheduleID, learnerEmail, reason)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDisputeExists
		}
		return fmt.Errorf("file dispute: %w", err)
	}
	return nil
}
