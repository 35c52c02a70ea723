package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PgLedger keeps balances in wallets and an append-only entry per reference
// in wallet_entries.
type PgLedger struct {
	db dbtx
}

func NewPgLedger(db dbtx) *PgLedger {
	return &PgLedger{db: db}
}

const (
	kindDebit  = "debit"
	kindCredit = "credit"
)

func (l *PgLedger) Debit(ctx context.Context, email string, amount int64, ref string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	return l.withTx(ctx, func(tx pgx.Tx) error {
		fresh, err := l.recordEntry(ctx, tx, email, amount, kindDebit, ref)
		if err != nil || !fresh {
			return err
		}

		tag, err := tx.Exec(ctx, `
			UPDATE wallets
			SET balance = balance - $2,
			    updated_at = now()
			WHERE email = $1
			  AND balance >= $2
		`, email, amount)
		if err != nil {
			return fmt.Errorf("debit wallet: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrInsufficientFunds
		}
		return nil
	})
}

func (l *PgLedger) Credit(ctx context.Context, email string, amount int64, ref string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	return l.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO wallets (email, balance, updated_at)
			VALUES ($1, 0, now())
			ON CONFLICT (email) DO NOTHING
		`, email); err != nil {
			return fmt.Errorf("ensure wallet: %w", err)
		}

		fresh, err := l.recordEntry(ctx, tx, email, amount, kindCredit, ref)
		if err != nil || !fresh {
			return err
		}

		if _, err := tx.Exec(ctx, `
			UPDATE wallets
			SET balance = balance + $2,
			    updated_at = now()
			WHERE email = $1
		`, email, amount); err != nil {
			return fmt.Errorf("credit wallet: %w", err)
		}
		return nil
	})
}

func (l *PgLedger) Void(ctx context.Context, ref string) error {
	return l.withTx(ctx, func(tx pgx.Tx) error {
		var (
			email  string
			amount int64
			kind   string
		)
		err := tx.QueryRow(ctx, `
			UPDATE wallet_entries
			SET voided_at = now()
			WHERE reference = $1
			  AND voided_at IS NULL
			RETURNING email, amount, kind
		`, ref).Scan(&email, &amount, &kind)
		if errors.Is(err, pgx.ErrNoRows) {
			// never applied or already voided
			return nil
		}
		if err != nil {
			return fmt.Errorf("void wallet entry: %w", err)
		}

		delta := amount
		if kind == kindCredit {
			delta = -amount
		}
		if _, err := tx.Exec(ctx, `
			UPDATE wallets
			SET balance = balance + $2,
			    updated_at = now()
			WHERE email = $1
		`, email, delta); err != nil {
			return fmt.Errorf("reverse wallet entry: %w", err)
		}
		return nil
	})
}

func (l *PgLedger) Balance(ctx context.Context, email string) (int64, error) {
	var balance int64
	err := l.db.QueryRow(ctx, `SELECT balance FROM wallets WHERE email = $1`, email).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrWalletNotFound
		}
		return 0, fmt.Errorf("read balance: %w", err)
	}
	return balance, nil
}

// recordEntry reports false when ref was already recorded, which makes the
// caller's call a no-op.
func (l *PgLedger) recordEntry(ctx context.Context, tx pgx.Tx, email string, amount int64, kind, ref string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO wallet_entries (id, reference, email, amount, kind, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (reference) DO NOTHING
	`, uuid.New(), ref, email, amount, kind)
	if err != nil {
		return false, fmt.Errorf("record wallet entry: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var voided bool
	if err := tx.QueryRow(ctx, `
		SELECT voided_at IS NOT NULL FROM wallet_entries WHERE reference = $1
	`, ref).Scan(&voided); err != nil {
		return false, fmt.Errorf("load wallet entry: %w", err)
	}
	if voided {
		return false, ErrEntryVoided
	}
	return false, nil
}

func (l *PgLedger) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := l.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin wallet tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit wallet tx: %w", err)
	}
	return nil
}
