package wallet

import (
	"context"
	"errors"
)

var (
	ErrInsufficientFunds = errors.New("insufficient wallet balance")
	ErrWalletNotFound    = errors.New("wallet not found")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrEntryVoided       = errors.New("wallet entry was voided")
)

// Wallet is the pre-funded balance learners pay from and tutors are paid into.
// Every mutating call carries a reference; repeating a call with the same
// reference has no further effect.
type Wallet interface {
	Debit(ctx context.Context, email string, amount int64, ref string) error
	Credit(ctx context.Context, email string, amount int64, ref string) error
	// Void reverses the entry recorded under ref, if there is one.
	Void(ctx context.Context, ref string) error
	Balance(ctx context.Context, email string) (int64, error)
}

func BookingRef(bookingID string) string  { return "booking:" + bookingID }
func PayoutRef(scheduleID string) string  { return "payout:schedule:" + scheduleID }
func RefundRef(scheduleID string) string  { return "refund:schedule:" + scheduleID }
func TopUpRef(email, batch string) string { return "topup:" + email + ":" + batch }
