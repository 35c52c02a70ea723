package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/hackgods/tutoring-reservation-engine/internal/availability"
	redisclient "github.com/hackgods/tutoring-reservation-engine/internal/redis"
	"github.com/hackgods/tutoring-reservation-engine/internal/wallet"
)

type CreateBookingInput struct {
	LearnerEmail   string
	TutorSubjectID uuid.UUID
	SlotIDs        []uuid.UUID
	IsTrial        bool
}

func (in CreateBookingInput) validate() error {
	if strings.TrimSpace(in.LearnerEmail) == "" {
		return ErrMissingLearner
	}
	if len(in.SlotIDs) == 0 {
		return ErrNoSlotsSelected
	}
	seen := make(map[uuid.UUID]struct{}, len(in.SlotIDs))
	for _, id := range in.SlotIDs {
		if _, dup := seen[id]; dup {
			return ErrDuplicateSlot
		}
		seen[id] = struct{}{}
	}
	if in.IsTrial && len(in.SlotIDs) != 1 {
		return ErrInvalidTrialSessionCount
	}
	return nil
}

type BookingResult struct {
	Booking   Booking
	Schedules []Schedule
}

// CreateBooking reserves every selected slot for the learner and charges the
// learner's wallet. Either all slots end up Booked under a Confirmed booking,
// or nothing stays reserved.
func (s *Service) CreateBooking(ctx context.Context, in CreateBookingInput) (res *BookingResult, err error) {
	ctx, span := tracer.Start(ctx, "booking.create")
	span.SetAttributes(
		attribute.String("learner_email", in.LearnerEmail),
		attribute.String("tutor_subject_id", in.TutorSubjectID.String()),
		attribute.Int("slots", len(in.SlotIDs)),
		attribute.Bool("trial", in.IsTrial),
	)
	defer func() { endSpan(span, err) }()

	if err := in.validate(); err != nil {
		return nil, err
	}

	subject, err := s.repo.GetTutorSubject(ctx, in.TutorSubjectID)
	if err != nil {
		return nil, fmt.Errorf("load tutor subject: %w", err)
	}

	slots, err := s.repo.GetSlotsByIDs(ctx, in.SlotIDs)
	if err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}
	if err := checkSelection(in.SlotIDs, slots, subject.TutorID, s.now()); err != nil {
		s.observeRejection(err)
		return nil, err
	}

	total := subject.UnitPrice * int64(len(in.SlotIDs))
	if in.IsTrial {
		total = 0
	}

	if s.cfg.PreflightCheck && total > 0 {
		// advisory only; the debit below is authoritative
		if bal, err := s.wallet.Balance(ctx, in.LearnerEmail); err == nil && bal < total {
			s.metrics.ObserveBooking("insufficient_funds")
			return nil, fmt.Errorf("%w: %w", ErrPaymentFailed, wallet.ErrInsufficientFunds)
		}
	}

	reserved, err := s.reserve(ctx, in, subject, slots, total)
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			s.metrics.ObserveBooking("contended")
			return nil, ErrSlotBeingBooked
		}
		s.observeRejection(err)
		return nil, err
	}

	s.logEvent(ctx, reserved.Booking.ID, EventBookingCreated, map[string]any{
		"learner_email":    in.LearnerEmail,
		"tutor_subject_id": in.TutorSubjectID.String(),
		"slot_ids":         in.SlotIDs,
		"total_amount":     total,
		"is_trial":         in.IsTrial,
	})

	if total == 0 {
		// trial or free offering: nothing to charge
		confirmed, err := s.confirm(ctx, reserved)
		if err != nil {
			s.compensate(ctx, reserved, false)
			return nil, fmt.Errorf("confirm unpaid booking: %w", err)
		}
		if in.IsTrial {
			s.metrics.ObserveBooking("trial")
		} else {
			s.metrics.ObserveBooking("confirmed")
		}
		return confirmed, nil
	}

	return s.charge(ctx, reserved)
}

// checkSelection rejects slots that are missing, belong to another tutor or
// have already started, before anything is locked.
func checkSelection(ids []uuid.UUID, slots []availability.Slot, tutorID uuid.UUID, now time.Time) error {
	byID := make(map[uuid.UUID]availability.Slot, len(slots))
	for _, sl := range slots {
		byID[sl.ID] = sl
	}

	missing := make(map[uuid.UUID]availability.Classification)
	for _, id := range ids {
		sl, ok := byID[id]
		if !ok {
			missing[id] = availability.NoSlot
			continue
		}
		if sl.TutorID != tutorID {
			return fmt.Errorf("%w: %s", ErrSlotNotOwnedByTutor, id)
		}
		if !sl.StartDate.After(now) {
			missing[id] = availability.Started
		}
	}
	if len(missing) > 0 {
		return &SlotConflictError{Slots: missing}
	}
	return nil
}

func lockKeys(learnerEmail string, slotIDs ...uuid.UUID) []string {
	keys := make([]string, 0, len(slotIDs)+1)
	for _, id := range slotIDs {
		keys = append(keys, redisclient.SlotKey(id))
	}
	return append(keys, redisclient.LearnerKey(learnerEmail))
}

// busyWindow spans the start times of the given slots.
func busyWindow(slots []availability.Slot) (from, to time.Time) {
	for i, sl := range slots {
		if i == 0 || sl.StartDate.Before(from) {
			from = sl.StartDate
		}
		if i == 0 || sl.StartDate.After(to) {
			to = sl.StartDate
		}
	}
	return from, to.Add(time.Nanosecond)
}

// reserve re-checks the selection and writes the Pending booking, its
// schedules and the slot flips in one transaction, under slot and learner locks.
func (s *Service) reserve(ctx context.Context, in CreateBookingInput, subject *TutorSubject, slots []availability.Slot, total int64) (*BookingResult, error) {
	var res *BookingResult

	err := s.locker.WithLocks(ctx, lockKeys(in.LearnerEmail, in.SlotIDs...), func(lockCtx context.Context) error {
		return s.repo.WithinTx(lockCtx, func(txCtx context.Context, tx Repository) error {
			fresh, err := tx.GetSlotsByIDs(txCtx, in.SlotIDs)
			if err != nil {
				return fmt.Errorf("reload slots: %w", err)
			}
			from, to := busyWindow(slots)
			busy, err := tx.ListLearnerBusySlots(txCtx, in.LearnerEmail, from, to)
			if err != nil {
				return fmt.Errorf("load learner schedules: %w", err)
			}

			detector := availability.NewDetector(availability.NewDisplayIndex(fresh), availability.NewBusyMap(busy))
			rejected := detector.ClassifyIDs(in.SlotIDs)
			now := s.now()
			for _, sl := range fresh {
				if _, ok := rejected[sl.ID]; !ok && !sl.StartDate.After(now) {
					rejected[sl.ID] = availability.Started
				}
			}
			if len(rejected) > 0 {
				return &SlotConflictError{Slots: rejected}
			}

			b := Booking{
				ID:             uuid.New(),
				LearnerEmail:   in.LearnerEmail,
				TutorSubjectID: subject.ID,
				TotalSessions:  len(in.SlotIDs),
				UnitPrice:      subject.UnitPrice,
				TotalAmount:    total,
				IsTrial:        in.IsTrial,
				Status:         BookingPending,
				PaymentStatus:  PaymentPending,
			}
			if err := tx.CreateBooking(txCtx, &b); err != nil {
				return err
			}

			schedules := make([]Schedule, 0, len(in.SlotIDs))
			for _, slotID := range in.SlotIDs {
				sc := Schedule{
					ID:             uuid.New(),
					BookingID:      b.ID,
					AvailabilityID: slotID,
					Status:         SchedulePending,
				}
				if err := tx.CreateSchedule(txCtx, &sc); err != nil {
					if errors.Is(err, ErrSlotNoLongerAvailable) {
						return &SlotConflictError{Slots: map[uuid.UUID]availability.Classification{slotID: availability.TutorBooked}}
					}
					return err
				}
				if err := tx.TransitionSlot(txCtx, slotID, availability.SlotAvailable, availability.SlotBooked); err != nil {
					if errors.Is(err, ErrStatusMismatch) {
						return &SlotConflictError{Slots: map[uuid.UUID]availability.Classification{slotID: availability.TutorBooked}}
					}
					return err
				}
				schedules = append(schedules, sc)
			}

			res = &BookingResult{Booking: b, Schedules: schedules}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// charge debits the learner outside of any lock. A failed or unanswered debit
// rolls the reservation back.
func (s *Service) charge(ctx context.Context, res *BookingResult) (*BookingResult, error) {
	b := res.Booking
	ref := wallet.BookingRef(b.ID.String())

	debitCtx, cancel := context.WithTimeout(ctx, s.cfg.WalletTimeout)
	started := time.Now()
	err := s.wallet.Debit(debitCtx, b.LearnerEmail, b.TotalAmount, ref)
	cancel()
	s.metrics.ObserveWalletCall("debit", started, err)

	if err != nil {
		// a definite refusal means nothing was taken; anything else may have been applied
		unknown := !errors.Is(err, wallet.ErrInsufficientFunds) && !errors.Is(err, wallet.ErrInvalidAmount)
		s.logger.Warn("wallet debit failed, compensating",
			zap.String("booking_id", b.ID.String()),
			zap.Bool("outcome_unknown", unknown),
			zap.Error(err),
		)
		compensated := s.compensate(ctx, res, unknown)
		s.metrics.ObserveBooking("payment_failed")
		return nil, &PaymentError{BookingID: b.ID, Compensated: compensated, Cause: err}
	}

	// the money is taken; confirming must not depend on the caller staying around
	confirmCtx, cancelConfirm := s.detached(ctx)
	defer cancelConfirm()

	confirmed, err := s.confirm(confirmCtx, res)
	if err != nil {
		s.logger.Error("confirm after debit failed, compensating",
			zap.String("booking_id", b.ID.String()),
			zap.Error(err),
		)
		compensated := s.compensate(ctx, res, true)
		s.metrics.ObserveBooking("confirm_failed")
		return nil, &PaymentError{BookingID: b.ID, Compensated: compensated, Cause: err}
	}

	s.metrics.ObserveBooking("confirmed")
	return confirmed, nil
}

func (s *Service) confirm(ctx context.Context, res *BookingResult) (*BookingResult, error) {
	var out BookingResult

	err := s.repo.WithinTx(ctx, func(txCtx context.Context, tx Repository) error {
		b, err := tx.UpdateBookingStatus(txCtx, res.Booking.ID, BookingPending, BookingConfirmed, PaymentPaid)
		if err != nil {
			return fmt.Errorf("confirm booking: %w", err)
		}
		out.Booking = *b

		for _, sc := range res.Schedules {
			updated, err := s.transitionSchedule(txCtx, tx, sc.ID, SchedulePending, ScheduleUpcoming)
			if err != nil {
				return err
			}
			out.Schedules = append(out.Schedules, *updated)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, out.Booking.ID, EventBookingConfirmed, map[string]any{
		"total_amount": out.Booking.TotalAmount,
	})
	return &out, nil
}

// compensate undoes a reservation whose payment did not go through. It runs
// on a detached context and reports whether the rollback fully succeeded.
// Rows already moved on by someone else are left alone.
func (s *Service) compensate(ctx context.Context, res *BookingResult, voidDebit bool) bool {
	ctx, cancel := s.detached(ctx)
	defer cancel()

	ctx, span := tracer.Start(ctx, "booking.compensate")
	span.SetAttributes(attribute.String("booking_id", res.Booking.ID.String()))

	ok := true
	err := s.repo.WithinTx(ctx, func(txCtx context.Context, tx Repository) error {
		_, err := tx.UpdateBookingStatus(txCtx, res.Booking.ID, BookingPending, BookingCancelled, PaymentPending)
		if err != nil && !errors.Is(err, ErrStatusMismatch) {
			return fmt.Errorf("cancel booking: %w", err)
		}

		for _, sc := range res.Schedules {
			_, err := s.transitionSchedule(txCtx, tx, sc.ID, SchedulePending, ScheduleCancelled)
			if errors.Is(err, ErrStatusMismatch) {
				continue
			}
			if err != nil {
				return err
			}
			err = tx.TransitionSlot(txCtx, sc.AvailabilityID, availability.SlotBooked, availability.SlotAvailable)
			if err != nil && !errors.Is(err, ErrStatusMismatch) {
				return fmt.Errorf("release slot %s: %w", sc.AvailabilityID, err)
			}
		}
		return nil
	})
	if err != nil {
		ok = false
		s.logger.Error("booking compensation failed",
			zap.String("booking_id", res.Booking.ID.String()),
			zap.Error(err),
		)
	}

	if voidDebit {
		started := time.Now()
		verr := s.wallet.Void(ctx, wallet.BookingRef(res.Booking.ID.String()))
		s.metrics.ObserveWalletCall("void", started, verr)
		if verr != nil {
			ok = false
			err = errors.Join(err, verr)
			s.logger.Error("wallet void failed",
				zap.String("booking_id", res.Booking.ID.String()),
				zap.Error(verr),
			)
		}
	}

	endSpan(span, err)
	s.metrics.ObserveCompensation(ok)
	s.logEvent(ctx, res.Booking.ID, EventBookingCompensated, map[string]any{
		"voided":    voidDebit,
		"succeeded": ok,
	})
	return ok
}

func (s *Service) observeRejection(err error) {
	var conflict *SlotConflictError
	if errors.As(err, &conflict) {
		for _, c := range conflict.Slots {
			s.metrics.ObserveSlotConflict(string(c))
		}
		s.metrics.ObserveBooking("conflict")
		return
	}
	s.metrics.ObserveBooking("rejected")
}
