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
	"github.com/hackgods/tutoring-reservation-engine/internal/wallet"
)

const elapsedBatchSize = 200

// FinishSchedule records that the session took place and pays the tutor.
// Finishing an already completed schedule succeeds without paying again.
func (s *Service) FinishSchedule(ctx context.Context, id uuid.UUID, note string) (out *Schedule, err error) {
	ctx, span := tracer.Start(ctx, "schedule.finish")
	span.SetAttributes(attribute.String("schedule_id", id.String()))
	defer func() { endSpan(span, err) }()

	d, err := s.repo.GetSchedule(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load schedule: %w", err)
	}
	if d.Status == ScheduleCompleted {
		return &d.Schedule, nil
	}

	b, err := s.repo.GetBooking(ctx, d.BookingID)
	if err != nil {
		return nil, fmt.Errorf("load booking: %w", err)
	}
	if b.Status == BookingPending {
		return nil, ErrInvalidBookingState
	}

	if err := s.promoteIfElapsed(ctx, d); err != nil {
		return nil, err
	}
	switch d.Status {
	case ScheduleUpcoming, ScheduleInProgress:
		return nil, ErrScheduleNotElapsed
	case SchedulePending:
	default:
		return nil, ErrInvalidScheduleState
	}

	disputed, err := s.disputes.HasOpenDispute(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("check dispute: %w", err)
	}
	if disputed {
		return nil, ErrScheduleDisputed
	}

	if !b.IsTrial && b.UnitPrice > 0 {
		if err := s.payTutor(ctx, b, id); err != nil {
			return nil, err
		}
	}

	var bookingDone bool
	err = s.repo.WithinTx(ctx, func(txCtx context.Context, tx Repository) error {
		if note = strings.TrimSpace(note); note != "" {
			if err := tx.SetAttendanceNote(txCtx, id, note); err != nil {
				return err
			}
		}
		updated, err := s.transitionSchedule(txCtx, tx, id, SchedulePending, ScheduleCompleted)
		if err != nil {
			return err
		}
		out = updated

		fresh, err := tx.GetBooking(txCtx, b.ID)
		if err != nil {
			return err
		}
		settled, err := s.settleBooking(txCtx, tx, fresh, false)
		if err != nil {
			return err
		}
		bookingDone = settled.Status == BookingCompleted && fresh.Status != BookingCompleted
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrStatusMismatch) {
			// a concurrent finish got there first; the payout reference is shared
			if cur, gerr := s.repo.GetSchedule(ctx, id); gerr == nil && cur.Status == ScheduleCompleted {
				return &cur.Schedule, nil
			}
		}
		return nil, fmt.Errorf("finish schedule: %w", err)
	}

	s.logEvent(ctx, b.ID, EventScheduleCompleted, map[string]any{
		"schedule_id": id.String(),
		"payout":      !b.IsTrial && b.UnitPrice > 0,
	})
	if bookingDone {
		s.logEvent(ctx, b.ID, EventBookingCompleted, map[string]any{})
	}
	return out, nil
}

// payTutor credits the session price before the status flips, under a
// reference unique to the schedule, so a retried finish cannot pay twice.
func (s *Service) payTutor(ctx context.Context, b *Booking, scheduleID uuid.UUID) error {
	subject, err := s.repo.GetTutorSubject(ctx, b.TutorSubjectID)
	if err != nil {
		return fmt.Errorf("load tutor subject: %w", err)
	}

	creditCtx, cancel := context.WithTimeout(ctx, s.cfg.WalletTimeout)
	defer cancel()

	started := time.Now()
	err = s.wallet.Credit(creditCtx, subject.TutorEmail, b.UnitPrice, wallet.PayoutRef(scheduleID.String()))
	s.metrics.ObserveWalletCall("credit", started, err)
	if err != nil {
		return fmt.Errorf("credit tutor: %w", err)
	}
	return nil
}

// promoteIfElapsed moves a running schedule to Pending once its slot has
// ended, updating d in place.
func (s *Service) promoteIfElapsed(ctx context.Context, d *ScheduleDetail) error {
	if d.Status != ScheduleUpcoming && d.Status != ScheduleInProgress {
		return nil
	}
	if d.Slot.EndDate.After(s.now()) {
		return nil
	}

	updated, err := s.transitionSchedule(ctx, s.repo, d.ID, d.Status, SchedulePending)
	if err != nil {
		if !errors.Is(err, ErrStatusMismatch) {
			return err
		}
		cur, gerr := s.repo.GetSchedule(ctx, d.ID)
		if gerr != nil {
			return fmt.Errorf("reload schedule: %w", gerr)
		}
		*d = *cur
		return nil
	}
	d.Schedule = *updated
	s.logEvent(ctx, d.BookingID, EventScheduleElapsed, map[string]any{"schedule_id": d.ID.String()})
	return nil
}

// CancelSchedule cancels one upcoming session that has not started yet, frees
// its slot and refunds the session price of a paid booking.
func (s *Service) CancelSchedule(ctx context.Context, id uuid.UUID) (out *Schedule, err error) {
	ctx, span := tracer.Start(ctx, "schedule.cancel")
	span.SetAttributes(attribute.String("schedule_id", id.String()))
	defer func() { endSpan(span, err) }()

	d, err := s.repo.GetSchedule(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load schedule: %w", err)
	}
	if err := s.promoteIfElapsed(ctx, d); err != nil {
		return nil, err
	}
	if d.Status != ScheduleUpcoming {
		return nil, ErrInvalidScheduleState
	}
	if !d.Slot.StartDate.After(s.now()) {
		return nil, ErrScheduleStarted
	}

	b, err := s.repo.GetBooking(ctx, d.BookingID)
	if err != nil {
		return nil, fmt.Errorf("load booking: %w", err)
	}
	if b.Status != BookingConfirmed {
		return nil, ErrInvalidBookingState
	}
	refundable := b.PaymentStatus == PaymentPaid && !b.IsTrial && b.UnitPrice > 0

	err = s.repo.WithinTx(ctx, func(txCtx context.Context, tx Repository) error {
		updated, err := s.transitionSchedule(txCtx, tx, id, ScheduleUpcoming, ScheduleCancelled)
		if err != nil {
			return err
		}
		out = updated

		if err := tx.TransitionSlot(txCtx, d.AvailabilityID, availability.SlotBooked, availability.SlotAvailable); err != nil {
			return fmt.Errorf("release slot %s: %w", d.AvailabilityID, err)
		}

		fresh, err := tx.GetBooking(txCtx, b.ID)
		if err != nil {
			return err
		}
		_, err = s.settleBooking(txCtx, tx, fresh, refundable)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrStatusMismatch) {
			return nil, ErrInvalidScheduleState
		}
		return nil, fmt.Errorf("cancel schedule: %w", err)
	}

	s.logEvent(ctx, b.ID, EventScheduleCancelled, map[string]any{
		"schedule_id":     id.String(),
		"availability_id": d.AvailabilityID.String(),
		"refunded":        refundable,
	})

	if refundable {
		if err := s.refund(ctx, b, []uuid.UUID{id}); err != nil {
			return out, err
		}
	}
	return out, nil
}

// CancelBooking cancels every session that has not started yet. A pending
// booking loses its reserved sessions; a confirmed one is refunded for them.
// Sessions already taken place are kept.
func (s *Service) CancelBooking(ctx context.Context, id uuid.UUID, learnerEmail string) (out *Booking, err error) {
	ctx, span := tracer.Start(ctx, "booking.cancel")
	span.SetAttributes(attribute.String("booking_id", id.String()))
	defer func() { endSpan(span, err) }()

	b, err := s.repo.GetBooking(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load booking: %w", err)
	}
	if learnerEmail != "" && !strings.EqualFold(learnerEmail, b.LearnerEmail) {
		return nil, ErrNotLearner
	}

	var cancellable ScheduleStatus
	switch b.Status {
	case BookingPending:
		cancellable = SchedulePending
	case BookingConfirmed:
		cancellable = ScheduleUpcoming
	default:
		return nil, ErrInvalidBookingState
	}

	schedules, err := s.repo.ListSchedulesByBooking(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	for _, sc := range schedules {
		if sc.Status == ScheduleProcessing {
			return nil, ErrChangeRequestOutstanding
		}
	}

	refundable := b.Status == BookingConfirmed && b.PaymentStatus == PaymentPaid && !b.IsTrial && b.UnitPrice > 0
	now := s.now()
	var cancelled []uuid.UUID

	err = s.repo.WithinTx(ctx, func(txCtx context.Context, tx Repository) error {
		cancelled = cancelled[:0]
		for _, sc := range schedules {
			if sc.Status != cancellable {
				continue
			}
			// a confirmed session that already started is kept and not refunded
			if b.Status == BookingConfirmed && !sc.Slot.StartDate.After(now) {
				continue
			}
			if _, err := s.transitionSchedule(txCtx, tx, sc.ID, cancellable, ScheduleCancelled); err != nil {
				return err
			}
			if err := tx.TransitionSlot(txCtx, sc.AvailabilityID, availability.SlotBooked, availability.SlotAvailable); err != nil {
				return fmt.Errorf("release slot %s: %w", sc.AvailabilityID, err)
			}
			cancelled = append(cancelled, sc.ID)
		}

		payment := b.PaymentStatus
		if refundable && len(cancelled) > 0 {
			payment = PaymentRefunded
		}
		updated, err := tx.UpdateBookingStatus(txCtx, id, b.Status, BookingCancelled, payment)
		if err != nil {
			return err
		}
		out = updated
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrStatusMismatch) {
			return nil, fmt.Errorf("%w: booking changed while cancelling, retry", ErrStatusMismatch)
		}
		return nil, fmt.Errorf("cancel booking: %w", err)
	}

	s.logEvent(ctx, id, EventBookingCancelled, map[string]any{
		"cancelled_schedules": len(cancelled),
		"refunded":            refundable && len(cancelled) > 0,
	})

	if refundable && len(cancelled) > 0 {
		if err := s.refund(ctx, b, cancelled); err != nil {
			return out, err
		}
	}
	return out, nil
}

// refund returns the unit price of each cancelled session to the learner.
// It runs after the cancellation committed and on a detached context; each
// credit is keyed by schedule, so it can be replayed safely.
func (s *Service) refund(ctx context.Context, b *Booking, scheduleIDs []uuid.UUID) error {
	ctx, cancel := s.detached(ctx)
	defer cancel()

	var errs []error
	for _, id := range scheduleIDs {
		ref := wallet.RefundRef(id.String())
		started := time.Now()
		err := s.wallet.Credit(ctx, b.LearnerEmail, b.UnitPrice, ref)
		s.metrics.ObserveWalletCall("refund", started, err)
		if err != nil {
			s.logger.Error("refund failed",
				zap.String("booking_id", b.ID.String()),
				zap.String("reference", ref),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("refund %s: %w", ref, err))
		}
	}
	return errors.Join(errs...)
}

// MarkElapsedSchedules advances sessions whose slot has started or ended:
// Upcoming to InProgress while the slot runs, then to Pending once it is over.
func (s *Service) MarkElapsedSchedules(ctx context.Context) (int, error) {
	now := s.now()
	moved := 0
	batch := s.cfg.WorkerBatchSize
	if batch <= 0 {
		batch = elapsedBatchSize
	}

	for {
		started, err := s.repo.ListStartedSchedules(ctx, now, batch)
		if err != nil {
			return moved, fmt.Errorf("list started schedules: %w", err)
		}

		progressed := 0
		for _, d := range started {
			var to ScheduleStatus
			switch {
			case !d.Slot.EndDate.After(now):
				to = SchedulePending
			case d.Status == ScheduleUpcoming:
				to = ScheduleInProgress
			default:
				continue
			}

			if _, err := s.transitionSchedule(ctx, s.repo, d.ID, d.Status, to); err != nil {
				if errors.Is(err, ErrStatusMismatch) {
					continue
				}
				return moved, err
			}
			progressed++

			event := EventScheduleStarted
			if to == SchedulePending {
				event = EventScheduleElapsed
			}
			s.logEvent(ctx, d.BookingID, event, map[string]any{"schedule_id": d.ID.String()})
		}
		moved += progressed

		// a row lost to a concurrent change comes back, so stop when a batch moved nothing
		if len(started) < batch || progressed == 0 {
			return moved, nil
		}
	}
}

// FileDispute lets the learner contest a finished session instead of
// confirming it. Finishing stays blocked while the dispute is open.
func (s *Service) FileDispute(ctx context.Context, scheduleID uuid.UUID, learnerEmail, reason string) (err error) {
	ctx, span := tracer.Start(ctx, "schedule.dispute")
	span.SetAttributes(attribute.String("schedule_id", scheduleID.String()))
	defer func() { endSpan(span, err) }()

	d, err := s.repo.GetSchedule(ctx, scheduleID)
	if err != nil {
		return fmt.Errorf("load schedule: %w", err)
	}
	if !strings.EqualFold(learnerEmail, d.LearnerEmail) {
		return ErrNotLearner
	}

	// schedules of an unpaid booking are Pending too; they were never held
	b, err := s.repo.GetBooking(ctx, d.BookingID)
	if err != nil {
		return fmt.Errorf("load booking: %w", err)
	}
	if b.Status == BookingPending {
		return ErrInvalidBookingState
	}

	if err := s.promoteIfElapsed(ctx, d); err != nil {
		return err
	}
	switch d.Status {
	case ScheduleUpcoming, ScheduleInProgress:
		return ErrScheduleNotElapsed
	case SchedulePending:
	default:
		return ErrInvalidScheduleState
	}
	if d.Slot.EndDate.After(s.now()) {
		return ErrScheduleNotElapsed
	}

	if err := s.disputes.FileDispute(ctx, scheduleID, d.LearnerEmail, reason); err != nil {
		return fmt.Errorf("file dispute: %w", err)
	}

	s.logEvent(ctx, d.BookingID, EventScheduleDisputed, map[string]any{
		"schedule_id": scheduleID.String(),
		"reason":      reason,
	})
	return nil
}

// AttachMeetingReference stores the opaque meeting link handle of a live session.
func (s *Service) AttachMeetingReference(ctx context.Context, scheduleID uuid.UUID, ref string) (*Schedule, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("%w: meeting reference is required", ErrValidation)
	}

	updated, err := s.repo.SetMeetingReference(ctx, scheduleID, ref)
	if err != nil {
		if errors.Is(err, ErrStatusMismatch) {
			if _, gerr := s.repo.GetSchedule(ctx, scheduleID); errors.Is(gerr, ErrScheduleNotFound) {
				return nil, ErrScheduleNotFound
			}
			return nil, ErrInvalidScheduleState
		}
		return nil, fmt.Errorf("set meeting reference: %w", err)
	}

	s.logEvent(ctx, updated.BookingID, EventMeetingAttached, map[string]any{"schedule_id": scheduleID.String()})
	return updated, nil
}
