package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hackgods/tutoring-reservation-engine/internal/availability"
	redisclient "github.com/hackgods/tutoring-reservation-engine/internal/redis"
)

const MaxChangeReasonLength = 200

type RequestChangeInput struct {
	ScheduleID        uuid.UUID
	RequesterEmail    string
	RequestedToEmail  string
	OldAvailabilityID uuid.UUID
	NewAvailabilityID uuid.UUID
	Reason            string
}

func (in RequestChangeInput) validate() error {
	if strings.TrimSpace(in.RequesterEmail) == "" || strings.TrimSpace(in.RequestedToEmail) == "" {
		return ErrInvalidParticipants
	}
	if utf8.RuneCountInString(in.Reason) > MaxChangeReasonLength {
		return ErrReasonTooLong
	}
	if in.OldAvailabilityID == in.NewAvailabilityID {
		return ErrSameSlot
	}
	return nil
}

// RequestChange proposes moving a schedule to another slot of the same tutor.
// The schedule is held in Processing until the counterparty resolves the request.
func (s *Service) RequestChange(ctx context.Context, in RequestChangeInput) (out *ChangeRequest, err error) {
	ctx, span := tracer.Start(ctx, "reschedule.request")
	span.SetAttributes(
		attribute.String("schedule_id", in.ScheduleID.String()),
		attribute.String("new_availability_id", in.NewAvailabilityID.String()),
	)
	defer func() { endSpan(span, err) }()

	if err := in.validate(); err != nil {
		return nil, err
	}

	d, err := s.repo.GetSchedule(ctx, in.ScheduleID)
	if err != nil {
		return nil, fmt.Errorf("load schedule: %w", err)
	}
	b, err := s.repo.GetBooking(ctx, d.BookingID)
	if err != nil {
		return nil, fmt.Errorf("load booking: %w", err)
	}
	subject, err := s.repo.GetTutorSubject(ctx, b.TutorSubjectID)
	if err != nil {
		return nil, fmt.Errorf("load tutor subject: %w", err)
	}
	if !isCounterpart(in.RequesterEmail, in.RequestedToEmail, b.LearnerEmail, subject.TutorEmail) {
		return nil, ErrInvalidParticipants
	}
	if in.OldAvailabilityID != d.AvailabilityID {
		return nil, ErrOldSlotMismatch
	}

	now := s.now()
	if d.Slot.StartDate.Sub(now) < s.cfg.RescheduleLead {
		return nil, ErrTooLateToReschedule
	}
	// a Processing schedule always carries a pending request, reported below
	if d.Status != ScheduleUpcoming && d.Status != ScheduleProcessing {
		return nil, ErrInvalidScheduleState
	}
	if _, err := s.repo.GetPendingChangeRequest(ctx, d.ID); err == nil {
		return nil, ErrChangeRequestAlreadyPending
	} else if !errors.Is(err, ErrChangeRequestNotFound) {
		return nil, fmt.Errorf("check pending change request: %w", err)
	}

	if err := s.checkTarget(ctx, s.repo, in.NewAvailabilityID, subject.TutorID, b.LearnerEmail, now); err != nil {
		s.observeRejection(err)
		return nil, err
	}

	var reason *string
	if r := strings.TrimSpace(in.Reason); r != "" {
		reason = &r
	}
	cr := ChangeRequest{
		ID:                uuid.New(),
		ScheduleID:        d.ID,
		RequesterEmail:    in.RequesterEmail,
		RequestedToEmail:  in.RequestedToEmail,
		OldAvailabilityID: in.OldAvailabilityID,
		NewAvailabilityID: in.NewAvailabilityID,
		Reason:            reason,
		Status:            ChangePending,
	}

	err = s.repo.WithinTx(ctx, func(txCtx context.Context, tx Repository) error {
		if err := tx.CreateChangeRequest(txCtx, &cr); err != nil {
			return err
		}
		_, err := s.transitionSchedule(txCtx, tx, d.ID, ScheduleUpcoming, ScheduleProcessing)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrStatusMismatch) {
			// lost a race with another request or a cancellation
			return nil, ErrChangeRequestAlreadyPending
		}
		return nil, fmt.Errorf("create change request: %w", err)
	}

	s.logEvent(ctx, b.ID, EventChangeRequested, map[string]any{
		"change_request_id":   cr.ID.String(),
		"schedule_id":         d.ID.String(),
		"old_availability_id": cr.OldAvailabilityID.String(),
		"new_availability_id": cr.NewAvailabilityID.String(),
		"requester_email":     cr.RequesterEmail,
	})
	return &cr, nil
}

func isCounterpart(requester, requestedTo, learner, tutor string) bool {
	eq := strings.EqualFold
	return (eq(requester, learner) && eq(requestedTo, tutor)) ||
		(eq(requester, tutor) && eq(requestedTo, learner))
}

// checkTarget verifies that slotID is a future Available slot of the tutor
// that does not collide with the learner's other sessions.
func (s *Service) checkTarget(ctx context.Context, repo Repository, slotID, tutorID uuid.UUID, learnerEmail string, now time.Time) error {
	slot, err := repo.GetSlot(ctx, slotID)
	if err != nil {
		if errors.Is(err, ErrSlotNotFound) {
			return &SlotConflictError{Slots: map[uuid.UUID]availability.Classification{slotID: availability.NoSlot}}
		}
		return fmt.Errorf("load slot: %w", err)
	}
	if slot.TutorID != tutorID {
		return fmt.Errorf("%w: %s", ErrSlotNotOwnedByTutor, slotID)
	}
	if !slot.StartDate.After(now) {
		return fmt.Errorf("%w: slot %s has already started", ErrValidation, slotID)
	}

	busy, err := repo.ListLearnerBusySlots(ctx, learnerEmail, slot.StartDate, slot.StartDate.Add(time.Nanosecond))
	if err != nil {
		return fmt.Errorf("load learner schedules: %w", err)
	}
	detector := availability.NewDetector(availability.NewDisplayIndex([]availability.Slot{*slot}), availability.NewBusyMap(busy))
	if rejected := detector.ClassifyIDs([]uuid.UUID{slotID}); len(rejected) > 0 {
		return &SlotConflictError{Slots: rejected}
	}
	return nil
}

// ApproveChange moves the schedule onto the requested slot: the new slot is
// booked, the old one released, and the schedule returns to Upcoming.
func (s *Service) ApproveChange(ctx context.Context, requestID uuid.UUID, approverEmail string) (out *Schedule, err error) {
	ctx, span := tracer.Start(ctx, "reschedule.approve")
	span.SetAttributes(attribute.String("change_request_id", requestID.String()))
	defer func() { endSpan(span, err) }()

	cr, err := s.loadPending(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(approverEmail, cr.RequestedToEmail) {
		return nil, ErrNotRequestedParty
	}

	d, err := s.repo.GetSchedule(ctx, cr.ScheduleID)
	if err != nil {
		return nil, fmt.Errorf("load schedule: %w", err)
	}
	now := s.now()

	keys := lockKeys(d.LearnerEmail, cr.NewAvailabilityID, cr.OldAvailabilityID)
	err = s.locker.WithLocks(ctx, keys, func(lockCtx context.Context) error {
		return s.repo.WithinTx(lockCtx, func(txCtx context.Context, tx Repository) error {
			if err := s.checkTarget(txCtx, tx, cr.NewAvailabilityID, d.Slot.TutorID, d.LearnerEmail, now); err != nil {
				return err
			}
			if err := tx.TransitionSlot(txCtx, cr.NewAvailabilityID, availability.SlotAvailable, availability.SlotBooked); err != nil {
				if errors.Is(err, ErrStatusMismatch) {
					return &SlotConflictError{Slots: map[uuid.UUID]availability.Classification{cr.NewAvailabilityID: availability.TutorBooked}}
				}
				return err
			}
			if err := tx.TransitionSlot(txCtx, cr.OldAvailabilityID, availability.SlotBooked, availability.SlotAvailable); err != nil {
				return fmt.Errorf("release slot %s: %w", cr.OldAvailabilityID, err)
			}

			rebound, err := tx.RebindSchedule(txCtx, cr.ScheduleID, cr.NewAvailabilityID)
			if err != nil {
				if errors.Is(err, ErrStatusMismatch) {
					return ErrInvalidScheduleState
				}
				return err
			}
			s.metrics.ObserveTransition(string(ScheduleProcessing), string(ScheduleUpcoming))
			out = rebound

			if _, err := tx.UpdateChangeRequestStatus(txCtx, cr.ID, ChangePending, ChangeApproved); err != nil {
				if errors.Is(err, ErrStatusMismatch) {
					return ErrChangeRequestNotPending
				}
				return err
			}
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBeingBooked
		}
		s.observeRejection(err)
		return nil, err
	}

	s.logEvent(ctx, d.BookingID, EventChangeApproved, map[string]any{
		"change_request_id":   cr.ID.String(),
		"schedule_id":         cr.ScheduleID.String(),
		"old_availability_id": cr.OldAvailabilityID.String(),
		"new_availability_id": cr.NewAvailabilityID.String(),
	})
	return out, nil
}

// RejectChange declines the request; the schedule keeps its slot.
func (s *Service) RejectChange(ctx context.Context, requestID uuid.UUID, approverEmail string) (*ChangeRequest, error) {
	cr, err := s.loadPending(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(approverEmail, cr.RequestedToEmail) {
		return nil, ErrNotRequestedParty
	}
	return s.closeUnchanged(ctx, cr, ChangeRejected, EventChangeRejected)
}

// CancelChange withdraws the request on behalf of the requester.
func (s *Service) CancelChange(ctx context.Context, requestID uuid.UUID, requesterEmail string) (*ChangeRequest, error) {
	cr, err := s.loadPending(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(requesterEmail, cr.RequesterEmail) {
		return nil, ErrNotRequester
	}
	return s.closeUnchanged(ctx, cr, ChangeCancelled, EventChangeCancelled)
}

func (s *Service) loadPending(ctx context.Context, requestID uuid.UUID) (*ChangeRequest, error) {
	cr, err := s.repo.GetChangeRequest(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("load change request: %w", err)
	}
	if cr.Status != ChangePending {
		return nil, ErrChangeRequestNotPending
	}
	return cr, nil
}

func (s *Service) closeUnchanged(ctx context.Context, cr *ChangeRequest, to ChangeRequestStatus, event string) (*ChangeRequest, error) {
	var out *ChangeRequest
	var bookingID uuid.UUID

	err := s.repo.WithinTx(ctx, func(txCtx context.Context, tx Repository) error {
		updated, err := tx.UpdateChangeRequestStatus(txCtx, cr.ID, ChangePending, to)
		if err != nil {
			if errors.Is(err, ErrStatusMismatch) {
				return ErrChangeRequestNotPending
			}
			return err
		}
		out = updated

		sc, err := s.transitionSchedule(txCtx, tx, cr.ScheduleID, ScheduleProcessing, ScheduleUpcoming)
		if err != nil {
			return err
		}
		bookingID = sc.BookingID
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("close change request: %w", err)
	}

	s.logEvent(ctx, bookingID, event, map[string]any{
		"change_request_id": cr.ID.String(),
		"schedule_id":       cr.ScheduleID.String(),
	})
	return out, nil
}
