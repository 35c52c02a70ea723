package booking

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/hackgods/tutoring-reservation-engine/internal/availability"
)

// Error kinds. Every specific error below wraps exactly one of them.
var (
	ErrValidation    = errors.New("validation failed")
	ErrNotFound      = errors.New("not found")
	ErrForbidden     = errors.New("forbidden")
	ErrConflict      = errors.New("conflict")
	ErrPaymentFailed = errors.New("payment failed")
	ErrState         = errors.New("invalid state")
)

var (
	ErrTutorSubjectNotFound  = fmt.Errorf("tutor subject %w", ErrNotFound)
	ErrSlotNotFound          = fmt.Errorf("availability slot %w", ErrNotFound)
	ErrBookingNotFound       = fmt.Errorf("booking %w", ErrNotFound)
	ErrScheduleNotFound      = fmt.Errorf("schedule %w", ErrNotFound)
	ErrChangeRequestNotFound = fmt.Errorf("change request %w", ErrNotFound)

	ErrNoSlotsSelected          = fmt.Errorf("%w: no slots selected", ErrValidation)
	ErrDuplicateSlot            = fmt.Errorf("%w: a slot was selected more than once", ErrValidation)
	ErrInvalidTrialSessionCount = fmt.Errorf("%w: a trial booking must contain exactly one session", ErrValidation)
	ErrMissingLearner           = fmt.Errorf("%w: learner email is required", ErrValidation)
	ErrSlotNotOwnedByTutor      = fmt.Errorf("%w: slot does not belong to the offering's tutor", ErrValidation)
	ErrReasonTooLong            = fmt.Errorf("%w: reason must be at most %d characters", ErrValidation, MaxChangeReasonLength)
	ErrOldSlotMismatch          = fmt.Errorf("%w: old slot is not the schedule's current slot", ErrValidation)
	ErrSameSlot                 = fmt.Errorf("%w: new slot equals the current slot", ErrValidation)
	ErrInvalidParticipants      = fmt.Errorf("%w: requester and counterparty must be the booking's learner and tutor", ErrValidation)

	ErrNotRequestedParty = fmt.Errorf("%w: only the requested party can resolve this change request", ErrForbidden)
	ErrNotRequester      = fmt.Errorf("%w: only the requester can cancel this change request", ErrForbidden)
	ErrNotLearner        = fmt.Errorf("%w: only the booking's learner can do this", ErrForbidden)

	ErrSlotNoLongerAvailable       = fmt.Errorf("%w: slot no longer available", ErrConflict)
	ErrLearnerBusy                 = fmt.Errorf("%w: learner already has a session at this time", ErrConflict)
	ErrSlotBeingBooked             = fmt.Errorf("%w, it is currently being booked, please retry", ErrSlotNoLongerAvailable)
	ErrChangeRequestAlreadyPending = fmt.Errorf("%w: a change request is already pending for this schedule", ErrConflict)
	ErrStatusMismatch              = fmt.Errorf("%w: status changed concurrently", ErrConflict)

	ErrInvalidScheduleState     = fmt.Errorf("%w: schedule status does not allow this operation", ErrState)
	ErrInvalidBookingState      = fmt.Errorf("%w: booking status does not allow this operation", ErrState)
	ErrTooLateToReschedule      = fmt.Errorf("%w: too late to reschedule this session", ErrState)
	ErrScheduleDisputed         = fmt.Errorf("%w: schedule has an open dispute", ErrState)
	ErrScheduleNotElapsed       = fmt.Errorf("%w: session has not finished yet", ErrState)
	ErrScheduleStarted          = fmt.Errorf("%w: session has already started", ErrState)
	ErrChangeRequestNotPending  = fmt.Errorf("%w: change request is no longer pending", ErrState)
	ErrChangeRequestOutstanding = fmt.Errorf("%w: a schedule of this booking has a pending change request", ErrState)
)

// SlotConflictError names every selected slot that failed the commit-time
// re-check and why.
type SlotConflictError struct {
	Slots map[uuid.UUID]availability.Classification
}

func (e *SlotConflictError) IDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(e.Slots))
	for id := range e.Slots {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

func (e *SlotConflictError) Error() string {
	parts := make([]string, 0, len(e.Slots))
	for _, id := range e.IDs() {
		parts = append(parts, fmt.Sprintf("%s (%s)", id, e.Slots[id]))
	}
	return fmt.Sprintf("%s: %s", e.Unwrap(), strings.Join(parts, ", "))
}

// Unwrap reports LearnerBusy only when every failure is on the learner's side.
func (e *SlotConflictError) Unwrap() error {
	for _, c := range e.Slots {
		if c != availability.LearnerBusy {
			return ErrSlotNoLongerAvailable
		}
	}
	return ErrLearnerBusy
}

// PaymentError is returned when the wallet debit for a booking failed or its
// outcome is unknown. Compensated tells whether the reservation was rolled back.
type PaymentError struct {
	BookingID   uuid.UUID
	Compensated bool
	Cause       error
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("payment for booking %s failed (compensated=%t): %v", e.BookingID, e.Compensated, e.Cause)
}

func (e *PaymentError) Unwrap() []error {
	return []error{ErrPaymentFailed, e.Cause}
}
