package booking

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/tutoring-reservation-engine/internal/availability"
)

// Repository contains all DB interactions needed by the service.
// Status updates are compare-and-set: they return ErrStatusMismatch when the
// row is no longer in the expected status.
type Repository interface {
	// WithinTx runs fn against a repository bound to one transaction.
	// An error from fn rolls every write back.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error

	GetTutorSubject(ctx context.Context, id uuid.UUID) (*TutorSubject, error)

	// Availability slots
	GetSlot(ctx context.Context, id uuid.UUID) (*availability.Slot, error)
	GetSlotsByIDs(ctx context.Context, ids []uuid.UUID) ([]availability.Slot, error)
	ListTutorSlots(ctx context.Context, tutorID uuid.UUID, from, to time.Time) ([]availability.Slot, error)
	// ListLearnerBusySlots returns slots bound to the learner's live schedules
	// whose start lies in [from, to), across all tutors.
	ListLearnerBusySlots(ctx context.Context, learnerEmail string, from, to time.Time) ([]availability.Slot, error)
	TransitionSlot(ctx context.Context, id uuid.UUID, from, to availability.SlotStatus) error

	// Bookings
	CreateBooking(ctx context.Context, b *Booking) error
	GetBooking(ctx context.Context, id uuid.UUID) (*Booking, error)
	UpdateBookingStatus(ctx context.Context, id uuid.UUID, from, to BookingStatus, payment PaymentStatus) (*Booking, error)

	// Schedules
	CreateSchedule(ctx context.Context, s *Schedule) error
	GetSchedule(ctx context.Context, id uuid.UUID) (*ScheduleDetail, error)
	ListSchedulesByBooking(ctx context.Context, bookingID uuid.UUID) ([]ScheduleDetail, error)
	ListSchedulesByLearner(ctx context.Context, learnerEmail string) ([]ScheduleDetail, error)
	UpdateScheduleStatus(ctx context.Context, id uuid.UUID, from, to ScheduleStatus) (*Schedule, error)
	// RebindSchedule moves a Processing schedule onto another slot and back to Upcoming.
	RebindSchedule(ctx context.Context, id, availabilityID uuid.UUID) (*Schedule, error)
	SetMeetingReference(ctx context.Context, id uuid.UUID, ref string) (*Schedule, error)
	SetAttendanceNote(ctx context.Context, id uuid.UUID, note string) error
	// ListStartedSchedules returns the schedules of confirmed bookings the
	// worker can advance: Upcoming ones whose slot started at or before now
	// and InProgress ones whose slot ended.
	ListStartedSchedules(ctx context.Context, now time.Time, limit int) ([]ScheduleDetail, error)

	// Change requests
	CreateChangeRequest(ctx context.Context, cr *ChangeRequest) error
	GetChangeRequest(ctx context.Context, id uuid.UUID) (*ChangeRequest, error)
	GetPendingChangeRequest(ctx context.Context, scheduleID uuid.UUID) (*ChangeRequest, error)
	ListChangeRequests(ctx context.Context, scheduleID uuid.UUID) ([]ChangeRequest, error)
	UpdateChangeRequestStatus(ctx context.Context, id uuid.UUID, from, to ChangeRequestStatus) (*ChangeRequest, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}

// DisputeRegistry is the report collaborator. A schedule with an open
// dispute cannot be finished.
type DisputeRegistry interface {
	HasOpenDispute(ctx context.Context, scheduleID uuid.UUID) (bool, error)
	FileDispute(ctx context.Context, scheduleID uuid.UUID, learnerEmail, reason string) error
}
