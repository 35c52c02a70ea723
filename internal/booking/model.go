package booking

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/tutoring-reservation-engine/internal/availability"
)

type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCompleted BookingStatus = "completed"
	BookingCancelled BookingStatus = "cancelled"
)

func ParseBookingStatus(raw string) (BookingStatus, error) {
	switch s := BookingStatus(raw); s {
	case BookingPending, BookingConfirmed, BookingCompleted, BookingCancelled:
		return s, nil
	}
	return "", fmt.Errorf("%w: unknown booking status %q", ErrValidation, raw)
}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
)

func ParsePaymentStatus(raw string) (PaymentStatus, error) {
	switch s := PaymentStatus(raw); s {
	case PaymentPending, PaymentPaid, PaymentRefunded:
		return s, nil
	}
	return "", fmt.Errorf("%w: unknown payment status %q", ErrValidation, raw)
}

type ScheduleStatus string

const (
	// SchedulePending means "reserved but not yet paid" while the booking is
	// pending, and "session elapsed, awaiting confirmation" afterwards.
	SchedulePending    ScheduleStatus = "pending"
	ScheduleUpcoming   ScheduleStatus = "upcoming"
	ScheduleInProgress ScheduleStatus = "in_progress"
	ScheduleProcessing ScheduleStatus = "processing"
	ScheduleCompleted  ScheduleStatus = "completed"
	ScheduleCancelled  ScheduleStatus = "cancelled"
)

func ParseScheduleStatus(raw string) (ScheduleStatus, error) {
	switch s := ScheduleStatus(raw); s {
	case SchedulePending, ScheduleUpcoming, ScheduleInProgress, ScheduleProcessing, ScheduleCompleted, ScheduleCancelled:
		return s, nil
	}
	return "", fmt.Errorf("%w: unknown schedule status %q", ErrValidation, raw)
}

func (s ScheduleStatus) Terminal() bool {
	return s == ScheduleCompleted || s == ScheduleCancelled
}

type ChangeRequestStatus string

const (
	ChangePending   ChangeRequestStatus = "pending"
	ChangeApproved  ChangeRequestStatus = "approved"
	ChangeRejected  ChangeRequestStatus = "rejected"
	ChangeCancelled ChangeRequestStatus = "cancelled"
)

func ParseChangeRequestStatus(raw string) (ChangeRequestStatus, error) {
	switch s := ChangeRequestStatus(raw); s {
	case ChangePending, ChangeApproved, ChangeRejected, ChangeCancelled:
		return s, nil
	}
	return "", fmt.Errorf("%w: unknown change request status %q", ErrValidation, raw)
}

// TutorSubject is a tutor's priced offering. It is owned by the profile side
// and only read here.
type TutorSubject struct {
	ID         uuid.UUID
	TutorID    uuid.UUID
	TutorEmail string
	Subject    string
	UnitPrice  int64
}

type Booking struct {
	ID             uuid.UUID
	LearnerEmail   string
	TutorSubjectID uuid.UUID
	TotalSessions  int
	UnitPrice      int64
	TotalAmount    int64
	IsTrial        bool
	Status         BookingStatus
	PaymentStatus  PaymentStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Schedule struct {
	ID               uuid.UUID
	BookingID        uuid.UUID
	AvailabilityID   uuid.UUID
	Status           ScheduleStatus
	MeetingReference *string
	AttendanceNote   *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type ChangeRequest struct {
	ID                uuid.UUID
	ScheduleID        uuid.UUID
	RequesterEmail    string
	RequestedToEmail  string
	OldAvailabilityID uuid.UUID
	NewAvailabilityID uuid.UUID
	Reason            *string
	Status            ChangeRequestStatus
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type EventLog struct {
	ID        int64
	EventType string
	BookingID *uuid.UUID
	Payload   []byte
	CreatedAt time.Time
}

// ScheduleDetail is a schedule together with the slot it is bound to and the
// owning booking's learner.
type ScheduleDetail struct {
	Schedule
	Slot         availability.Slot
	LearnerEmail string
}

type BookingDetail struct {
	Booking
	Subject   *TutorSubject
	Schedules []ScheduleDetail
}
