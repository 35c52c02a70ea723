package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/tutoring-reservation-engine/internal/availability"
	"github.com/hackgods/tutoring-reservation-engine/internal/booking"
)

// Slot times are local wall-clock values and are rendered without a zone.
const wallClockLayout = "2006-01-02T15:04:05"

type CreateBookingRequest struct {
	LearnerEmail   string   `json:"learner_email"`
	TutorSubjectID string   `json:"tutor_subject_id"`
	SlotIDs        []string `json:"slot_ids"`
	IsTrial        bool     `json:"is_trial"`
}

type CancelBookingRequest struct {
	LearnerEmail string `json:"learner_email"`
}

type FinishScheduleRequest struct {
	AttendanceNote string `json:"attendance_note"`
}

type DisputeRequest struct {
	LearnerEmail string `json:"learner_email"`
	Reason       string `json:"reason"`
}

type MeetingReferenceRequest struct {
	MeetingReference string `json:"meeting_reference"`
}

type ChangeRequestRequest struct {
	RequesterEmail    string `json:"requester_email"`
	RequestedToEmail  string `json:"requested_to_email"`
	OldAvailabilityID string `json:"old_availability_id"`
	NewAvailabilityID string `json:"new_availability_id"`
	Reason            string `json:"reason,omitempty"`
}

// ActorRequest identifies the party resolving a change request.
type ActorRequest struct {
	Email string `json:"email"`
}

type BookingResponse struct {
	ID             uuid.UUID          `json:"id"`
	LearnerEmail   string             `json:"learner_email"`
	TutorSubjectID uuid.UUID          `json:"tutor_subject_id"`
	TotalSessions  int                `json:"total_sessions"`
	UnitPrice      int64              `json:"unit_price"`
	TotalAmount    int64              `json:"total_amount"`
	IsTrial        bool               `json:"is_trial"`
	Status         string             `json:"status"`
	PaymentStatus  string             `json:"payment_status"`
	CreatedAt      time.Time          `json:"created_at"`
	Subject        *SubjectResponse   `json:"subject,omitempty"`
	Schedules      []ScheduleResponse `json:"schedules,omitempty"`
}

type SubjectResponse struct {
	ID         uuid.UUID `json:"id"`
	TutorID    uuid.UUID `json:"tutor_id"`
	TutorEmail string    `json:"tutor_email"`
	Subject    string    `json:"subject"`
	UnitPrice  int64     `json:"unit_price"`
}

type ScheduleResponse struct {
	ID               uuid.UUID     `json:"id"`
	BookingID        uuid.UUID     `json:"booking_id"`
	AvailabilityID   uuid.UUID     `json:"availability_id"`
	Status           string        `json:"status"`
	MeetingReference *string       `json:"meeting_reference,omitempty"`
	AttendanceNote   *string       `json:"attendance_note,omitempty"`
	LearnerEmail     string        `json:"learner_email,omitempty"`
	Slot             *SlotResponse `json:"slot,omitempty"`
}

type SlotResponse struct {
	ID         uuid.UUID `json:"id"`
	TutorID    uuid.UUID `json:"tutor_id"`
	StartDate  string    `json:"start_date"`
	EndDate    string    `json:"end_date"`
	TimeSlotID int       `json:"time_slot_id"`
	Status     string    `json:"status"`
}

type ChangeRequestResponse struct {
	ID                uuid.UUID `json:"id"`
	ScheduleID        uuid.UUID `json:"schedule_id"`
	RequesterEmail    string    `json:"requester_email"`
	RequestedToEmail  string    `json:"requested_to_email"`
	OldAvailabilityID uuid.UUID `json:"old_availability_id"`
	NewAvailabilityID uuid.UUID `json:"new_availability_id"`
	Reason            *string   `json:"reason,omitempty"`
	Status            string    `json:"status"`
	CreatedAt         time.Time `json:"created_at"`
}

type WeekResponse struct {
	WeekStart string        `json:"week_start"`
	Days      []string      `json:"days"`
	Rows      []RowResponse `json:"rows"`
}

type RowResponse struct {
	TimeSlotID int            `json:"time_slot_id"`
	Label      string         `json:"label"`
	Cells      []CellResponse `json:"cells"`
}

type CellResponse struct {
	Date        string     `json:"date"`
	State       string     `json:"state"`
	SlotID      *uuid.UUID `json:"slot_id,omitempty"`
	LearnerBusy bool       `json:"learner_busy,omitempty"`
}

type BusyResponse struct {
	LearnerEmail string   `json:"learner_email"`
	WeekStart    string   `json:"week_start"`
	Keys         []string `json:"keys"`
}

type ErrorResponse struct {
	Error   string   `json:"error"`
	Details string   `json:"details,omitempty"`
	SlotIDs []string `json:"slot_ids,omitempty"`

	// set on payment failures; false means the reservation may still hold the slots
	BookingID   string `json:"booking_id,omitempty"`
	Compensated *bool  `json:"compensated,omitempty"`
}

func toBookingResponse(b booking.Booking) BookingResponse {
	return BookingResponse{
		ID:             b.ID,
		LearnerEmail:   b.LearnerEmail,
		TutorSubjectID: b.TutorSubjectID,
		TotalSessions:  b.TotalSessions,
		UnitPrice:      b.UnitPrice,
		TotalAmount:    b.TotalAmount,
		IsTrial:        b.IsTrial,
		Status:         string(b.Status),
		PaymentStatus:  string(b.PaymentStatus),
		CreatedAt:      b.CreatedAt,
	}
}

func toBookingDetailResponse(d *booking.BookingDetail) BookingResponse {
	resp := toBookingResponse(d.Booking)
	if d.Subject != nil {
		resp.Subject = &SubjectResponse{
			ID:         d.Subject.ID,
			TutorID:    d.Subject.TutorID,
			TutorEmail: d.Subject.TutorEmail,
			Subject:    d.Subject.Subject,
			UnitPrice:  d.Subject.UnitPrice,
		}
	}
	for _, s := range d.Schedules {
		resp.Schedules = append(resp.Schedules, toScheduleDetailResponse(s))
	}
	return resp
}

func toScheduleResponse(s booking.Schedule) ScheduleResponse {
	return ScheduleResponse{
		ID:               s.ID,
		BookingID:        s.BookingID,
		AvailabilityID:   s.AvailabilityID,
		Status:           string(s.Status),
		MeetingReference: s.MeetingReference,
		AttendanceNote:   s.AttendanceNote,
	}
}

func toScheduleDetailResponse(d booking.ScheduleDetail) ScheduleResponse {
	resp := toScheduleResponse(d.Schedule)
	resp.LearnerEmail = d.LearnerEmail
	slot := toSlotResponse(d.Slot)
	resp.Slot = &slot
	return resp
}

func toSlotResponse(s availability.Slot) SlotResponse {
	return SlotResponse{
		ID:         s.ID,
		TutorID:    s.TutorID,
		StartDate:  s.StartDate.Format(wallClockLayout),
		EndDate:    s.EndDate.Format(wallClockLayout),
		TimeSlotID: s.TimeSlotID,
		Status:     string(s.Status),
	}
}

func toChangeRequestResponse(c booking.ChangeRequest) ChangeRequestResponse {
	return ChangeRequestResponse{
		ID:                c.ID,
		ScheduleID:        c.ScheduleID,
		RequesterEmail:    c.RequesterEmail,
		RequestedToEmail:  c.RequestedToEmail,
		OldAvailabilityID: c.OldAvailabilityID,
		NewAvailabilityID: c.NewAvailabilityID,
		Reason:            c.Reason,
		Status:            string(c.Status),
		CreatedAt:         c.CreatedAt,
	}
}

func toWeekResponse(g availability.WeekGrid) WeekResponse {
	resp := WeekResponse{
		WeekStart: g.Week.Start.String(),
		Days:      make([]string, 0, len(g.Days)),
		Rows:      make([]RowResponse, 0, len(g.Rows)),
	}
	for _, d := range g.Days {
		resp.Days = append(resp.Days, d.String())
	}
	for _, row := range g.Rows {
		r := RowResponse{
			TimeSlotID: row.TimeSlot.ID,
			Label:      row.TimeSlot.String(),
			Cells:      make([]CellResponse, 0, len(row.Cells)),
		}
		for _, c := range row.Cells {
			r.Cells = append(r.Cells, CellResponse{
				Date:        c.Date.String(),
				State:       string(c.State),
				SlotID:      c.SlotID,
				LearnerBusy: c.LearnerBusy,
			})
		}
		resp.Rows = append(resp.Rows, r)
	}
	return resp
}
