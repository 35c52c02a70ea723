package api

import (
	"context"
	"net/http"

	"cloud.google.com/go/civil"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/tutoring-reservation-engine/internal/availability"
	"github.com/hackgods/tutoring-reservation-engine/internal/booking"
)

// BookingService is the part of booking.Service the HTTP layer drives.
type BookingService interface {
	CreateBooking(ctx context.Context, in booking.CreateBookingInput) (*booking.BookingResult, error)
	GetBooking(ctx context.Context, id uuid.UUID) (*booking.BookingDetail, error)
	CancelBooking(ctx context.Context, id uuid.UUID, learnerEmail string) (*booking.Booking, error)

	GetSchedule(ctx context.Context, id uuid.UUID) (*booking.ScheduleDetail, error)
	ListLearnerSchedules(ctx context.Context, learnerEmail string) ([]booking.ScheduleDetail, error)
	CancelSchedule(ctx context.Context, id uuid.UUID) (*booking.Schedule, error)
	FinishSchedule(ctx context.Context, id uuid.UUID, note string) (*booking.Schedule, error)
	FileDispute(ctx context.Context, scheduleID uuid.UUID, learnerEmail, reason string) error
	AttachMeetingReference(ctx context.Context, scheduleID uuid.UUID, ref string) (*booking.Schedule, error)

	RequestChange(ctx context.Context, in booking.RequestChangeInput) (*booking.ChangeRequest, error)
	ListChangeRequests(ctx context.Context, scheduleID uuid.UUID) ([]booking.ChangeRequest, error)
	ApproveChange(ctx context.Context, requestID uuid.UUID, approverEmail string) (*booking.Schedule, error)
	RejectChange(ctx context.Context, requestID uuid.UUID, approverEmail string) (*booking.ChangeRequest, error)
	CancelChange(ctx context.Context, requestID uuid.UUID, requesterEmail string) (*booking.ChangeRequest, error)

	TutorWeek(ctx context.Context, tutorID uuid.UUID, day civil.Date, learnerEmail string) (availability.WeekGrid, error)
	LearnerBusy(ctx context.Context, learnerEmail string, day civil.Date) ([]availability.SlotKey, error)
	Today() civil.Date
}

func createBookingHandler(svc BookingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateBookingRequest
		if !decodeBody(w, r, &req) {
			return
		}

		subjectID, ok := parseUUID(w, r, req.TutorSubjectID, "tutor_subject_id")
		if !ok {
			return
		}

		slotIDs := make([]uuid.UUID, 0, len(req.SlotIDs))
		for _, raw := range req.SlotIDs {
			id, ok := parseUUID(w, r, raw, "slot_id")
			if !ok {
				return
			}
			slotIDs = append(slotIDs, id)
		}

		res, err := svc.CreateBooking(r.Context(), booking.CreateBookingInput{
			LearnerEmail:   req.LearnerEmail,
			TutorSubjectID: subjectID,
			SlotIDs:        slotIDs,
			IsTrial:        req.IsTrial,
		})
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		resp := toBookingResponse(res.Booking)
		for _, s := range res.Schedules {
			resp.Schedules = append(resp.Schedules, toScheduleResponse(s))
		}
		writeJSON(w, r, http.StatusCreated, resp)
	}
}

func getBookingHandler(svc BookingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUID(w, r, chi.URLParam(r, "id"), "booking_id")
		if !ok {
			return
		}

		d, err := svc.GetBooking(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, r, http.StatusOK, toBookingDetailResponse(d))
	}
}

func cancelBookingHandler(svc BookingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUID(w, r, chi.URLParam(r, "id"), "booking_id")
		if !ok {
			return
		}
		var req CancelBookingRequest
		if !decodeBody(w, r, &req) {
			return
		}

		b, err := svc.CancelBooking(r.Context(), id, req.LearnerEmail)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, r, http.StatusOK, toBookingResponse(*b))
	}
}

func tutorWeekHandler(svc BookingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tutorID, ok := parseUUID(w, r, chi.URLParam(r, "tutorID"), "tutor_id")
		if !ok {
			return
		}
		day, ok := parseWeekParam(w, r, svc)
		if !ok {
			return
		}

		grid, err := svc.TutorWeek(r.Context(), tutorID, day, r.URL.Query().Get("learner_email"))
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, r, http.StatusOK, toWeekResponse(grid))
	}
}

func learnerBusyHandler(svc BookingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		email := chi.URLParam(r, "email")
		day, ok := parseWeekParam(w, r, svc)
		if !ok {
			return
		}

		keys, err := svc.LearnerBusy(r.Context(), email, day)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		resp := BusyResponse{
			LearnerEmail: email,
			WeekStart:    availability.WeekOf(day).Start.String(),
			Keys:         make([]string, 0, len(keys)),
		}
		for _, k := range keys {
			resp.Keys = append(resp.Keys, k.String())
		}
		writeJSON(w, r, http.StatusOK, resp)
	}
}

// parseWeekParam reads ?week=YYYY-MM-DD, defaulting to the service's today.
func parseWeekParam(w http.ResponseWriter, r *http.Request, svc BookingService) (civil.Date, bool) {
	raw := r.URL.Query().Get("week")
	if raw == "" {
		return svc.Today(), true
	}
	day, err := civil.ParseDate(raw)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_week", "week must be a date in YYYY-MM-DD form")
		return civil.Date{}, false
	}
	return day, true
}
