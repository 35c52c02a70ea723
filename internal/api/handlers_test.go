package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/tutoring-reservation-engine/internal/availability"
	"github.com/hackgods/tutoring-reservation-engine/internal/booking"
	"github.com/hackgods/tutoring-reservation-engine/internal/report"
	"github.com/hackgods/tutoring-reservation-engine/internal/wallet"
)

// stubService answers every call with the configured function or a not-found.
type stubService struct {
	createBooking func(context.Context, booking.CreateBookingInput) (*booking.BookingResult, error)
	getBooking    func(context.Context, uuid.UUID) (*booking.BookingDetail, error)
	cancelBooking func(context.Context, uuid.UUID, string) (*booking.Booking, error)
	finish        func(context.Context, uuid.UUID, string) (*booking.Schedule, error)
	dispute       func(context.Context, uuid.UUID, string, string) error
	requestChange func(context.Context, booking.RequestChangeInput) (*booking.ChangeRequest, error)
	approve       func(context.Context, uuid.UUID, string) (*booking.Schedule, error)
	reject        func(context.Context, uuid.UUID, string) (*booking.ChangeRequest, error)
	tutorWeek     func(context.Context, uuid.UUID, civil.Date, string) (availability.WeekGrid, error)
	today         civil.Date
}

func (s *stubService) CreateBooking(ctx context.Context, in booking.CreateBookingInput) (*booking.BookingResult, error) {
	return s.createBooking(ctx, in)
}

func (s *stubService) GetBooking(ctx context.Context, id uuid.UUID) (*booking.BookingDetail, error) {
	if s.getBooking == nil {
		return nil, booking.ErrBookingNotFound
	}
	return s.getBooking(ctx, id)
}

func (s *stubService) CancelBooking(ctx context.Context, id uuid.UUID, email string) (*booking.Booking, error) {
	return s.cancelBooking(ctx, id, email)
}

func (s *stubService) GetSchedule(context.Context, uuid.UUID) (*booking.ScheduleDetail, error) {
	return nil, booking.ErrScheduleNotFound
}

func (s *stubService) ListLearnerSchedules(context.Context, string) ([]booking.ScheduleDetail, error) {
	return nil, nil
}

func (s *stubService) CancelSchedule(context.Context, uuid.UUID) (*booking.Schedule, error) {
	return nil, booking.ErrScheduleNotFound
}

func (s *stubService) FinishSchedule(ctx context.Context, id uuid.UUID, note string) (*booking.Schedule, error) {
	return s.finish(ctx, id, note)
}

func (s *stubService) FileDispute(ctx context.Context, id uuid.UUID, email, reason string) error {
	return s.dispute(ctx, id, email, reason)
}

func (s *stubService) AttachMeetingReference(context.Context, uuid.UUID, string) (*booking.Schedule, error) {
	return nil, booking.ErrScheduleNotFound
}

func (s *stubService) RequestChange(ctx context.Context, in booking.RequestChangeInput) (*booking.ChangeRequest, error) {
	return s.requestChange(ctx, in)
}

func (s *stubService) ListChangeRequests(context.Context, uuid.UUID) ([]booking.ChangeRequest, error) {
	return nil, nil
}

func (s *stubService) ApproveChange(ctx context.Context, id uuid.UUID, email string) (*booking.Schedule, error) {
	return s.approve(ctx, id, email)
}

func (s *stubService) RejectChange(ctx context.Context, id uuid.UUID, email string) (*booking.ChangeRequest, error) {
	return s.reject(ctx, id, email)
}

func (s *stubService) CancelChange(context.Context, uuid.UUID, string) (*booking.ChangeRequest, error) {
	return nil, booking.ErrChangeRequestNotFound
}

func (s *stubService) TutorWeek(ctx context.Context, tutorID uuid.UUID, day civil.Date, email string) (availability.WeekGrid, error) {
	return s.tutorWeek(ctx, tutorID, day, email)
}

func (s *stubService) LearnerBusy(context.Context, string, civil.Date) ([]availability.SlotKey, error) {
	return []availability.SlotKey{{Date: civil.Date{Year: 2025, Month: 3, Day: 10}, Hour: 9}}, nil
}

func (s *stubService) Today() civil.Date { return s.today }

func newTestRouter(svc *stubService) http.Handler {
	return NewRouter(RouterConfig{
		Service:  svc,
		Postgres: PingFunc(func(context.Context) error { return nil }),
		Redis:    PingFunc(func(context.Context) error { return nil }),
	})
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestCreateBookingReturnsCreated(t *testing.T) {
	subjectID, slotID := uuid.New(), uuid.New()
	var got booking.CreateBookingInput
	svc := &stubService{
		createBooking: func(_ context.Context, in booking.CreateBookingInput) (*booking.BookingResult, error) {
			got = in
			return &booking.BookingResult{
				Booking: booking.Booking{
					ID:             uuid.New(),
					LearnerEmail:   in.LearnerEmail,
					TutorSubjectID: in.TutorSubjectID,
					TotalSessions:  1,
					UnitPrice:      100,
					TotalAmount:    100,
					Status:         booking.BookingConfirmed,
					PaymentStatus:  booking.PaymentPaid,
				},
				Schedules: []booking.Schedule{{ID: uuid.New(), AvailabilityID: slotID, Status: booking.ScheduleUpcoming}},
			}, nil
		},
	}

	body := `{"learner_email":"learner@example.com","tutor_subject_id":"` + subjectID.String() +
		`","slot_ids":["` + slotID.String() + `"]}`
	rec := do(t, newTestRouter(svc), http.MethodPost, "/bookings", body)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, subjectID, got.TutorSubjectID)
	assert.Equal(t, []uuid.UUID{slotID}, got.SlotIDs)

	var resp BookingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "confirmed", resp.Status)
	assert.Equal(t, "paid", resp.PaymentStatus)
	require.Len(t, resp.Schedules, 1)
	assert.Equal(t, "upcoming", resp.Schedules[0].Status)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestCreateBookingRejectsMalformedInput(t *testing.T) {
	svc := &stubService{}
	h := newTestRouter(svc)

	rec := do(t, h, http.MethodPost, "/bookings", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request_body", decodeError(t, rec).Error)

	rec = do(t, h, http.MethodPost, "/bookings", `{"tutor_subject_id":"`+uuid.NewString()+`","slot_ids":["nope"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_slot_id", decodeError(t, rec).Error)
}

func TestServiceErrorMapping(t *testing.T) {
	taken, busy := uuid.New(), uuid.New()

	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{
			name:   "slot conflict",
			err:    &booking.SlotConflictError{Slots: map[uuid.UUID]availability.Classification{taken: availability.TutorBooked, busy: availability.LearnerBusy}},
			status: http.StatusConflict,
			code:   "slot_no_longer_available",
		},
		{
			name:   "learner busy only",
			err:    &booking.SlotConflictError{Slots: map[uuid.UUID]availability.Classification{busy: availability.LearnerBusy}},
			status: http.StatusConflict,
			code:   "learner_busy",
		},
		{
			name:   "payment failed",
			err:    &booking.PaymentError{BookingID: uuid.New(), Compensated: true, Cause: wallet.ErrInsufficientFunds},
			status: http.StatusPaymentRequired,
			code:   "payment_failed",
		},
		{name: "lock busy", err: booking.ErrSlotBeingBooked, status: http.StatusConflict, code: "slot_being_booked"},
		{name: "validation", err: booking.ErrNoSlotsSelected, status: http.StatusUnprocessableEntity, code: "validation_failed"},
		{name: "not found", err: booking.ErrTutorSubjectNotFound, status: http.StatusNotFound, code: "not_found"},
		{name: "state", err: booking.ErrInvalidScheduleState, status: http.StatusConflict, code: "invalid_state"},
		{name: "unexpected", err: errors.New("connection reset"), status: http.StatusInternalServerError, code: "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{
				createBooking: func(context.Context, booking.CreateBookingInput) (*booking.BookingResult, error) {
					return nil, tt.err
				},
			}
			body := `{"learner_email":"l@example.com","tutor_subject_id":"` + uuid.NewString() +
				`","slot_ids":["` + taken.String() + `"]}`
			rec := do(t, newTestRouter(svc), http.MethodPost, "/bookings", body)

			assert.Equal(t, tt.status, rec.Code)
			resp := decodeError(t, rec)
			assert.Equal(t, tt.code, resp.Error)
			if tt.status == http.StatusInternalServerError {
				assert.Empty(t, resp.Details)
			}
		})
	}
}

func TestSlotConflictListsFailingSlots(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	svc := &stubService{
		createBooking: func(context.Context, booking.CreateBookingInput) (*booking.BookingResult, error) {
			return nil, &booking.SlotConflictError{Slots: map[uuid.UUID]availability.Classification{
				a: availability.TutorBooked,
				b: availability.NoSlot,
			}}
		},
	}
	body := `{"learner_email":"l@example.com","tutor_subject_id":"` + uuid.NewString() +
		`","slot_ids":["` + a.String() + `","` + b.String() + `"]}`
	rec := do(t, newTestRouter(svc), http.MethodPost, "/bookings", body)

	require.Equal(t, http.StatusConflict, rec.Code)
	assert.ElementsMatch(t, []string{a.String(), b.String()}, decodeError(t, rec).SlotIDs)
}

func TestPaymentFailureReportsCompensation(t *testing.T) {
	for _, compensated := range []bool{true, false} {
		bookingID := uuid.New()
		svc := &stubService{
			createBooking: func(context.Context, booking.CreateBookingInput) (*booking.BookingResult, error) {
				return nil, &booking.PaymentError{BookingID: bookingID, Compensated: compensated, Cause: context.DeadlineExceeded}
			},
		}
		body := `{"learner_email":"l@example.com","tutor_subject_id":"` + uuid.NewString() +
			`","slot_ids":["` + uuid.NewString() + `"]}`
		rec := do(t, newTestRouter(svc), http.MethodPost, "/bookings", body)

		require.Equal(t, http.StatusPaymentRequired, rec.Code)
		resp := decodeError(t, rec)
		assert.Equal(t, "payment_failed", resp.Error)
		assert.Equal(t, bookingID.String(), resp.BookingID)
		require.NotNil(t, resp.Compensated)
		assert.Equal(t, compensated, *resp.Compensated)
	}
}

func TestGetBookingNotFound(t *testing.T) {
	rec := do(t, newTestRouter(&stubService{}), http.MethodGet, "/bookings/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, newTestRouter(&stubService{}), http.MethodGet, "/bookings/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetBookingDetail(t *testing.T) {
	id := uuid.New()
	start := time.Date(2025, 3, 10, 21, 0, 0, 0, time.UTC)
	svc := &stubService{
		getBooking: func(_ context.Context, got uuid.UUID) (*booking.BookingDetail, error) {
			return &booking.BookingDetail{
				Booking: booking.Booking{ID: got, Status: booking.BookingConfirmed, PaymentStatus: booking.PaymentPaid},
				Subject: &booking.TutorSubject{ID: uuid.New(), Subject: "Physics", UnitPrice: 100},
				Schedules: []booking.ScheduleDetail{{
					Schedule:     booking.Schedule{ID: uuid.New(), BookingID: got, Status: booking.ScheduleUpcoming},
					Slot:         availability.Slot{ID: uuid.New(), StartDate: start, EndDate: start.Add(time.Hour), TimeSlotID: 15, Status: availability.SlotBooked},
					LearnerEmail: "l@example.com",
				}},
			}, nil
		},
	}

	rec := do(t, newTestRouter(svc), http.MethodGet, "/bookings/"+id.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp BookingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, id, resp.ID)
	require.NotNil(t, resp.Subject)
	assert.Equal(t, "Physics", resp.Subject.Subject)
	require.Len(t, resp.Schedules, 1)
	assert.Equal(t, "2025-03-10T21:00:00", resp.Schedules[0].Slot.StartDate)
}

func TestChangeRequestRoutes(t *testing.T) {
	scheduleID, oldID, newID := uuid.New(), uuid.New(), uuid.New()
	svc := &stubService{
		requestChange: func(_ context.Context, in booking.RequestChangeInput) (*booking.ChangeRequest, error) {
			return &booking.ChangeRequest{
				ID:                uuid.New(),
				ScheduleID:        in.ScheduleID,
				RequesterEmail:    in.RequesterEmail,
				RequestedToEmail:  in.RequestedToEmail,
				OldAvailabilityID: in.OldAvailabilityID,
				NewAvailabilityID: in.NewAvailabilityID,
				Status:            booking.ChangePending,
			}, nil
		},
		approve: func(context.Context, uuid.UUID, string) (*booking.Schedule, error) {
			return nil, booking.ErrNotRequestedParty
		},
		reject: func(_ context.Context, id uuid.UUID, _ string) (*booking.ChangeRequest, error) {
			return &booking.ChangeRequest{ID: id, Status: booking.ChangeRejected}, nil
		},
	}
	h := newTestRouter(svc)

	body := `{"requester_email":"l@example.com","requested_to_email":"t@example.com","old_availability_id":"` +
		oldID.String() + `","new_availability_id":"` + newID.String() + `"}`
	rec := do(t, h, http.MethodPost, "/schedules/"+scheduleID.String()+"/change-requests", body)
	require.Equal(t, http.StatusCreated, rec.Code)
	var cr ChangeRequestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cr))
	assert.Equal(t, "pending", cr.Status)
	assert.Equal(t, scheduleID, cr.ScheduleID)

	rec = do(t, h, http.MethodPost, "/change-requests/"+cr.ID.String()+"/approve", `{"email":"x@example.com"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, h, http.MethodPost, "/change-requests/"+cr.ID.String()+"/reject", `{"email":"t@example.com"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cr))
	assert.Equal(t, "rejected", cr.Status)

	rec = do(t, h, http.MethodPost, "/change-requests/"+cr.ID.String()+"/cancel", `{"email":"l@example.com"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFinishAndDispute(t *testing.T) {
	var note string
	svc := &stubService{
		finish: func(_ context.Context, id uuid.UUID, n string) (*booking.Schedule, error) {
			note = n
			return &booking.Schedule{ID: id, Status: booking.ScheduleCompleted}, nil
		},
		dispute: func(context.Context, uuid.UUID, string, string) error {
			return report.ErrDisputeExists
		},
	}
	h := newTestRouter(svc)

	rec := do(t, h, http.MethodPost, "/schedules/"+uuid.NewString()+"/finish", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, note)

	rec = do(t, h, http.MethodPost, "/schedules/"+uuid.NewString()+"/finish", `{"attendance_note":"both joined"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "both joined", note)

	rec = do(t, h, http.MethodPost, "/schedules/"+uuid.NewString()+"/dispute", `{"learner_email":"l@example.com","reason":"no show"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "dispute_exists", decodeError(t, rec).Error)
}

func TestTutorWeekDefaultsToToday(t *testing.T) {
	today := civil.Date{Year: 2025, Month: 3, Day: 5}
	var gotDay civil.Date
	var gotLearner string
	svc := &stubService{
		today: today,
		tutorWeek: func(_ context.Context, _ uuid.UUID, day civil.Date, email string) (availability.WeekGrid, error) {
			gotDay, gotLearner = day, email
			week := availability.WeekOf(day)
			return availability.BuildWeekGrid(availability.DefaultCatalog(), week, nil, nil), nil
		},
	}
	h := newTestRouter(svc)

	rec := do(t, h, http.MethodGet, "/tutors/"+uuid.NewString()+"/availability?learner_email=l@example.com", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, today, gotDay)
	assert.Equal(t, "l@example.com", gotLearner)

	var resp WeekResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "2025-03-03", resp.WeekStart)
	assert.Len(t, resp.Days, 7)
	require.NotEmpty(t, resp.Rows)
	assert.Equal(t, "unavailable", resp.Rows[0].Cells[0].State)

	rec = do(t, h, http.MethodGet, "/tutors/"+uuid.NewString()+"/availability?week=10-03-2025", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLearnerBusy(t *testing.T) {
	svc := &stubService{today: civil.Date{Year: 2025, Month: 3, Day: 12}}
	rec := do(t, newTestRouter(svc), http.MethodGet, "/learners/l@example.com/busy", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp BusyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "2025-03-10", resp.WeekStart)
	assert.Equal(t, []string{"2025-03-10-09"}, resp.Keys)
}

func TestListSchedulesRequiresLearner(t *testing.T) {
	rec := do(t, newTestRouter(&stubService{}), http.MethodGet, "/schedules", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, newTestRouter(&stubService{}), http.MethodGet, "/schedules?learner_email=l@example.com", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}
