package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

func listSchedulesHandler(svc BookingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		email := strings.TrimSpace(r.URL.Query().Get("learner_email"))
		if email == "" {
			writeError(w, r, http.StatusBadRequest, "missing_learner_email", "learner_email query parameter is required")
			return
		}

		list, err := svc.ListLearnerSchedules(r.Context(), email)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		resp := make([]ScheduleResponse, 0, len(list))
		for _, d := range list {
			resp = append(resp, toScheduleDetailResponse(d))
		}
		writeJSON(w, r, http.StatusOK, resp)
	}
}

func getScheduleHandler(svc BookingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUID(w, r, chi.URLParam(r, "id"), "schedule_id")
		if !ok {
			return
		}

		d, err := svc.GetSchedule(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, r, http.StatusOK, toScheduleDetailResponse(*d))
	}
}

func cancelScheduleHandler(svc BookingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUID(w, r, chi.URLParam(r, "id"), "schedule_id")
		if !ok {
			return
		}

		s, err := svc.CancelSchedule(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, r, http.StatusOK, toScheduleResponse(*s))
	}
}

func finishScheduleHandler(svc BookingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUID(w, r, chi.URLParam(r, "id"), "schedule_id")
		if !ok {
			return
		}
		var req FinishScheduleRequest
		if r.ContentLength != 0 && !decodeBody(w, r, &req) {
			return
		}

		s, err := svc.FinishSchedule(r.Context(), id, req.AttendanceNote)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, r, http.StatusOK, toScheduleResponse(*s))
	}
}

func disputeScheduleHandler(svc BookingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUID(w, r, chi.URLParam(r, "id"), "schedule_id")
		if !ok {
			return
		}
		var req DisputeRequest
		if !decodeBody(w, r, &req) {
			return
		}

		if err := svc.FileDispute(r.Context(), id, req.LearnerEmail, req.Reason); err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func meetingReferenceHandler(svc BookingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUID(w, r, chi.URLParam(r, "id"), "schedule_id")
		if !ok {
			return
		}
		var req MeetingReferenceRequest
		if !decodeBody(w, r, &req) {
			return
		}

		s, err := svc.AttachMeetingReference(r.Context(), id, req.MeetingReference)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, r, http.StatusOK, toScheduleResponse(*s))
	}
}
