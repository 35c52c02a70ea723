package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/tutoring-reservation-engine/internal/booking"
)

func requestChangeHandler(svc BookingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scheduleID, ok := parseUUID(w, r, chi.URLParam(r, "id"), "schedule_id")
		if !ok {
			return
		}
		var req ChangeRequestRequest
		if !decodeBody(w, r, &req) {
			return
		}
		oldID, ok := parseUUID(w, r, req.OldAvailabilityID, "old_availability_id")
		if !ok {
			return
		}
		newID, ok := parseUUID(w, r, req.NewAvailabilityID, "new_availability_id")
		if !ok {
			return
		}

		cr, err := svc.RequestChange(r.Context(), booking.RequestChangeInput{
			ScheduleID:        scheduleID,
			RequesterEmail:    req.RequesterEmail,
			RequestedToEmail:  req.RequestedToEmail,
			OldAvailabilityID: oldID,
			NewAvailabilityID: newID,
			Reason:            req.Reason,
		})
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, r, http.StatusCreated, toChangeRequestResponse(*cr))
	}
}

func listChangeRequestsHandler(svc BookingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		scheduleID, ok := parseUUID(w, r, chi.URLParam(r, "id"), "schedule_id")
		if !ok {
			return
		}

		list, err := svc.ListChangeRequests(r.Context(), scheduleID)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		resp := make([]ChangeRequestResponse, 0, len(list))
		for _, cr := range list {
			resp = append(resp, toChangeRequestResponse(cr))
		}
		writeJSON(w, r, http.StatusOK, resp)
	}
}

func approveChangeHandler(svc BookingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, email, ok := readActor(w, r)
		if !ok {
			return
		}

		s, err := svc.ApproveChange(r.Context(), id, email)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, r, http.StatusOK, toScheduleResponse(*s))
	}
}

func resolveChangeHandler(
	resolve func(ctx context.Context, id uuid.UUID, email string) (*booking.ChangeRequest, error),
	logger *zap.Logger,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, email, ok := readActor(w, r)
		if !ok {
			return
		}

		cr, err := resolve(r.Context(), id, email)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}
		writeJSON(w, r, http.StatusOK, toChangeRequestResponse(*cr))
	}
}

func readActor(w http.ResponseWriter, r *http.Request) (uuid.UUID, string, bool) {
	id, ok := parseUUID(w, r, chi.URLParam(r, "id"), "change_request_id")
	if !ok {
		return uuid.Nil, "", false
	}
	var req ActorRequest
	if !decodeBody(w, r, &req) {
		return uuid.Nil, "", false
	}
	return id, req.Email, true
}
