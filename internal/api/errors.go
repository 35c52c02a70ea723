package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/render"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/tutoring-reservation-engine/internal/booking"
	redisclient "github.com/hackgods/tutoring-reservation-engine/internal/redis"
	"github.com/hackgods/tutoring-reservation-engine/internal/report"
)

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	render.Status(r, status)
	render.JSON(w, r, v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, details string) {
	writeJSON(w, r, status, ErrorResponse{Error: code, Details: details})
}

// writeServiceError maps a service error onto a status code. Anything it does
// not recognise is logged and reported as a 500 without details.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	var (
		conflict *booking.SlotConflictError
		payment  *booking.PaymentError
	)
	switch {
	case errors.As(err, &conflict):
		code := "slot_no_longer_available"
		if errors.Is(err, booking.ErrLearnerBusy) {
			code = "learner_busy"
		}
		ids := conflict.IDs()
		resp := ErrorResponse{Error: code, Details: err.Error(), SlotIDs: make([]string, 0, len(ids))}
		for _, id := range ids {
			resp.SlotIDs = append(resp.SlotIDs, id.String())
		}
		writeJSON(w, r, http.StatusConflict, resp)
	case errors.As(err, &payment):
		compensated := payment.Compensated
		writeJSON(w, r, http.StatusPaymentRequired, ErrorResponse{
			Error:       "payment_failed",
			Details:     err.Error(),
			BookingID:   payment.BookingID.String(),
			Compensated: &compensated,
		})
	case errors.Is(err, booking.ErrPaymentFailed):
		writeError(w, r, http.StatusPaymentRequired, "payment_failed", err.Error())
	case errors.Is(err, booking.ErrSlotBeingBooked),
		errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, r, http.StatusConflict, "slot_being_booked", "slot is currently being booked, please retry shortly")
	case errors.Is(err, report.ErrDisputeExists):
		writeError(w, r, http.StatusConflict, "dispute_exists", err.Error())
	case errors.Is(err, report.ErrEmptyReason):
		writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, booking.ErrValidation):
		writeError(w, r, http.StatusUnprocessableEntity, "validation_failed", err.Error())
	case errors.Is(err, booking.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, booking.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, booking.ErrConflict):
		writeError(w, r, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, booking.ErrState):
		writeError(w, r, http.StatusConflict, "invalid_state", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, r, http.StatusGatewayTimeout, "timeout", "request timed out")
	default:
		logger.Error("request failed",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, r, http.StatusInternalServerError, "internal_error", "")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := render.DecodeJSON(r.Body, v); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	return true
}

func parseUUID(w http.ResponseWriter, r *http.Request, raw, field string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_"+field, field+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}
