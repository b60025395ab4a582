package api

import (
	"errors"
	"net/http"

	"techtrims/internal/domain"
)

type errorResponse struct {
	Error           string `json:"error"`
	Code            string `json:"code"`
	NextBookingID   int64  `json:"next_booking_id,omitempty"`
	NextBookingCode string `json:"next_booking_code,omitempty"`
}

// classify maps a queue error onto an HTTP status and a stable error code.
// Order matters: terminal-state errors match more than one sentinel.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, "INVALID_INPUT"
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrBarberNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, domain.ErrOutOfOrder):
		return http.StatusConflict, "OUT_OF_ORDER"
	case errors.Is(err, domain.ErrExpiredBooking):
		return http.StatusGone, "EXPIRED"
	case errors.Is(err, domain.ErrChairOccupied):
		return http.StatusConflict, "CHAIR_OCCUPIED"
	case errors.Is(err, domain.ErrStaleTransition):
		return http.StatusConflict, "STALE_TRANSITION"
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusUnprocessableEntity, "INVALID_TRANSITION"
	case errors.Is(err, domain.ErrStoreTimeout), errors.Is(err, domain.ErrLockTimeout):
		return http.StatusServiceUnavailable, "UNAVAILABLE"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	statusCode, code := classify(err)
	resp := errorResponse{Error: err.Error(), Code: code}

	var ooo *domain.OutOfOrderError
	if errors.As(err, &ooo) {
		resp.NextBookingID = ooo.NextBookingID
		resp.NextBookingCode = ooo.NextBookingCode
	}
	if statusCode == http.StatusInternalServerError {
		resp.Error = "internal error"
		loggerFrom(r.Context(), s.logger).Error().Err(err).Msg("request failed")
	}
	writeJSON(w, statusCode, resp)
}
