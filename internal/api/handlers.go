package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"techtrims/internal/service"
)

type checkInRequest struct {
	Code    string `json:"code"`
	SalonID int64  `json:"salon_id"`
}

type startRequest struct {
	BarberID        int64 `json:"barber_id"`
	DurationMinutes int   `json:"duration_minutes"`
}

type extendRequest struct {
	AdditionalMinutes int `json:"additional_minutes"`
}

type absentRequest struct {
	Until *time.Time `json:"until"`
}

func (s *HTTPServer) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var req service.CreateBookingRequest
	if !decodeBody(w, r, &req, true) {
		return
	}
	booking, err := s.queue.CreateBooking(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, booking)
}

func (s *HTTPServer) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	booking, err := s.queue.GetBooking(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (s *HTTPServer) handleValidateStart(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.queue.ValidateStart(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *HTTPServer) handleStart(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req startRequest
	if !decodeBody(w, r, &req, true) {
		return
	}
	if req.BarberID <= 0 {
		writeError(w, http.StatusBadRequest, "barber_id is required")
		return
	}
	booking, err := s.queue.StartService(r.Context(), id, req.BarberID, req.DurationMinutes)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (s *HTTPServer) handleExtend(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req extendRequest
	if !decodeBody(w, r, &req, true) {
		return
	}
	booking, err := s.queue.ExtendService(r.Context(), id, req.AdditionalMinutes)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (s *HTTPServer) handleComplete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	booking, err := s.queue.CompleteService(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (s *HTTPServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	booking, err := s.queue.CancelBooking(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (s *HTTPServer) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	var req checkInRequest
	if !decodeBody(w, r, &req, true) {
		return
	}
	req.Code = strings.TrimSpace(req.Code)
	if req.Code == "" || req.SalonID <= 0 {
		writeError(w, http.StatusBadRequest, "code and salon_id are required")
		return
	}

	if s.checkIn != nil {
		key := fmt.Sprintf("checkin:%d:%s", req.SalonID, remoteHost(r))
		allowed, err := s.checkIn.CheckRateLimit(r.Context(), key, s.cfg.CheckInLimit.Attempts, s.cfg.CheckInLimit.Window)
		if err != nil {
			// fail open, the limiter is advisory
			loggerFrom(r.Context(), s.logger).Warn().Err(err).Msg("check-in rate limit unavailable")
		} else if !allowed {
			writeError(w, http.StatusTooManyRequests, "too many check-in attempts")
			return
		}
	}

	booking, err := s.queue.CheckIn(r.Context(), req.Code, req.SalonID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (s *HTTPServer) handleQueue(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	view, err := s.queue.GetQueue(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handleAbsent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req absentRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	barber, err := s.queue.MarkBarberAbsent(r.Context(), id, req.Until)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, barber)
}

func (s *HTTPServer) handleReturn(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	barber, err := s.queue.ReturnBarber(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, barber)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

// decodeBody reads a JSON body into dst. An empty body is accepted unless required.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any, required bool) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	decoder.DisallowUnknownFields()
	err := decoder.Decode(dst)
	if err == nil || (errors.Is(err, io.EOF) && !required) {
		return true
	}
	writeError(w, http.StatusBadRequest, "invalid JSON body")
	return false
}
