package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"techtrims/internal/config"
	"techtrims/internal/domain"
	"techtrims/internal/models"
	"techtrims/internal/service"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// QueueService is the part of the queue engine exposed over HTTP.
type QueueService interface {
	CreateBooking(ctx context.Context, req service.CreateBookingRequest) (*models.Booking, error)
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	CheckIn(ctx context.Context, code string, salonID int64) (*models.Booking, error)
	ValidateStart(ctx context.Context, bookingID int64) error
	StartService(ctx context.Context, bookingID, barberID int64, durationMinutes int) (*models.Booking, error)
	ExtendService(ctx context.Context, bookingID int64, additionalMinutes int) (*models.Booking, error)
	CompleteService(ctx context.Context, bookingID int64) (*models.Booking, error)
	CancelBooking(ctx context.Context, bookingID int64) (*models.Booking, error)
	GetQueue(ctx context.Context, barberID int64) (*service.QueueView, error)
	MarkBarberAbsent(ctx context.Context, barberID int64, until *time.Time) (*models.Barber, error)
	ReturnBarber(ctx context.Context, barberID int64) (*models.Barber, error)
}

// Pinger is a dependency probed by /readyz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HTTPServer exposes the queue engine as a JSON API.
type HTTPServer struct {
	cfg     *config.APIConfig
	queue   QueueService
	checkIn domain.RateLimiter
	checks  map[string]Pinger
	server  *http.Server
	auth    *HTTPAuth
	logger  *zerolog.Logger
}

// NewHTTPServer wires routes. checkIn throttles code guessing and may be nil.
func NewHTTPServer(cfg *config.APIConfig, queue QueueService, checkIn domain.RateLimiter, checks map[string]Pinger, logger *zerolog.Logger) *HTTPServer {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	httpLogger := logger.With().Str("component", "http").Logger()

	srv := &HTTPServer{
		cfg:     cfg,
		queue:   queue,
		checkIn: checkIn,
		checks:  checks,
		auth:    NewHTTPAuth(cfg),
		logger:  &httpLogger,
	}

	api := http.NewServeMux()
	api.HandleFunc("POST /api/v1/bookings", srv.handleCreateBooking)
	api.HandleFunc("GET /api/v1/bookings/{id}", srv.handleGetBooking)
	api.HandleFunc("GET /api/v1/bookings/{id}/validate-start", srv.handleValidateStart)
	api.HandleFunc("POST /api/v1/bookings/{id}/start", srv.handleStart)
	api.HandleFunc("POST /api/v1/bookings/{id}/extend", srv.handleExtend)
	api.HandleFunc("POST /api/v1/bookings/{id}/complete", srv.handleComplete)
	api.HandleFunc("POST /api/v1/bookings/{id}/cancel", srv.handleCancel)
	api.HandleFunc("POST /api/v1/checkin", srv.handleCheckIn)
	api.HandleFunc("GET /api/v1/barbers/{id}/queue", srv.handleQueue)
	api.HandleFunc("POST /api/v1/barbers/{id}/absent", srv.handleAbsent)
	api.HandleFunc("POST /api/v1/barbers/{id}/return", srv.handleReturn)

	mux := http.NewServeMux()
	mux.Handle("/api/", srv.auth.Wrap(api))
	mux.HandleFunc("GET /healthz", srv.handleHealth)
	mux.HandleFunc("GET /readyz", srv.handleReady)
	mux.Handle("GET /metrics", promhttp.Handler())

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           accessLog(srv.logger, mux),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	return srv
}

func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	statusCode := http.StatusOK
	result := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check.Ping(ctx); err != nil {
			result[name] = err.Error()
			statusCode = http.StatusServiceUnavailable
			continue
		}
		result[name] = "ok"
	}
	writeJSON(w, statusCode, map[string]any{"checks": result})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}
