package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type RouterConfig struct {
	Service  BookingService
	Postgres Pinger
	Redis    Pinger
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
	Env      string
	Version  string
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := cfg.Service

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))

	health := NewHealthHandler(cfg.Postgres, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Get("/tutors/{tutorID}/availability", tutorWeekHandler(svc, logger))
	r.Get("/learners/{email}/busy", learnerBusyHandler(svc, logger))

	r.Route("/bookings", func(r chi.Router) {
		r.Post("/", createBookingHandler(svc, logger))
		r.Get("/{id}", getBookingHandler(svc, logger))
		r.Post("/{id}/cancel", cancelBookingHandler(svc, logger))
	})

	r.Route("/schedules", func(r chi.Router) {
		r.Get("/", listSchedulesHandler(svc, logger))
		r.Get("/{id}", getScheduleHandler(svc, logger))
		r.Post("/{id}/cancel", cancelScheduleHandler(svc, logger))
		r.Post("/{id}/finish", finishScheduleHandler(svc, logger))
		r.Post("/{id}/dispute", disputeScheduleHandler(svc, logger))
		r.Put("/{id}/meeting-reference", meetingReferenceHandler(svc, logger))
		r.Get("/{id}/change-requests", listChangeRequestsHandler(svc, logger))
		r.Post("/{id}/change-requests", requestChangeHandler(svc, logger))
	})

	r.Route("/change-requests", func(r chi.Router) {
		r.Post("/{id}/approve", approveChangeHandler(svc, logger))
		r.Post("/{id}/reject", resolveChangeHandler(svc.RejectChange, logger))
		r.Post("/{id}/cancel", resolveChangeHandler(svc.CancelChange, logger))
	})

	return r
}
