package router

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/hms-platform/internal/exports"
	httpmiddleware "github.com/wolfman30/hms-platform/internal/http/middleware"
	"github.com/wolfman30/hms-platform/internal/scheduling"
	"github.com/wolfman30/hms-platform/pkg/logging"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	SchedulingHandler  *scheduling.Handler
	ExportsHandler     *exports.Handler
	JWTSecret          string
	CORSAllowedOrigins []string
	RateLimiter        *httpmiddleware.RateLimiter
	RequestObserver    httpmiddleware.RequestObserver
	MetricsHandler     http.Handler
	HealthChecks       map[string]HealthCheck
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(httpmiddleware.CORSOptions{AllowedOrigins: cfg.CORSAllowedOrigins}))
	}
	r.Use(httpmiddleware.RequestLogger(cfg.Logger, cfg.RequestObserver))

	r.Group(func(public chi.Router) {
		public.Get("/health", health(cfg.HealthChecks))
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	r.Route("/api", func(api chi.Router) {
		api.Use(httpmiddleware.Authenticate(cfg.JWTSecret))
		if cfg.RateLimiter != nil {
			api.Use(httpmiddleware.RateLimit(cfg.RateLimiter))
		}

		if h := cfg.SchedulingHandler; h != nil {
			api.Route("/doctors", func(r chi.Router) {
				r.Get("/me/appointments", h.DoctorAppointments)
				r.Get("/me/patients", h.DoctorPatients)
				r.Get("/me/patients/{patientID}/history", h.DoctorPatientHistory)
				r.Get("/{doctorID}/availability", h.GetAvailability)
				r.Put("/{doctorID}/availability", h.PutAvailability)
			})
			api.Get("/slots/available", h.SlotAvailable)
			api.Route("/appointments", func(r chi.Router) {
				r.Post("/", h.Book)
				r.Route("/{appointmentID}", func(r chi.Router) {
					r.Get("/", h.GetAppointment)
					r.Put("/reschedule", h.Reschedule)
					r.Put("/cancel", h.Cancel)
					r.Put("/status", h.UpdateStatus)
					r.Post("/treatment", h.RecordTreatment)
				})
			})
			api.Get("/patients/me/appointments", h.PatientAppointments)
			api.Route("/admin", func(r chi.Router) {
				r.Get("/appointments", h.AdminAppointments)
				r.Get("/summary", h.AdminSummary)
			})
		}

		if h := cfg.ExportsHandler; h != nil {
			api.Post("/patients/me/exports", h.Create)
			api.Get("/exports/{jobID}", h.Get)
		}
	})

	return r
}

func health(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := map[string]string{"status": "ok"}
		status := http.StatusOK
		for name, check := range checks {
			if err := check(ctx); err != nil {
				resp[name] = err.Error()
				resp["status"] = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp[name] = "ok"
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(resp)
	}
}
