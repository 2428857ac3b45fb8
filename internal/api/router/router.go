package router

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/medicare-plus/internal/accounts"
	"github.com/wolfman30/medicare-plus/internal/appointments"
	"github.com/wolfman30/medicare-plus/internal/assistant"
	"github.com/wolfman30/medicare-plus/internal/directory"
	httpmiddleware "github.com/wolfman30/medicare-plus/internal/http/middleware"
	"github.com/wolfman30/medicare-plus/internal/reminders"
	"github.com/wolfman30/medicare-plus/internal/reports"
	"github.com/wolfman30/medicare-plus/pkg/logging"
)

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// Config holds router configuration
type Config struct {
	Logger *logging.Logger

	Appointments *appointments.Handler
	Directory    *directory.Handler
	Reports      *reports.Handler
	Chat         *assistant.Handler
	Reminders    *reminders.Handler
	Realtime     http.Handler

	JWTSecret   string
	Accounts    httpmiddleware.AccountResolver
	Origins     *httpmiddleware.OriginPolicy
	ChatLimiter *httpmiddleware.RateLimiter

	HealthChecks   map[string]HealthCheck
	MetricsHandler http.Handler
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httpmiddleware.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	if cfg.Origins != nil {
		r.Use(httpmiddleware.CORS(cfg.Origins))
	}

	// Public endpoints
	r.Group(func(public chi.Router) {
		public.Get("/health", healthHandler(cfg.HealthChecks))
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	r.Group(func(api chi.Router) {
		api.Use(httpmiddleware.Identity(cfg.JWTSecret, cfg.Accounts, logger))
		authenticated := httpmiddleware.RequireRole()

		if cfg.Realtime != nil {
			api.With(authenticated).Handle("/ws", cfg.Realtime)
		}

		api.Route("/api", func(r chi.Router) {
			r.Use(middleware.Compress(5))

			if cfg.Directory != nil {
				r.Route("/specializations", func(r chi.Router) {
					r.Get("/", cfg.Directory.ListSpecializations)
					r.With(httpmiddleware.RequireRole(accounts.RoleAdmin)).Post("/", cfg.Directory.CreateSpecialization)
				})
			}

			r.Route("/appointments", func(r chi.Router) {
				r.Use(authenticated)
				if cfg.Directory != nil {
					r.Route("/doctors", cfg.Directory.DoctorRoutes)
				}
				if cfg.Appointments != nil {
					cfg.Appointments.Routes(r)
				}
			})

			if cfg.Reports != nil {
				r.With(authenticated).Route("/reports", cfg.Reports.Routes)
			}

			if cfg.Chat != nil {
				r.Route("/chat", func(r chi.Router) {
					r.Use(authenticated)
					if cfg.ChatLimiter != nil {
						r.Use(httpmiddleware.RateLimit(cfg.ChatLimiter))
					}
					cfg.Chat.Routes(r)
				})
			}

			if cfg.Reminders != nil {
				r.With(httpmiddleware.RequireRole(accounts.RoleAdmin)).Route("/notifications", cfg.Reminders.Routes)
			}
		})
	})

	return r
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := healthResponse{Status: "ok"}
		status := http.StatusOK
		if len(names) > 0 {
			resp.Checks = make(map[string]string, len(names))
		}
		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	}
}
