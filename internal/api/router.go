// Package api assembles the HTTP surface of the appointment backend.
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/medibook/go-appointments/internal/api/handlers"
	"github.com/medibook/go-appointments/internal/api/middleware"
	"github.com/medibook/go-appointments/internal/observability/metrics"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps wires the router.
type Deps struct {
	Users        *handlers.UserHandler
	Appointments *handlers.AppointmentHandler
	Tokens       middleware.TokenParser
	AuthLimiter  *middleware.RateLimiter
	CORSOrigins  []string
	Metrics      *metrics.Metrics
	// Ready is pinged by /ready; nil always reports ready.
	Ready       Pinger
	ServiceName string
	Version     string
	Logger      *zap.Logger
}

// NewRouter builds the chi router with the global middleware chain and
// every route under /api/v1.
func NewRouter(d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(d.CORSOrigins))
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Tracing(d.ServiceName))
	r.Use(middleware.Metrics(d.Metrics))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"healthy","service":%q,"version":%q}`, d.ServiceName, d.Version)
	})
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if d.Ready != nil {
			if err := d.Ready.Ping(r.Context()); err != nil {
				http.Error(w, "not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	r.Handle("/metrics", metrics.Handler())

	authenticate := middleware.Authenticate(d.Tokens, logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if d.AuthLimiter != nil {
				r.Use(middleware.RateLimit(d.AuthLimiter))
			}
			r.Post("/auth/register", d.Users.Register)
			r.Post("/users/register", d.Users.Register)
			r.Post("/auth/login", d.Users.Login)
		})

		r.Get("/users/doctors", d.Users.Doctors)
		r.With(authenticate).Get("/users/me", d.Users.Me)

		r.With(authenticate).Mount("/appointment", d.Appointments.Routes())
	})

	return r
}
