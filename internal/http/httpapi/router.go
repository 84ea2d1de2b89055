package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"orchestrator/internal/http/handlers"
	"orchestrator/internal/middleware"
)

type Options struct {
	JWTSecret       string
	RateLimitPerMin int
	Logger          zerolog.Logger
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	// Middlewares dasar
	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(opts.Logger),
	)

	// Health
	r.Get("/v1/healthz", app.Health)

	// Provider callbacks are authenticated by body signature, not by bearer token.
	r.Post("/v1/callbacks/workflows", app.CallbackReceive)

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthJWT(opts.JWTSecret))
		r.Use(middleware.RateLimit(opts.RateLimitPerMin, time.Minute))

		r.Post("/v1/generations", app.GenerationsCreate)
		r.Get("/v1/workflows/{id}", app.WorkflowGet)
		r.Post("/v1/workflows/{id}/cancel", app.WorkflowCancel)
		r.Get("/v1/engines", app.EnginesList)
		r.With(middleware.RequireRole(middleware.RoleAdmin)).Put("/v1/engines/{engine}", app.EngineUpdate)
	})

	return r
}
