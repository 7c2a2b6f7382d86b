// Package api provides the HTTP API of the evacuation map.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/evacmap/evacmap/internal/api/handler"
	"github.com/evacmap/evacmap/internal/api/middleware"
	"github.com/evacmap/evacmap/internal/api/models"
	"github.com/evacmap/evacmap/internal/api/response"
	"github.com/evacmap/evacmap/internal/controller"
	"github.com/evacmap/evacmap/internal/evacuation"
	"github.com/evacmap/evacmap/internal/evacuation/floodservice"
	"github.com/evacmap/evacmap/internal/provider/resilience"
	"github.com/evacmap/evacmap/internal/render"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version   string
	BuildTime string
	Logger    zerolog.Logger
	Metrics   *middleware.Metrics

	Sessions   *controller.Sessions
	Renderer   *render.Renderer
	Parameters evacuation.ParameterSet
	Defaults   controller.Form

	// Presets serves weather presets; nil disables them.
	Presets handler.PresetService

	// Registry feeds the ops endpoints (optional).
	Registry *resilience.Registry

	QueryTimeout time.Duration
	RequireTLS   bool
	SecureCookie bool

	// QueryRateLimit overrides the per-session query budget (optional).
	QueryRateLimit *middleware.RateLimitConfig
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing())
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware())
	}
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.RequireTLS(cfg.RequireTLS))
	r.Use(middleware.ContentTypeJSON)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.NotFound(w, r, "No route for "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, r, models.NewTyped(models.ProblemTypeMethodNotAllowed,
			middleware.GetRequestID(r.Context()), r.Method+" is not supported on "+r.URL.Path))
	})

	opsHandler := handler.NewOpsHandler(handler.OpsHandlerConfig{
		Version:   cfg.Version,
		BuildTime: cfg.BuildTime,
		Registry:  cfg.Registry,
		Sessions:  cfg.Sessions,
		Critical:  []string{floodservice.ProviderName},
	})
	evacHandler := handler.NewEvacuationHandler(handler.EvacuationHandlerConfig{
		Sessions:       cfg.Sessions,
		Renderer:       cfg.Renderer,
		Parameters:     cfg.Parameters,
		QueryTimeout:   cfg.QueryTimeout,
		Defaults:       cfg.Defaults,
		PresetsEnabled: cfg.Presets != nil,
		Logger:         cfg.Logger,
	})
	presetHandler := handler.NewPresetHandler(cfg.Presets, cfg.Parameters, cfg.Logger)

	queryLimit := middleware.QueryRateLimit
	if cfg.QueryRateLimit != nil {
		queryLimit = *cfg.QueryRateLimit
	}
	standardRateLimit := middleware.RateLimitByIP(middleware.StandardRateLimit)
	session := middleware.Session(cfg.SecureCookie)

	r.With(session).Get("/", evacHandler.Page)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
			r.Get("/status", opsHandler.SystemStatus)
		})

		r.With(standardRateLimit).Get("/parameters", evacHandler.Parameters)
		r.With(standardRateLimit).Get("/presets/weather", presetHandler.WeatherPreset)

		r.Group(func(r chi.Router) {
			r.Use(session)

			r.With(middleware.RequireJSON, middleware.RateLimitBySession(queryLimit)).
				Post("/evacuation-queries", evacHandler.SubmitQuery)

			r.Group(func(r chi.Router) {
				r.Use(standardRateLimit)
				r.Get("/display", evacHandler.Display)
				r.Delete("/display", evacHandler.ResetDisplay)
				r.Get("/display.geojson", evacHandler.GeoJSON)
				r.Get("/display.svg", evacHandler.SVG)
			})

			// Streams are long-lived and exempt from request rate limits.
			r.Get("/display/events", evacHandler.Events)
		})
	})

	return r
}
