// Package main provides the entrypoint for the evacuation map API server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/evacmap/evacmap/internal/api"
	"github.com/evacmap/evacmap/internal/api/handler"
	"github.com/evacmap/evacmap/internal/api/middleware"
	"github.com/evacmap/evacmap/internal/config"
	"github.com/evacmap/evacmap/internal/controller"
	"github.com/evacmap/evacmap/internal/evacuation"
	"github.com/evacmap/evacmap/internal/evacuation/floodservice"
	"github.com/evacmap/evacmap/internal/provider/resilience"
	"github.com/evacmap/evacmap/internal/render"
	"github.com/evacmap/evacmap/internal/telemetry"
	"github.com/evacmap/evacmap/internal/weather"
	"github.com/evacmap/evacmap/internal/weather/openweathermap"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// writeMargin leaves room to encode the response after a query hits its timeout.
const writeMargin = 15 * time.Second

func main() {
	const serviceName = "evacmap-api"

	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	log = log.Level(cfg.LogLevel)

	log.Info().
		Str("build_time", BuildTime).
		Str("env", cfg.Env).
		Msg("starting evacuation map API")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		TLS:            cfg.OTLPTLS,
		Enabled:        cfg.OTelEnabled,
		SampleRatio:    cfg.OTelSampleRatio,
		Logger:         log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	if cfg.OTelEnabled {
		log.Info().
			Str("otlp_endpoint", cfg.OTLPEndpoint).
			Float64("sample_ratio", cfg.OTelSampleRatio).
			Msg("OpenTelemetry initialized")
	}

	httpMetrics, err := middleware.NewMetrics()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize HTTP metrics")
	}
	queryMetrics, err := telemetry.NewQueryMetrics()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize query metrics")
	}
	providerMetrics, err := telemetry.NewProviderMetrics()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize provider metrics")
	}

	registry := resilience.NewRegistry()
	params := evacuation.DefaultParameters()

	flood := floodservice.NewClient(floodservice.ClientConfig{
		BaseURL:    cfg.FloodServiceURL,
		Timeout:    cfg.FloodServiceTimeout,
		Parameters: params,
		Registry:   registry,
		Logger:     log.With().Str("component", "floodservice").Logger(),
	})
	evacService := evacuation.NewService(evacuation.ServiceConfig{
		Provider: flood,
		Logger:   log.With().Str("component", "evacuation").Logger(),
		CacheTTL: cfg.EvacuationCacheTTL,
		Metrics:  providerMetrics,
	})
	log.Info().
		Str("flood_service_url", cfg.FloodServiceURL).
		Dur("cache_ttl", cfg.EvacuationCacheTTL).
		Msg("evacuation service initialized")

	ctrlLog := log.With().Str("component", "controller").Logger()
	sessions := controller.NewSessions(controller.SessionsConfig{
		New: func() *controller.Controller {
			return controller.New(controller.Config{
				Provider:   evacService,
				Parameters: params,
				Logger:     ctrlLog,
				Metrics:    queryMetrics,
			})
		},
		IdleTTL: cfg.SessionIdleTTL,
		Logger:  log.With().Str("component", "sessions").Logger(),
	})
	go sessions.Run(ctx)

	renderer, err := render.New(renderConfig(cfg))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize renderer")
	}

	var presets handler.PresetService
	if cfg.PresetsEnabled() {
		owm := openweathermap.NewClient(openweathermap.ClientConfig{
			APIKey:   cfg.OpenWeatherMapAPIKey,
			Registry: registry,
			Logger:   log.With().Str("component", "openweathermap").Logger(),
		})
		presets = weather.NewService(weather.ServiceConfig{
			Provider: owm,
			Logger:   log.With().Str("component", "weather").Logger(),
		})
		log.Info().Msg("weather presets enabled")
	} else {
		log.Warn().Msg("OPENWEATHERMAP_API_KEY not set - weather presets disabled")
	}

	router := api.NewRouter(api.RouterConfig{
		Version:      Version,
		BuildTime:    BuildTime,
		Logger:       log,
		Metrics:      httpMetrics,
		Sessions:     sessions,
		Renderer:     renderer,
		Parameters:   params,
		Presets:      presets,
		Registry:     registry,
		QueryTimeout: cfg.QueryTimeout,
		RequireTLS:   cfg.RequireTLS,
		SecureCookie: cfg.RequireTLS,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.QueryTimeout + writeMargin,
		IdleTimeout:       60 * time.Second,
	}

	// Shutdown runs this once the listeners are closed, ending open event
	// streams so it does not wait on them.
	server.RegisterOnShutdown(sessions.Close)

	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func renderConfig(cfg *config.Config) render.Config {
	rc := render.DefaultConfig()
	if cfg.MapCenter != nil {
		rc.Center = cfg.MapCenter.Pair()
	}
	rc.Zoom = cfg.MapZoom
	if cfg.MapTileURL != "" {
		rc.Tiles.URLTemplate = cfg.MapTileURL
	}
	return rc
}
