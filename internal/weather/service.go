package weather

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/evacmap/evacmap/internal/evacuation"
	"github.com/evacmap/evacmap/internal/geocache"
)

// Provider fetches the current observation at a point.
type Provider interface {
	CurrentWeather(ctx context.Context, loc evacuation.LatLng) (*Observation, error)
	Name() string
}

// ServiceConfig configures the weather preset service.
type ServiceConfig struct {
	Provider Provider
	Logger   zerolog.Logger

	// CacheTTL is how long an observation is fresh. Default 10m.
	CacheTTL time.Duration

	// CacheGridSize in degrees. Default 0.1 (~11km), coarse enough that one
	// city shares a single observation.
	CacheGridSize float64

	// StaleIfErrorTTL is the age, counted from the fetch, up to which an
	// observation is still served when the provider fails. Default 1h.
	StaleIfErrorTTL time.Duration

	// FetchTimeout bounds one provider lookup shared by concurrent callers.
	// Default 15s.
	FetchTimeout time.Duration

	Clock clockwork.Clock
}

// Service turns provider observations into form presets. Observations are
// cached per grid cell, and concurrent lookups of one cell share a fetch.
type Service struct {
	provider Provider
	logger   zerolog.Logger
	grid     geocache.Grid
	cache    *geocache.Cache[*Observation]
}

// NewService creates a new weather preset service.
func NewService(cfg ServiceConfig) *Service {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 10 * time.Minute
	}
	if cfg.CacheGridSize <= 0 {
		cfg.CacheGridSize = 0.1
	}
	if cfg.StaleIfErrorTTL <= 0 {
		cfg.StaleIfErrorTTL = time.Hour
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 15 * time.Second
	}

	return &Service{
		provider: cfg.Provider,
		logger:   cfg.Logger,
		grid:     geocache.Grid(cfg.CacheGridSize),
		cache: geocache.New[*Observation](geocache.Config{
			TTL:          cfg.CacheTTL,
			StaleTTL:     max(cfg.StaleIfErrorTTL-cfg.CacheTTL, 0),
			FetchTimeout: cfg.FetchTimeout,
			Clock:        cfg.Clock,
		}),
	}
}

// Name returns the name of the underlying provider.
func (s *Service) Name() string {
	return s.provider.Name()
}

// CurrentWeather returns the observation for loc's grid cell. When the
// provider fails, an observation inside the stale-if-error window is served
// instead of the error.
func (s *Service) CurrentWeather(ctx context.Context, loc evacuation.LatLng) (*Observation, error) {
	if err := evacuation.ValidateLatLng(loc); err != nil {
		return nil, fmt.Errorf("%w: %w", evacuation.ErrInvalidCoordinates, err)
	}

	key := s.grid.Cell(loc.Lat, loc.Lng)
	if obs, ok := s.cache.Get(key); ok {
		return obs, nil
	}

	obs, _, err := s.cache.Coalesce(ctx, key, func(ctx context.Context) (*Observation, error) {
		s.logger.Debug().
			Str("cell", key).
			Str("provider", s.provider.Name()).
			Msg("fetching weather from provider")
		obs, err := s.provider.CurrentWeather(ctx, loc)
		if err == nil {
			s.cache.Set(key, obs)
		}
		return obs, err
	})
	if err == nil {
		return obs, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	log := s.logger.With().Err(err).Str("cell", key).Logger()
	if stale, fetchedAt, ok := s.cache.Stale(key); ok {
		log.Warn().Time("fetched_at", fetchedAt).Msg("weather provider failed, serving stale observation")
		return stale, nil
	}
	log.Error().Msg("weather provider failed")
	return nil, fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
}

// Preset suggests an environment for a query at loc from the current weather.
func (s *Service) Preset(ctx context.Context, loc evacuation.LatLng, params evacuation.ParameterSet) (*Preset, error) {
	obs, err := s.CurrentWeather(ctx, loc)
	if err != nil {
		return nil, err
	}

	return &Preset{
		Environment: SuggestEnvironment(obs, params),
		Condition:   obs.Condition,
		Description: obs.Description,
		ObservedAt:  obs.ObservedAt,
		Source:      s.provider.Name(),
	}, nil
}

// InvalidateCache drops every cached observation.
func (s *Service) InvalidateCache() {
	s.cache.Purge()
}

// CacheStats reports the occupancy of the observation cache.
func (s *Service) CacheStats() geocache.Stats {
	return s.cache.Stats()
}
