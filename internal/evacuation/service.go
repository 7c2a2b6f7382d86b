package evacuation

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/evacmap/evacmap/internal/geocache"
	"github.com/evacmap/evacmap/internal/telemetry"
)

const operationEvacuationPath = "evacuation_path"

// ServiceConfig configures the caching evacuation service.
type ServiceConfig struct {
	Provider Provider
	Logger   zerolog.Logger

	// CacheTTL is how long a usable result is reused. Default 2m; negative disables the cache.
	CacheTTL time.Duration

	// CacheGridSize in degrees. When positive, endpoints in the same cell share
	// results. Default 0 keys on the exact coordinates.
	CacheGridSize float64

	// FetchTimeout bounds one upstream query shared by concurrent callers.
	// Default 60s.
	FetchTimeout time.Duration

	Clock   clockwork.Clock
	Metrics *telemetry.ProviderMetrics
}

// Service is a Provider that reuses usable results of another Provider and
// joins concurrent identical queries into one upstream call. Failures and
// "no path" answers are never cached, so a retry always reaches the upstream.
type Service struct {
	provider Provider
	logger   zerolog.Logger
	grid     geocache.Grid
	clock    clockwork.Clock
	metrics  *telemetry.ProviderMetrics
	cache    *geocache.Cache[*Result] // nil when disabled
}

// NewService creates a new caching evacuation service around cfg.Provider.
func NewService(cfg ServiceConfig) *Service {
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 2 * time.Minute
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = time.Minute
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}

	s := &Service{
		provider: cfg.Provider,
		logger:   cfg.Logger,
		grid:     geocache.Grid(cfg.CacheGridSize),
		clock:    cfg.Clock,
		metrics:  cfg.Metrics,
	}
	if cfg.CacheTTL > 0 {
		s.cache = geocache.New[*Result](geocache.Config{
			TTL:          cfg.CacheTTL,
			FetchTimeout: cfg.FetchTimeout,
			Clock:        cfg.Clock,
		})
	}
	return s
}

// Name returns the name of the wrapped provider.
func (s *Service) Name() string {
	return s.provider.Name()
}

// FindEvacuationPath answers from the cache when it can.
func (s *Service) FindEvacuationPath(ctx context.Context, q Query) (*Result, error) {
	if s.cache == nil {
		return s.fetch(ctx, q)
	}

	key := s.cacheKey(q)
	if res, ok := s.cache.Get(key); ok {
		s.metrics.RecordCacheHit(s.provider.Name(), operationEvacuationPath)
		s.logger.Debug().Str("cache_key", key).Msg("evacuation path served from cache")
		return res, nil
	}
	s.metrics.RecordCacheMiss(s.provider.Name(), operationEvacuationPath)

	res, shared, err := s.cache.Coalesce(ctx, key, func(ctx context.Context) (*Result, error) {
		res, err := s.fetch(ctx, q)
		if err == nil && res.HasPath() {
			s.cache.Set(key, res)
		}
		return res, err
	})
	if shared {
		s.logger.Debug().Str("cache_key", key).Msg("joined in-flight evacuation query")
	}
	return res, err
}

func (s *Service) fetch(ctx context.Context, q Query) (*Result, error) {
	start := s.clock.Now()
	res, err := s.provider.FindEvacuationPath(ctx, q)
	s.metrics.RecordRequest(s.provider.Name(), operationEvacuationPath, s.clock.Since(start), err)
	return res, err
}

// cacheKey is {place}|{network}|{origin}|{destination}|{k=v,...}, with the
// place case-folded and the parameters sorted by key. Endpoints are exact
// unless a grid is configured.
func (s *Service) cacheKey(q Query) string {
	keys := make([]string, 0, len(q.Environment))
	for k := range q.Environment {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "%s|%s|%s|%s|",
		strings.ToLower(strings.TrimSpace(q.Place)),
		q.NetworkType,
		s.grid.Cell(q.Origin.Lat, q.Origin.Lng),
		s.grid.Cell(q.Destination.Lat, q.Destination.Lng))
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s=%.3f", k, q.Environment[ParameterKey(k)])
	}
	return b.String()
}

// InvalidateCache drops every cached result.
func (s *Service) InvalidateCache() {
	if s.cache != nil {
		s.cache.Purge()
	}
}

// CacheStats is empty when the cache is disabled.
func (s *Service) CacheStats() geocache.Stats {
	if s.cache == nil {
		return geocache.Stats{}
	}
	return s.cache.Stats()
}
