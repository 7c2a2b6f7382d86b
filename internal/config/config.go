// Package config loads the server configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/evacmap/evacmap/internal/evacuation"
)

// Config is the complete server configuration.
type Config struct {
	Port     string        `validate:"required,numeric"`
	Env      string        `validate:"oneof=development staging production test"`
	LogLevel zerolog.Level `validate:"-"`

	FloodServiceURL     string        `validate:"required,url"`
	FloodServiceTimeout time.Duration `validate:"gt=0"`
	QueryTimeout        time.Duration `validate:"gt=0"`
	EvacuationCacheTTL  time.Duration
	SessionIdleTTL      time.Duration `validate:"gt=0"`

	// OpenWeatherMapAPIKey enables weather presets when set.
	OpenWeatherMapAPIKey string

	OTelEnabled     bool
	OTLPEndpoint    string  `validate:"required_if=OTelEnabled true"`
	OTLPTLS         bool
	OTelSampleRatio float64 `validate:"gte=0,lte=1"`

	RequireTLS bool

	// MapCenter, MapZoom and MapTileURL override the renderer defaults when set.
	MapCenter  *evacuation.LatLng
	MapZoom    int `validate:"gte=0,lte=22"`
	MapTileURL string
}

// PresetsEnabled reports whether weather presets can be served.
func (c *Config) PresetsEnabled() bool {
	return c.OpenWeatherMapAPIKey != ""
}

// Load reads an optional .env file, then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv(os.LookupEnv)
}

// FromEnv builds and validates a Config from a lookup function.
func FromEnv(lookup func(string) (string, bool)) (*Config, error) {
	p := parser{lookup: lookup}

	cfg := &Config{
		Port:                 p.str("APP_PORT", "8080"),
		Env:                  p.str("APP_ENV", "development"),
		LogLevel:             p.level("LOG_LEVEL", zerolog.InfoLevel),
		FloodServiceURL:      strings.TrimRight(p.str("FLOOD_SERVICE_URL", "http://localhost:8000"), "/"),
		FloodServiceTimeout:  p.duration("FLOOD_SERVICE_TIMEOUT", 60*time.Second),
		QueryTimeout:         p.duration("QUERY_TIMEOUT", 90*time.Second),
		EvacuationCacheTTL:   p.duration("EVACUATION_CACHE_TTL", 2*time.Minute),
		SessionIdleTTL:       p.duration("SESSION_IDLE_TTL", 30*time.Minute),
		OpenWeatherMapAPIKey: p.str("OPENWEATHERMAP_API_KEY", ""),
		OTelEnabled:          p.boolean("OTEL_ENABLED", false),
		OTLPEndpoint:         p.str("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTLPTLS:              p.boolean("OTEL_EXPORTER_OTLP_TLS", false),
		OTelSampleRatio:      p.float("OTEL_SAMPLE_RATIO", 1),
		RequireTLS:           p.boolean("REQUIRE_TLS", false),
		MapCenter:            p.center("MAP_CENTER"),
		MapZoom:              p.integer("MAP_ZOOM", 13),
		MapTileURL:           p.str("MAP_TILE_URL", ""),
	}

	if err := errors.Join(p.errs...); err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	v := validator.New(validator.WithRequiredStructEnabled())
	err := v.Struct(cfg)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	errs := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		errs = append(errs, fmt.Errorf("%s: failed %q (value %v)", fe.Field(), fe.Tag(), fe.Value()))
	}
	return errors.Join(errs...)
}

// parser reads typed values and collects every parse error.
type parser struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (p *parser) str(key, fallback string) string {
	if v, ok := p.lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	raw := p.str(key, "")
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return d
}

func (p *parser) boolean(key string, fallback bool) bool {
	raw := p.str(key, "")
	if raw == "" {
		return fallback
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return b
}

func (p *parser) integer(key string, fallback int) int {
	raw := p.str(key, "")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return n
}

func (p *parser) float(key string, fallback float64) float64 {
	raw := p.str(key, "")
	if raw == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return f
}

func (p *parser) level(key string, fallback zerolog.Level) zerolog.Level {
	raw := p.str(key, "")
	if raw == "" {
		return fallback
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(raw))
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return lvl
}

func (p *parser) center(key string) *evacuation.LatLng {
	raw := p.str(key, "")
	if raw == "" {
		return nil
	}
	ll, err := evacuation.ParseCoordinate(raw)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return nil
	}
	return &ll
}
