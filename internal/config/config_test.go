package config_test

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evacmap/evacmap/internal/config"
	"github.com/evacmap/evacmap/internal/evacuation"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := config.FromEnv(env(nil))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, zerolog.InfoLevel, cfg.LogLevel)
	assert.Equal(t, "http://localhost:8000", cfg.FloodServiceURL)
	assert.Equal(t, 60*time.Second, cfg.FloodServiceTimeout)
	assert.Equal(t, 90*time.Second, cfg.QueryTimeout)
	assert.Equal(t, 2*time.Minute, cfg.EvacuationCacheTTL)
	assert.Equal(t, 30*time.Minute, cfg.SessionIdleTTL)
	assert.False(t, cfg.OTelEnabled)
	assert.False(t, cfg.RequireTLS)
	assert.False(t, cfg.PresetsEnabled())
	assert.Nil(t, cfg.MapCenter)
	assert.Equal(t, 13, cfg.MapZoom)
}

func TestFromEnv_Overrides(t *testing.T) {
	cfg, err := config.FromEnv(env(map[string]string{
		"APP_PORT":               "9090",
		"APP_ENV":                "production",
		"LOG_LEVEL":              "DEBUG",
		"FLOOD_SERVICE_URL":      "http://flood:8000/",
		"FLOOD_SERVICE_TIMEOUT":  "30s",
		"QUERY_TIMEOUT":          "45s",
		"EVACUATION_CACHE_TTL":   "-1s",
		"SESSION_IDLE_TTL":       "1h",
		"OPENWEATHERMAP_API_KEY": "owm-key",
		"OTEL_ENABLED":           "true",
		"REQUIRE_TLS":            "1",
		"MAP_CENTER":             "48.1173, -1.6778",
		"MAP_ZOOM":               "15",
		"OTEL_EXPORTER_OTLP_TLS": "true",
		"MAP_TILE_URL":           "https://tile.example/{z}/{x}/{y}.png",
	}))
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "production", cfg.Env)
	assert.Equal(t, zerolog.DebugLevel, cfg.LogLevel)
	assert.Equal(t, "http://flood:8000", cfg.FloodServiceURL)
	assert.Equal(t, 30*time.Second, cfg.FloodServiceTimeout)
	assert.Equal(t, 45*time.Second, cfg.QueryTimeout)
	assert.Equal(t, -time.Second, cfg.EvacuationCacheTTL)
	assert.Equal(t, time.Hour, cfg.SessionIdleTTL)
	assert.True(t, cfg.PresetsEnabled())
	assert.True(t, cfg.OTelEnabled)
	assert.True(t, cfg.OTLPTLS)
	assert.True(t, cfg.RequireTLS)
	require.NotNil(t, cfg.MapCenter)
	assert.Equal(t, evacuation.LatLng{Lat: 48.1173, Lng: -1.6778}, *cfg.MapCenter)
	assert.Equal(t, 15, cfg.MapZoom)
	assert.Equal(t, "https://tile.example/{z}/{x}/{y}.png", cfg.MapTileURL)
}

func TestFromEnv_ReportsEveryParseError(t *testing.T) {
	_, err := config.FromEnv(env(map[string]string{
		"QUERY_TIMEOUT": "soon",
		"OTEL_ENABLED":  "maybe",
		"MAP_CENTER":    "north",
		"LOG_LEVEL":     "loud",
	}))
	require.Error(t, err)

	for _, key := range []string{"QUERY_TIMEOUT", "OTEL_ENABLED", "MAP_CENTER", "LOG_LEVEL"} {
		assert.Contains(t, err.Error(), key)
	}
	assert.ErrorIs(t, err, evacuation.ErrInvalidCoordinates)
}

func TestFromEnv_Validation(t *testing.T) {
	tests := []struct {
		name  string
		vars  map[string]string
		field string
	}{
		{"non numeric port", map[string]string{"APP_PORT": "http"}, "Port"},
		{"unknown env", map[string]string{"APP_ENV": "moon"}, "Env"},
		{"bad service url", map[string]string{"FLOOD_SERVICE_URL": "not a url"}, "FloodServiceURL"},
		{"zero query timeout", map[string]string{"QUERY_TIMEOUT": "0s"}, "QueryTimeout"},
		{"zoom out of range", map[string]string{"MAP_ZOOM": "40"}, "MapZoom"},
		{"sample ratio out of range", map[string]string{"OTEL_SAMPLE_RATIO": "1.5"}, "OTelSampleRatio"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.FromEnv(env(tt.vars))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestLoad_ReadsEnvironment(t *testing.T) {
	t.Setenv("APP_PORT", "7070")
	t.Setenv("FLOOD_SERVICE_URL", "http://127.0.0.1:8001")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.Port)
	assert.Equal(t, "http://127.0.0.1:8001", cfg.FloodServiceURL)
}
