package weather_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evacmap/evacmap/internal/evacuation"
	"github.com/evacmap/evacmap/internal/geocache"
	"github.com/evacmap/evacmap/internal/weather"
)

var rennes = evacuation.LatLng{Lat: 48.1173, Lng: -1.6778}

// mockProvider is a mock weather provider for testing.
type mockProvider struct {
	mu           sync.Mutex
	callCount    int
	observations map[evacuation.LatLng]*weather.Observation
	err          error
}

func newMockProvider() *mockProvider {
	return &mockProvider{observations: make(map[evacuation.LatLng]*weather.Observation)}
}

func (m *mockProvider) Name() string {
	return "mock"
}

func (m *mockProvider) CurrentWeather(_ context.Context, loc evacuation.LatLng) (*weather.Observation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount++

	if m.err != nil {
		return nil, m.err
	}

	if obs, ok := m.observations[loc]; ok {
		return obs, nil
	}

	return &weather.Observation{
		Location:  loc,
		Rain1h:    2,
		Condition: weather.ConditionRain,
	}, nil
}

func (m *mockProvider) getCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

func (m *mockProvider) setError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func newService(p weather.Provider, clock clockwork.Clock) *weather.Service {
	return weather.NewService(weather.ServiceConfig{
		Provider:        p,
		Logger:          zerolog.Nop(),
		CacheTTL:        10 * time.Minute,
		StaleIfErrorTTL: time.Hour,
		Clock:           clock,
	})
}

func TestService_CurrentWeather(t *testing.T) {
	provider := newMockProvider()
	service := newService(provider, clockwork.NewFakeClock())

	obs, err := service.CurrentWeather(context.Background(), rennes)
	require.NoError(t, err)
	assert.Equal(t, rennes, obs.Location)
	assert.Equal(t, weather.ConditionRain, obs.Condition)
	assert.Equal(t, "mock", service.Name())
}

func TestService_CurrentWeather_Caching(t *testing.T) {
	provider := newMockProvider()
	clock := clockwork.NewFakeClock()
	service := newService(provider, clock)
	ctx := context.Background()

	_, err := service.CurrentWeather(ctx, rennes)
	require.NoError(t, err)
	_, err = service.CurrentWeather(ctx, rennes)
	require.NoError(t, err)
	assert.Equal(t, 1, provider.getCallCount())

	clock.Advance(11 * time.Minute)
	_, err = service.CurrentWeather(ctx, rennes)
	require.NoError(t, err)
	assert.Equal(t, 2, provider.getCallCount(), "expired entry is refetched")
}

func TestService_CurrentWeather_CacheGriding(t *testing.T) {
	provider := newMockProvider()
	service := newService(provider, clockwork.NewFakeClock())
	ctx := context.Background()

	_, err := service.CurrentWeather(ctx, evacuation.LatLng{Lat: 48.111, Lng: -1.671})
	require.NoError(t, err)
	_, err = service.CurrentWeather(ctx, evacuation.LatLng{Lat: 48.119, Lng: -1.679})
	require.NoError(t, err)
	assert.Equal(t, 1, provider.getCallCount(), "same grid cell")

	_, err = service.CurrentWeather(ctx, evacuation.LatLng{Lat: 48.85, Lng: 2.35})
	require.NoError(t, err)
	assert.Equal(t, 2, provider.getCallCount(), "different grid cell")
}

func TestService_CurrentWeather_InvalidCoordinates(t *testing.T) {
	tests := []struct {
		name string
		loc  evacuation.LatLng
	}{
		{"latitude too high", evacuation.LatLng{Lat: 91, Lng: 0}},
		{"latitude too low", evacuation.LatLng{Lat: -91, Lng: 0}},
		{"longitude too high", evacuation.LatLng{Lat: 0, Lng: 181}},
		{"longitude too low", evacuation.LatLng{Lat: 0, Lng: -181}},
	}

	provider := newMockProvider()
	service := newService(provider, clockwork.NewFakeClock())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := service.CurrentWeather(context.Background(), tt.loc)
			assert.ErrorIs(t, err, evacuation.ErrInvalidCoordinates)
		})
	}
	assert.Zero(t, provider.getCallCount())
}

func TestService_CurrentWeather_ProviderError(t *testing.T) {
	provider := newMockProvider()
	provider.setError(errors.New("api error"))
	service := newService(provider, clockwork.NewFakeClock())

	_, err := service.CurrentWeather(context.Background(), rennes)
	require.Error(t, err)
	assert.ErrorIs(t, err, weather.ErrProviderUnavailable)
	assert.ErrorContains(t, err, "api error")
}

func TestService_CurrentWeather_StaleOnError(t *testing.T) {
	provider := newMockProvider()
	clock := clockwork.NewFakeClock()
	service := newService(provider, clock)
	ctx := context.Background()

	obs1, err := service.CurrentWeather(ctx, rennes)
	require.NoError(t, err)

	clock.Advance(15 * time.Minute)
	provider.setError(errors.New("api error"))

	obs2, err := service.CurrentWeather(ctx, rennes)
	require.NoError(t, err)
	assert.Same(t, obs1, obs2, "stale data is served inside the stale window")

	clock.Advance(time.Hour)
	_, err = service.CurrentWeather(ctx, rennes)
	assert.ErrorIs(t, err, weather.ErrProviderUnavailable, "too old to serve")
}

func TestService_Preset(t *testing.T) {
	provider := newMockProvider()
	observedAt := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	provider.observations[rennes] = &weather.Observation{
		Location:    rennes,
		Rain1h:      4,
		Rain3h:      11.6,
		Condition:   weather.ConditionRain,
		Description: "moderate rain",
		ObservedAt:  observedAt,
	}
	service := newService(provider, clockwork.NewFakeClock())

	preset, err := service.Preset(context.Background(), rennes, evacuation.DefaultParameters())
	require.NoError(t, err)

	assert.Equal(t, map[evacuation.ParameterKey]float64{
		evacuation.ParamWaterLevel:     0,
		evacuation.ParamRainLevel:      12,
		evacuation.ParamRiverDischarge: 0,
	}, preset.Environment)
	assert.Equal(t, weather.ConditionRain, preset.Condition)
	assert.Equal(t, "moderate rain", preset.Description)
	assert.Equal(t, observedAt, preset.ObservedAt)
	assert.Equal(t, "mock", preset.Source)
}

func TestService_Preset_ProviderError(t *testing.T) {
	provider := newMockProvider()
	provider.setError(errors.New("api error"))
	service := newService(provider, clockwork.NewFakeClock())

	preset, err := service.Preset(context.Background(), rennes, evacuation.DefaultParameters())
	assert.Nil(t, preset)
	assert.ErrorIs(t, err, weather.ErrProviderUnavailable)
}

func TestService_InvalidateCache(t *testing.T) {
	provider := newMockProvider()
	service := newService(provider, clockwork.NewFakeClock())
	ctx := context.Background()

	_, err := service.CurrentWeather(ctx, rennes)
	require.NoError(t, err)

	service.InvalidateCache()

	_, err = service.CurrentWeather(ctx, rennes)
	require.NoError(t, err)
	assert.Equal(t, 2, provider.getCallCount())
}

func TestService_CacheStats(t *testing.T) {
	provider := newMockProvider()
	clock := clockwork.NewFakeClock()
	service := newService(provider, clock)
	ctx := context.Background()

	_, err := service.CurrentWeather(ctx, rennes)
	require.NoError(t, err)
	_, err = service.CurrentWeather(ctx, evacuation.LatLng{Lat: 48.85, Lng: 2.35})
	require.NoError(t, err)
	assert.Equal(t, geocache.Stats{Entries: 2, Fresh: 2}, service.CacheStats())

	clock.Advance(11 * time.Minute)
	assert.Equal(t, geocache.Stats{Entries: 2, Fresh: 0}, service.CacheStats())
}

func TestService_ConcurrentLookupsShareFetch(t *testing.T) {
	gate := make(chan struct{})
	provider := &gatedProvider{gate: gate}
	service := newService(provider, clockwork.NewRealClock())

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := service.Preset(context.Background(), rennes, evacuation.DefaultParameters())
			assert.NoError(t, err)
		}()
	}

	require.Eventually(t, func() bool { return provider.calls() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	assert.Equal(t, 1, provider.calls())
}

func TestService_CancelledCallerDoesNotFailOthers(t *testing.T) {
	gate := make(chan struct{})
	provider := &gatedProvider{gate: gate}
	service := newService(provider, clockwork.NewRealClock())

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := service.CurrentWeather(leaderCtx, rennes)
		leaderErr <- err
	}()
	require.Eventually(t, func() bool { return provider.calls() == 1 }, time.Second, time.Millisecond)

	followerErr := make(chan error, 1)
	go func() {
		_, err := service.CurrentWeather(context.Background(), rennes)
		followerErr <- err
	}()
	time.Sleep(20 * time.Millisecond)

	cancelLeader()
	assert.ErrorIs(t, <-leaderErr, context.Canceled)

	close(gate)
	assert.NoError(t, <-followerErr)
	assert.Equal(t, 1, provider.calls())
	assert.Equal(t, 1, service.CacheStats().Entries)
}

type gatedProvider struct {
	gate chan struct{}
	mu   sync.Mutex
	n    int
}

func (p *gatedProvider) Name() string { return "gated" }

func (p *gatedProvider) CurrentWeather(ctx context.Context, loc evacuation.LatLng) (*weather.Observation, error) {
	p.mu.Lock()
	p.n++
	p.mu.Unlock()
	select {
	case <-p.gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &weather.Observation{Location: loc, Condition: weather.ConditionDrizzle}, nil
}

func (p *gatedProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.n
}
