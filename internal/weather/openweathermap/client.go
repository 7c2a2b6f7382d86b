// Package openweathermap reads current rain observations from the
// OpenWeatherMap current weather endpoint.
package openweathermap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/evacmap/evacmap/internal/evacuation"
	"github.com/evacmap/evacmap/internal/provider/resilience"
	"github.com/evacmap/evacmap/internal/weather"
)

const (
	ProviderName   = "openweathermap"
	DefaultBaseURL = "https://api.openweathermap.org/data/2.5"

	maxResponseBytes = 1 << 20
)

// HTTPDoer executes provider requests. *resilience.Client implements it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientConfig holds configuration for the OpenWeatherMap client.
type ClientConfig struct {
	APIKey  string
	BaseURL string // default DefaultBaseURL

	// HTTPClient defaults to a resilient client registered in Registry.
	HTTPClient HTTPDoer
	Registry   *resilience.Registry

	Clock  clockwork.Clock // stamps Observation.FetchedAt
	Logger zerolog.Logger
}

// Client implements weather.Provider.
type Client struct {
	apiKey  string
	baseURL string
	http    HTTPDoer
	clock   clockwork.Clock
	logger  zerolog.Logger
}

// NewClient creates a new OpenWeatherMap client.
func NewClient(cfg ClientConfig) *Client {
	c := &Client{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    cfg.HTTPClient,
		clock:   cfg.Clock,
		logger:  cfg.Logger,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}
	if c.http == nil {
		rc := resilience.DefaultClientConfig(ProviderName)
		rc.CircuitBreaker.OnStateChange = resilience.LogStateChanges(cfg.Logger)
		rc.Registry = cfg.Registry
		c.http = resilience.NewClient(rc)
	}
	return c
}

// Name returns the provider name.
func (c *Client) Name() string {
	return ProviderName
}

// CurrentWeather fetches the latest observation at loc in metric units.
func (c *Client) CurrentWeather(ctx context.Context, loc evacuation.LatLng) (*weather.Observation, error) {
	q := url.Values{
		"lat":   {strconv.FormatFloat(loc.Lat, 'f', 6, 64)},
		"lon":   {strconv.FormatFloat(loc.Lng, 'f', 6, 64)},
		"units": {"metric"},
		"appid": {c.apiKey},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/weather?"+q.Encode(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", weather.ErrProviderUnavailable, c.redact(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %w", weather.ErrProviderUnavailable, c.redact(err))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp.StatusCode, body)
	}

	var payload currentWeather
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return payload.observation(c.clock.Now()), nil
}

func (c *Client) statusError(status int, body []byte) error {
	var apiErr struct {
		Message string `json:"message"`
	}
	detail := "status " + strconv.Itoa(status)
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
		detail += ": " + apiErr.Message
	}

	switch {
	case status == http.StatusUnauthorized:
		c.logger.Error().Str("provider", ProviderName).Msg("API key rejected")
		return fmt.Errorf("%w: %s", weather.ErrNotConfigured, detail)
	case status == http.StatusTooManyRequests, status >= 500:
		return fmt.Errorf("%w: %s", weather.ErrProviderUnavailable, detail)
	default:
		return fmt.Errorf("unexpected response: %s", detail)
	}
}

// redact strips the API key from transport errors, which quote the request URL.
func (c *Client) redact(err error) error {
	if c.apiKey == "" {
		return err
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return errors.New(strings.ReplaceAll(err.Error(), url.QueryEscape(c.apiKey), "REDACTED"))
	}
	return err
}

type currentWeather struct {
	Coord struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	} `json:"coord"`
	Weather []struct {
		ID          int    `json:"id"`
		Main        string `json:"main"`
		Description string `json:"description"`
	} `json:"weather"`
	Rain struct {
		OneHour    float64 `json:"1h"`
		ThreeHours float64 `json:"3h"`
	} `json:"rain"`
	Dt int64 `json:"dt"`
}

func (p *currentWeather) observation(fetchedAt time.Time) *weather.Observation {
	obs := &weather.Observation{
		Location:   evacuation.LatLng{Lat: p.Coord.Lat, Lng: p.Coord.Lon},
		Rain1h:     p.Rain.OneHour,
		Rain3h:     p.Rain.ThreeHours,
		Condition:  weather.ConditionUnknown,
		ObservedAt: time.Unix(p.Dt, 0).UTC(),
		FetchedAt:  fetchedAt,
	}
	if len(p.Weather) > 0 {
		w := p.Weather[0]
		obs.Condition = condition(w.ID, w.Main)
		obs.Description = w.Description
	}
	return obs
}

// condition maps an OpenWeatherMap condition code to a domain condition.
// Codes are grouped by hundreds; the group name is used when the code is missing.
func condition(id int, group string) weather.Condition {
	switch {
	case id >= 200 && id < 300:
		return weather.ConditionThunderstorm
	case id >= 300 && id < 400:
		return weather.ConditionDrizzle
	case id >= 500 && id < 600:
		return weather.ConditionRain
	case id >= 600 && id < 700:
		return weather.ConditionSnow
	case id == 701, id == 711, id == 721, id == 741:
		return weather.ConditionMist
	case id == 800:
		return weather.ConditionClear
	case id > 800 && id < 900:
		return weather.ConditionClouds
	case id != 0:
		return weather.ConditionUnknown
	}

	switch group {
	case "Clear":
		return weather.ConditionClear
	case "Clouds":
		return weather.ConditionClouds
	case "Rain":
		return weather.ConditionRain
	case "Drizzle":
		return weather.ConditionDrizzle
	case "Thunderstorm":
		return weather.ConditionThunderstorm
	case "Snow":
		return weather.ConditionSnow
	case "Mist", "Fog", "Haze", "Smoke":
		return weather.ConditionMist
	default:
		return weather.ConditionUnknown
	}
}
