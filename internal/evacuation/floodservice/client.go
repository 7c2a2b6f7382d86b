// Package floodservice provides a client for the external evacuation routing
// and flood simulation service.
package floodservice

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

	"github.com/rs/zerolog"

	"github.com/evacmap/evacmap/internal/evacuation"
	"github.com/evacmap/evacmap/internal/provider/resilience"
)

const (
	// ProviderName identifies this provider.
	ProviderName = "flood-service"

	// DefaultBaseURL is where the service listens in local development.
	DefaultBaseURL = "http://localhost:8000"

	// DefaultTimeout is the default request timeout. Path computation on a
	// freshly loaded city graph routinely takes tens of seconds.
	DefaultTimeout = 60 * time.Second

	// DefaultMaxResponseBytes caps the response body size.
	DefaultMaxResponseBytes = 8 << 20

	evacuationPath = "/evacuation-path"
)

// HTTPDoer is an interface for executing HTTP requests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientConfig holds configuration for the flood service client.
type ClientConfig struct {
	// BaseURL is the service base URL (optional, defaults to DefaultBaseURL).
	BaseURL string

	// HTTPClient is the HTTP client to use (optional).
	// If nil, uses a resilient client with retries disabled.
	HTTPClient HTTPDoer

	// Timeout is the request timeout (optional, defaults to DefaultTimeout).
	Timeout time.Duration

	// Parameters maps environmental parameters to query-string names
	// (optional, defaults to evacuation.DefaultParameters).
	Parameters evacuation.ParameterSet

	// MaxResponseBytes caps the response body (optional).
	MaxResponseBytes int64

	// Registry is the provider registry for health tracking (optional).
	Registry *resilience.Registry

	// Logger for client operations.
	Logger zerolog.Logger
}

// Client is a flood service API client.
type Client struct {
	baseURL    string
	httpClient HTTPDoer
	params     evacuation.ParameterSet
	maxBytes   int64
	logger     zerolog.Logger
}

// NewClient creates a new flood service client.
func NewClient(cfg ClientConfig) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	params := cfg.Parameters
	if len(params) == 0 {
		params = evacuation.DefaultParameters()
	}

	maxBytes := cfg.MaxResponseBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxResponseBytes
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		cb := resilience.DefaultCircuitBreakerConfig(ProviderName)
		cb.OnStateChange = resilience.LogStateChanges(cfg.Logger)
		httpClient = resilience.NewClient(resilience.ClientConfig{
			Name:           ProviderName,
			Timeout:        timeout,
			MaxRetries:     0, // a failed query is surfaced to the user, who retries
			CircuitBreaker: &cb,
			Registry:       cfg.Registry,
		})
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		params:     params,
		maxBytes:   maxBytes,
		logger:     cfg.Logger,
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return ProviderName
}

// FindEvacuationPath asks the service for an evacuation path and the flooded zones.
func (c *Client) FindEvacuationPath(ctx context.Context, q evacuation.Query) (*evacuation.Result, error) {
	endpoint := c.baseURL + evacuationPath + "?" + c.encodeQuery(q).Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	c.logger.Debug().
		Str("place", q.Place).
		Float64("origin_lat", q.Origin.Lat).
		Float64("origin_lng", q.Origin.Lng).
		Float64("dest_lat", q.Destination.Lat).
		Float64("dest_lng", q.Destination.Lng).
		Msg("requesting evacuation path")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &evacuation.Error{
			Provider: ProviderName,
			Code:     "REQUEST_FAILED",
			Message:  "failed to reach flood service",
			Err:      errors.Join(evacuation.ErrProviderUnavailable, err),
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return nil, &evacuation.Error{
			Provider: ProviderName,
			Code:     "READ_FAILED",
			Message:  "failed to read flood service response",
			Err:      errors.Join(evacuation.ErrProviderUnavailable, err),
		}
	}
	if int64(len(body)) > c.maxBytes {
		return nil, &evacuation.Error{
			Provider: ProviderName,
			Code:     "RESPONSE_TOO_LARGE",
			Message:  fmt.Sprintf("response exceeds %d bytes", c.maxBytes),
			Err:      evacuation.ErrMalformedResponse,
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, handleErrorResponse(resp.StatusCode, body)
	}

	result, err := decodeResult(body)
	if err != nil {
		return nil, err
	}

	c.logger.Debug().
		Int("path_points", len(result.Path)).
		Int("flooded_zones", len(result.FloodedZones)).
		Msg("received evacuation path")

	return result, nil
}

// encodeQuery builds the query string. Parameters missing from the query take their defaults.
func (c *Client) encodeQuery(q evacuation.Query) url.Values {
	v := url.Values{}
	v.Set("place", q.Place)
	v.Set("origin_lat", formatFloat(q.Origin.Lat))
	v.Set("origin_lng", formatFloat(q.Origin.Lng))
	v.Set("destination_lat", formatFloat(q.Destination.Lat))
	v.Set("destination_lng", formatFloat(q.Destination.Lng))

	for _, p := range c.params {
		value, ok := q.Environment[p.Key]
		if !ok {
			value = p.Default
		}
		v.Set(p.Query, formatFloat(value))
	}

	if q.NetworkType != evacuation.NetworkDefault {
		v.Set("network_type", string(q.NetworkType))
	}

	return v
}

// decodeResult interprets a 2xx body. A body that is not a JSON object, or
// that carries an error field, is a malformed answer.
func decodeResult(body []byte) (*evacuation.Result, error) {
	var raw evacuationResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &evacuation.Error{
			Provider: ProviderName,
			Code:     "DECODE_FAILED",
			Message:  "decoding flood service response",
			Err:      errors.Join(evacuation.ErrMalformedResponse, err),
		}
	}

	if raw.Error != "" {
		return nil, &evacuation.Error{
			Provider: ProviderName,
			Code:     "NO_PATH",
			Message:  raw.Error,
			Err:      evacuation.ErrNoPathFound,
		}
	}

	result := &evacuation.Result{
		Path:         raw.Path,
		FloodedZones: raw.FloodedZones,
	}
	if result.Path == nil {
		result.Path = []evacuation.LatLng{}
	}
	if result.FloodedZones == nil {
		result.FloodedZones = []evacuation.Polygon{}
	}
	return result, nil
}

// handleErrorResponse maps non-2xx responses to domain errors.
func handleErrorResponse(statusCode int, body []byte) error {
	var detail errorResponse
	message := fmt.Sprintf("flood service returned status %d", statusCode)
	if err := json.Unmarshal(body, &detail); err == nil && detail.message() != "" {
		message = detail.message()
	}

	switch {
	case statusCode == http.StatusTooManyRequests:
		return &evacuation.Error{
			Provider: ProviderName,
			Code:     "RATE_LIMIT",
			Message:  message,
			Err:      evacuation.ErrProviderUnavailable,
		}
	case statusCode >= 500:
		return &evacuation.Error{
			Provider: ProviderName,
			Code:     "SERVER_" + strconv.Itoa(statusCode),
			Message:  message,
			Err:      evacuation.ErrProviderUnavailable,
		}
	default:
		return &evacuation.Error{
			Provider: ProviderName,
			Code:     "HTTP_" + strconv.Itoa(statusCode),
			Message:  message,
			Err:      evacuation.ErrMalformedResponse,
		}
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
