package resilience

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"

	"github.com/evacmap/evacmap/internal/telemetry"
)

// ErrCircuitOpen is returned without calling the provider while its breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ClientConfig configures a resilient provider client.
type ClientConfig struct {
	// Name identifies the provider in the breaker, logs and the registry.
	Name string

	// Timeout bounds each attempt. Default 10s.
	Timeout time.Duration

	// MaxRetries is the number of attempts after the first. Zero disables retries.
	MaxRetries uint64

	InitialInterval time.Duration // default 100ms
	MaxInterval     time.Duration // default 5s

	// CircuitBreaker overrides DefaultCircuitBreakerConfig(Name).
	CircuitBreaker *CircuitBreakerConfig

	// Registry, when set, receives the client and the outcome of every call.
	Registry *Registry

	// Transport is wrapped with client tracing. Defaults to http.DefaultTransport.
	Transport http.RoundTripper
}

// DefaultClientConfig retries transient failures three times.
func DefaultClientConfig(name string) ClientConfig {
	cb := DefaultCircuitBreakerConfig(name)
	return ClientConfig{
		Name:            name,
		Timeout:         10 * time.Second,
		MaxRetries:      3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		CircuitBreaker:  &cb,
	}
}

// Client sends provider requests through a circuit breaker with bounded,
// exponentially backed-off retries.
//
// A 5xx counts against the breaker and is retried. A 429 is handed back at
// once without counting against the breaker. When retries run out on a 5xx,
// the last response is returned with a nil error so the caller can read the
// provider's error body.
type Client struct {
	name     string
	http     *http.Client
	breaker  *gobreaker.CircuitBreaker[*http.Response]
	registry *Registry
	cfg      ClientConfig
}

// NewClient creates a client and registers it when cfg.Registry is set.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 100 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 5 * time.Second
	}

	cb := DefaultCircuitBreakerConfig(cfg.Name)
	if cfg.CircuitBreaker != nil {
		cb = *cfg.CircuitBreaker
		cb.Name = cfg.Name
	}

	c := &Client{
		name:     cfg.Name,
		http:     &http.Client{Timeout: cfg.Timeout, Transport: telemetry.Transport(cfg.Transport)},
		breaker:  NewCircuitBreaker[*http.Response](cb), //nolint:bodyclose // type parameter
		registry: cfg.Registry,
		cfg:      cfg,
	}
	if cfg.Registry != nil {
		cfg.Registry.Register(cfg.Name, c)
	}
	return c
}

// Name returns the provider name.
func (c *Client) Name() string {
	return c.name
}

// Do executes req under the breaker and retry policy, bounded by req's context.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.DoWithContext(req.Context(), req)
}

// DoWithContext is Do with an explicit context. Requests with a body are
// only retried when the body can be replayed through GetBody.
func (c *Client) DoWithContext(ctx context.Context, req *http.Request) (*http.Response, error) {
	retries := c.cfg.MaxRetries
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		retries = 0
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.InitialInterval
	bo.MaxInterval = c.cfg.MaxInterval
	bo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, retries), ctx)

	var last *http.Response
	attempt := 0

	operation := func() error {
		if last != nil {
			last.Body.Close()
			last = nil
		}

		attemptReq, err := c.attemptRequest(ctx, req, attempt)
		attempt++
		if err != nil {
			return backoff.Permanent(err)
		}

		resp, err := c.breaker.Execute(func() (*http.Response, error) { //nolint:bodyclose // returned to the caller
			r, err := c.http.Do(attemptReq)
			if err != nil {
				return nil, err
			}
			return r, classify(r)
		})
		last = resp

		var throttled *ThrottledError
		switch {
		case err == nil:
			return nil
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return backoff.Permanent(ErrCircuitOpen)
		case errors.As(err, &throttled), ctx.Err() != nil:
			return backoff.Permanent(err)
		default:
			return err
		}
	}

	if err := backoff.Retry(operation, policy); err != nil {
		c.recordFailure(err)
		if last != nil {
			return last, nil
		}
		return nil, err
	}

	c.recordSuccess()
	return last, nil
}

// attemptRequest clones req for one attempt, rewinding the body after the first.
func (c *Client) attemptRequest(ctx context.Context, req *http.Request, attempt int) (*http.Request, error) {
	r := req.Clone(ctx)
	if attempt == 0 || req.GetBody == nil {
		return r, nil
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("rewinding request body: %w", err)
	}
	r.Body = body
	return r, nil
}

func classify(r *http.Response) error {
	switch {
	case r.StatusCode == http.StatusTooManyRequests:
		return &ThrottledError{RetryAfter: parseRetryAfter(r.Header.Get("Retry-After"))}
	case r.StatusCode >= 500:
		return &ServerError{StatusCode: r.StatusCode}
	default:
		return nil
	}
}

func (c *Client) recordSuccess() {
	if c.registry != nil {
		c.registry.RecordSuccess(c.name)
	}
}

func (c *Client) recordFailure(err error) {
	if c.registry != nil {
		c.registry.RecordFailure(c.name, err)
	}
}

// CircuitBreakerState returns the breaker's current state.
func (c *Client) CircuitBreakerState() gobreaker.State {
	return c.breaker.State()
}

// CircuitBreakerCounts returns the breaker's counts for the current generation.
func (c *Client) CircuitBreakerCounts() gobreaker.Counts {
	return c.breaker.Counts()
}

// ServerError is a 5xx answer from a provider.
type ServerError struct {
	StatusCode int
}

func (e *ServerError) Error() string {
	return "server error: " + strconv.Itoa(e.StatusCode) + " " + http.StatusText(e.StatusCode)
}

// ThrottledError is a 429 answer. RetryAfter is zero when the provider sent
// no usable Retry-After header.
type ThrottledError struct {
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	if e.RetryAfter > 0 {
		return "throttled, retry after " + e.RetryAfter.String()
	}
	return "throttled"
}

// parseRetryAfter accepts the delay-seconds form only.
func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
