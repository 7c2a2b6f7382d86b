package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"github.com/evacmap/evacmap/internal/api/models"
)

// RateLimitConfig is a fixed budget of requests per sliding window.
type RateLimitConfig struct {
	RequestLimit int
	WindowLength time.Duration
}

var (
	// QueryRateLimit bounds evacuation queries, each of which reaches the flood service.
	QueryRateLimit = RateLimitConfig{RequestLimit: 30, WindowLength: time.Minute}

	// StandardRateLimit bounds the read-only endpoints.
	StandardRateLimit = RateLimitConfig{RequestLimit: 100, WindowLength: time.Minute}
)

// retryAfter is the Retry-After value in whole seconds. httprate does not
// expose the reset time of the current window, so the full window is used.
func (c RateLimitConfig) retryAfter() string {
	secs := int(math.Ceil(c.WindowLength.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// RateLimitByIP limits requests per client address. Run chi's RealIP first
// when the server sits behind a proxy.
func RateLimitByIP(cfg RateLimitConfig) func(http.Handler) http.Handler {
	return cfg.limiter(httprate.KeyByRealIP)
}

// RateLimitBySession limits requests per display session, so browsers behind
// one NAT do not share a budget. Requests without a session fall back to the
// client address.
func RateLimitBySession(cfg RateLimitConfig) func(http.Handler) http.Handler {
	return cfg.limiter(keyBySessionOrIP)
}

func (c RateLimitConfig) limiter(key httprate.KeyFunc) func(http.Handler) http.Handler {
	return httprate.Limit(
		c.RequestLimit,
		c.WindowLength,
		httprate.WithKeyFuncs(key),
		httprate.WithLimitHandler(c.exceeded),
	)
}

func keyBySessionOrIP(r *http.Request) (string, error) {
	if id := GetSessionID(r.Context()); id != "" {
		return "session:" + id, nil
	}
	return httprate.KeyByRealIP(r)
}

func (c RateLimitConfig) exceeded(w http.ResponseWriter, r *http.Request) {
	problem := models.NewTooManyRequests(GetRequestID(r.Context()),
		"Too many requests for this session. Wait before submitting again.")
	problem.Instance = r.URL.Path

	w.Header().Set("Retry-After", c.retryAfter())
	problem.Write(w)
}
