package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/evacmap/evacmap/internal/api/middleware"

// Metrics records OpenTelemetry HTTP server instruments per matched route.
type Metrics struct {
	duration metric.Float64Histogram
	count    metric.Int64Counter
	active   metric.Int64UpDownCounter
	bodySize metric.Int64Histogram
}

// NewMetrics registers the instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)

	var (
		m    Metrics
		errs [4]error
	)
	m.duration, errs[0] = meter.Float64Histogram("http.server.request.duration",
		metric.WithDescription("Time to serve a request, excluding event streams"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	m.count, errs[1] = meter.Int64Counter("http.server.request.count",
		metric.WithDescription("Requests served"),
		metric.WithUnit("{request}"),
	)
	m.active, errs[2] = meter.Int64UpDownCounter("http.server.active_requests",
		metric.WithDescription("Requests being served, including open event streams"),
		metric.WithUnit("{request}"),
	)
	m.bodySize, errs[3] = meter.Int64Histogram("http.server.response.body.size",
		metric.WithDescription("Response body bytes written"),
		metric.WithUnit("By"),
	)
	if err := errors.Join(errs[:]...); err != nil {
		return nil, err
	}
	return &m, nil
}

// Middleware records every request once the handler returns.
func (m *Metrics) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			start := time.Now()
			method := attribute.String("http.request.method", r.Method)

			m.active.Add(ctx, 1, metric.WithAttributes(method))
			defer m.active.Add(ctx, -1, metric.WithAttributes(method))

			sw := newStatusWriter(w)
			next.ServeHTTP(sw, r)

			attrs := []attribute.KeyValue{
				method,
				attribute.String("http.route", routePattern(r)),
				attribute.Int("http.response.status_code", sw.status),
			}
			if sw.status >= http.StatusBadRequest {
				attrs = append(attrs, attribute.String("error.type", strconv.Itoa(sw.status)))
			}
			set := metric.WithAttributeSet(attribute.NewSet(attrs...))

			m.count.Add(ctx, 1, set)
			m.bodySize.Record(ctx, sw.written, set)
			if !sw.streaming() {
				m.duration.Record(ctx, time.Since(start).Seconds(), set)
			}
		})
	}
}

// routePattern is the chi pattern that matched, so path parameters and
// unknown paths do not explode cardinality. Outside a router it is the path.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	if pattern := rctx.RoutePattern(); pattern != "" {
		return pattern
	}
	return "unmatched"
}
