package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/evacmap/evacmap/internal/api/middleware"
)

func manualMeter(t *testing.T) *sdkmetric.ManualReader {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	otel.SetMeterProvider(mp)
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	return reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func metricsRouter(t *testing.T) http.Handler {
	t.Helper()
	metrics, err := middleware.NewMetrics()
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(metrics.Middleware())
	r.Get("/v1/display.svg", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<svg/>"))
	})
	r.Post("/v1/evacuation-queries", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})
	r.Get("/v1/display/events", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(": keep-alive\n\n"))
	})
	return r
}

func TestMetrics_CountsByRouteAndStatus(t *testing.T) {
	reader := manualMeter(t)
	router := metricsRouter(t)

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/display.svg", http.NoBody))
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/display.svg", http.NoBody))
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/evacuation-queries", http.NoBody))

	got := collect(t, reader)
	total, ok := got["http.server.request.count"].Data.(metricdata.Sum[int64])
	require.True(t, ok)

	counts := map[string]int64{}
	for _, dp := range total.DataPoints {
		route, _ := dp.Attributes.Value(attribute.Key("http.route"))
		status, _ := dp.Attributes.Value(attribute.Key("http.response.status_code"))
		counts[route.AsString()+" "+status.Emit()] += dp.Value

		errType, isError := dp.Attributes.Value(attribute.Key("error.type"))
		assert.Equal(t, status.AsInt64() == 409, isError)
		if isError {
			assert.Equal(t, "409", errType.AsString())
		}
	}
	assert.Equal(t, map[string]int64{
		"/v1/display.svg 200":        2,
		"/v1/evacuation-queries 409": 1,
	}, counts)
}

func TestMetrics_StreamsSkipDuration(t *testing.T) {
	reader := manualMeter(t)
	router := metricsRouter(t)

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/display/events", http.NoBody))

	got := collect(t, reader)
	assert.Contains(t, got, "http.server.request.count")
	assert.NotContains(t, got, "http.server.request.duration")
}

func TestMetrics_UnmatchedRoutesShareOneSeries(t *testing.T) {
	reader := manualMeter(t)
	router := metricsRouter(t)

	for _, path := range []string{"/wp-login.php", "/v1/nope", "/.env"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, http.NoBody))
	}

	total := collect(t, reader)["http.server.request.count"].Data.(metricdata.Sum[int64])
	require.Len(t, total.DataPoints, 1)
	route, _ := total.DataPoints[0].Attributes.Value(attribute.Key("http.route"))
	assert.Equal(t, "unmatched", route.AsString())
	assert.Equal(t, int64(3), total.DataPoints[0].Value)
}

func TestMetrics_InFlightReturnsToZero(t *testing.T) {
	reader := manualMeter(t)
	router := metricsRouter(t)

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/display.svg", http.NoBody))

	inFlight, ok := collect(t, reader)["http.server.active_requests"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	for _, dp := range inFlight.DataPoints {
		assert.Equal(t, int64(0), dp.Value)
	}
}
