package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/evacmap/evacmap/internal/telemetry"

// Query outcomes recorded by QueryMetrics.
const (
	OutcomePath      = "path"
	OutcomeNoPath    = "no_path"
	OutcomeFailure   = "failure"
	OutcomeInvalid   = "invalid"
	OutcomeBusy      = "busy"
	OutcomeDiscarded = "discarded"
)

// Instruments are recorded with a background context: a query whose caller
// went away still counts.
var bg = context.Background()

// QueryMetrics counts evacuation queries by outcome. A nil *QueryMetrics
// records nothing.
type QueryMetrics struct {
	total    metric.Int64Counter
	duration metric.Float64Histogram
	pending  metric.Int64UpDownCounter
}

// NewQueryMetrics creates a new set of query outcome instruments.
func NewQueryMetrics() (*QueryMetrics, error) {
	meter := otel.Meter(meterName)

	var (
		m    QueryMetrics
		errs [3]error
	)
	m.total, errs[0] = meter.Int64Counter("evacuation.query.total",
		metric.WithDescription("Evacuation queries by outcome"),
		metric.WithUnit("{query}"))
	m.duration, errs[1] = meter.Float64Histogram("evacuation.query.duration",
		metric.WithDescription("Time from issuing a query to its result"),
		metric.WithUnit("s"))
	m.pending, errs[2] = meter.Int64UpDownCounter("evacuation.query.in_flight",
		metric.WithDescription("Queries awaiting the flood service"),
		metric.WithUnit("{query}"))
	if err := errors.Join(errs[:]...); err != nil {
		return nil, err
	}
	return &m, nil
}

func outcome(o string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("query.outcome", o))
}

// Started marks a query as issued to the flood service.
func (m *QueryMetrics) Started() {
	if m != nil {
		m.pending.Add(bg, 1)
	}
}

// Finished records the result of a query passed to Started.
func (m *QueryMetrics) Finished(o string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.pending.Add(bg, -1)
	m.duration.Record(bg, elapsed.Seconds(), outcome(o))
	m.total.Add(bg, 1, outcome(o))
}

// Rejected records a query turned away before reaching the flood service.
func (m *QueryMetrics) Rejected(o string) {
	if m != nil {
		m.total.Add(bg, 1, outcome(o))
	}
}

// ProviderMetrics tracks calls to upstream providers and the cache in front
// of them. A nil *ProviderMetrics records nothing.
type ProviderMetrics struct {
	duration metric.Float64Histogram
	total    metric.Int64Counter
	lookups  metric.Int64Counter
}

// NewProviderMetrics creates a new set of provider call instruments.
func NewProviderMetrics() (*ProviderMetrics, error) {
	meter := otel.Meter(meterName)

	var (
		m    ProviderMetrics
		errs [3]error
	)
	m.duration, errs[0] = meter.Float64Histogram("provider.request.duration",
		metric.WithDescription("Provider call latency, retries included"),
		metric.WithUnit("s"))
	m.total, errs[1] = meter.Int64Counter("provider.request.total",
		metric.WithDescription("Provider calls"),
		metric.WithUnit("{request}"))
	m.lookups, errs[2] = meter.Int64Counter("provider.cache.lookups",
		metric.WithDescription("Cache lookups in front of a provider, by result"),
		metric.WithUnit("{lookup}"))
	if err := errors.Join(errs[:]...); err != nil {
		return nil, err
	}
	return &m, nil
}

func providerAttrs(provider, operation string, extra ...attribute.KeyValue) metric.MeasurementOption {
	return metric.WithAttributes(append([]attribute.KeyValue{
		attribute.String("provider.name", provider),
		attribute.String("provider.operation", operation),
	}, extra...)...)
}

// RecordRequest records one provider call; err marks it failed.
func (m *ProviderMetrics) RecordRequest(provider, operation string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := providerAttrs(provider, operation, attribute.Bool("error", err != nil))
	m.duration.Record(bg, elapsed.Seconds(), attrs)
	m.total.Add(bg, 1, attrs)
}

// RecordCacheHit counts an answer served from a cache.
func (m *ProviderMetrics) RecordCacheHit(provider, operation string) {
	if m != nil {
		m.lookups.Add(bg, 1, providerAttrs(provider, operation, attribute.String("cache.result", "hit")))
	}
}

// RecordCacheMiss counts a lookup that had to reach the provider.
func (m *ProviderMetrics) RecordCacheMiss(provider, operation string) {
	if m != nil {
		m.lookups.Add(bg, 1, providerAttrs(provider, operation, attribute.String("cache.result", "miss")))
	}
}
