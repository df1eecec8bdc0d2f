// Package telemetry holds the OTel metric instruments.
package telemetry

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds caravel-specific OTel metric instruments.
type Metrics struct {
	// Rollouts
	RolloutTotal    metric.Int64Counter
	RolloutErrors   metric.Int64Counter
	RolloutDuration metric.Float64Histogram
	Rollbacks       metric.Int64Counter

	// Routing
	RoutesActive  metric.Int64UpDownCounter
	RoutesPending metric.Int64UpDownCounter

	// Events
	EventsProcessed metric.Int64Counter
	EventsDropped   metric.Int64Counter
}

// NewMetrics creates and registers all metric instruments.
// All fields are always initialized — OTel returns noop instruments when no
// MeterProvider is set, so callers never need nil checks on the instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("caravel")
	m := &Metrics{}
	var err error

	if m.RolloutTotal, err = meter.Int64Counter("caravel.rollout.total",
		metric.WithDescription("Total number of rollouts")); err != nil {
		return nil, err
	}
	if m.RolloutErrors, err = meter.Int64Counter("caravel.rollout.errors",
		metric.WithDescription("Total rollout failures")); err != nil {
		return nil, err
	}
	if m.RolloutDuration, err = meter.Float64Histogram("caravel.rollout.duration_seconds",
		metric.WithDescription("Rollout duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 30, 60, 120, 300)); err != nil {
		return nil, err
	}
	if m.Rollbacks, err = meter.Int64Counter("caravel.rollout.rollbacks",
		metric.WithDescription("Total automatic and operator rollbacks")); err != nil {
		return nil, err
	}
	if m.RoutesActive, err = meter.Int64UpDownCounter("caravel.routes.active",
		metric.WithDescription("Routes currently active")); err != nil {
		return nil, err
	}
	if m.RoutesPending, err = meter.Int64UpDownCounter("caravel.routes.pending_certificate",
		metric.WithDescription("Routes waiting on certificate binding")); err != nil {
		return nil, err
	}
	if m.EventsProcessed, err = meter.Int64Counter("caravel.events.processed",
		metric.WithDescription("Total events processed")); err != nil {
		return nil, err
	}
	if m.EventsDropped, err = meter.Int64Counter("caravel.events.dropped",
		metric.WithDescription("Total events dropped")); err != nil {
		return nil, err
	}

	return m, nil
}
