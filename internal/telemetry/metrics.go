package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/ecovibe/ecovibe/internal/session"
)

// Outcome attribute values.
const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeAnonymous = "anonymous"
	OutcomeRestored  = "restored"
	OutcomeLookedUp  = "looked_up"
	OutcomeDiscarded = "discarded"
	OutcomeChanged   = "changed"
	OutcomeUnchanged = "unchanged"
	OutcomeExpired   = "expired"
)

// Metrics holds the session instruments.
type Metrics struct {
	LoginsTotal             metric.Int64Counter
	LogoutsTotal            metric.Int64Counter
	LogoutInvalidationFails metric.Int64Counter
	HydrationsTotal         metric.Int64Counter
	ResyncsTotal            metric.Int64Counter
	RefreshesTotal          metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// Tracer returns the tracer used for session operations.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// Record adds one to counter tagged with outcome.
func Record(ctx context.Context, counter metric.Int64Counter, outcome string) {
	counter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(instrumentationName)

	m := &Metrics{}

	m.LoginsTotal, _ = meter.Int64Counter(
		"ecovibe.session.logins.total",
		metric.WithDescription("Login attempts by outcome"),
		metric.WithUnit("{login}"),
	)

	m.LogoutsTotal, _ = meter.Int64Counter(
		"ecovibe.session.logouts.total",
		metric.WithDescription("Local sign-outs"),
		metric.WithUnit("{logout}"),
	)

	m.LogoutInvalidationFails, _ = meter.Int64Counter(
		"ecovibe.session.logout.invalidation_failures.total",
		metric.WithDescription("Server-side logout calls that failed and were ignored"),
		metric.WithUnit("{error}"),
	)

	m.HydrationsTotal, _ = meter.Int64Counter(
		"ecovibe.session.hydrations.total",
		metric.WithDescription("Startup hydrations by outcome"),
		metric.WithUnit("{hydration}"),
	)

	m.ResyncsTotal, _ = meter.Int64Counter(
		"ecovibe.session.resyncs.total",
		metric.WithDescription("Storage reconciliations by outcome"),
		metric.WithUnit("{resync}"),
	)

	m.RefreshesTotal, _ = meter.Int64Counter(
		"ecovibe.session.refreshes.total",
		metric.WithDescription("Silent access token refreshes by outcome"),
		metric.WithUnit("{refresh}"),
	)

	return m
}
