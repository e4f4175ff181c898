// Package metrics provides Prometheus metrics for datasource routing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "dynamic_datasource"
	subsystem = "routing"
)

// Lookup failure reasons. Kept to a small fixed set to bound cardinality.
const (
	ReasonNotFound          = "not_found"
	ReasonNoCandidates      = "no_candidates"
	ReasonUnknownKey        = "unknown_key"
	ReasonDefaultFallback   = "default_fallback"
	ReasonProviderAcquire   = "provider_acquire"
	ReasonInvalidRoutingKey = "invalid_routing_key"
)

var (
	// Selections counts successful datasource selections by datasource and strategy.
	Selections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "selections_total",
			Help:      "Total number of successful datasource selections",
		},
		[]string{"datasource", "strategy"},
	)

	// LookupFailures counts failed or redirected lookups by reason.
	LookupFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "lookup_failures_total",
			Help:      "Total number of routing lookups that failed or fell back, by reason",
		},
		[]string{"reason"},
	)

	// DegradedResolutions counts group resolutions that served unhealthy members
	// because no healthy member was left.
	DegradedResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "degraded_resolutions_total",
			Help:      "Total number of group resolutions served from unhealthy datasources",
		},
		[]string{"group"},
	)

	// HealthTransitions counts health flag changes by datasource and new state.
	HealthTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "health_transitions_total",
			Help:      "Total number of datasource health changes",
		},
		[]string{"datasource", "state"},
	)

	// DataSourceHealthy reports the current health flag (1 = healthy, 0 = unhealthy).
	DataSourceHealthy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "datasource_healthy",
			Help:      "Datasource health flag (1 = healthy, 0 = unhealthy)",
		},
		[]string{"datasource"},
	)

	// RegisteredDataSources tracks the registry size.
	RegisteredDataSources = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "registered_datasources",
			Help:      "Number of datasources currently registered",
		},
	)

	// BreakerState reports circuit breaker state per datasource
	// (0 = closed, 1 = open, 2 = half-open).
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0 = closed, 1 = open, 2 = half-open)",
		},
		[]string{"datasource"},
	)

	// AcquireLatency tracks how long providers take to hand out a connection.
	AcquireLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "acquire_latency_seconds",
			Help:      "Connection acquisition latency in seconds",
			Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 5},
		},
		[]string{"datasource"},
	)
)

// RecordSelection records a successful selection.
func RecordSelection(datasource, strategy string) {
	if strategy == "" {
		strategy = "exact"
	}
	Selections.WithLabelValues(datasource, strategy).Inc()
}

// RecordLookupFailure records a failed or redirected lookup.
func RecordLookupFailure(reason string) {
	LookupFailures.WithLabelValues(reason).Inc()
}

// RecordDegraded records a degrade-to-unhealthy resolution for group.
func RecordDegraded(group string) {
	DegradedResolutions.WithLabelValues(group).Inc()
}

// RecordHealth records a health flag change.
func RecordHealth(datasource string, healthy bool) {
	state := "unhealthy"
	value := 0.0
	if healthy {
		state = "healthy"
		value = 1
	}
	HealthTransitions.WithLabelValues(datasource, state).Inc()
	DataSourceHealthy.WithLabelValues(datasource).Set(value)
}

// SetHealthy sets the health gauge without counting a transition.
func SetHealthy(datasource string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1
	}
	DataSourceHealthy.WithLabelValues(datasource).Set(value)
}

// ForgetDataSource drops the per-datasource gauge of a removed datasource.
func ForgetDataSource(datasource string) {
	DataSourceHealthy.DeleteLabelValues(datasource)
}

// SetBreakerState sets the breaker state gauge.
func SetBreakerState(datasource string, state int) {
	BreakerState.WithLabelValues(datasource).Set(float64(state))
}

// ForgetBreaker drops the breaker gauge of a removed datasource.
func ForgetBreaker(datasource string) {
	BreakerState.DeleteLabelValues(datasource)
}

// SetRegistered sets the registry size gauge.
func SetRegistered(n int) {
	RegisteredDataSources.Set(float64(n))
}

// ObserveAcquire records acquisition latency for datasource.
func ObserveAcquire(datasource string, d time.Duration) {
	AcquireLatency.WithLabelValues(datasource).Observe(d.Seconds())
}

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
