package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (refresh storms).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight.
	HTTPRequestsInFlight prometheus.Gauge

	// Weather API call rate per outcome. Watch for: error vs success ratio.
	WeatherAPICallsTotal *prometheus.CounterVec

	// Weather API latency per attempt. Watch for: p95 close to the client timeout.
	WeatherAPIDuration *prometheus.HistogramVec

	// Retry attempts beyond the first. High values = unstable upstream.
	WeatherAPIRetriesTotal prometheus.Counter

	// Pipeline results by source: fresh, cache, sentinel, not_ready.
	WeatherFetchesTotal *prometheus.CounterVec

	// Cached snapshot served instead of a fresh one, by reason (no_network, fetch_failed).
	CacheFallbacksTotal *prometheus.CounterVec

	// Durable cache store failures by operation (load, save, clear).
	CacheStoreErrorsTotal *prometheus.CounterVec

	// Diagnostic events sent through the EventSink.
	DiagnosticEventsTotal *prometheus.CounterVec

	// Location tracker state: 0 uninitialized, 1 initializing, 2 ready.
	LocationState prometheus.Gauge

	// Location fixes received from the active backend.
	LocationFixesTotal *prometheus.CounterVec

	// Updater requests handled, by trigger kind (scheduled, user, silent, location_ready, connectivity).
	UpdaterRequestsTotal *prometheus.CounterVec

	// Refresh requests denied by the rate limiter (429).
	RefreshDeniedTotal prometheus.Counter

	// Circuit breaker state per component: 0 closed, 1 half-open, 2 open.
	CircuitBreakerState *prometheus.GaugeVec

	// Circuit breaker transitions per component.
	CircuitBreakerTransitionsTotal *prometheus.CounterVec
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	WeatherAPICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherApiCallsTotal",
			Help: "Total number of weather API calls",
		},
		[]string{"status"},
	)
	WeatherAPIDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weatherApiDurationSeconds",
			Help:    "Weather API latency in seconds (per attempt)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"status"},
	)
	WeatherAPIRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "weatherApiRetriesTotal",
			Help: "Total number of retry attempts for weather API calls",
		},
	)
	WeatherFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherFetchesTotal",
			Help: "Weather pipeline results by source",
		},
		[]string{"source"},
	)
	CacheFallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheFallbacksTotal",
			Help: "Cached snapshots served in place of a fresh reading",
		},
		[]string{"reason"},
	)
	CacheStoreErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheStoreErrorsTotal",
			Help: "Durable cache store errors by operation",
		},
		[]string{"operation"},
	)
	DiagnosticEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "diagnosticEventsTotal",
			Help: "Diagnostic events reported by the weather pipeline",
		},
		[]string{"event", "fatal"},
	)
	LocationState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "locationState",
			Help: "Location tracker state (0 uninitialized, 1 initializing, 2 ready)",
		},
	)
	LocationFixesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "locationFixesTotal",
			Help: "Location fixes received, by backend",
		},
		[]string{"backend"},
	)
	UpdaterRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "updaterRequestsTotal",
			Help: "Widget update requests handled by the updater worker",
		},
		[]string{"trigger"},
	)
	RefreshDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "refreshDeniedTotal",
			Help: "Total number of refresh requests denied by rate limiter (429)",
		},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"component"},
	)
	CircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions",
		},
		[]string{"component", "from", "to"},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		WeatherAPICallsTotal, WeatherAPIDuration, WeatherAPIRetriesTotal,
		WeatherFetchesTotal, CacheFallbacksTotal, CacheStoreErrorsTotal,
		DiagnosticEventsTotal,
		LocationState, LocationFixesTotal,
		UpdaterRequestsTotal, RefreshDeniedTotal,
		CircuitBreakerState, CircuitBreakerTransitionsTotal,
	)
}

// RecordCircuitBreakerTransition counts a breaker transition and updates the state gauge.
func RecordCircuitBreakerTransition(component, from, to string) {
	CircuitBreakerTransitionsTotal.WithLabelValues(component, from, to).Inc()
	CircuitBreakerState.WithLabelValues(component).Set(circuitBreakerStateValue(to))
}

func circuitBreakerStateValue(state string) float64 {
	switch state {
	case "half-open":
		return 1
	case "open":
		return 2
	default:
		return 0
	}
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
