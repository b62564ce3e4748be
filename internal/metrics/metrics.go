// Package metrics exposes Prometheus collectors for the harvester, the
// external movie API client, the similarity engine, and the query API.
//
// Collectors are registered on the default registry through promauto and are
// served at /metrics by the query API.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HarvestPages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_pages_total",
			Help: "Listing pages processed by the harvester",
		},
		[]string{"outcome"}, // ok, skipped
	)

	HarvestItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_items_total",
			Help: "Catalog items appended by the harvester",
		},
		[]string{"outcome"}, // enriched, unenriched
	)

	HarvestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "harvest_duration_seconds",
			Help:    "Duration of complete harvest runs",
			Buckets: []float64{1, 10, 60, 300, 600, 1800, 3600},
		},
	)

	HarvestLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "harvest_last_success_timestamp",
			Help: "Unix timestamp of the last harvest run that wrote a catalog",
		},
	)

	MovieAPIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "movie_api_requests_total",
			Help: "Requests issued to the external movie API",
		},
		[]string{"endpoint", "outcome"}, // outcome: ok, transport, parse, rejected
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	EngineRebuilds = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_rebuilds_total",
			Help: "Full similarity index rebuilds",
		},
	)

	EngineRebuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "engine_rebuild_duration_seconds",
			Help:    "Time spent building soup, TF-IDF vectors and the similarity matrix",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		},
	)

	EngineIndexSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "engine_index_items",
			Help: "Rows in the most recently built similarity index",
		},
	)

	SearchRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "search_requests_total",
			Help: "Title searches answered by the engine",
		},
		[]string{"outcome"}, // found, not_found
	)

	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sessions_active",
			Help: "Live authenticated sessions",
		},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Query API requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Query API request latency",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		},
		[]string{"method", "route"},
	)
)

// RecordHTTPRequest records one served request.
func RecordHTTPRequest(method, route string, status int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// RecordRebuild records one completed engine rebuild over n items.
func RecordRebuild(n int, d time.Duration) {
	EngineRebuilds.Inc()
	EngineRebuildDuration.Observe(d.Seconds())
	EngineIndexSize.Set(float64(n))
}
