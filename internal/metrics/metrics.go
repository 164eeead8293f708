// Package metrics holds the Prometheus collectors for the directory API,
// the importer and the change-event pipeline. Collectors register with the
// default registry on package init and are exposed on /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mobilepost_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "route", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mobilepost_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "route"},
	)

	APIErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mobilepost_api_errors_total",
			Help: "Error envelopes returned to clients, by error code",
		},
		[]string{"errcode"},
	)

	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mobilepost_rate_limit_hits_total",
			Help: "Total number of rate limit rejections",
		},
		[]string{"route"},
	)

	// Store
	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mobilepost_store_errors_total",
			Help: "Failed store statements by operation and classified kind",
		},
		[]string{"operation", "kind"},
	)

	// Response cache
	CacheResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mobilepost_cache_results_total",
			Help: "Response cache lookups by result",
		},
		[]string{"result"}, // "hit", "miss", "error"
	)

	CacheInvalidations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mobilepost_cache_invalidations_total",
			Help: "Cache generation bumps after successful writes",
		},
	)

	// Change events
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mobilepost_events_published_total",
			Help: "Change events handed to the broker by result",
		},
		[]string{"result"}, // "ok", "error", "dropped", "breaker_open"
	)

	EventsConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mobilepost_events_consumed_total",
			Help: "Change events read by the audit consumer",
		},
		[]string{"action"},
	)

	// Importer
	ImportRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mobilepost_import_records_total",
			Help: "Imported records by outcome",
		},
		[]string{"outcome"}, // "inserted", "updated", "unchanged", "skipped", "error"
	)
)

// RecordAPIRequest records an API request metric.
func RecordAPIRequest(method, route string, status int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordAPIError counts one error envelope.
func RecordAPIError(errcode string) {
	APIErrorsTotal.WithLabelValues(errcode).Inc()
}

// RecordStoreError counts one failed store statement.
func RecordStoreError(operation, kind string) {
	StoreErrors.WithLabelValues(operation, kind).Inc()
}

// RecordCacheResult counts one cache lookup.
func RecordCacheResult(result string) {
	CacheResults.WithLabelValues(result).Inc()
}

// RecordEventPublish counts one publish attempt.
func RecordEventPublish(result string) {
	EventsPublished.WithLabelValues(result).Inc()
}

// RecordImport adds the counts of one import run.
func RecordImport(inserted, updated, unchanged, skipped, errs int) {
	ImportRecords.WithLabelValues("inserted").Add(float64(inserted))
	ImportRecords.WithLabelValues("updated").Add(float64(updated))
	ImportRecords.WithLabelValues("unchanged").Add(float64(unchanged))
	ImportRecords.WithLabelValues("skipped").Add(float64(skipped))
	ImportRecords.WithLabelValues("error").Add(float64(errs))
}
