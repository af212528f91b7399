// Package metrics holds the Prometheus collectors exposed on /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "foodlens_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	// Analysis cache
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foodlens_cache_hits_total",
			Help: "Analysis cache hits by tier (memory, redis)",
		},
		[]string{"tier"},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "foodlens_cache_misses_total",
			Help: "Analysis cache misses",
		},
	)

	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foodlens_cache_evictions_total",
			Help: "Analysis cache evictions by reason (expired, capacity)",
		},
		[]string{"reason"},
	)

	CacheUnavailable = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "foodlens_cache_unavailable_total",
			Help: "Failed reads or writes against the shared cache tier",
		},
	)

	CoalescedRequests = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "foodlens_cache_coalesced_total",
			Help: "Requests served by joining an in-flight analysis",
		},
	)

	// Detection
	DetectionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "foodlens_detection_duration_seconds",
			Help:    "Vision capability latency",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"outcome"},
	)

	// Enrichment
	EnrichmentAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foodlens_enrichment_attempts_total",
			Help: "Generative AI attempts by result",
		},
		[]string{"result"},
	)

	EnrichmentOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foodlens_enrichment_outcomes_total",
			Help: "Enrichment calls by final outcome (ok, timeout, rejected)",
		},
		[]string{"outcome"},
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "foodlens_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)

	// Pipeline
	AnalysesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foodlens_analyses_total",
			Help: "Completed analyses by final state and AI enhancement",
		},
		[]string{"state", "ai_enhanced"},
	)

	// Recommendations
	RecommendationsServed = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "foodlens_recommendations_returned",
			Help:    "Number of items returned per recommendation request",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		},
	)

	// Events
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foodlens_events_published_total",
			Help: "Domain events published by topic and result",
		},
		[]string{"topic", "result"},
	)
)

// ObserveHTTP records one request.
func ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

// RecordAnalysis records the final state of an analysis.
func RecordAnalysis(state string, aiEnhanced bool) {
	AnalysesTotal.WithLabelValues(state, strconv.FormatBool(aiEnhanced)).Inc()
}
