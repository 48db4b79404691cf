// Package metrics exposes Prometheus collectors for the search service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	searchTermsTotal           *prometheus.CounterVec
	fetchTierTotal             *prometheus.CounterVec
	regionLookupsTotal         *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	searchActiveWorkers        prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times. Observe helpers are no-ops
// until Init has run, so library code can record unconditionally.
func Init() {
	once.Do(func() {
		searchTermsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_terms_total",
				Help: "Total number of terms processed, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		fetchTierTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_fetch_tier_total",
				Help: "Total product lookups per fetch tier, labeled by tier and outcome.",
			},
			[]string{"tier", "outcome"},
		)

		regionLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_region_lookups_total",
				Help: "Total region lookups, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		searchActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "search_active_workers",
				Help: "Number of workers currently resolving a term.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveTerm increments the term counter for the given outcome.
func ObserveTerm(outcome string) {
	if searchTermsTotal == nil {
		return
	}
	searchTermsTotal.WithLabelValues(outcome).Inc()
}

// ObserveFetchTier increments the fetch-tier counter.
func ObserveFetchTier(tier, outcome string) {
	if fetchTierTotal == nil {
		return
	}
	fetchTierTotal.WithLabelValues(tier, outcome).Inc()
}

// ObserveRegionLookup increments the region lookup counter.
func ObserveRegionLookup(outcome string) {
	if regionLookupsTotal == nil {
		return
	}
	regionLookupsTotal.WithLabelValues(outcome).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	if searchActiveWorkers == nil {
		return
	}
	searchActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	if searchActiveWorkers == nil {
		return
	}
	searchActiveWorkers.Dec()
}
