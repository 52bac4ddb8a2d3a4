// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ranking engine
var (
	// ComparisonsTotal counts answered comparison prompts.
	ComparisonsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tierlist_comparisons_total",
			Help: "Total comparison prompts answered",
		},
	)

	// SessionsTotal counts rating sessions by how they ended.
	SessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tierlist_sessions_total",
			Help: "Rating sessions by result (completed/cancelled/failed/expired)",
		},
		[]string{"result"},
	)

	// SessionsOpen tracks sessions awaiting an answer.
	SessionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tierlist_sessions_open",
			Help: "Rating sessions currently awaiting an answer",
		},
	)
)

// Community aggregation
var (
	// AggregateUpdatesTotal counts aggregator mutations by operation and status.
	AggregateUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tierlist_aggregate_updates_total",
			Help: "Community aggregate mutations by operation (contribute/revise/retract) and status",
		},
		[]string{"op", "status"},
	)

	// AggregatesTracked counts catalog ids held in memory by the aggregator.
	AggregatesTracked = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tierlist_aggregates_tracked",
			Help: "Catalog ids whose community aggregate is held in memory",
		},
	)

	// CacheLookupsTotal counts community rating cache lookups by result.
	CacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tierlist_cache_lookups_total",
			Help: "Community rating cache lookups by result (hit/miss/error)",
		},
		[]string{"result"},
	)
)

// Write-behind persistence
var (
	// PersistJobsTotal counts persistence jobs by kind and status.
	PersistJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tierlist_persist_jobs_total",
			Help: "Write-behind persistence jobs by kind and status",
		},
		[]string{"kind", "status"},
	)

	// PersistQueueDepth tracks jobs waiting across all sink queues.
	PersistQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tierlist_persist_queue_depth",
			Help: "Persistence jobs currently queued",
		},
	)

	// PersistDuration tracks how long a single write takes.
	PersistDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tierlist_persist_duration_seconds",
			Help:    "Write-behind persistence job duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"kind"},
	)
)

// Catalog client
var (
	// CatalogRequestsTotal counts metadata lookups by outcome.
	CatalogRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tierlist_catalog_requests_total",
			Help: "Remote catalog lookups by status (ok/not_found/error)",
		},
		[]string{"status"},
	)
)

// HTTP
var (
	// HTTPRequestsTotal counts served requests.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tierlist_http_requests_total",
			Help: "HTTP requests by route, method and status",
		},
		[]string{"route", "method", "status"},
	)

	// HTTPRequestDuration tracks request latency in seconds.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tierlist_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)
)
