// Package metrics exposes the Prometheus collectors shared across the
// serve and worker processes. Collectors register on the default registry;
// /metrics serves them via promhttp.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestsTotal counts requests by route, method, and status class.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chowrank_http_requests_total",
			Help: "HTTP requests by route, method, and status",
		},
		[]string{"route", "method", "status"},
	)

	// HTTPRequestDuration observes request latency by route.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chowrank_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"route"},
	)

	// RateLimitRejectionsTotal counts 429s by preset.
	RateLimitRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chowrank_rate_limit_rejections_total",
			Help: "Requests rejected by the rate limiter, by preset",
		},
		[]string{"preset"},
	)

	// JobsProcessedTotal counts completed jobs by type and outcome.
	JobsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chowrank_jobs_processed_total",
			Help: "Jobs processed by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	// JobDuration observes handler runtime by job type.
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chowrank_job_duration_seconds",
			Help:    "Job handler runtime by type",
			Buckets: []float64{.1, .5, 1, 5, 15, 60, 300, 900},
		},
		[]string{"type"},
	)

	// MatchesTotal counts matcher resolutions by stage; the unmatched label
	// value tracks candidates no stage could place.
	MatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chowrank_matches_total",
			Help: "Matcher resolutions by stage",
		},
		[]string{"stage"},
	)

	// MentionsIngestedTotal counts persisted mentions by subreddit.
	MentionsIngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chowrank_mentions_ingested_total",
			Help: "Mentions persisted, by subreddit",
		},
		[]string{"subreddit"},
	)

	// ProjectionRows tracks the last observed row count per view.
	ProjectionRows = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chowrank_projection_rows",
			Help: "Row count of each ranked projection at last refresh",
		},
		[]string{"view"},
	)

	// ProjectionRefreshTotal counts refreshes by view and outcome.
	ProjectionRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chowrank_projection_refresh_total",
			Help: "Projection refreshes by view and outcome",
		},
		[]string{"view", "outcome"},
	)
)
