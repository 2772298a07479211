// Recserve - Recommendation Serving and Offline Training Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recserve

// Package metrics defines the Prometheus instruments exported by recserve,
// the Aggregator that maintains the CTR and drift windows behind the business
// gauges, and the file-based multi-process export used when several server
// processes share one scrape target.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP surface
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"path"},
	)

	HTTPRequestErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_request_errors_total",
			Help: "Total HTTP errors",
		},
		[]string{"path", "code"},
	)

	HTTPRequestLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_latency_seconds",
			Help:    "HTTP request latency (s)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path"},
	)

	// Model serving
	ModelInferenceLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "model_inference_latency_seconds",
			Help:    "Model inference latency (s)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model_version", "region"},
	)

	Impressions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "impressions_total",
			Help: "Recommendations served (impressions)",
		},
		[]string{"model_version", "region"},
	)

	Clicks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clicks_total",
			Help: "Clicks recorded",
		},
		[]string{"model_version", "region"},
	)

	CTR = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ctr_ratio",
			Help: "Rolling CTR ratio",
		},
		[]string{"model_version", "region"},
	)

	// Feature pipeline and data quality
	FeatureIngestRate = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feature_ingest_rate_total",
			Help: "Feature ingest rows",
		},
		[]string{"region"},
	)

	FeatureLag = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "feature_lag_seconds",
			Help: "Feature lag (s)",
		},
		[]string{"region"},
	)

	DataDrift = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "data_drift_score",
			Help: "Lightweight drift score (0..1)",
		},
		[]string{"region"},
	)

	// Embedding backend
	EmbeddingRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "embedding_requests_total",
			Help: "Calls to the embedding backend by outcome",
		},
		[]string{"provider", "outcome"}, // "ok", "error"
	)

	EmbeddingCacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "embedding_cache_requests_total",
			Help: "Embedding cache lookups by result",
		},
		[]string{"result"}, // "hit", "miss", "error"
	)

	// Feedback event stream
	FeedbackEventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedback_events_published_total",
			Help: "Feedback events handed to the event stream by outcome",
		},
		[]string{"outcome"},
	)
)

// RecordHTTPRequest counts a request before it is dispatched.
func RecordHTTPRequest(path string) {
	HTTPRequests.WithLabelValues(path).Inc()
}

// RecordHTTPResult records latency and, for status >= 400, an error.
func RecordHTTPResult(path string, status int, duration time.Duration) {
	HTTPRequestLatency.WithLabelValues(path).Observe(duration.Seconds())
	if status >= 400 {
		HTTPRequestErrors.WithLabelValues(path, strconv.Itoa(status)).Inc()
	}
}

// RecordEmbeddingRequest counts one backend call.
func RecordEmbeddingRequest(provider string, err error) {
	EmbeddingRequests.WithLabelValues(provider, outcome(err)).Inc()
}

// RecordEmbeddingCache counts one cache lookup.
func RecordEmbeddingCache(hit bool, err error) {
	switch {
	case err != nil:
		EmbeddingCacheRequests.WithLabelValues("error").Inc()
	case hit:
		EmbeddingCacheRequests.WithLabelValues("hit").Inc()
	default:
		EmbeddingCacheRequests.WithLabelValues("miss").Inc()
	}
}

// RecordFeedbackPublish counts one publish attempt.
func RecordFeedbackPublish(err error) {
	FeedbackEventsPublished.WithLabelValues(outcome(err)).Inc()
}

// RecordFeatureIngest adds n ingested events and sets the lag gauge.
func RecordFeatureIngest(region string, n int, lag time.Duration) {
	FeatureIngestRate.WithLabelValues(region).Add(float64(n))
	FeatureLag.WithLabelValues(region).Set(lag.Seconds())
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
