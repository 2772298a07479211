// Recserve - Recommendation Serving and Offline Training Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recserve

package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tomtom215/recserve/internal/cache"
)

const (
	// FeedbackWindowSize is the number of recent feedback events behind ctr_ratio.
	FeedbackWindowSize = 2000

	// QueryWindowSize is the number of recent query vectors behind data_drift_score.
	QueryWindowSize = 200
)

// DriftScorer scores a window of recent query vectors against the catalog.
type DriftScorer interface {
	DriftScore(recent [][]float64) (float64, error)
}

// Labels are the constant labels of one serving process.
type Labels struct {
	ModelVersion string
	Region       string
}

// Aggregator owns the feedback and query windows and keeps the CTR and drift
// gauges in step with them. All methods are safe for concurrent use.
type Aggregator struct {
	labels   Labels
	drift    DriftScorer
	feedback *cache.Ring[uint8]
	queries  *cache.Ring[[]float64]

	impressions prometheus.Counter
	clicks      prometheus.Counter
	ctr         prometheus.Gauge
	driftGauge  prometheus.Gauge
	inference   prometheus.Observer
}

// NewAggregator binds the package instruments to labels. drift may be nil,
// in which case the drift gauge is left untouched.
func NewAggregator(labels Labels, drift DriftScorer) *Aggregator {
	return &Aggregator{
		labels:      labels,
		drift:       drift,
		feedback:    cache.NewRing[uint8](FeedbackWindowSize),
		queries:     cache.NewRing[[]float64](QueryWindowSize),
		impressions: Impressions.WithLabelValues(labels.ModelVersion, labels.Region),
		clicks:      Clicks.WithLabelValues(labels.ModelVersion, labels.Region),
		ctr:         CTR.WithLabelValues(labels.ModelVersion, labels.Region),
		driftGauge:  DataDrift.WithLabelValues(labels.Region),
		inference:   ModelInferenceLatency.WithLabelValues(labels.ModelVersion, labels.Region),
	}
}

// Labels returns the labels the aggregator was built with.
func (a *Aggregator) Labels() Labels { return a.labels }

// InitFeatureGauges exports the feature pipeline series at startup so they
// are present before the first ingest.
func (a *Aggregator) InitFeatureGauges(lagSeconds float64) {
	FeatureIngestRate.WithLabelValues(a.labels.Region).Add(0)
	FeatureLag.WithLabelValues(a.labels.Region).Set(lagSeconds)
}

// ObserveInference records the latency of one recommendation.
func (a *Aggregator) ObserveInference(d time.Duration) {
	a.inference.Observe(d.Seconds())
}

// RecordImpression counts a served recommendation list, appends a
// non-click to the feedback window and queryVec (if non-nil) to the query
// window, then refreshes the drift and CTR gauges.
//
// The returned error only reports a failed drift update. Counters, windows
// and the CTR gauge are always updated.
func (a *Aggregator) RecordImpression(queryVec []float64) error {
	a.impressions.Inc()
	a.feedback.Push(0)

	var err error
	if queryVec != nil {
		recent := a.queries.PushAndSnapshot(queryVec)
		err = a.updateDrift(recent)
	}

	a.updateCTR()
	return err
}

// RecordFeedback appends an outcome to the feedback window.
func (a *Aggregator) RecordFeedback(clicked bool) {
	var v uint8
	if clicked {
		a.clicks.Inc()
		v = 1
	}
	a.feedback.Push(v)
	a.updateCTR()
}

// CTR returns clicks / events over the feedback window, 0 when empty.
func (a *Aggregator) CTR() float64 {
	var clicks, n int
	a.feedback.Fold(func(v uint8) {
		clicks += int(v)
		n++
	})
	if n == 0 {
		return 0
	}
	return float64(clicks) / float64(n)
}

// FeedbackLen returns the number of events in the feedback window.
func (a *Aggregator) FeedbackLen() int { return a.feedback.Len() }

// QueryLen returns the number of vectors in the query window.
func (a *Aggregator) QueryLen() int { return a.queries.Len() }

func (a *Aggregator) updateCTR() {
	a.ctr.Set(a.CTR())
}

func (a *Aggregator) updateDrift(recent [][]float64) (err error) {
	if a.drift == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("drift update panicked: %v", r)
		}
	}()

	score, err := a.drift.DriftScore(recent)
	if err != nil {
		return fmt.Errorf("drift update: %w", err)
	}
	a.driftGauge.Set(score)
	return nil
}
