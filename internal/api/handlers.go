// Recserve - Recommendation Serving and Offline Training Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recserve

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/tomtom215/recserve/internal/events"
	"github.com/tomtom215/recserve/internal/logging"
	"github.com/tomtom215/recserve/internal/metrics"
	"github.com/tomtom215/recserve/internal/recommend"
)

// Recommender answers a recommendation request.
type Recommender interface {
	Recommend(ctx context.Context, req recommend.Request) (*recommend.Response, error)
}

// FeedbackPublisher forwards feedback to the event stream.
type FeedbackPublisher interface {
	Publish(ctx context.Context, event events.FeedbackEvent) error
}

// Handler serves the recommendation endpoints.
type Handler struct {
	engine    Recommender
	agg       *metrics.Aggregator
	publisher FeedbackPublisher
}

// NewHandler builds a handler. publisher may be nil, in which case feedback
// only updates the in-process windows.
func NewHandler(engine Recommender, agg *metrics.Aggregator, publisher FeedbackPublisher) *Handler {
	return &Handler{engine: engine, agg: agg, publisher: publisher}
}

// Root handles GET /.
func (h *Handler) Root(w http.ResponseWriter, _ *http.Request) {
	labels := h.agg.Labels()
	respondJSON(w, http.StatusOK, map[string]any{
		"ok":            true,
		"model_version": labels.ModelVersion,
		"region":        labels.Region,
	})
}

// Healthz handles GET /healthz.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Recommend handles POST /recommend.
//
// An impression is recorded for every served list. The query vector feeds
// the drift window; a drift failure is logged and does not affect the
// response.
func (h *Handler) Recommend(w http.ResponseWriter, r *http.Request) {
	req := decodeRecommendRequest(r)

	start := time.Now()
	resp, err := h.engine.Recommend(r.Context(), recommend.Request{Query: req.UserText, K: req.K})
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, ErrCodeRecommendFailed, "Failed to compute recommendations", err)
		return
	}
	h.agg.ObserveInference(time.Since(start))

	if err := h.agg.RecordImpression(resp.QueryVector); err != nil {
		logging.Ctx(r.Context()).Debug().Err(err).Msg("Drift update skipped")
	}

	respondJSON(w, http.StatusOK, resp)
}

// Feedback handles POST /feedback.
func (h *Handler) Feedback(w http.ResponseWriter, r *http.Request) {
	req := decodeFeedbackRequest(r)
	h.agg.RecordFeedback(req.Clicked)

	if h.publisher != nil {
		labels := h.agg.Labels()
		event := events.NewFeedbackEvent(req.Clicked, labels.ModelVersion, labels.Region)
		event.UserID = req.UserID
		event.ItemID = req.ItemID
		event.DwellSeconds = req.DwellSeconds
		if err := h.publisher.Publish(r.Context(), event); err != nil {
			logging.Ctx(r.Context()).Warn().Err(err).Str("event_id", event.EventID).Msg("Feedback event not published")
		}
	}

	respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
