// Recserve - Recommendation Serving and Offline Training Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recserve

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/tomtom215/recserve/internal/middleware"
)

// Router wires the handlers and middleware into a chi mux.
type Router struct {
	handler       *Handler
	chiMiddleware *ChiMiddleware
	metrics       http.Handler
}

// NewRouter creates a router. A nil metrics handler serves the default
// Prometheus registry.
func NewRouter(handler *Handler, mw *ChiMiddleware, metricsHandler http.Handler) *Router {
	if mw == nil {
		mw = NewChiMiddleware(nil)
	}
	if metricsHandler == nil {
		metricsHandler = MetricsHandler(nil)
	}
	return &Router{handler: handler, chiMiddleware: mw, metrics: metricsHandler}
}

// SetupChi configures all HTTP routes.
func (router *Router) SetupChi() http.Handler {
	r := chi.NewRouter()

	// Applied to all routes in order. Instrument wraps Recoverer so a
	// recovered panic is observed as a 500.
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Instrument)
	r.Use(chimiddleware.Recoverer)
	r.Use(router.chiMiddleware.CORS())

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		respondError(w, req, http.StatusNotFound, ErrCodeNotFound, "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		respondError(w, req, http.StatusMethodNotAllowed, ErrCodeMethodNotAllowed, "Method not allowed", nil)
	})

	r.Get("/", router.handler.Root)
	r.Get("/healthz", router.handler.Healthz)
	r.Method(http.MethodGet, "/metrics", router.metrics)

	r.Group(func(r chi.Router) {
		r.Use(router.chiMiddleware.RateLimit())
		r.Post("/recommend", router.handler.Recommend)
		r.Post("/feedback", router.handler.Feedback)
	})

	return r
}
