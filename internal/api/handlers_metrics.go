// Recserve - Recommendation Serving and Offline Training Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recserve

package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/recserve/internal/logging"
)

// MetricsHandler serves the Prometheus text exposition of g. A nil gatherer
// serves the default registry. Gather errors are logged and the partial
// result is still served, so one unreadable multi-process snapshot does not
// blank the scrape.
func MetricsHandler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{
		ErrorLog:      promErrorLog{},
		ErrorHandling: promhttp.ContinueOnError,
	})
}

// promErrorLog routes promhttp errors to the application logger.
type promErrorLog struct{}

func (promErrorLog) Println(v ...interface{}) {
	logging.Warn().Interface("detail", v).Msg("Metrics gather error")
}
