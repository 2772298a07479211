// Recserve - Recommendation Serving and Offline Training Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recserve

/*
Package middleware provides the HTTP middleware shared by every recserve route.

  - RequestID: X-Request-ID propagation plus request and correlation IDs in
    the logging context
  - Instrument: http_requests_total, http_request_latency_seconds and
    http_request_errors_total

Both are chi-compatible (func(http.Handler) http.Handler):

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Instrument)
	r.Use(chimiddleware.Recoverer)

Instrument sits outside Recoverer so a recovered panic is still counted as a
500 for its path.
*/
package middleware
