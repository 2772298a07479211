// Recserve - Recommendation Serving and Offline Training Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recserve

package middleware

import (
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/tomtom215/recserve/internal/logging"
	"github.com/tomtom215/recserve/internal/metrics"
)

// Instrument records the HTTP metrics for every request: the request counter
// before dispatch, latency after it and the error counter for status >= 400.
// The path label is the raw URL path.
//
// A failure while observing never changes the response; it is logged at
// debug level and dropped.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		observe(r, func() { metrics.RecordHTTPRequest(path) })

		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			p := recover()
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
				if p != nil {
					status = http.StatusInternalServerError // answered by Recoverer
				}
			}
			observe(r, func() { metrics.RecordHTTPResult(path, status, time.Since(start)) })
			if p != nil {
				panic(p)
			}
		}()

		next.ServeHTTP(ww, r)
	})
}

func observe(r *http.Request, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			logging.Ctx(r.Context()).Debug().Interface("panic", p).Str("path", r.URL.Path).Msg("HTTP metric observation failed")
		}
	}()
	fn()
}
