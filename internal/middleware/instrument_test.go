// Recserve - Recommendation Serving and Offline Training Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recserve

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tomtom215/recserve/internal/metrics"
)

func TestInstrument(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		path      string
		handler   http.HandlerFunc
		wantCode  int
		errorCode string // "" when no error is expected
	}{
		{
			name:     "implicit 200",
			path:     "/instrument-ok",
			handler:  func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok")) },
			wantCode: http.StatusOK,
		},
		{
			name:     "client error",
			path:     "/instrument-404",
			handler:  func(w http.ResponseWriter, r *http.Request) { http.NotFound(w, r) },
			wantCode: http.StatusNotFound, errorCode: "404",
		},
		{
			name: "server error",
			path: "/instrument-500",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			wantCode: http.StatusInternalServerError, errorCode: "500",
		},
		{
			name:     "recovered panic",
			path:     "/instrument-panic",
			handler:  func(http.ResponseWriter, *http.Request) { panic("boom") },
			wantCode: http.StatusInternalServerError, errorCode: "500",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := Instrument(chimiddleware.Recoverer(tt.handler))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, tt.path, nil))

			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if got := testutil.ToFloat64(metrics.HTTPRequests.WithLabelValues(tt.path)); got != 1 {
				t.Errorf("http_requests_total = %v, want 1", got)
			}
			if tt.errorCode != "" {
				if got := testutil.ToFloat64(metrics.HTTPRequestErrors.WithLabelValues(tt.path, tt.errorCode)); got != 1 {
					t.Errorf("http_request_errors_total{code=%s} = %v, want 1", tt.errorCode, got)
				}
			}
		})
	}
}

func TestInstrumentCountsBeforeDispatch(t *testing.T) {
	t.Parallel()

	const path = "/instrument-before"
	var during float64
	h := Instrument(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		during = testutil.ToFloat64(metrics.HTTPRequests.WithLabelValues(path))
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))

	if during != 1 {
		t.Errorf("counter seen by handler = %v, want 1", during)
	}
}

func TestInstrumentPropagatesPanics(t *testing.T) {
	t.Parallel()

	h := Instrument(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("unhandled") }))
	defer func() {
		if recover() == nil {
			t.Error("expected the panic to reach the caller")
		}
	}()
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/instrument-propagate", nil))
}
