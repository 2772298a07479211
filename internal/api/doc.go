// Recserve - Recommendation Serving and Offline Training Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recserve

/*
Package api is the HTTP surface of the recommendation server.

Routes:

	GET  /          {"ok": true, "model_version": ..., "region": ...}
	GET  /healthz   {"status": "ok"}
	POST /recommend {"user_text": "...", "k": 10} -> {"recommendations": [{"score": ..., <item fields>}]}
	POST /feedback  {"clicked": true, "user_id": ..., "item_id": ..., "dwell_s": ...} -> {"ok": true}
	GET  /metrics   Prometheus text exposition

Request bodies are decoded leniently: an absent or malformed body is an
empty payload, and a field of the wrong type takes its default. Engine
failures answer 500 with {"error": {"code": "RECOMMEND_FAILED", ...}}.

Every route passes through middleware.RequestID, RealIP,
middleware.Instrument, Recoverer and CORS. /recommend and /feedback are
additionally rate limited per client IP unless disabled in configuration.
*/
package api
