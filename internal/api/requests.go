// Recserve - Recommendation Serving and Offline Training Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recserve

package api

import (
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/tomtom215/recserve/internal/recommend"
)

// maxBodyBytes caps request bodies; anything longer is read as malformed.
const maxBodyBytes = 1 << 20

// maxSafeInt is the largest integer a JSON number represents exactly.
const maxSafeInt = 1 << 53

// RecommendRequest is the decoded /recommend body.
type RecommendRequest struct {
	UserText string // "user_text", default ""
	K        int    // "k", default 10
}

// FeedbackRequest is the decoded /feedback body.
type FeedbackRequest struct {
	Clicked      bool     // "clicked", default false
	UserID       *string  // "user_id"
	ItemID       *int64   // "item_id"
	DwellSeconds *float64 // "dwell_s"
}

// Decoding is lenient. A missing, malformed or non-object body is an empty
// payload and a field of the wrong type takes its default, so these requests
// never fail.

func decodePayload(r *http.Request) map[string]any {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.UseNumber()

	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil
	}
	return payload
}

func decodeRecommendRequest(r *http.Request) RecommendRequest {
	p := decodePayload(r)
	return RecommendRequest{
		UserText: stringField(p, "user_text", ""),
		K:        intField(p, "k", recommend.DefaultK),
	}
}

func decodeFeedbackRequest(r *http.Request) FeedbackRequest {
	p := decodePayload(r)
	req := FeedbackRequest{Clicked: boolField(p, "clicked", false)}

	switch v := p["user_id"].(type) {
	case string:
		req.UserID = &v
	case json.Number:
		s := v.String()
		req.UserID = &s
	}
	if id, ok := asInt(p["item_id"]); ok {
		id64 := int64(id)
		req.ItemID = &id64
	}
	if d, ok := asFloat(p["dwell_s"]); ok {
		req.DwellSeconds = &d
	}
	return req
}

func stringField(p map[string]any, key, def string) string {
	if s, ok := p[key].(string); ok {
		return s
	}
	return def
}

// intField accepts integers, truncates fractional numbers and parses
// numeric strings.
func intField(p map[string]any, key string, def int) int {
	if n, ok := asInt(p[key]); ok {
		return n
	}
	return def
}

// boolField accepts booleans and numbers, where any nonzero number is true.
func boolField(p map[string]any, key string, def bool) bool {
	switch v := p[key].(type) {
	case bool:
		return v
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f != 0
		}
	}
	return def
}

func asInt(v any) (int, bool) {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil && n >= -maxSafeInt && n <= maxSafeInt {
			return int(n), true
		}
		if f, err := x.Float64(); err == nil && math.Abs(f) <= maxSafeInt {
			return int(f), true
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(x)); err == nil {
			return n, true
		}
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return f, true
		}
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return f, true
		}
	}
	return 0, false
}
