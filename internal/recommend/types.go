// Recserve - Recommendation Serving and Offline Training Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recserve

package recommend

import (
	"bytes"
	"fmt"
	"slices"

	"github.com/goccy/go-json"

	"github.com/tomtom215/recserve/internal/catalog"
)

// DefaultK is the list length when a request does not name one.
const DefaultK = 10

// Request is one recommendation query.
type Request struct {
	Query string
	K     int
}

// Response is the ranked list plus the normalized query vector, which the
// caller feeds to the drift window.
type Response struct {
	Recommendations []Recommendation `json:"recommendations"`
	QueryVector     []float64        `json:"-"`
}

// Recommendation is one ranked item.
type Recommendation struct {
	Score float64
	Row   int
	Item  *catalog.Item

	columns []string
}

// MarshalJSON renders {"score": s, <item fields in catalog column order>,
// "text": t}. An item column named "score" replaces the computed score; the
// derived text is appended when the catalog has no "text" column.
func (r Recommendation) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	_, hasScore := r.Item.Fields["score"]
	if !hasScore {
		buf.WriteString(`"score":`)
		b, err := json.Marshal(r.Score)
		if err != nil {
			return nil, err
		}
		buf.Write(b)
	}

	for i, col := range r.columns {
		if i > 0 || !hasScore {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(col)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(r.Item.Fields[col])
		if err != nil {
			return nil, fmt.Errorf("marshal field %s: %w", col, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}

	if !slices.Contains(r.columns, "text") {
		text, err := json.Marshal(r.Item.Text)
		if err != nil {
			return nil, err
		}
		buf.WriteString(`,"text":`)
		buf.Write(text)
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// EmbeddingError reports that the query could not be embedded.
type EmbeddingError struct {
	Err error
}

func (e *EmbeddingError) Error() string {
	return "embed query: " + e.Err.Error()
}

func (e *EmbeddingError) Unwrap() error { return e.Err }
