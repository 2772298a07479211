// Recserve - Recommendation Serving and Offline Training Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recserve

package recommend

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/recserve/internal/catalog"
	"github.com/tomtom215/recserve/internal/embedding"
	"github.com/tomtom215/recserve/internal/vector"
)

// Embedder is the part of embedding.Provider the engine needs.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
	EmbedOne(ctx context.Context, text string) ([]float64, error)
	Dim() int
	Meta() embedding.Meta
}

// Options tunes NewEngine.
type Options struct {
	// Index is a prebuilt index over the catalog texts. It is adopted only
	// when its size, dimension, embedder and text fingerprint all match;
	// otherwise items are embedded.
	Index *vector.Index
}

// Stats are lifetime counters.
type Stats struct {
	Requests int64
	Errors   int64
}

// Engine serves recommendations. It is safe for concurrent use.
type Engine struct {
	embedder Embedder
	catalog  *catalog.Catalog
	index    *vector.Index
	centroid []float64
	logger   zerolog.Logger

	requests atomic.Int64
	errors   atomic.Int64
}

// NewEngine embeds every item (or adopts opts.Index) and builds the index.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewEngine(ctx context.Context, embedder Embedder, cat *catalog.Catalog, opts Options, logger zerolog.Logger) (*Engine, error) {
	if embedder == nil || cat == nil {
		return nil, errors.New("recommend: embedder and catalog are required")
	}

	e := &Engine{
		embedder: embedder,
		catalog:  cat,
		logger:   logger.With().Str("component", "recommend").Logger(),
	}

	start := time.Now()
	want := IndexMeta(embedder, cat)
	switch ix := opts.Index; {
	case ix != nil && ix.Len() == cat.Len() && ix.Dim() == embedder.Dim() && ix.Meta() == want:
		e.index = ix
		e.logger.Info().Int("items", ix.Len()).Msg("Using prebuilt vector index")
	default:
		if ix != nil {
			got := ix.Meta()
			e.logger.Warn().
				Int("index_items", ix.Len()).Int("catalog_items", cat.Len()).
				Int("index_dim", ix.Dim()).Int("embedder_dim", embedder.Dim()).
				Str("index_provider", got.Provider).Str("index_model", got.Model).
				Bool("texts_match", got.Fingerprint == want.Fingerprint).
				Msg("Prebuilt vector index does not match catalog, rebuilding")
		}
		idx, err := BuildIndex(ctx, embedder, cat)
		if err != nil {
			return nil, err
		}
		e.index = idx
	}

	e.centroid = e.index.Centroid()
	e.logger.Info().
		Int("items", e.index.Len()).
		Int("dim", e.index.Dim()).
		Dur("elapsed", time.Since(start)).
		Msg("Recommendation engine ready")
	return e, nil
}

// IndexMeta identifies an index built by embedder over the catalog texts.
func IndexMeta(embedder Embedder, cat *catalog.Catalog) vector.Meta {
	m := embedder.Meta()
	return vector.Meta{
		Provider:    m.Provider,
		Model:       m.Model,
		Fingerprint: vector.Fingerprint(cat.Texts()),
	}
}

// BuildIndex embeds every catalog text and indexes the vectors in row order.
// The index carries IndexMeta so a saved copy can be checked on reload.
func BuildIndex(ctx context.Context, embedder Embedder, cat *catalog.Catalog) (*vector.Index, error) {
	meta := IndexMeta(embedder, cat)
	vecs, err := embedder.Embed(ctx, cat.Texts())
	if err != nil {
		return nil, fmt.Errorf("embed catalog: %w", err)
	}
	if len(vecs) == 0 {
		return vector.Empty(embedder.Dim()).WithMeta(meta), nil
	}
	idx, err := vector.Build(vecs)
	if err != nil {
		return nil, fmt.Errorf("build index: %w", err)
	}
	return idx.WithMeta(meta), nil
}

// Catalog returns the catalog being served.
func (e *Engine) Catalog() *catalog.Catalog { return e.catalog }

// Index returns the item index.
func (e *Engine) Index() *vector.Index { return e.index }

// Stats returns lifetime counters.
func (e *Engine) Stats() Stats {
	return Stats{Requests: e.requests.Load(), Errors: e.errors.Load()}
}

// Recommend returns the min(K, catalog size) items closest to the query, best
// first. K <= 0 yields an empty list; the query is still embedded so the
// caller can track it.
func (e *Engine) Recommend(ctx context.Context, req Request) (*Response, error) {
	e.requests.Add(1)

	q, err := e.embedder.EmbedOne(ctx, req.Query)
	if err != nil {
		e.errors.Add(1)
		return nil, &EmbeddingError{Err: err}
	}

	k := min(max(req.K, 0), e.index.Len())
	matches, err := e.index.Search(q, k)
	if err != nil {
		e.errors.Add(1)
		return nil, fmt.Errorf("search: %w", err)
	}

	columns := e.catalog.Columns()
	recs := make([]Recommendation, len(matches))
	for i, m := range matches {
		recs[i] = Recommendation{
			Score:   m.Score,
			Row:     m.Row,
			Item:    e.catalog.Item(m.Row),
			columns: columns,
		}
	}
	return &Response{Recommendations: recs, QueryVector: q}, nil
}

// DriftScore is 0.5 * (1 - dot(unit(mean(recent)), centroid)) clamped to
// [0, 0.5]; 0 for an empty window.
func (e *Engine) DriftScore(recent [][]float64) (float64, error) {
	if len(recent) == 0 {
		return 0, nil
	}
	mean, err := vector.Mean(recent)
	if err != nil {
		return 0, err
	}
	if len(mean) != len(e.centroid) {
		return 0, fmt.Errorf("%w: window %d, catalog %d", vector.ErrDimensionMismatch, len(mean), len(e.centroid))
	}
	unit := vector.Normalize(mean, vector.Epsilon)
	score := 0.5 * (1 - vector.Dot(unit, e.centroid))
	return min(max(score, 0), 0.5), nil
}
