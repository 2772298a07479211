// Recserve - Recommendation Serving and Offline Training Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recserve

package embedding

import (
	"context"
	"fmt"
	"strconv"

	"github.com/cloudwego/eino/components/embedding"

	"github.com/tomtom215/recserve/internal/cache"
	"github.com/tomtom215/recserve/internal/logging"
	"github.com/tomtom215/recserve/internal/metrics"
)

// CachedEmbedder serves repeated texts from a VectorStore and only sends
// misses to the wrapped embedder. Store failures degrade to misses.
type CachedEmbedder struct {
	inner embedding.Embedder
	store cache.VectorStore
	meta  Meta
}

var _ embedding.Embedder = (*CachedEmbedder)(nil)

// NewCachedEmbedder wraps inner. meta scopes the cache keys so vectors from
// different models or dimensions never mix.
func NewCachedEmbedder(inner embedding.Embedder, store cache.VectorStore, meta Meta) *CachedEmbedder {
	return &CachedEmbedder{inner: inner, store: store, meta: meta}
}

func (c *CachedEmbedder) key(text string) string {
	return cache.VectorKey(c.meta.Provider, c.meta.Model, strconv.Itoa(c.meta.Dim), text)
}

// EmbedStrings implements embedding.Embedder.
func (c *CachedEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	out := make([][]float64, len(texts))
	var missIdx []int
	var missTexts []string

	for i, text := range texts {
		vec, ok, err := c.store.Get(ctx, c.key(text))
		metrics.RecordEmbeddingCache(ok, err)
		if err != nil {
			logging.Debug().Err(err).Msg("Embedding cache read failed")
		}
		if ok && err == nil {
			out[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := c.inner.EmbedStrings(ctx, missTexts, opts...)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(missTexts))
	}

	for j, i := range missIdx {
		out[i] = vecs[j]
		if err := c.store.Set(ctx, c.key(missTexts[j]), vecs[j]); err != nil {
			logging.Debug().Err(err).Msg("Embedding cache write failed")
		}
	}
	return out, nil
}
