// Recserve - Recommendation Serving and Offline Training Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recserve

package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/components/embedding"
	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/recserve/internal/vector"
)

// ErrDimensionMismatch is returned when a backend yields a vector whose
// length differs from the provider dimension.
var ErrDimensionMismatch = errors.New("embedding: dimension mismatch")

// probeText is embedded once at construction to validate the backend.
const probeText = "recserve embedding probe"

// Meta describes the backend behind a Provider.
type Meta struct {
	Provider string
	Model    string
	Dim      int
}

// Options tunes batching.
type Options struct {
	// BatchSize is the number of texts sent to the backend per call.
	BatchSize int
	// Concurrency bounds the number of batches in flight.
	Concurrency int
}

// Provider turns text into fixed-dimension vectors through an eino
// embedder. It is safe for concurrent use when the embedder is.
type Provider struct {
	embedder embedding.Embedder
	meta     Meta
	opts     Options
}

// NewProvider probes embedder once and fails when the backend is unreachable
// or returns vectors of the wrong dimension. When meta.Dim is zero the probe
// result decides it.
func NewProvider(ctx context.Context, embedder embedding.Embedder, meta Meta, opts Options) (*Provider, error) {
	if embedder == nil {
		return nil, errors.New("embedding: nil embedder")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 64
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}

	out, err := embedder.EmbedStrings(ctx, []string{probeText})
	if err != nil {
		return nil, fmt.Errorf("probe %s embedder: %w", meta.Provider, err)
	}
	if len(out) != 1 || len(out[0]) == 0 {
		return nil, fmt.Errorf("probe %s embedder: got %d vectors", meta.Provider, len(out))
	}
	if meta.Dim == 0 {
		meta.Dim = len(out[0])
	}
	if len(out[0]) != meta.Dim {
		return nil, fmt.Errorf("%w: %s/%s returned %d, want %d",
			ErrDimensionMismatch, meta.Provider, meta.Model, len(out[0]), meta.Dim)
	}

	return &Provider{embedder: embedder, meta: meta, opts: opts}, nil
}

// Dim returns the output dimension.
func (p *Provider) Dim() int { return p.meta.Dim }

// Meta returns the backend description.
func (p *Provider) Meta() Meta { return p.meta }

// Embed embeds texts in input order. Batches run concurrently up to
// Options.Concurrency; the first failing batch cancels the rest.
func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	if len(texts) == 0 {
		return out, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)

	for start := 0; start < len(texts); start += p.opts.BatchSize {
		end := min(start+p.opts.BatchSize, len(texts))
		g.Go(func() error {
			vecs, err := p.embedder.EmbedStrings(gctx, texts[start:end])
			if err != nil {
				return fmt.Errorf("embed batch [%d:%d]: %w", start, end, err)
			}
			if len(vecs) != end-start {
				return fmt.Errorf("embed batch [%d:%d]: got %d vectors", start, end, len(vecs))
			}
			for i, v := range vecs {
				if len(v) != p.meta.Dim {
					return fmt.Errorf("%w: text %d has %d, want %d", ErrDimensionMismatch, start+i, len(v), p.meta.Dim)
				}
				out[start+i] = v
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// EmbedOne embeds a single text and scales it to unit length, dividing by
// norm + vector.Epsilon so the zero vector stays finite.
func (p *Provider) EmbedOne(ctx context.Context, text string) ([]float64, error) {
	vecs, err := p.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vector.Normalize(vecs[0], vector.Epsilon), nil
}
