// Recserve - Recommendation Serving and Offline Training Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recserve

package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/cloudwego/eino/components/embedding"
)

// HashEmbedder is a deterministic bag-of-tokens embedder that needs no
// network or model files. Each lower-cased token adds 1 to the bucket
// fnv64a(token) mod Dim and the result is L2-normalized, so texts sharing
// tokens have a positive inner product.
type HashEmbedder struct {
	dim int
}

var _ embedding.Embedder = (*HashEmbedder)(nil)

// NewHashEmbedder creates a hash embedder with dim buckets.
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = 384
	}
	return &HashEmbedder{dim: dim}
}

// Dim returns the number of buckets.
func (h *HashEmbedder) Dim() int { return h.dim }

// EmbedStrings implements embedding.Embedder.
func (h *HashEmbedder) EmbedStrings(ctx context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.embed(text)
	}
	return out, nil
}

func (h *HashEmbedder) embed(text string) []float64 {
	vec := make([]float64, h.dim)

	tokens := tokenize(text)
	if len(tokens) == 0 && text != "" {
		tokens = []string{text}
	}
	for _, tok := range tokens {
		vec[h.bucket(tok)]++
	}

	var sq float64
	for _, x := range vec {
		sq += x * x
	}
	if sq == 0 {
		return vec
	}
	n := math.Sqrt(sq)
	for i := range vec {
		vec[i] /= n
	}
	return vec
}

func (h *HashEmbedder) bucket(token string) int {
	f := fnv.New64a()
	_, _ = f.Write([]byte(token))
	return int(f.Sum64() % uint64(h.dim))
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
