// Recserve - Recommendation Serving and Offline Training Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recserve

package vector

import (
	"cmp"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"slices"
)

// ErrEmptyIndex is returned when building an index from no vectors.
var ErrEmptyIndex = errors.New("vector: no vectors to index")

// Match is one search result.
type Match struct {
	Row   int
	Score float64
}

// Meta records what an index was built from. A prebuilt index is only
// valid for the embedder and catalog texts it names.
type Meta struct {
	Provider    string
	Model       string
	Fingerprint [32]byte
}

// Fingerprint hashes texts in order. Each text is length-prefixed so that
// ("ab","c") and ("a","bc") differ.
func Fingerprint(texts []string) [32]byte {
	h := sha256.New()
	var n [8]byte
	for _, t := range texts {
		binary.LittleEndian.PutUint64(n[:], uint64(len(t)))
		h.Write(n[:])
		h.Write([]byte(t))
	}
	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

// Index is an exact inner-product index over unit-normalized rows. Rows keep
// the order they were supplied in. An Index is immutable after Build and
// safe for concurrent Search.
type Index struct {
	dim      int
	rows     [][]float64
	centroid []float64
	meta     Meta
}

// Build copies and L2-normalizes vectors into a new index.
func Build(vectors [][]float64) (*Index, error) {
	if len(vectors) == 0 {
		return nil, ErrEmptyIndex
	}
	dim := len(vectors[0])
	if dim == 0 {
		return nil, fmt.Errorf("%w: zero-length vector", ErrDimensionMismatch)
	}

	rows := make([][]float64, len(vectors))
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("%w: row %d has %d dims, want %d", ErrDimensionMismatch, i, len(v), dim)
		}
		rows[i] = Normalize(v, Epsilon)
	}

	mean, err := Mean(rows)
	if err != nil {
		return nil, err
	}

	return &Index{dim: dim, rows: rows, centroid: Normalize(mean, Epsilon)}, nil
}

// Empty returns an index with no rows, used for an empty catalog. Its
// centroid is the zero vector.
func Empty(dim int) *Index {
	return &Index{dim: dim, centroid: make([]float64, dim)}
}

// Meta returns the build metadata. It is zero unless set with WithMeta.
func (ix *Index) Meta() Meta { return ix.meta }

// WithMeta returns a copy of ix carrying m. Rows are shared.
func (ix *Index) WithMeta(m Meta) *Index {
	cp := *ix
	cp.meta = m
	return &cp
}

// Dim returns the vector dimension.
func (ix *Index) Dim() int { return ix.dim }

// Len returns the number of rows.
func (ix *Index) Len() int { return len(ix.rows) }

// Row returns a copy of row i.
func (ix *Index) Row(i int) []float64 {
	return append([]float64(nil), ix.rows[i]...)
}

// Centroid returns the unit-normalized mean of all rows.
func (ix *Index) Centroid() []float64 {
	return append([]float64(nil), ix.centroid...)
}

// Search returns the k rows with the highest inner product with query,
// best first. k is clamped to [0, Len()]. Equal scores are ordered by
// ascending row.
func (ix *Index) Search(query []float64, k int) ([]Match, error) {
	if len(query) != ix.dim {
		return nil, fmt.Errorf("%w: query has %d dims, index has %d", ErrDimensionMismatch, len(query), ix.dim)
	}
	k = min(max(k, 0), len(ix.rows))
	if k == 0 {
		return []Match{}, nil
	}

	matches := make([]Match, len(ix.rows))
	for i, row := range ix.rows {
		matches[i] = Match{Row: i, Score: Dot(query, row)}
	}
	slices.SortFunc(matches, func(a, b Match) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Row, b.Row)
	})

	return matches[:k], nil
}
