// Recserve - Recommendation Serving and Offline Training Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recserve

// Package vector holds the dense-vector helpers and the exact inner-product
// index used for retrieval.
package vector

import (
	"errors"
	"math"
)

// Epsilon is added to norms before division so zero vectors stay finite.
const Epsilon = 1e-9

// ErrDimensionMismatch is returned when vectors of different lengths are combined.
var ErrDimensionMismatch = errors.New("vector: dimension mismatch")

// Dot returns the inner product of a and b. It panics if the lengths differ;
// callers validate dimensions at the boundary.
func Dot(a, b []float64) float64 {
	if len(a) != len(b) {
		panic("vector: Dot on vectors of different length")
	}
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// Norm returns the L2 norm of v.
func Norm(v []float64) float64 {
	return math.Sqrt(Dot(v, v))
}

// Normalize returns v / (‖v‖ + eps) as a new slice.
func Normalize(v []float64, eps float64) []float64 {
	n := Norm(v) + eps
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = x / n
	}
	return out
}

// Mean returns the element-wise mean of vs. All vectors must share a length.
func Mean(vs [][]float64) ([]float64, error) {
	if len(vs) == 0 {
		return nil, nil
	}
	dim := len(vs[0])
	out := make([]float64, dim)
	for _, v := range vs {
		if len(v) != dim {
			return nil, ErrDimensionMismatch
		}
		for i, x := range v {
			out[i] += x
		}
	}
	inv := 1 / float64(len(vs))
	for i := range out {
		out[i] *= inv
	}
	return out, nil
}
