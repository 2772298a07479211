// Recserve - Recommendation Serving and Offline Training Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recserve

package jobs

import (
	"context"
	"math"
	"reflect"
	"testing"
)

// blockInteractions: users 0-2 use items a and b, users 3-5 use c and d.
func blockInteractions() (users, items []any, vals []float64) {
	for u := int64(0); u < 6; u++ {
		group := []any{"a", "b"}
		if u >= 3 {
			group = []any{"c", "d"}
		}
		for _, it := range group {
			users = append(users, u)
			items = append(items, it)
			vals = append(vals, 1)
		}
	}
	return users, items, vals
}

func TestFitALS(t *testing.T) {
	t.Parallel()

	users, items, vals := blockInteractions()
	cfg := ALSConfig{Factors: 4, Iterations: 10, Regularization: 0.1, Alpha: 1, Workers: 2}

	m, err := FitALS(context.Background(), users, items, vals, cfg)
	if err != nil {
		t.Fatalf("FitALS() error = %v", err)
	}

	if !reflect.DeepEqual(m.ItemIDs, []any{"a", "b", "c", "d"}) {
		t.Errorf("ItemIDs = %v, want first-appearance order", m.ItemIDs)
	}
	if len(m.UserIDs) != 6 || m.UserIDs[0] != int64(0) || m.UserIDs[5] != int64(5) {
		t.Errorf("UserIDs = %v", m.UserIDs)
	}
	if len(m.UserFactors) != 6 || len(m.ItemFactors) != 4 || len(m.UserFactors[0]) != 4 {
		t.Fatalf("factor shapes = %dx%d, %d", len(m.UserFactors), len(m.UserFactors[0]), len(m.ItemFactors))
	}

	// Observed pairs outscore the other block.
	for u := 0; u < 6; u++ {
		own, other := 0, 2
		if u >= 3 {
			own, other = 2, 0
		}
		if m.Score(u, own) <= m.Score(u, other) {
			t.Errorf("user %d: score(own)=%.3f <= score(other)=%.3f", u, m.Score(u, own), m.Score(u, other))
		}
	}

	again, err := FitALS(context.Background(), users, items, vals, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(m.UserFactors, again.UserFactors) || !reflect.DeepEqual(m.ItemFactors, again.ItemFactors) {
		t.Error("FitALS is not deterministic")
	}
}

func TestFitALSEdgeCases(t *testing.T) {
	t.Parallel()

	t.Run("empty input", func(t *testing.T) {
		m, err := FitALS(context.Background(), nil, nil, nil, ALSConfig{Factors: 3})
		if err != nil {
			t.Fatal(err)
		}
		if len(m.UserFactors) != 0 || len(m.ItemFactors) != 0 || m.Factors != 3 {
			t.Errorf("model = %+v", m)
		}
	})

	t.Run("defaults", func(t *testing.T) {
		m, err := FitALS(context.Background(), []any{"u"}, []any{"i"}, []float64{1}, ALSConfig{Iterations: 1})
		if err != nil {
			t.Fatal(err)
		}
		if m.Factors != 64 || len(m.UserFactors[0]) != 64 {
			t.Errorf("Factors = %d, want 64", m.Factors)
		}
	})

	t.Run("non-positive strength only registers ids", func(t *testing.T) {
		m, err := FitALS(context.Background(),
			[]any{"u1", "u2"}, []any{"i1", "i2"}, []float64{1, 0},
			ALSConfig{Factors: 2, Iterations: 3, Regularization: 0.1})
		if err != nil {
			t.Fatal(err)
		}
		if len(m.UserIDs) != 2 || len(m.ItemIDs) != 2 {
			t.Errorf("ids = %v / %v", m.UserIDs, m.ItemIDs)
		}
		for _, row := range m.UserFactors {
			for _, v := range row {
				if math.IsNaN(v) || math.IsInf(v, 0) {
					t.Fatalf("non-finite factor %v", v)
				}
			}
		}
	})

	t.Run("canceled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		users, items, vals := blockInteractions()
		if _, err := FitALS(ctx, users, items, vals, ALSConfig{Factors: 2}); err == nil {
			t.Error("expected context error")
		}
	})
}

func TestCholeskySolve(t *testing.T) {
	t.Parallel()

	x := choleskySolve([][]float64{{4, 2}, {2, 3}}, []float64{2, 1})
	if math.Abs(x[0]-0.5) > 1e-12 || math.Abs(x[1]) > 1e-12 {
		t.Errorf("x = %v, want [0.5 0]", x)
	}
}
