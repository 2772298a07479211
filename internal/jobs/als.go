// Recserve - Recommendation Serving and Offline Training Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recserve

package jobs

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/tomtom215/recserve/internal/database"
)

// ALSConfig configures implicit-feedback ALS.
type ALSConfig struct {
	// Factors is the dimension of the latent factor vectors.
	Factors int

	// Iterations is the number of alternating sweeps.
	Iterations int

	// Regularization is the L2 penalty lambda.
	Regularization float64

	// Alpha scales the confidence of an observed interaction:
	// c = 1 + alpha * r.
	Alpha float64

	// Workers is the number of goroutines solving rows. <= 0 uses
	// runtime.NumCPU().
	Workers int
}

// ALSModel holds trained factors. Row i of UserFactors belongs to
// UserIDs[i]; the same holds for items.
type ALSModel struct {
	Factors     int
	UserIDs     []any
	ItemIDs     []any
	UserFactors [][]float64
	ItemFactors [][]float64
}

// Score returns the dot product of a user row and an item row.
func (m *ALSModel) Score(user, item int) float64 {
	var s float64
	for f, x := range m.UserFactors[user] {
		s += x * m.ItemFactors[item][f]
	}
	return s
}

// alsEntry is one non-zero of a sparse row.
type alsEntry struct {
	col  int
	conf float64
	pref float64
}

// FitALS factorizes a user x item matrix of interaction strengths with
// the confidence-weighted objective of Hu, Koren and Volinsky (2008):
//
//	sum c_ui (p_ui - x_u'y_i)^2 + lambda (|x_u|^2 + |y_i|^2)
//
// Users and items are indexed in order of first appearance. Duplicate
// (user, item) pairs are summed. A pair with strength > 0 has preference 1
// and confidence 1 + alpha*r; other pairs only register their ids.
// Factors are initialized deterministically, so equal input gives equal
// output.
//
//nolint:gocritic // users, items, vals are parallel columns
func FitALS(ctx context.Context, users, items []any, vals []float64, cfg ALSConfig) (*ALSModel, error) {
	if cfg.Factors <= 0 {
		cfg.Factors = 64
	}
	if cfg.Iterations <= 0 {
		cfg.Iterations = 15
	}
	if cfg.Regularization < 0 {
		cfg.Regularization = 0
	}
	if cfg.Alpha <= 0 {
		cfg.Alpha = 1
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}

	m := &ALSModel{Factors: cfg.Factors}
	userIndex := make(map[any]int)
	itemIndex := make(map[any]int)
	strength := make(map[[2]int]float64)
	for i := range users {
		u, ok := userIndex[users[i]]
		if !ok {
			u = len(m.UserIDs)
			userIndex[users[i]] = u
			m.UserIDs = append(m.UserIDs, users[i])
		}
		it, ok := itemIndex[items[i]]
		if !ok {
			it = len(m.ItemIDs)
			itemIndex[items[i]] = it
			m.ItemIDs = append(m.ItemIDs, items[i])
		}
		strength[[2]int{u, it}] += vals[i]
	}

	numUsers, numItems, k := len(m.UserIDs), len(m.ItemIDs), cfg.Factors
	m.UserFactors = initFactors(numUsers, k)
	m.ItemFactors = initFactors(numItems, k)
	if numUsers == 0 || numItems == 0 {
		return m, nil
	}

	userRows := make([][]alsEntry, numUsers)
	itemRows := make([][]alsEntry, numItems)
	for key, r := range strength {
		if r <= 0 {
			continue
		}
		conf := 1 + cfg.Alpha*r
		userRows[key[0]] = append(userRows[key[0]], alsEntry{col: key[1], conf: conf, pref: 1})
		itemRows[key[1]] = append(itemRows[key[1]], alsEntry{col: key[0], conf: conf, pref: 1})
	}
	// Map iteration order is random; sort so sums are reproducible.
	for _, rows := range [][][]alsEntry{userRows, itemRows} {
		for _, row := range rows {
			sort.Slice(row, func(a, b int) bool { return row[a].col < row[b].col })
		}
	}

	for iter := 0; iter < cfg.Iterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		solveSide(m.UserFactors, m.ItemFactors, userRows, cfg)

		if err := ctx.Err(); err != nil {
			return nil, err
		}
		solveSide(m.ItemFactors, m.UserFactors, itemRows, cfg)
	}
	return m, nil
}

func initFactors(n, k int) [][]float64 {
	out := make([][]float64, n)
	for r := range out {
		out[r] = make([]float64, k)
		for f := 0; f < k; f++ {
			out[r][f] = 0.1 * (float64((r*k+f)%1000)/1000.0 - 0.5)
		}
	}
	return out
}

// solveSide recomputes every row of target with fixed held factors.
func solveSide(target, fixed [][]float64, rows [][]alsEntry, cfg ALSConfig) {
	k := cfg.Factors

	// Gram matrix F'F of the fixed side, shared by every row.
	gram := make([][]float64, k)
	for f := range gram {
		gram[f] = make([]float64, k)
	}
	for _, v := range fixed {
		for f1 := 0; f1 < k; f1++ {
			for f2 := f1; f2 < k; f2++ {
				gram[f1][f2] += v[f1] * v[f2]
			}
		}
	}
	for f1 := 0; f1 < k; f1++ {
		for f2 := 0; f2 < f1; f2++ {
			gram[f1][f2] = gram[f2][f1]
		}
	}

	n := len(target)
	chunk := (n + cfg.Workers - 1) / cfg.Workers
	var wg sync.WaitGroup
	for w := 0; w < cfg.Workers; w++ {
		start, end := w*chunk, min((w+1)*chunk, n)
		if start >= end {
			break
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for r := start; r < end; r++ {
				target[r] = solveRow(rows[r], fixed, gram, cfg.Regularization, k)
			}
		}(start, end)
	}
	wg.Wait()
}

// solveRow solves (F'C F + lambda I) x = F'C p for one row.
//
//nolint:gocritic // A follows linear algebra notation
func solveRow(entries []alsEntry, fixed, gram [][]float64, lambda float64, k int) []float64 {
	A := make([][]float64, k)
	for f := range A {
		A[f] = make([]float64, k)
		copy(A[f], gram[f])
		A[f][f] += lambda
	}

	b := make([]float64, k)
	for _, e := range entries {
		y := fixed[e.col]
		extra := e.conf - 1
		for f1 := 0; f1 < k; f1++ {
			for f2 := f1; f2 < k; f2++ {
				d := extra * y[f1] * y[f2]
				A[f1][f2] += d
				if f1 != f2 {
					A[f2][f1] += d
				}
			}
			b[f1] += e.conf * e.pref * y[f1]
		}
	}
	return choleskySolve(A, b)
}

// choleskySolve solves A x = b for symmetric positive definite A. A
// non-positive pivot is clamped so a degenerate system still yields a
// finite answer.
//
//nolint:gocritic // A, L follow linear algebra notation
func choleskySolve(A [][]float64, b []float64) []float64 {
	n := len(b)
	L := make([][]float64, n)
	for i := range L {
		L[i] = make([]float64, n)
	}

	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			sum := A[i][j]
			for p := 0; p < j; p++ {
				sum -= L[i][p] * L[j][p]
			}
			if i == j {
				if sum <= 0 {
					sum = 1e-10
				}
				L[i][j] = math.Sqrt(sum)
			} else if L[j][j] != 0 {
				L[i][j] = sum / L[j][j]
			}
		}
	}

	z := make([]float64, n)
	for i := 0; i < n; i++ {
		sum := b[i]
		for j := 0; j < i; j++ {
			sum -= L[i][j] * z[j]
		}
		z[i] = sum / L[i][i]
	}

	x := make([]float64, n)
	for i := n - 1; i >= 0; i-- {
		sum := z[i]
		for j := i + 1; j < n; j++ {
			sum -= L[j][i] * x[j]
		}
		x[i] = sum / L[i][i]
	}
	return x
}

// ALSResult summarizes a TrainALS run.
type ALSResult struct {
	Users       int
	Items       int
	Factors     int
	UserFactors string
	ItemFactors string
}

// TrainALS fits ALS on interactions.parquet, using the like column as the
// interaction strength (NULL counts as 1, a missing column as all 1), and
// saves both factor matrices as .npy files.
func (r *Runner) TrainALS(ctx context.Context) (*ALSResult, error) {
	start := time.Now()
	p := r.paths
	if err := requireFiles(p.InteractionsParquet); err != nil {
		return nil, err
	}

	src := database.ParquetSource(p.InteractionsParquet)
	types, _, err := columnTypes(ctx, r.db, src)
	if err != nil {
		return nil, err
	}
	if err := requireColumns(types, "interactions", "user_id", "item_id"); err != nil {
		return nil, err
	}
	val := "CAST(1 AS DOUBLE)"
	if _, ok := types["like"]; ok {
		val = `coalesce(TRY_CAST("like" AS DOUBLE), CAST(1 AS DOUBLE))`
	}

	tbl, err := r.db.Query(ctx, fmt.Sprintf(
		"SELECT user_id, item_id, %s AS val FROM %s WHERE user_id IS NOT NULL AND item_id IS NOT NULL", val, src))
	if err != nil {
		return nil, fmt.Errorf("read interactions: %w", err)
	}

	users := make([]any, tbl.Len())
	items := make([]any, tbl.Len())
	vals := make([]float64, tbl.Len())
	for i, row := range tbl.Rows {
		users[i], items[i] = row[0], row[1]
		vals[i], _ = row[2].(float64)
	}

	ac := r.cfg.Jobs.ALS
	model, err := FitALS(ctx, users, items, vals, ALSConfig{
		Factors:        ac.Factors,
		Iterations:     ac.Iterations,
		Regularization: ac.Regularization,
		Alpha:          ac.Alpha,
		Workers:        ac.Workers,
	})
	if err != nil {
		return nil, err
	}

	if err := WriteNPYFile(p.ALSUserFactors, model.UserFactors, model.Factors); err != nil {
		return nil, fmt.Errorf("write user factors: %w", err)
	}
	if err := WriteNPYFile(p.ALSItemFactors, model.ItemFactors, model.Factors); err != nil {
		return nil, fmt.Errorf("write item factors: %w", err)
	}

	res := &ALSResult{
		Users:       len(model.UserIDs),
		Items:       len(model.ItemIDs),
		Factors:     model.Factors,
		UserFactors: p.ALSUserFactors,
		ItemFactors: p.ALSItemFactors,
	}
	r.logger.Info().
		Int("users", res.Users).
		Int("items", res.Items).
		Int("factors", res.Factors).
		Int("iterations", ac.Iterations).
		Dur("elapsed", time.Since(start)).
		Msg("ALS factors saved")
	return res, nil
}
