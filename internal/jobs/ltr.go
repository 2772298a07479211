// Recserve - Recommendation Serving and Offline Training Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recserve

package jobs

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/recserve/internal/database"
)

// Columns that identify a row rather than describe it.
var nonFeatureColumns = map[string]bool{
	"user_id": true,
	"item_id": true,
	"label":   true,
	"ts":      true,
}

// FeatureColumns returns columns in order without the id, label and ts
// columns.
func FeatureColumns(columns []string) []string {
	out := make([]string, 0, len(columns))
	for _, c := range columns {
		if !nonFeatureColumns[c] {
			out = append(out, c)
		}
	}
	return out
}

// LTRResult summarizes an LTRDataset run.
type LTRResult struct {
	TrainRows      int64
	ValidRows      int64
	Features       []string
	TrainPositives int64
	ValidPositives int64
}

// LTRDataset joins interactions with the user and item aggregates, labels
// each row (the like column when present, else 1), orders rows by ts and
// splits them at floor(train_fraction * n) into train and valid sets.
func (r *Runner) LTRDataset(ctx context.Context) (*LTRResult, error) {
	start := time.Now()
	p := r.paths
	if err := requireFiles(p.InteractionsParquet, p.UserAgg, p.ItemAgg); err != nil {
		return nil, err
	}

	inter := database.ParquetSource(p.InteractionsParquet)
	interTypes, _, err := columnTypes(ctx, r.db, inter)
	if err != nil {
		return nil, err
	}
	if err := requireColumns(interTypes, "interactions", "user_id", "item_id", "ts"); err != nil {
		return nil, err
	}

	labelExpr := "1"
	if _, ok := interTypes["like"]; ok {
		labelExpr = `"like"`
	}

	joined := fmt.Sprintf(`SELECT * FROM %s AS i
LEFT JOIN %s AS u USING (user_id)
LEFT JOIN %s AS it USING (item_id)`,
		inter, database.ParquetSource(p.UserAgg), database.ParquetSource(p.ItemAgg))

	_, joinedCols, err := columnTypes(ctx, r.db, "("+joined+")")
	if err != nil {
		return nil, fmt.Errorf("join features: %w", err)
	}
	labelled := fmt.Sprintf("SELECT *, %s AS label FROM (%s)", labelExpr, joined)
	for _, c := range joinedCols {
		if c == "label" {
			labelled = fmt.Sprintf("SELECT * REPLACE (%s AS label) FROM (%s)", labelExpr, joined)
			break
		}
	}

	// The ordered rows are materialized once so both splits see the same
	// ranking even when timestamps tie.
	table := "ltr_rows_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	create := fmt.Sprintf("CREATE TABLE %s AS SELECT *, row_number() OVER (ORDER BY ts) AS __rn FROM (%s)", table, labelled)
	if err := r.db.Exec(ctx, create); err != nil {
		return nil, fmt.Errorf("build ranking rows: %w", err)
	}
	defer func() {
		_ = r.db.Exec(context.Background(), "DROP TABLE IF EXISTS "+table)
	}()

	n, err := r.db.Count(ctx, table)
	if err != nil {
		return nil, err
	}
	cut := int64(math.Floor(r.cfg.Jobs.TrainFraction * float64(n)))

	trainWhere := fmt.Sprintf("__rn <= %d", cut)
	validWhere := fmt.Sprintf("__rn > %d", cut)
	split := func(where string) string {
		return fmt.Sprintf("SELECT * EXCLUDE (__rn) FROM %s WHERE %s ORDER BY __rn", table, where)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.db.CopyTo(gctx, split(trainWhere), p.Train, database.FormatParquet) })
	g.Go(func() error { return r.db.CopyTo(gctx, split(validWhere), p.Valid, database.FormatParquet) })
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("write ranking splits: %w", err)
	}

	res := &LTRResult{
		TrainRows: cut,
		ValidRows: n - cut,
		Features:  FeatureColumns(joinedCols),
	}
	positives := "SELECT CAST(coalesce(sum(label), 0) AS BIGINT) FROM " + table + " WHERE "
	if res.TrainPositives, err = r.db.QueryInt64(ctx, positives+trainWhere); err != nil {
		return nil, err
	}
	if res.ValidPositives, err = r.db.QueryInt64(ctx, positives+validWhere); err != nil {
		return nil, err
	}

	r.logger.Info().
		Int64("train_rows", res.TrainRows).
		Int64("valid_rows", res.ValidRows).
		Strs("feature_columns", res.Features).
		Int64("train_positives", res.TrainPositives).
		Int64("valid_positives", res.ValidPositives).
		Dur("elapsed", time.Since(start)).
		Msg("Training and validation ranking datasets written")
	return res, nil
}
