// Recserve - Recommendation Serving and Offline Training Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recserve

package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/recserve/internal/catalog"
	"github.com/tomtom215/recserve/internal/database"
	"github.com/tomtom215/recserve/internal/recommend"
)

// IndexResult summarizes a BuildIndex run.
type IndexResult struct {
	Path   string
	Source string
	Items  int
	Dim    int
}

// BuildIndex embeds the catalog (items.parquet when present, otherwise
// items.csv) and writes the vector index the server loads at startup.
func (r *Runner) BuildIndex(ctx context.Context, embedder recommend.Embedder) (*IndexResult, error) {
	start := time.Now()
	p := r.paths

	src := p.ItemsParquet
	from := database.ParquetSource(src)
	if !fileExists(src) {
		src = p.ItemsCSV
		from = database.CSVSource(src)
		if err := requireFiles(src); err != nil {
			return nil, err
		}
	}

	tbl, err := r.db.Query(ctx, "SELECT * FROM "+from)
	if err != nil {
		return nil, fmt.Errorf("read items: %w", err)
	}
	cat, err := catalog.New(tbl.Columns, tbl.Rows)
	if err != nil {
		return nil, err
	}

	ix, err := recommend.BuildIndex(ctx, embedder, cat)
	if err != nil {
		return nil, err
	}
	if err := ix.WriteFile(p.Index); err != nil {
		return nil, fmt.Errorf("write index: %w", err)
	}

	res := &IndexResult{Path: p.Index, Source: src, Items: ix.Len(), Dim: ix.Dim()}
	r.logger.Info().
		Str("path", res.Path).
		Str("source", res.Source).
		Int("items", res.Items).
		Int("dim", res.Dim).
		Str("provider", ix.Meta().Provider).
		Str("model", ix.Meta().Model).
		Dur("elapsed", time.Since(start)).
		Msg("Vector index written")
	return res, nil
}
