// Recserve - Recommendation Serving and Offline Training Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recserve

package jobs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/recserve/internal/database"
)

// FeaturesOptions controls Features.
type FeaturesOptions struct {
	// IncludeEvents folds recorded feedback batches into the interactions.
	IncludeEvents bool
}

// FeaturesResult summarizes a Features run.
type FeaturesResult struct {
	Items        int64
	Interactions int64
	Users        int64
	ItemsWithAgg int64
	EventFiles   int
}

// Features converts the catalog to Parquet and, when interactions exist,
// writes interactions.parquet and the per-user and per-item aggregates.
func (r *Runner) Features(ctx context.Context, opts FeaturesOptions) (*FeaturesResult, error) {
	start := time.Now()
	p := r.paths

	if err := requireFiles(p.ItemsCSV); err != nil {
		return nil, err
	}
	res := &FeaturesResult{}

	itemsSrc := database.CSVSource(p.ItemsCSV)
	if err := r.db.CopyTo(ctx, "SELECT * FROM "+itemsSrc, p.ItemsParquet, database.FormatParquet); err != nil {
		return nil, fmt.Errorf("write items: %w", err)
	}
	n, err := r.db.Count(ctx, database.ParquetSource(p.ItemsParquet))
	if err != nil {
		return nil, err
	}
	res.Items = n

	var files []string
	if opts.IncludeEvents {
		if files, err = eventFiles(p.EventsDir); err != nil {
			return nil, err
		}
		res.EventFiles = len(files)
	}

	query, err := r.interactionsQuery(ctx, files)
	if err != nil {
		return nil, err
	}
	if query == "" {
		r.logger.Info().Int64("items", res.Items).Msg("No interactions found, wrote items only")
		return res, nil
	}

	if err := r.db.CopyTo(ctx, query, p.InteractionsParquet, database.FormatParquet); err != nil {
		return nil, fmt.Errorf("write interactions: %w", err)
	}
	inter := database.ParquetSource(p.InteractionsParquet)

	types, _, err := columnTypes(ctx, r.db, inter)
	if err != nil {
		return nil, err
	}
	if err := requireColumns(types, "interactions", "user_id", "item_id", "ts", "dwell_s"); err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.db.CopyTo(gctx, userAggQuery(inter), p.UserAgg, database.FormatParquet)
	})
	g.Go(func() error {
		return r.db.CopyTo(gctx, itemAggQuery(inter), p.ItemAgg, database.FormatParquet)
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("write aggregates: %w", err)
	}

	if res.Interactions, err = r.db.Count(ctx, inter); err != nil {
		return nil, err
	}
	if res.Users, err = r.db.Count(ctx, database.ParquetSource(p.UserAgg)); err != nil {
		return nil, err
	}
	if res.ItemsWithAgg, err = r.db.Count(ctx, database.ParquetSource(p.ItemAgg)); err != nil {
		return nil, err
	}

	r.logger.Info().
		Int64("items", res.Items).
		Int64("interactions", res.Interactions).
		Int64("users", res.Users).
		Int64("items_with_interactions", res.ItemsWithAgg).
		Int("event_files", res.EventFiles).
		Dur("elapsed", time.Since(start)).
		Msg("Feature tables written")
	return res, nil
}

// interactionsQuery selects the interaction rows: interactions.csv, the
// recorded events, or both. It returns "" when neither exists.
func (r *Runner) interactionsQuery(ctx context.Context, eventPaths []string) (string, error) {
	hasCSV := fileExists(r.paths.InteractionsCSV)
	if !hasCSV && len(eventPaths) == 0 {
		return "", nil
	}

	var csvTypes map[string]string
	parts := make([]string, 0, 2)
	if hasCSV {
		src := database.CSVSource(r.paths.InteractionsCSV)
		types, _, err := columnTypes(ctx, r.db, src)
		if err != nil {
			return "", fmt.Errorf("read interactions: %w", err)
		}
		csvTypes = types
		parts = append(parts, "SELECT * FROM "+src)
	}
	if len(eventPaths) > 0 {
		parts = append(parts, eventsProjection(database.ParquetSource(eventPaths...), csvTypes))
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	return strings.Join(parts, " UNION ALL BY NAME "), nil
}

// eventsProjection maps recorded feedback to interaction rows: a click
// becomes like = 1. Events without a user or item are skipped. When the
// interactions CSV is present, keys and timestamps are cast to its column
// types so the union is well typed; epoch seconds are used for numeric ts.
func eventsProjection(src string, csvTypes map[string]string) string {
	userID, itemID, ts := "user_id", "item_id", "ts"
	if csvTypes != nil {
		if t, ok := csvTypes["user_id"]; ok {
			userID = fmt.Sprintf("TRY_CAST(user_id AS %s)", t)
		}
		if t, ok := csvTypes["item_id"]; ok {
			itemID = fmt.Sprintf("TRY_CAST(item_id AS %s)", t)
		}
		if t, ok := csvTypes["ts"]; ok && !isTemporal(t) {
			ts = fmt.Sprintf("TRY_CAST(epoch(ts) AS %s)", t)
		}
	}
	return fmt.Sprintf(`SELECT * FROM (
	SELECT %s AS user_id, %s AS item_id, %s AS ts, dwell_s, CAST(clicked AS INTEGER) AS "like"
	FROM %s
) WHERE user_id IS NOT NULL AND item_id IS NOT NULL`, userID, itemID, ts, src)
}

func isTemporal(typ string) bool {
	t := strings.ToUpper(typ)
	return strings.HasPrefix(t, "TIMESTAMP") || t == "DATE"
}

func userAggQuery(inter string) string {
	return `SELECT user_id,
	count(item_id) AS u_cnt,
	avg(dwell_s) AS u_avg_dwell,
	quantile_cont(dwell_s, 0.9) AS u_p90_dwell,
	max(ts) AS u_last_ts
FROM ` + inter + `
WHERE user_id IS NOT NULL
GROUP BY user_id
ORDER BY user_id`
}

func itemAggQuery(inter string) string {
	return `SELECT item_id,
	count(user_id) AS i_pop,
	avg(dwell_s) AS i_avg_dwell,
	quantile_cont(dwell_s, 0.9) AS i_p90_dwell
FROM ` + inter + `
WHERE item_id IS NOT NULL
GROUP BY item_id
ORDER BY item_id`
}
