// Recserve - Recommendation Serving and Offline Training Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recserve

/*
Package jobs implements the offline batch pipeline that feeds the serving
stack. Every job reads and writes files under the data directory through the
embedded DuckDB instance:

	features     items.csv, interactions.csv (+ events/feedback-*.parquet)
	             -> items.parquet, interactions.parquet,
	                features/user_agg.parquet, features/item_agg.parquet
	ltr-dataset  interactions + aggregates -> ranking/train.parquet,
	             ranking/valid.parquet
	train-ranker ranking/*.parquet -> model/lgbm_ranker.txt (LightGBM CLI)
	             plus a JSON run record under the tracking directory
	build-index  items -> model/faiss.index (vector index file)
	train-als    interactions.parquet -> model/als_user_factors.npy,
	             model/als_item_factors.npy

Jobs fail with ErrMissingInput when an upstream artifact is absent, so a
pipeline run stops at the first step whose inputs were never produced.

Usage:

	runner := jobs.NewRunner(db, cfg, logging.WithComponent("jobs"))
	if _, err := runner.Features(ctx, jobs.FeaturesOptions{IncludeEvents: true}); err != nil {
	    return err
	}
	if _, err := runner.LTRDataset(ctx); err != nil {
	    return err
	}
*/
package jobs
