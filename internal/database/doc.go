// Recserve - Recommendation Serving and Offline Training Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recserve

/*
Package database wraps an embedded DuckDB instance as the project's tabular
IO engine.

The serving path uses it once, to read items.csv (or write the synthetic
catalog). The offline jobs use it for everything tabular: CSV to Parquet
conversion, per-user and per-item aggregates, the learning-to-rank joins and
split, and LightGBM text exports. The feedback recorder uses it to write
event batches as Parquet.

Sources are plain FROM-clause strings built with CSVSource and
ParquetSource, so callers compose SQL directly:

	t, err := db.Query(ctx, "SELECT * FROM "+database.CSVSource(path))
	err = db.CopyTo(ctx, "SELECT * FROM "+database.CSVSource(path), out, database.FormatParquet)

Thread Safety: DB is safe for concurrent use; scratch tables are shared by
every connection of the pool, so callers pick unique table names.
*/
package database
