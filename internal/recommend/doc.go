// Recserve - Recommendation Serving and Offline Training Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recserve

// Package recommend answers free-text recommendation queries over the item
// catalog.
//
// # Architecture
//
// The engine composes three immutable pieces built at startup:
//
//   - the catalog (item rows and their texts)
//   - an embedding Provider for queries
//   - an exact inner-product vector.Index over the item embeddings
//
// A query is embedded and unit-normalized, the index returns the top
// min(k, N) rows, and each row is rendered as {"score": s, ...item fields}.
//
// # Drift
//
// DriftScore compares the mean of recent query vectors with the catalog
// centroid: 0.5 * (1 - cos), floored at 0 and capped at 0.5. It is a coarse
// signal for the data_drift_score gauge, not a statistical test.
//
// # Usage
//
//	engine, err := recommend.NewEngine(ctx, provider, cat, recommend.Options{}, logger)
//	resp, err := engine.Recommend(ctx, recommend.Request{Query: "space opera", K: 10})
//
// # Thread Safety
//
// Engine is safe for concurrent use. Nothing it owns is mutated after
// NewEngine returns.
package recommend
