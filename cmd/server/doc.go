// Recserve - Recommendation Serving and Offline Training Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recserve

/*
Package main is the entry point for the recserve HTTP server.

The server loads (or generates) the item catalog, embeds every item, and
answers free-text recommendation requests with the k nearest items by cosine
similarity. It exports Prometheus metrics for traffic, latency, click-through
rate and query drift, and can forward feedback events to a broker for the
offline feature pipeline.

# Application Architecture

	recserve
	├── data-layer
	│   └── metrics-multiproc-writer (METRICS_MULTIPROC_DIR)
	├── messaging-layer
	│   └── feedback-recorder (EVENTS_ENABLED=true)
	└── api-layer
	    └── http-server

Component initialization order:

 1. Configuration: Koanf v2 with defaults, config.yaml, .env and environment
 2. Logging: zerolog with JSON/console output and optional file rotation
 3. Database: in-process DuckDB for CSV and Parquet IO
 4. Catalog: data/items.csv, written synthetically on first start
 5. Embeddings: hash, OpenAI, Ark or DashScope provider with optional cache
 6. Engine: vector index over the catalog (prebuilt index when it matches)
 7. Metrics: labelled aggregator and multi-process exporter
 8. Events (optional): watermill publisher and Parquet recorder
 9. HTTP Server: chi router behind the supervisor tree

# Endpoints

	GET  /           service info (model_version, region)
	GET  /healthz    liveness
	POST /recommend  {"user_text": "...", "k": 10}
	POST /feedback   {"clicked": true}
	GET  /metrics    Prometheus exposition

# Signal Handling

SIGINT and SIGTERM cancel the root context. The HTTP server drains in-flight
requests within SERVER_SHUTDOWN_TIMEOUT, the recorder flushes its buffer and
the metrics exporter writes its last snapshot.

# Example Usage

	export MODEL_VERSION=v1.3
	export MODEL_REGION=eu
	export EMBEDDING_PROVIDER=openai
	export EMBEDDING_API_KEY=sk-...
	./recserve
*/
package main
