// Recserve - Recommendation Serving and Offline Training Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recserve

/*
Package embedding turns free text into fixed-dimension vectors.

All backends implement the eino embedding.Embedder interface:

  - HashEmbedder: deterministic hashed bag-of-tokens, no network (default)
  - openai, ark, dashscope: eino-ext remote embedders

Remote backends are wrapped in a ResilientEmbedder (circuit breaker plus rate
limiter) and any backend may sit behind a CachedEmbedder. Provider sits on
top of the chain: it probes the backend once at construction, splits large
inputs into concurrent batches and checks every vector's dimension.

Usage:

	p, err := embedding.NewProviderFromConfig(ctx, cfg, store)
	if err != nil {
	    logging.Fatal().Err(err).Msg("Embedding provider unavailable")
	}
	q, err := p.EmbedOne(ctx, "space opera")
*/
package embedding
