// Recserve - Recommendation Serving and Offline Training Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recserve

package embedding

import (
	"context"
	"fmt"
	"os"
	"strings"

	arkEmbed "github.com/cloudwego/eino-ext/components/embedding/ark"
	dashscopeEmbed "github.com/cloudwego/eino-ext/components/embedding/dashscope"
	openaiEmbed "github.com/cloudwego/eino-ext/components/embedding/openai"
	"github.com/cloudwego/eino/components/embedding"

	"github.com/tomtom215/recserve/internal/cache"
	"github.com/tomtom215/recserve/internal/config"
)

// NewEmbedderFromConfig builds the raw backend named by cfg.Provider.
// modelName labels the hash backend when cfg.Model is empty. Remote keys,
// models and base URLs fall back to the provider's usual environment
// variables.
func NewEmbedderFromConfig(ctx context.Context, cfg *config.EmbeddingConfig, modelName string) (embedding.Embedder, Meta, error) {
	if cfg == nil {
		return nil, Meta{}, fmt.Errorf("nil embedding config")
	}

	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	model := strings.TrimSpace(cfg.Model)
	dim := cfg.Dim

	switch provider {
	case "", "hash":
		if model == "" {
			model = modelName
		}
		return NewHashEmbedder(dim), Meta{Provider: "hash", Model: model, Dim: dim}, nil

	case "openai":
		apiKey := firstNonEmpty(cfg.APIKey, os.Getenv("OPENAI_API_KEY"))
		model = firstNonEmpty(model, os.Getenv("OPENAI_EMBED_MODEL"))
		baseURL := firstNonEmpty(cfg.BaseURL, os.Getenv("OPENAI_BASE_URL"))
		if apiKey == "" || model == "" {
			return nil, Meta{}, fmt.Errorf("openai embedding missing apiKey/model")
		}
		localDim := dim
		em, err := openaiEmbed.NewEmbedder(ctx, &openaiEmbed.EmbeddingConfig{
			APIKey:     apiKey,
			Model:      model,
			BaseURL:    baseURL,
			Timeout:    cfg.Timeout,
			Dimensions: &localDim,
		})
		if err != nil {
			return nil, Meta{}, fmt.Errorf("create openai embedder: %w", err)
		}
		return em, Meta{Provider: "openai", Model: model, Dim: dim}, nil

	case "ark":
		apiKey := firstNonEmpty(cfg.APIKey, os.Getenv("ARK_API_KEY"))
		model = firstNonEmpty(model, os.Getenv("ARK_EMBED_MODEL"))
		baseURL := firstNonEmpty(cfg.BaseURL, os.Getenv("ARK_BASE_URL"))
		if apiKey == "" || model == "" {
			return nil, Meta{}, fmt.Errorf("ark embedding missing apiKey/model")
		}
		em, err := arkEmbed.NewEmbedder(ctx, &arkEmbed.EmbeddingConfig{
			APIKey:  apiKey,
			Model:   model,
			BaseURL: baseURL,
		})
		if err != nil {
			return nil, Meta{}, fmt.Errorf("create ark embedder: %w", err)
		}
		return em, Meta{Provider: "ark", Model: model, Dim: dim}, nil

	case "dashscope":
		apiKey := firstNonEmpty(cfg.APIKey, os.Getenv("DASHSCOPE_API_KEY"))
		model = firstNonEmpty(model, os.Getenv("DASHSCOPE_EMBED_MODEL"))
		if apiKey == "" || model == "" {
			return nil, Meta{}, fmt.Errorf("dashscope embedding missing apiKey/model")
		}
		localDim := dim
		em, err := dashscopeEmbed.NewEmbedder(ctx, &dashscopeEmbed.EmbeddingConfig{
			Model:      model,
			APIKey:     apiKey,
			Dimensions: &localDim,
		})
		if err != nil {
			return nil, Meta{}, fmt.Errorf("create dashscope embedder: %w", err)
		}
		return em, Meta{Provider: "dashscope", Model: model, Dim: dim}, nil

	default:
		return nil, Meta{}, fmt.Errorf("unknown embedding provider: %s", provider)
	}
}

// NewProviderFromConfig assembles the full chain used by the server and the
// offline jobs: backend, breaker and limiter for remote backends, optional
// cache, then the probing Provider. store may be nil.
func NewProviderFromConfig(ctx context.Context, cfg *config.Config, store cache.VectorStore) (*Provider, error) {
	em, meta, err := NewEmbedderFromConfig(ctx, &cfg.Embedding, cfg.Model.Name)
	if err != nil {
		return nil, err
	}

	if meta.Provider != "hash" {
		em = NewResilientEmbedder(em, ResilienceOptions{
			Name:             meta.Provider,
			FailureThreshold: cfg.Embedding.BreakerFailures,
			OpenTimeout:      cfg.Embedding.BreakerTimeout,
			RateLimit:        cfg.Embedding.RateLimit,
			RateBurst:        cfg.Embedding.RateBurst,
		})
	}
	if store != nil {
		em = NewCachedEmbedder(em, store, meta)
	}

	return NewProvider(ctx, em, meta, Options{
		BatchSize:   cfg.Embedding.BatchSize,
		Concurrency: cfg.Embedding.Concurrency,
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
