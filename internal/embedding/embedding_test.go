// Recserve - Recommendation Serving and Offline Training Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recserve

package embedding

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/recserve/internal/cache"
	"github.com/tomtom215/recserve/internal/config"
	"github.com/tomtom215/recserve/internal/vector"
)

// countingEmbedder wraps HashEmbedder and counts texts it was asked for.
type countingEmbedder struct {
	mu    sync.Mutex
	inner *HashEmbedder
	calls int
	texts int
	err   error
}

func (c *countingEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	c.mu.Lock()
	c.calls++
	c.texts += len(texts)
	err := c.err
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return c.inner.EmbedStrings(ctx, texts, opts...)
}

type fixedEmbedder struct{ dim int }

func (f fixedEmbedder) EmbedStrings(_ context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i := range out {
		out[i] = make([]float64, f.dim)
		out[i][0] = 3
	}
	return out, nil
}

func TestHashEmbedderDeterministic(t *testing.T) {
	t.Parallel()

	h := NewHashEmbedder(384)
	a, err := h.EmbedStrings(context.Background(), []string{"Red Car", "red, car!"})
	if err != nil {
		t.Fatal(err)
	}
	if len(a[0]) != 384 {
		t.Fatalf("dim = %d, want 384", len(a[0]))
	}
	for i := range a[0] {
		if a[0][i] != a[1][i] {
			t.Fatalf("case and punctuation should not change the vector (bucket %d)", i)
		}
	}
	if n := vector.Norm(a[0]); math.Abs(n-1) > 1e-9 {
		t.Errorf("norm = %v, want 1", n)
	}

	empty, _ := h.EmbedStrings(context.Background(), []string{""})
	if vector.Norm(empty[0]) != 0 {
		t.Error("empty text should embed to the zero vector")
	}

	punct, _ := h.EmbedStrings(context.Background(), []string{"!!!"})
	if vector.Norm(punct[0]) == 0 {
		t.Error("non-empty text without tokens should still embed")
	}
}

func TestHashEmbedderSimilarity(t *testing.T) {
	t.Parallel()

	h := NewHashEmbedder(384)
	vecs, err := h.EmbedStrings(context.Background(), []string{"car", "red car", "blue car", "space ship"})
	if err != nil {
		t.Fatal(err)
	}
	q := vecs[0]
	if vector.Dot(q, vecs[1]) <= 0 || vector.Dot(q, vecs[2]) <= 0 {
		t.Error("texts sharing a token should have positive similarity")
	}
	if vector.Dot(q, vecs[3]) != 0 {
		t.Error("disjoint texts should be orthogonal")
	}
}

func TestNewProvider(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	tests := []struct {
		name     string
		embedder embedding.Embedder
		meta     Meta
		wantDim  int
		wantErr  error
		anyErr   bool
	}{
		{name: "hash", embedder: NewHashEmbedder(16), meta: Meta{Provider: "hash", Dim: 16}, wantDim: 16},
		{name: "dim from probe", embedder: NewHashEmbedder(8), meta: Meta{Provider: "hash"}, wantDim: 8},
		{name: "dimension mismatch", embedder: NewHashEmbedder(8), meta: Meta{Provider: "hash", Dim: 16}, wantErr: ErrDimensionMismatch},
		{name: "unavailable", embedder: &countingEmbedder{inner: NewHashEmbedder(8), err: errors.New("connection refused")}, meta: Meta{Provider: "remote", Dim: 8}, anyErr: true},
		{name: "nil embedder", embedder: nil, anyErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p, err := NewProvider(ctx, tt.embedder, tt.meta, Options{})
			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("NewProvider() error = %v, want %v", err, tt.wantErr)
				}
			case tt.anyErr:
				if err == nil {
					t.Fatal("NewProvider() expected error")
				}
			default:
				if err != nil {
					t.Fatalf("NewProvider() error = %v", err)
				}
				if p.Dim() != tt.wantDim {
					t.Errorf("Dim() = %d, want %d", p.Dim(), tt.wantDim)
				}
			}
		})
	}
}

func TestProviderEmbedBatchesKeepOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	inner := &countingEmbedder{inner: NewHashEmbedder(32)}
	p, err := NewProvider(ctx, inner, Meta{Provider: "hash", Dim: 32}, Options{BatchSize: 3, Concurrency: 2})
	if err != nil {
		t.Fatal(err)
	}

	texts := []string{"a", "b", "c", "d", "e", "f", "g"}
	got, err := p.Embed(ctx, texts)
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	want, _ := NewHashEmbedder(32).EmbedStrings(ctx, texts)
	for i := range texts {
		for j := range want[i] {
			if got[i][j] != want[i][j] {
				t.Fatalf("vector %d differs from direct embedding", i)
			}
		}
	}
	// one probe call plus ceil(7/3) batches
	if inner.calls != 4 {
		t.Errorf("backend calls = %d, want 4", inner.calls)
	}

	empty, err := p.Embed(ctx, nil)
	if err != nil || len(empty) != 0 {
		t.Errorf("Embed(nil) = %v, %v", empty, err)
	}
}

func TestProviderEmbedOneIsUnitNorm(t *testing.T) {
	t.Parallel()

	p, err := NewProvider(context.Background(), fixedEmbedder{dim: 4}, Meta{Provider: "fixed", Dim: 4}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	for _, text := range []string{"x", "some longer text"} {
		v, err := p.EmbedOne(context.Background(), text)
		if err != nil {
			t.Fatal(err)
		}
		if n := vector.Norm(v); math.Abs(n-1) > 1e-6 {
			t.Errorf("EmbedOne(%q) norm = %v", text, n)
		}
	}
}

func TestCachedEmbedder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	inner := &countingEmbedder{inner: NewHashEmbedder(16)}
	store := cache.NewMemoryVectorStore(100, 0)
	c := NewCachedEmbedder(inner, store, Meta{Provider: "hash", Model: "m", Dim: 16})

	first, err := c.EmbedStrings(ctx, []string{"alpha", "beta"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := c.EmbedStrings(ctx, []string{"beta", "gamma", "alpha"})
	if err != nil {
		t.Fatal(err)
	}

	if inner.texts != 3 {
		t.Errorf("backend embedded %d texts, want 3", inner.texts)
	}
	for j := range first[0] {
		if first[0][j] != second[2][j] || first[1][j] != second[0][j] {
			t.Fatal("cached vectors should match the originals")
		}
	}

	inner.err = errors.New("down")
	if _, err := c.EmbedStrings(ctx, []string{"alpha"}); err != nil {
		t.Errorf("fully cached request should not reach the backend: %v", err)
	}
	if _, err := c.EmbedStrings(ctx, []string{"delta"}); err == nil {
		t.Error("miss should surface backend error")
	}
}

func TestResilientEmbedderOpensBreaker(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	inner := &countingEmbedder{inner: NewHashEmbedder(4), err: errors.New("503")}
	r := NewResilientEmbedder(inner, ResilienceOptions{Name: "test-breaker", FailureThreshold: 2, OpenTimeout: time.Minute})

	for i := 0; i < 2; i++ {
		if _, err := r.EmbedStrings(ctx, []string{"x"}); err == nil {
			t.Fatal("expected backend error")
		}
	}
	if _, err := r.EmbedStrings(ctx, []string{"x"}); !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("error = %v, want open breaker", err)
	}
	if inner.calls != 2 {
		t.Errorf("backend calls = %d, want 2", inner.calls)
	}
	if r.State() != gobreaker.StateOpen.String() {
		t.Errorf("State() = %s", r.State())
	}
}

func TestResilientEmbedderRateLimitHonorsContext(t *testing.T) {
	t.Parallel()

	r := NewResilientEmbedder(NewHashEmbedder(4), ResilienceOptions{Name: "test-limit", RateLimit: 0.001, RateBurst: 1})
	if _, err := r.EmbedStrings(context.Background(), []string{"x"}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := r.EmbedStrings(ctx, []string{"x"}); err == nil {
		t.Error("second call should be rejected by the limiter")
	}
}

func TestNewEmbedderFromConfig(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("OPENAI_EMBED_MODEL", "")
	t.Setenv("ARK_API_KEY", "")
	t.Setenv("DASHSCOPE_API_KEY", "")

	ctx := context.Background()

	em, meta, err := NewEmbedderFromConfig(ctx, &config.EmbeddingConfig{Provider: "hash", Dim: 64}, "all-MiniLM-L6-v2")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := em.(*HashEmbedder); !ok {
		t.Errorf("hash provider built %T", em)
	}
	if meta != (Meta{Provider: "hash", Model: "all-MiniLM-L6-v2", Dim: 64}) {
		t.Errorf("meta = %+v", meta)
	}

	for _, provider := range []string{"openai", "ark", "dashscope", "nope"} {
		if _, _, err := NewEmbedderFromConfig(ctx, &config.EmbeddingConfig{Provider: provider, Dim: 64}, "m"); err == nil {
			t.Errorf("%s without credentials should fail", provider)
		}
	}
}

func TestNewProviderFromConfig(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		Model:     config.ModelConfig{Name: "all-MiniLM-L6-v2"},
		Embedding: config.EmbeddingConfig{Provider: "hash", Dim: 384, BatchSize: 64, Concurrency: 4},
	}
	p, err := NewProviderFromConfig(context.Background(), cfg, cache.NewMemoryVectorStore(10, 0))
	if err != nil {
		t.Fatal(err)
	}
	if p.Dim() != 384 || p.Meta().Provider != "hash" {
		t.Errorf("Meta() = %+v", p.Meta())
	}
}
