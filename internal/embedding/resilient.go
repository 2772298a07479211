// Recserve - Recommendation Serving and Offline Training Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recserve

package embedding

import (
	"context"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/recserve/internal/logging"
	"github.com/tomtom215/recserve/internal/metrics"
)

// ResilienceOptions configures ResilientEmbedder.
type ResilienceOptions struct {
	// Name labels the breaker and the embedding_requests_total series.
	Name string
	// FailureThreshold consecutive failures open the breaker.
	FailureThreshold uint32
	// OpenTimeout is how long the breaker stays open before a half-open probe.
	OpenTimeout time.Duration
	// RateLimit in requests per second; zero disables limiting.
	RateLimit float64
	RateBurst int
}

// ResilientEmbedder guards a remote embedder with a rate limiter and a
// circuit breaker. An open breaker fails fast with gobreaker.ErrOpenState.
type ResilientEmbedder struct {
	inner   embedding.Embedder
	name    string
	breaker *gobreaker.CircuitBreaker[[][]float64]
	limiter *rate.Limiter
}

var _ embedding.Embedder = (*ResilientEmbedder)(nil)

// NewResilientEmbedder wraps inner.
func NewResilientEmbedder(inner embedding.Embedder, opts ResilienceOptions) *ResilientEmbedder {
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = 5
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 30 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        opts.Name,
		MaxRequests: 1,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Embedding circuit breaker state changed")
		},
	}

	r := &ResilientEmbedder{
		inner:   inner,
		name:    opts.Name,
		breaker: gobreaker.NewCircuitBreaker[[][]float64](settings),
	}
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return r
}

// State reports the breaker state.
func (r *ResilientEmbedder) State() string {
	return r.breaker.State().String()
}

// EmbedStrings implements embedding.Embedder.
func (r *ResilientEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			metrics.RecordEmbeddingRequest(r.name, err)
			return nil, err
		}
	}

	out, err := r.breaker.Execute(func() ([][]float64, error) {
		return r.inner.EmbedStrings(ctx, texts, opts...)
	})
	metrics.RecordEmbeddingRequest(r.name, err)
	return out, err
}
