// Recserve - Recommendation Serving and Offline Training Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recserve

package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/recserve/internal/logging"
	"github.com/tomtom215/recserve/internal/metrics"
)

// ErrPublisherClosed is returned by Publish after Close.
var ErrPublisherClosed = errors.New("events: publisher is closed")

// Publisher sends feedback events to a topic behind a circuit breaker, so a
// broker outage costs one fast failure per call instead of a stalled request.
type Publisher struct {
	pub     message.Publisher
	topic   string
	breaker *gobreaker.CircuitBreaker[struct{}]

	mu     sync.RWMutex
	closed bool
}

// PublisherOptions configures NewPublisher.
type PublisherOptions struct {
	Topic            string
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

// NewPublisher wraps a watermill publisher.
func NewPublisher(pub message.Publisher, opts PublisherOptions) *Publisher {
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = 5
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 30 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        "feedback-publisher",
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
				Msg("Publisher circuit breaker state changed")
		},
	}

	return &Publisher{
		pub:     pub,
		topic:   opts.Topic,
		breaker: gobreaker.NewCircuitBreaker[struct{}](settings),
	}
}

// Publish sends one event.
func (p *Publisher) Publish(ctx context.Context, event FeedbackEvent) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPublisherClosed
	}

	data, err := event.Marshal()
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := message.NewMessage(event.EventID, data)
	msg.Metadata.Set("region", event.Region)
	msg.Metadata.Set("model_version", event.ModelVersion)
	msg.SetContext(ctx)

	_, err = p.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, p.pub.Publish(p.topic, msg)
	})
	metrics.RecordFeedbackPublish(err)
	if err != nil {
		return fmt.Errorf("publish %s: %w", event.EventID, err)
	}
	return nil
}

// State reports the breaker state.
func (p *Publisher) State() string {
	return p.breaker.State().String()
}

// Close stops publishing. The underlying transport is owned by the caller.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
