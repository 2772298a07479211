// Recserve - Recommendation Serving and Offline Training Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recserve

package events

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog"

	"github.com/tomtom215/recserve/internal/metrics"
)

// maxBufferedBatches bounds how much a failing sink can make the recorder
// hold in memory before it starts dropping the oldest events.
const maxBufferedBatches = 10

// RecorderOptions configures NewRecorder.
type RecorderOptions struct {
	Topic         string
	BatchSize     int
	FlushInterval time.Duration
	// Region labels the feature ingest metrics.
	Region string
}

// RecorderStats are lifetime counters.
type RecorderStats struct {
	EventsReceived int64
	EventsFlushed  int64
	EventsDropped  int64
	FlushCount     int64
	ErrorCount     int64
}

// Recorder subscribes to feedback events and writes them to a Sink in
// batches, when BatchSize events are buffered or FlushInterval elapses.
// Each successful flush feeds feature_ingest_rate_total and
// feature_lag_seconds. It implements suture.Service.
//
// Messages are acked once buffered, so delivery is at most once.
type Recorder struct {
	sub    message.Subscriber
	sink   Sink
	opts   RecorderOptions
	logger zerolog.Logger
	now    func() time.Time

	buffer  []FeedbackEvent // owned by Serve
	retryAt time.Time       // after a failed write, batch-size flushes wait until then

	received atomic.Int64
	flushed  atomic.Int64
	dropped  atomic.Int64
	flushes  atomic.Int64
	errs     atomic.Int64
}

// NewRecorder validates options and builds a recorder.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewRecorder(sub message.Subscriber, sink Sink, opts RecorderOptions, logger zerolog.Logger) (*Recorder, error) {
	if sub == nil || sink == nil {
		return nil, errors.New("events: subscriber and sink are required")
	}
	if opts.Topic == "" {
		return nil, errors.New("events: topic is required")
	}
	if opts.BatchSize <= 0 {
		return nil, fmt.Errorf("events: batch size must be positive, got %d", opts.BatchSize)
	}
	if opts.FlushInterval <= 0 {
		return nil, fmt.Errorf("events: flush interval must be positive, got %s", opts.FlushInterval)
	}

	return &Recorder{
		sub:    sub,
		sink:   sink,
		opts:   opts,
		logger: logger.With().Str("component", "feedback-recorder").Logger(),
		now:    time.Now,
		buffer: make([]FeedbackEvent, 0, opts.BatchSize),
	}, nil
}

// Serve consumes the topic until ctx is done, then flushes what is left.
func (r *Recorder) Serve(ctx context.Context) error {
	msgs, err := r.sub.Subscribe(ctx, r.opts.Topic)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", r.opts.Topic, err)
	}

	ticker := time.NewTicker(r.opts.FlushInterval)
	defer ticker.Stop()

	r.logger.Info().Str("topic", r.opts.Topic).Int("batch_size", r.opts.BatchSize).Msg("Feedback recorder started")

	for {
		select {
		case <-ctx.Done():
			r.finalFlush()
			return ctx.Err()

		case msg, ok := <-msgs:
			if !ok {
				r.finalFlush()
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return errors.New("events: subscription closed")
			}
			r.handle(msg)
			r.flushIfFull(ctx)

		case <-ticker.C:
			r.flush(ctx)
		}
	}
}

func (r *Recorder) String() string { return "feedback-recorder" }

// Stats returns lifetime counters.
func (r *Recorder) Stats() RecorderStats {
	return RecorderStats{
		EventsReceived: r.received.Load(),
		EventsFlushed:  r.flushed.Load(),
		EventsDropped:  r.dropped.Load(),
		FlushCount:     r.flushes.Load(),
		ErrorCount:     r.errs.Load(),
	}
}

func (r *Recorder) handle(msg *message.Message) {
	defer msg.Ack()

	event, err := UnmarshalFeedbackEvent(msg.Payload)
	if err != nil {
		r.dropped.Add(1)
		r.logger.Warn().Err(err).Str("message_uuid", msg.UUID).Msg("Dropping malformed feedback event")
		return
	}
	r.received.Add(1)
	r.buffer = append(r.buffer, event)
}

// finalFlush uses a fresh context: the service context is already done.
func (r *Recorder) finalFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	r.flush(ctx)
}

// flushIfFull flushes a full buffer unless a recent write failed; the ticker
// retries failed writes.
func (r *Recorder) flushIfFull(ctx context.Context) {
	if len(r.buffer) < r.opts.BatchSize {
		return
	}
	if r.now().Before(r.retryAt) {
		r.trimBuffer()
		return
	}
	r.flush(ctx)
}

// trimBuffer drops the oldest events beyond maxBufferedBatches batches.
func (r *Recorder) trimBuffer() {
	if limit := maxBufferedBatches * r.opts.BatchSize; len(r.buffer) > limit {
		drop := len(r.buffer) - limit
		r.dropped.Add(int64(drop))
		r.buffer = append(r.buffer[:0], r.buffer[drop:]...)
	}
}

func (r *Recorder) flush(ctx context.Context) {
	if len(r.buffer) == 0 {
		return
	}

	batch := r.buffer
	path, err := r.sink.WriteEvents(ctx, batch)
	if err != nil {
		r.errs.Add(1)
		r.retryAt = r.now().Add(r.opts.FlushInterval)
		r.logger.Warn().Err(err).Int("events", len(batch)).Msg("Feedback flush failed, keeping events for retry")
		r.trimBuffer()
		return
	}

	oldest := batch[0].Timestamp
	for _, e := range batch[1:] {
		if e.Timestamp.Before(oldest) {
			oldest = e.Timestamp
		}
	}
	lag := max(r.now().Sub(oldest), 0)
	metrics.RecordFeatureIngest(r.opts.Region, len(batch), lag)

	r.flushed.Add(int64(len(batch)))
	r.flushes.Add(1)
	r.logger.Debug().Str("path", path).Int("events", len(batch)).Dur("lag", lag).Msg("Feedback batch written")

	r.buffer = make([]FeedbackEvent, 0, r.opts.BatchSize)
	r.retryAt = time.Time{}
}
