// Recserve - Recommendation Serving and Offline Training Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recserve

package main

import (
	"fmt"

	"github.com/tomtom215/recserve/internal/api"
	"github.com/tomtom215/recserve/internal/config"
	"github.com/tomtom215/recserve/internal/database"
	"github.com/tomtom215/recserve/internal/events"
	"github.com/tomtom215/recserve/internal/logging"
)

// feedbackComponents holds the optional event stream. The zero value means
// events are disabled.
type feedbackComponents struct {
	pubsub    *events.PubSub
	publisher *events.Publisher
	recorder  *events.Recorder
}

// FeedbackPublisher returns the publisher as the handler interface. It is a
// nil interface when events are disabled so the handler skips publishing.
func (f *feedbackComponents) FeedbackPublisher() api.FeedbackPublisher {
	if f.publisher == nil {
		return nil
	}
	return f.publisher
}

// Close closes the publisher, then the transport.
func (f *feedbackComponents) Close() {
	if f.publisher != nil {
		if err := f.publisher.Close(); err != nil {
			logging.Warn().Err(err).Msg("Failed to close feedback publisher")
		}
	}
	if f.pubsub != nil {
		if err := f.pubsub.Close(); err != nil {
			logging.Warn().Err(err).Msg("Failed to close event transport")
		}
	}
}

// initEvents wires the feedback publisher and recorder when events are
// enabled. Recorded batches land in cfg.EventsDir() as Parquet files that
// `recjobs features --include-events` folds into the aggregates.
func initEvents(cfg *config.Config, db *database.DB) (*feedbackComponents, error) {
	if !cfg.Events.Enabled {
		logging.Info().Msg("Feedback events disabled")
		return &feedbackComponents{}, nil
	}

	ps, err := events.NewPubSub(&cfg.Events, logging.NewWatermillAdapter(logging.WithComponent("watermill")))
	if err != nil {
		return nil, fmt.Errorf("create event transport: %w", err)
	}

	publisher := events.NewPublisher(ps.Publisher, events.PublisherOptions{
		Topic:            cfg.Events.Topic,
		FailureThreshold: cfg.Events.BreakerFailures,
	})

	recorder, err := events.NewRecorder(ps.Subscriber, events.NewParquetSink(db, cfg.EventsDir()), events.RecorderOptions{
		Topic:         cfg.Events.Topic,
		BatchSize:     cfg.Events.BatchSize,
		FlushInterval: cfg.Events.FlushInterval,
		Region:        cfg.Model.Region,
	}, logging.WithComponent("events"))
	if err != nil {
		_ = publisher.Close()
		_ = ps.Close()
		return nil, fmt.Errorf("create feedback recorder: %w", err)
	}

	logging.Info().
		Str("backend", cfg.Events.Backend).
		Str("topic", cfg.Events.Topic).
		Str("dir", cfg.EventsDir()).
		Msg("Feedback events enabled")
	return &feedbackComponents{pubsub: ps, publisher: publisher, recorder: recorder}, nil
}
