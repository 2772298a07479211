// Recserve - Recommendation Serving and Offline Training Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recserve

package events

import (
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	natsgo "github.com/nats-io/nats.go"

	"github.com/tomtom215/recserve/internal/config"
)

// recorderQueueGroup makes NATS deliver each event to one recorder per
// deployment, however many server processes subscribe.
const recorderQueueGroup = "recserve-recorder"

// PubSub is a publisher and subscriber pair over the same transport.
type PubSub struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
	closers    []func() error
}

// Close closes both sides.
func (p *PubSub) Close() error {
	var firstErr error
	for _, c := range p.closers {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// NewPubSub builds the transport named by cfg.Backend: an in-process
// gochannel ("memory") or core NATS ("nats").
func NewPubSub(cfg *config.EventsConfig, logger watermill.LoggerAdapter) (*PubSub, error) {
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	switch cfg.Backend {
	case "", "memory":
		ch := gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: int64(cfg.BatchSize),
		}, logger)
		return &PubSub{Publisher: ch, Subscriber: ch, closers: []func() error{ch.Close}}, nil

	case "nats":
		natsOpts := []natsgo.Option{
			natsgo.Name("recserve"),
			natsgo.RetryOnFailedConnect(true),
			natsgo.MaxReconnects(-1),
			natsgo.ReconnectWait(2 * time.Second),
			natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
				if err != nil {
					logger.Error("NATS disconnected", err, nil)
				}
			}),
			natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
				logger.Info("NATS reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
			}),
		}

		pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
			URL:         cfg.NATSURL,
			NatsOptions: natsOpts,
			Marshaler:   &wmNats.NATSMarshaler{},
			JetStream:   wmNats.JetStreamConfig{Disabled: true},
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("create nats publisher: %w", err)
		}

		sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
			URL:              cfg.NATSURL,
			QueueGroupPrefix: recorderQueueGroup,
			SubscribersCount: 1,
			CloseTimeout:     10 * time.Second,
			AckWaitTimeout:   30 * time.Second,
			NatsOptions:      natsOpts,
			Unmarshaler:      &wmNats.NATSMarshaler{},
			JetStream:        wmNats.JetStreamConfig{Disabled: true},
		}, logger)
		if err != nil {
			_ = pub.Close()
			return nil, fmt.Errorf("create nats subscriber: %w", err)
		}

		return &PubSub{Publisher: pub, Subscriber: sub, closers: []func() error{pub.Close, sub.Close}}, nil

	default:
		return nil, fmt.Errorf("unknown events backend %q", cfg.Backend)
	}
}
