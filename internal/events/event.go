// Recserve - Recommendation Serving and Offline Training Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recserve

package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// ErrInvalidEvent is returned when a message payload is not a FeedbackEvent.
var ErrInvalidEvent = errors.New("events: invalid feedback event")

// FeedbackEvent is one /feedback call.
type FeedbackEvent struct {
	EventID      string    `json:"event_id"`
	UserID       *string   `json:"user_id,omitempty"`
	ItemID       *int64    `json:"item_id,omitempty"`
	Clicked      bool      `json:"clicked"`
	DwellSeconds *float64  `json:"dwell_s,omitempty"`
	Timestamp    time.Time `json:"ts"`
	ModelVersion string    `json:"model_version"`
	Region       string    `json:"region"`
}

// NewFeedbackEvent stamps a new event with an ID and the current time.
func NewFeedbackEvent(clicked bool, modelVersion, region string) FeedbackEvent {
	return FeedbackEvent{
		EventID:      uuid.NewString(),
		Clicked:      clicked,
		Timestamp:    time.Now().UTC(),
		ModelVersion: modelVersion,
		Region:       region,
	}
}

// Marshal encodes the event as JSON.
func (e *FeedbackEvent) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalFeedbackEvent decodes and validates a payload.
func UnmarshalFeedbackEvent(data []byte) (FeedbackEvent, error) {
	var e FeedbackEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return FeedbackEvent{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if e.EventID == "" || e.Timestamp.IsZero() {
		return FeedbackEvent{}, fmt.Errorf("%w: missing event_id or ts", ErrInvalidEvent)
	}
	return e, nil
}
