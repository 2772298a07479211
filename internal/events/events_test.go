// Recserve - Recommendation Serving and Offline Training Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recserve

package events

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/recserve/internal/config"
	"github.com/tomtom215/recserve/internal/database"
	"github.com/tomtom215/recserve/internal/metrics"
)

type memorySink struct {
	mu      sync.Mutex
	batches [][]FeedbackEvent
	err     error
	writes  int
}

func (s *memorySink) WriteEvents(_ context.Context, batch []FeedbackEvent) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if s.err != nil {
		return "", s.err
	}
	s.batches = append(s.batches, append([]FeedbackEvent(nil), batch...))
	return "memory", nil
}

func (s *memorySink) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

type failingPublisher struct{ calls int }

func (f *failingPublisher) Publish(string, ...*message.Message) error {
	f.calls++
	return errors.New("broker down")
}

func (f *failingPublisher) Close() error { return nil }

func ptr[T any](v T) *T { return &v }

func TestFeedbackEventRoundTrip(t *testing.T) {
	t.Parallel()

	e := NewFeedbackEvent(true, "v1.0", "us")
	e.UserID = ptr("u-1")
	e.ItemID = ptr(int64(42))

	data, err := e.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	got, err := UnmarshalFeedbackEvent(data)
	if err != nil {
		t.Fatalf("UnmarshalFeedbackEvent() error = %v", err)
	}
	if got.EventID != e.EventID || !got.Clicked || *got.ItemID != 42 || *got.UserID != "u-1" || got.DwellSeconds != nil {
		t.Errorf("round trip = %+v", got)
	}

	for _, bad := range []string{`not json`, `{"clicked":true}`} {
		if _, err := UnmarshalFeedbackEvent([]byte(bad)); !errors.Is(err, ErrInvalidEvent) {
			t.Errorf("UnmarshalFeedbackEvent(%s) error = %v", bad, err)
		}
	}
}

func TestPublisherCircuitBreaker(t *testing.T) {
	t.Parallel()

	fp := &failingPublisher{}
	p := NewPublisher(fp, PublisherOptions{Topic: "t", FailureThreshold: 2, OpenTimeout: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := p.Publish(ctx, NewFeedbackEvent(false, "v", "r")); err == nil {
			t.Fatal("expected publish error")
		}
	}
	if fp.calls != 2 {
		t.Errorf("transport calls = %d, want 2", fp.calls)
	}
	if p.State() != gobreaker.StateOpen.String() {
		t.Errorf("State() = %s, want open", p.State())
	}

	_ = p.Close()
	if err := p.Publish(ctx, NewFeedbackEvent(false, "v", "r")); !errors.Is(err, ErrPublisherClosed) {
		t.Errorf("Publish after Close = %v", err)
	}
}

func TestRecorderFlushesBatches(t *testing.T) {
	t.Parallel()

	ch := gochannel.NewGoChannel(gochannel.Config{Persistent: true, OutputChannelBuffer: 16}, watermill.NopLogger{})
	defer ch.Close()

	sink := &memorySink{}
	rec, err := NewRecorder(ch, sink, RecorderOptions{
		Topic:         "feedback-test",
		BatchSize:     2,
		FlushInterval: time.Hour,
		Region:        "test-recorder",
	}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	pub := NewPublisher(ch, PublisherOptions{Topic: "feedback-test"})
	for i := 0; i < 3; i++ {
		if err := pub.Publish(context.Background(), NewFeedbackEvent(i == 1, "v1.0", "test-recorder")); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}
	if err := ch.Publish("feedback-test", message.NewMessage("bad", []byte("garbage"))); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rec.Serve(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for sink.total() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if sink.total() < 2 {
		t.Fatal("first batch was not flushed")
	}

	// wait for the trailing events to be buffered before stopping
	for rec.Stats().EventsReceived+rec.Stats().EventsDropped < 4 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Serve() = %v, want context.Canceled", err)
	}

	stats := rec.Stats()
	if sink.total() != 3 || stats.EventsFlushed != 3 || stats.EventsDropped != 1 {
		t.Errorf("sink=%d stats=%+v, want 3 flushed and 1 dropped", sink.total(), stats)
	}
	if got := testutil.ToFloat64(metrics.FeatureIngestRate.WithLabelValues("test-recorder")); got != 3 {
		t.Errorf("feature_ingest_rate_total = %v, want 3", got)
	}
}

func TestRecorderRetainsEventsOnSinkFailure(t *testing.T) {
	t.Parallel()

	sink := &memorySink{err: errors.New("disk full")}
	ch := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	defer ch.Close()

	rec, err := NewRecorder(ch, sink, RecorderOptions{Topic: "t", BatchSize: 1, FlushInterval: time.Hour, Region: "test-retain"}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	rec.buffer = append(rec.buffer, NewFeedbackEvent(true, "v", "r"))
	rec.flush(context.Background())
	if len(rec.buffer) != 1 || rec.Stats().ErrorCount != 1 {
		t.Fatalf("buffer=%d stats=%+v", len(rec.buffer), rec.Stats())
	}

	sink.err = nil
	rec.flush(context.Background())
	if len(rec.buffer) != 0 || sink.total() != 1 {
		t.Errorf("retry did not flush: buffer=%d sink=%d", len(rec.buffer), sink.total())
	}
}

func TestRecorderBacksOffAfterSinkFailure(t *testing.T) {
	t.Parallel()

	sink := &memorySink{err: errors.New("disk full")}
	ch := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	defer ch.Close()

	rec, err := NewRecorder(ch, sink, RecorderOptions{Topic: "t", BatchSize: 1, FlushInterval: time.Minute, Region: "test-backoff"}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rec.now = func() time.Time { return now }
	ctx := context.Background()

	rec.buffer = append(rec.buffer, NewFeedbackEvent(true, "v", "r"))
	rec.flushIfFull(ctx)
	for i := 0; i < 10; i++ {
		rec.buffer = append(rec.buffer, NewFeedbackEvent(false, "v", "r"))
		rec.flushIfFull(ctx)
	}
	if sink.writes != 1 {
		t.Fatalf("sink writes = %d, want 1 while backing off", sink.writes)
	}

	sink.err = nil
	now = now.Add(time.Minute)
	rec.flushIfFull(ctx)
	// the buffer is capped at maxBufferedBatches batches while waiting
	if sink.writes != 2 || sink.total() != 10 || len(rec.buffer) != 0 || rec.Stats().EventsDropped != 1 {
		t.Errorf("writes=%d total=%d buffer=%d dropped=%d, want one retry flushing 10 events",
			sink.writes, sink.total(), len(rec.buffer), rec.Stats().EventsDropped)
	}
}

func TestNewRecorderValidation(t *testing.T) {
	t.Parallel()

	ch := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	defer ch.Close()

	tests := []struct {
		name string
		opts RecorderOptions
	}{
		{"missing topic", RecorderOptions{BatchSize: 1, FlushInterval: time.Second}},
		{"zero batch", RecorderOptions{Topic: "t", FlushInterval: time.Second}},
		{"zero interval", RecorderOptions{Topic: "t", BatchSize: 1}},
	}
	for _, tt := range tests {
		if _, err := NewRecorder(ch, &memorySink{}, tt.opts, zerolog.Nop()); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}
}

func TestParquetSink(t *testing.T) {
	t.Parallel()

	db, err := database.New(&config.DatabaseConfig{Threads: 1})
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	dir := t.TempDir()
	sink := NewParquetSink(db, dir)

	a := NewFeedbackEvent(true, "v1.0", "us")
	a.UserID = ptr("7")
	a.ItemID = ptr(int64(3))
	a.DwellSeconds = ptr(12.5)
	b := NewFeedbackEvent(false, "v1.0", "us")

	path, err := sink.WriteEvents(context.Background(), []FeedbackEvent{a, b})
	if err != nil {
		t.Fatalf("WriteEvents() error = %v", err)
	}
	if ok, _ := filepath.Match(FilePattern, filepath.Base(path)); !ok {
		t.Errorf("file %s does not match %s", path, FilePattern)
	}

	tbl, err := db.Query(context.Background(),
		"SELECT user_id, item_id, clicked, dwell_s FROM "+database.ParquetSource(path)+" ORDER BY clicked DESC")
	if err != nil {
		t.Fatal(err)
	}
	if tbl.Len() != 2 {
		t.Fatalf("rows = %d, want 2", tbl.Len())
	}
	if tbl.Rows[0][0] != "7" || tbl.Rows[0][1] != int64(3) || tbl.Rows[0][2] != true || tbl.Rows[0][3] != 12.5 {
		t.Errorf("first row = %v", tbl.Rows[0])
	}
	if tbl.Rows[1][0] != nil || tbl.Rows[1][1] != nil || tbl.Rows[1][3] != nil {
		t.Errorf("second row should carry NULLs, got %v", tbl.Rows[1])
	}

	if p, err := sink.WriteEvents(context.Background(), nil); err != nil || p != "" {
		t.Errorf("empty batch = %q, %v", p, err)
	}
}

func TestNewPubSub(t *testing.T) {
	t.Parallel()

	ps, err := NewPubSub(&config.EventsConfig{Backend: "memory", BatchSize: 8}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := ps.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}

	if _, err := NewPubSub(&config.EventsConfig{Backend: "kafka"}, nil); err == nil {
		t.Error("unknown backend should fail")
	}
}
