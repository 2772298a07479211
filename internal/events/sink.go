// Recserve - Recommendation Serving and Offline Training Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recserve

package events

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/tomtom215/recserve/internal/database"
)

// Sink persists a batch of events and returns where they went.
type Sink interface {
	WriteEvents(ctx context.Context, batch []FeedbackEvent) (string, error)
}

// EventColumns is the Parquet schema of recorded feedback files.
const EventColumns = `event_id VARCHAR, user_id VARCHAR, item_id BIGINT, clicked BOOLEAN,
	dwell_s DOUBLE, ts TIMESTAMP, model_version VARCHAR, region VARCHAR`

// FilePattern matches every recorded feedback file in a directory.
const FilePattern = "feedback-*.parquet"

// ParquetSink writes each batch to <dir>/feedback-<unix-ms>-<id>.parquet
// through DuckDB.
type ParquetSink struct {
	db  *database.DB
	dir string
}

// NewParquetSink writes into dir.
func NewParquetSink(db *database.DB, dir string) *ParquetSink {
	return &ParquetSink{db: db, dir: dir}
}

// Dir returns the output directory.
func (s *ParquetSink) Dir() string { return s.dir }

// WriteEvents implements Sink.
func (s *ParquetSink) WriteEvents(ctx context.Context, batch []FeedbackEvent) (string, error) {
	if len(batch) == 0 {
		return "", nil
	}

	id := uuid.New()
	table := "feedback_batch_" + strings.ReplaceAll(id.String(), "-", "")
	if err := s.db.Exec(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", table, EventColumns)); err != nil {
		return "", fmt.Errorf("create batch table: %w", err)
	}
	defer func() {
		_ = s.db.Exec(context.Background(), "DROP TABLE IF EXISTS "+table)
	}()

	placeholders := make([]string, len(batch))
	args := make([]any, 0, len(batch)*8)
	for i, e := range batch {
		placeholders[i] = "(?, ?, ?, ?, ?, ?, ?, ?)"
		args = append(args, e.EventID, nullable(e.UserID), nullable(e.ItemID), e.Clicked,
			nullable(e.DwellSeconds), e.Timestamp.UTC(), e.ModelVersion, e.Region)
	}
	insert := fmt.Sprintf("INSERT INTO %s VALUES %s", table, strings.Join(placeholders, ", "))
	if err := s.db.Exec(ctx, insert, args...); err != nil {
		return "", fmt.Errorf("insert batch: %w", err)
	}

	name := fmt.Sprintf("feedback-%d-%s.parquet", batch[0].Timestamp.UnixMilli(), id.String()[:8])
	path := filepath.Join(s.dir, name)
	if err := s.db.CopyTo(ctx, "SELECT * FROM "+table+" ORDER BY ts, event_id", path, database.FormatParquet); err != nil {
		return "", err
	}
	return path, nil
}

// nullable turns a nil pointer into an untyped nil bind argument.
func nullable[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}
