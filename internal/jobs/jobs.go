// Recserve - Recommendation Serving and Offline Training Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recserve

package jobs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/tomtom215/recserve/internal/config"
	"github.com/tomtom215/recserve/internal/database"
	"github.com/tomtom215/recserve/internal/events"
)

var (
	// ErrMissingInput is returned when a job's input file or column does
	// not exist.
	ErrMissingInput = errors.New("jobs: missing input")

	// ErrLightGBMNotFound is returned when the LightGBM CLI cannot be found.
	ErrLightGBMNotFound = errors.New("jobs: lightgbm binary not found")
)

// Store is the subset of *database.DB the jobs use.
type Store interface {
	Exec(ctx context.Context, query string, args ...any) error
	Query(ctx context.Context, query string, args ...any) (*database.Table, error)
	QueryInt64(ctx context.Context, query string, args ...any) (int64, error)
	Describe(ctx context.Context, source string) ([]database.Column, error)
	Count(ctx context.Context, source string) (int64, error)
	CopyTo(ctx context.Context, query, path string, format database.Format) error
}

// Paths are the pipeline artifacts under the data directory.
type Paths struct {
	ItemsCSV            string
	ItemsParquet        string
	InteractionsCSV     string
	InteractionsParquet string
	UserAgg             string
	ItemAgg             string
	Train               string
	Valid               string
	ModelDir            string
	Ranker              string
	Index               string
	ALSUserFactors      string
	ALSItemFactors      string
	EventsDir           string
}

// NewPaths lays the artifacts out under cfg.Data.Dir. The index goes to
// index.path when set so the server picks it up.
func NewPaths(cfg *config.Config) Paths {
	d := cfg.Data
	p := Paths{
		ItemsCSV:            d.ItemsPath(),
		ItemsParquet:        d.Path("items.parquet"),
		InteractionsCSV:     d.Path("interactions.csv"),
		InteractionsParquet: d.Path("interactions.parquet"),
		UserAgg:             d.Path("features", "user_agg.parquet"),
		ItemAgg:             d.Path("features", "item_agg.parquet"),
		Train:               d.Path("ranking", "train.parquet"),
		Valid:               d.Path("ranking", "valid.parquet"),
		ModelDir:            d.Path("model"),
		Ranker:              d.Path("model", "lgbm_ranker.txt"),
		Index:               d.Path("model", "faiss.index"),
		ALSUserFactors:      d.Path("model", "als_user_factors.npy"),
		ALSItemFactors:      d.Path("model", "als_item_factors.npy"),
		EventsDir:           cfg.EventsDir(),
	}
	if cfg.Index.Path != "" {
		p.Index = cfg.Index.Path
	}
	return p
}

// Runner runs the offline jobs against one database.
type Runner struct {
	db     Store
	cfg    *config.Config
	paths  Paths
	logger zerolog.Logger
}

// NewRunner creates a Runner.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewRunner(db Store, cfg *config.Config, logger zerolog.Logger) *Runner {
	return &Runner{
		db:     db,
		cfg:    cfg,
		paths:  NewPaths(cfg),
		logger: logger,
	}
}

// Paths returns the artifact locations.
func (r *Runner) Paths() Paths { return r.paths }

// requireFiles returns ErrMissingInput naming the first path that does not
// exist.
func requireFiles(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("%w: %s", ErrMissingInput, p)
			}
			return err
		}
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// eventFiles lists recorded feedback batches, oldest name first.
func eventFiles(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, events.FilePattern))
	if err != nil {
		return nil, err
	}
	return matches, nil
}

// columnTypes describes source as a name -> type map plus the column order.
func columnTypes(ctx context.Context, db Store, source string) (map[string]string, []string, error) {
	cols, err := db.Describe(ctx, source)
	if err != nil {
		return nil, nil, err
	}
	types := make(map[string]string, len(cols))
	names := make([]string, len(cols))
	for i, c := range cols {
		types[c.Name] = c.Type
		names[i] = c.Name
	}
	return types, names, nil
}

func requireColumns(types map[string]string, source string, names ...string) error {
	for _, n := range names {
		if _, ok := types[n]; !ok {
			return fmt.Errorf("%w: column %q in %s", ErrMissingInput, n, source)
		}
	}
	return nil
}
