// Recserve - Recommendation Serving and Offline Training Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recserve

package catalog

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/tomtom215/recserve/internal/database"
	"github.com/tomtom215/recserve/internal/logging"
)

// SyntheticGenres cycle through the generated catalog.
var SyntheticGenres = []string{"Romance", "Thriller", "Comedy", "Action", "Drama", "Sci-Fi"}

// TableStore reads and writes tabular files. *database.DB implements it.
type TableStore interface {
	Query(ctx context.Context, query string, args ...any) (*database.Table, error)
	CopyTo(ctx context.Context, query, path string, format database.Format) error
}

// LoadOptions controls Load.
type LoadOptions struct {
	// FileName is the catalog file inside the data directory.
	FileName string
	// SyntheticItems is the size of the generated catalog.
	SyntheticItems int
}

// Load reads <dir>/<FileName>. When the file does not exist a synthetic
// catalog is written there first and then read back, so every later start
// sees the same items.
func Load(ctx context.Context, store TableStore, dir string, opts LoadOptions) (*Catalog, error) {
	if opts.FileName == "" {
		opts.FileName = "items.csv"
	}
	if opts.SyntheticItems <= 0 {
		opts.SyntheticItems = 300
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	path := filepath.Join(dir, opts.FileName)

	_, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		logging.Info().Str("path", path).Int("items", opts.SyntheticItems).Msg("Catalog not found, writing synthetic items")
		if err := store.CopyTo(ctx, SyntheticQuery(opts.SyntheticItems), path, database.FormatCSV); err != nil {
			return nil, fmt.Errorf("write synthetic catalog: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("stat catalog: %w", err)
	}

	tbl, err := store.Query(ctx, "SELECT * FROM "+database.CSVSource(path))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrMalformedCatalog, path, err)
	}

	c, err := New(tbl.Columns, tbl.Rows)
	if err != nil {
		return nil, err
	}
	logging.Info().Str("path", path).Int("items", c.Len()).Strs("columns", c.Columns()).Msg("Catalog loaded")
	return c, nil
}

// SyntheticQuery generates n items with the columns
// item_id, title, genres, lang, year, overview.
func SyntheticQuery(n int) string {
	genres := make([]string, len(SyntheticGenres))
	for i, g := range SyntheticGenres {
		genres[i] = database.Quote(g)
	}
	return fmt.Sprintf(`
		SELECT
			i AS item_id,
			printf('Movie %%05d', i) AS title,
			g AS genres,
			'en' AS lang,
			1990 + i %% 30 AS year,
			concat(g, ' movie about relationships, conflict, and discovery #', i) AS overview
		FROM (
			SELECT i, [%s][i %% %d + 1] AS g FROM range(%d) t(i)
		)
		ORDER BY i`, strings.Join(genres, ", "), len(genres), n)
}
