// Recserve - Recommendation Serving and Offline Training Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recserve

package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/tomtom215/recserve/internal/config"
	"github.com/tomtom215/recserve/internal/database"
)

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		columns  []string
		rows     [][]any
		wantIDs  []int64
		wantText []string
		wantErr  error
	}{
		{
			name:     "row index as id",
			columns:  []string{"title"},
			rows:     [][]any{{"red car"}, {"blue car"}, {"space ship"}},
			wantIDs:  []int64{0, 1, 2},
			wantText: []string{"red car", "blue car", "space ship"},
		},
		{
			name:     "derived text order and nulls",
			columns:  []string{"item_id", "overview", "genres", "title", "year"},
			rows:     [][]any{{int64(10), "a story", "Drama", "Movie", int64(1999)}, {int64(11), nil, "Comedy", "Other", nil}},
			wantIDs:  []int64{10, 11},
			wantText: []string{"Movie Drama a story", "Other Comedy"},
		},
		{
			name:     "no text columns",
			columns:  []string{"item_id", "lang"},
			rows:     [][]any{{int64(5), "en"}},
			wantIDs:  []int64{5},
			wantText: []string{""},
		},
		{
			name:     "explicit text column",
			columns:  []string{"item_id", "title", "text"},
			rows:     [][]any{{int64(1), "ignored", "verbatim text"}},
			wantIDs:  []int64{1},
			wantText: []string{"verbatim text"},
		},
		{
			name:    "non-integer id",
			columns: []string{"item_id", "title"},
			rows:    [][]any{{"abc", "x"}},
			wantErr: ErrMalformedCatalog,
		},
		{
			name:    "ragged row",
			columns: []string{"item_id", "title"},
			rows:    [][]any{{int64(1)}},
			wantErr: ErrMalformedCatalog,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c, err := New(tt.columns, tt.rows)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("New() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if c.Len() != len(tt.wantIDs) {
				t.Fatalf("Len() = %d, want %d", c.Len(), len(tt.wantIDs))
			}
			for i, want := range tt.wantIDs {
				if got := c.Item(i).ID; got != want {
					t.Errorf("Item(%d).ID = %d, want %d", i, got, want)
				}
			}
			texts := c.Texts()
			for i, want := range tt.wantText {
				if texts[i] != want {
					t.Errorf("Texts()[%d] = %q, want %q", i, texts[i], want)
				}
			}
		})
	}
}

func newStore(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New(&config.DatabaseConfig{Threads: 1})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestLoadSynthesizesCatalog(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newStore(t)
	dir := filepath.Join(t.TempDir(), "data")

	c, err := Load(ctx, store, dir, LoadOptions{})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if c.Len() != 300 {
		t.Fatalf("Len() = %d, want 300", c.Len())
	}

	wantCols := []string{"item_id", "title", "genres", "lang", "year", "overview"}
	for i, col := range wantCols {
		if c.Columns()[i] != col {
			t.Errorf("Columns()[%d] = %s, want %s", i, c.Columns()[i], col)
		}
	}

	item := c.Item(7)
	if item.ID != 7 {
		t.Errorf("ID = %d, want 7", item.ID)
	}
	checks := map[string]any{
		"title":    "Movie 00007",
		"genres":   "Thriller",
		"lang":     "en",
		"year":     int64(1997),
		"overview": "Thriller movie about relationships, conflict, and discovery #7",
	}
	for k, want := range checks {
		if item.Fields[k] != want {
			t.Errorf("Fields[%s] = %#v, want %#v", k, item.Fields[k], want)
		}
	}
	if want := "Movie 00007 Thriller Thriller movie about relationships, conflict, and discovery #7"; item.Text != want {
		t.Errorf("Text = %q, want %q", item.Text, want)
	}

	if _, err := os.Stat(filepath.Join(dir, "items.csv")); err != nil {
		t.Fatalf("items.csv not persisted: %v", err)
	}

	again, err := Load(ctx, store, dir, LoadOptions{})
	if err != nil {
		t.Fatalf("second Load() error = %v", err)
	}
	if again.Len() != c.Len() || again.Item(299).Text != c.Item(299).Text {
		t.Error("reloading the persisted catalog changed it")
	}
}

func TestLoadExistingFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "items.csv"), []byte("title\nred car\nblue car\nspace ship\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := Load(context.Background(), newStore(t), dir, LoadOptions{})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if c.Len() != 3 || c.Item(2).ID != 2 || c.Item(2).Text != "space ship" {
		t.Errorf("unexpected catalog: len=%d item=%+v", c.Len(), c.Item(2))
	}
}

func TestLoadMalformedCatalog(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	content := "item_id,title\nfirst,red car\nsecond,blue car\n"
	if err := os.WriteFile(filepath.Join(dir, "items.csv"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(context.Background(), newStore(t), dir, LoadOptions{})
	if !errors.Is(err, ErrMalformedCatalog) {
		t.Fatalf("Load() error = %v, want ErrMalformedCatalog", err)
	}
}
