// Recserve - Recommendation Serving and Offline Training Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recserve

// Package catalog loads the item table the recommender serves from and
// derives each item's embedding text.
package catalog

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrMalformedCatalog is returned when items.csv cannot be read or an
// item_id is not an integer.
var ErrMalformedCatalog = errors.New("catalog: malformed catalog")

const (
	idColumn   = "item_id"
	textColumn = "text"
)

// textColumns feed the derived item text, in this order.
var textColumns = []string{"title", "genres", "overview", "category"}

// Item is one catalog row.
type Item struct {
	// ID is item_id, or the row index when the column is absent.
	ID int64
	// Fields holds every original column value. A missing CSV value is nil.
	Fields map[string]any
	// Text is the string that gets embedded.
	Text string
}

// Catalog is an immutable, ordered set of items.
type Catalog struct {
	columns []string
	items   []Item
}

// New builds a catalog from rows whose values follow columns.
func New(columns []string, rows [][]any) (*Catalog, error) {
	idIdx, textIdx := -1, -1
	for i, c := range columns {
		switch c {
		case idColumn:
			idIdx = i
		case textColumn:
			textIdx = i
		}
	}

	items := make([]Item, len(rows))
	for r, row := range rows {
		if len(row) != len(columns) {
			return nil, fmt.Errorf("%w: row %d has %d values for %d columns", ErrMalformedCatalog, r, len(row), len(columns))
		}

		fields := make(map[string]any, len(columns))
		for i, c := range columns {
			fields[c] = row[i]
		}

		id := int64(r)
		if idIdx >= 0 {
			v, ok := asInt64(row[idIdx])
			if !ok {
				return nil, fmt.Errorf("%w: row %d item_id %v is not an integer", ErrMalformedCatalog, r, row[idIdx])
			}
			id = v
		}

		var text string
		if textIdx >= 0 {
			text = stringify(row[textIdx])
		} else {
			text = deriveText(fields)
		}

		items[r] = Item{ID: id, Fields: fields, Text: text}
	}

	return &Catalog{columns: append([]string(nil), columns...), items: items}, nil
}

// Columns returns the column names in table order.
func (c *Catalog) Columns() []string { return c.columns }

// Len returns the number of items.
func (c *Catalog) Len() int { return len(c.items) }

// Item returns the item at row. It panics when row is out of range.
func (c *Catalog) Item(row int) *Item { return &c.items[row] }

// Texts returns every item's text in row order.
func (c *Catalog) Texts() []string {
	out := make([]string, len(c.items))
	for i := range c.items {
		out[i] = c.items[i].Text
	}
	return out
}

func deriveText(fields map[string]any) string {
	parts := make([]string, 0, len(textColumns))
	for _, col := range textColumns {
		v, ok := fields[col]
		if !ok || v == nil {
			continue
		}
		parts = append(parts, stringify(v))
	}
	return strings.Join(parts, " ")
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case int32:
		return int64(x), true
	case float64:
		if x == math.Trunc(x) && !math.IsInf(x, 0) {
			return int64(x), true
		}
	}
	return 0, false
}
