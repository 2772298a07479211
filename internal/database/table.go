// Recserve - Recommendation Serving and Offline Training Stack
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recserve

package database

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
)

// Table is a fully materialized result set. Values are whatever the DuckDB
// driver scans into any: int64, float64, string, bool, time.Time or nil.
type Table struct {
	Columns []string
	Rows    [][]any
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.Rows) }

// ColumnIndex returns the position of name, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Column describes one result column.
type Column struct {
	Name string
	Type string
}

// Format selects the output format of CopyTo.
type Format int

const (
	// FormatParquet writes a ZSTD-compressed Parquet file.
	FormatParquet Format = iota
	// FormatCSV writes a comma-separated file with a header row.
	FormatCSV
	// FormatTSV writes a tab-separated file without header, NULL as "nan".
	FormatTSV
)

func (f Format) options() string {
	switch f {
	case FormatCSV:
		return "FORMAT CSV, HEADER true, DELIMITER ','"
	case FormatTSV:
		return "FORMAT CSV, HEADER false, DELIMITER '\t', NULLSTR 'nan'"
	default:
		return "FORMAT PARQUET, COMPRESSION 'ZSTD'"
	}
}

// Quote renders s as a SQL string literal.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// QuoteIdent renders name as a SQL identifier.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// CSVSource is a FROM-clause reading a headered CSV with type detection.
func CSVSource(path string) string {
	return fmt.Sprintf("read_csv(%s, header = true, auto_detect = true)", Quote(path))
}

// ParquetSource is a FROM-clause reading one or more Parquet files. When
// several paths are given their columns are unioned by name.
func ParquetSource(paths ...string) string {
	if len(paths) == 1 {
		return fmt.Sprintf("read_parquet(%s)", Quote(paths[0]))
	}
	quoted := make([]string, len(paths))
	for i, p := range paths {
		quoted[i] = Quote(p)
	}
	return fmt.Sprintf("read_parquet([%s], union_by_name = true)", strings.Join(quoted, ", "))
}

// Query materializes the result of query.
func (db *DB) Query(ctx context.Context, query string, args ...any) (*Table, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer closeWithLog(rows, "rows")

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}

	t := &Table{Columns: cols}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		for i, v := range vals {
			vals[i] = normalizeValue(v)
		}
		t.Rows = append(t.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return t, nil
}

// normalizeValue folds driver-specific integer and byte types into the
// small set of JSON-friendly values Table promises.
func normalizeValue(v any) any {
	switch x := v.(type) {
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return int64(x) //nolint:gosec // catalog ids fit in int64
	case float32:
		return float64(x)
	case *big.Int:
		if x.IsInt64() {
			return x.Int64()
		}
		return x.String()
	case []byte:
		return string(x)
	default:
		return v
	}
}

// QueryInt64 returns the first column of the first row.
func (db *DB) QueryInt64(ctx context.Context, query string, args ...any) (int64, error) {
	var n int64
	if err := db.conn.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("query scalar: %w", err)
	}
	return n, nil
}

// Describe lists the columns of a FROM-clause source or subquery.
func (db *DB) Describe(ctx context.Context, source string) ([]Column, error) {
	t, err := db.Query(ctx, "DESCRIBE SELECT * FROM "+source)
	if err != nil {
		return nil, err
	}
	nameIdx, typeIdx := t.ColumnIndex("column_name"), t.ColumnIndex("column_type")
	if nameIdx < 0 || typeIdx < 0 {
		return nil, fmt.Errorf("describe: unexpected columns %v", t.Columns)
	}
	cols := make([]Column, 0, t.Len())
	for _, row := range t.Rows {
		name, _ := row[nameIdx].(string)
		typ, _ := row[typeIdx].(string)
		cols = append(cols, Column{Name: name, Type: typ})
	}
	return cols, nil
}

// Count returns the number of rows of a FROM-clause source.
func (db *DB) Count(ctx context.Context, source string) (int64, error) {
	return db.QueryInt64(ctx, "SELECT count(*) FROM "+source)
}

// CopyTo writes the result of query to path, creating parent directories.
// The file is written next to path and renamed into place.
func (db *DB) CopyTo(ctx context.Context, query, path string, format Format) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	tmp := path + ".tmp"
	stmt := fmt.Sprintf("COPY (%s) TO %s (%s)", query, Quote(tmp), format.options())
	if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("copy to %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
