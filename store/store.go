// Package store defines the row-store contract the entity lifecycle persists
// through, plus a database/sql implementation. Raw rows are plain column
// maps; all statements are parameterized.
package store

import (
	"context"
	"fmt"
)

// Row is the raw column mapping a single-row query returns.
type Row map[string]any

// Clone returns a shallow copy of the row. Cached rows are immutable once
// stored; callers that hand rows out of a cache copy first.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// RowStore answers primary-key lookups and executes parameterized writes.
// All parameter binding is placeholder-based; untrusted values never reach
// the statement text.
type RowStore interface {
	// QueryRow executes a parameterized query expected to return at most
	// one row. A query matching no rows returns (nil, false, nil).
	QueryRow(ctx context.Context, query string, args ...any) (Row, bool, error)

	// SelectOne fetches a single row from table by its key columns.
	SelectOne(ctx context.Context, table string, keys Row) (Row, bool, error)

	// Insert writes a new row and returns the generated identifier. When
	// idColumn is empty no identifier is requested back.
	Insert(ctx context.Context, table string, values Row, idColumn string) (string, error)

	// Update rewrites the value columns of the rows matching the key
	// columns and returns the affected count.
	Update(ctx context.Context, table string, values Row, keys Row) (int64, error)

	// InsertOrUpdate upserts the row, resolving conflicts on the given
	// columns, and returns the identifier when idColumn is set.
	InsertOrUpdate(ctx context.Context, table string, values Row, conflictColumns []string, idColumn string) (string, error)
}

// Error wraps a row-store failure. Read failures are surfaced distinctly
// from "not found"; write failures always propagate so callers never
// believe a save succeeded when it did not.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
