package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Dialect selects the parameter placeholder style.
type Dialect int

const (
	// DialectPostgres uses $1..$n placeholders.
	DialectPostgres Dialect = iota
	// DialectSQLite uses ? placeholders.
	DialectSQLite
)

func (d Dialect) placeholder(n int) string {
	if d == DialectSQLite {
		return "?"
	}
	return "$" + strconv.Itoa(n)
}

// SQLStore implements RowStore over a database/sql handle.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	logger  *zap.Logger
}

var _ RowStore = (*SQLStore)(nil)

// NewSQLStore creates a store using the provided database handle. A nil
// logger disables logging.
func NewSQLStore(db *sql.DB, dialect Dialect, logger *zap.Logger) *SQLStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLStore{db: db, dialect: dialect, logger: logger}
}

// QueryRow executes a parameterized single-row query.
func (s *SQLStore) QueryRow(ctx context.Context, query string, args ...any) (Row, bool, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, false, &Error{Op: "query", Err: err}
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, false, &Error{Op: "query", Err: err}
		}
		return nil, false, nil
	}

	row, err := scanRow(rows)
	if err != nil {
		return nil, false, &Error{Op: "query", Err: err}
	}
	return row, true, nil
}

// SelectOne fetches a single row by its key columns.
func (s *SQLStore) SelectOne(ctx context.Context, table string, keys Row) (Row, bool, error) {
	if len(keys) == 0 {
		return nil, false, &Error{Op: "select", Err: errors.New("empty key predicate")}
	}
	where, args := s.buildWhere(keys, 1)
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s LIMIT 1", table, where)
	s.logger.Debug("select one", zap.String("table", table), zap.String("query", query))
	return s.QueryRow(ctx, query, args...)
}

// Insert writes a new row. On postgres the generated identifier is read
// back with RETURNING; on sqlite the supplied identifier value wins, then
// the driver's last-insert id.
func (s *SQLStore) Insert(ctx context.Context, table string, values Row, idColumn string) (string, error) {
	columns := sortedColumns(values)
	if len(columns) == 0 {
		return "", &Error{Op: "insert", Err: errors.New("no columns to insert")}
	}

	placeholders := make([]string, len(columns))
	args := make([]any, len(columns))
	for i, col := range columns {
		placeholders[i] = s.dialect.placeholder(i + 1)
		args[i] = values[col]
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(columns, ", "), strings.Join(placeholders, ", "))

	if idColumn != "" && s.dialect == DialectPostgres {
		query += " RETURNING " + idColumn
		var id string
		if err := s.db.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
			return "", &Error{Op: "insert", Err: err}
		}
		return id, nil
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return "", &Error{Op: "insert", Err: err}
	}
	if idColumn == "" {
		return "", nil
	}
	if v, ok := values[idColumn]; ok && v != nil {
		return fmt.Sprintf("%v", v), nil
	}
	if id, err := res.LastInsertId(); err == nil && id > 0 {
		return strconv.FormatInt(id, 10), nil
	}
	return "", nil
}

// Update rewrites the value columns of the rows matching the key columns.
func (s *SQLStore) Update(ctx context.Context, table string, values Row, keys Row) (int64, error) {
	if len(keys) == 0 {
		return 0, &Error{Op: "update", Err: errors.New("empty key predicate")}
	}
	columns := sortedColumns(values)
	if len(columns) == 0 {
		return 0, nil
	}

	sets := make([]string, len(columns))
	args := make([]any, 0, len(columns)+len(keys))
	for i, col := range columns {
		sets[i] = col + " = " + s.dialect.placeholder(i+1)
		args = append(args, values[col])
	}
	where, whereArgs := s.buildWhere(keys, len(columns)+1)
	args = append(args, whereArgs...)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s", table, strings.Join(sets, ", "), where)
	s.logger.Debug("update", zap.String("table", table), zap.String("query", query))

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, &Error{Op: "update", Err: err}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, &Error{Op: "update", Err: err}
	}
	return affected, nil
}

// InsertOrUpdate upserts a row, resolving conflicts on the given columns.
func (s *SQLStore) InsertOrUpdate(ctx context.Context, table string, values Row, conflictColumns []string, idColumn string) (string, error) {
	columns := sortedColumns(values)
	if len(columns) == 0 {
		return "", &Error{Op: "upsert", Err: errors.New("no columns to upsert")}
	}
	if len(conflictColumns) == 0 {
		return "", &Error{Op: "upsert", Err: errors.New("no conflict columns")}
	}

	placeholders := make([]string, len(columns))
	args := make([]any, len(columns))
	for i, col := range columns {
		placeholders[i] = s.dialect.placeholder(i + 1)
		args[i] = values[col]
	}

	conflict := make(map[string]bool, len(conflictColumns))
	for _, c := range conflictColumns {
		conflict[c] = true
	}
	var sets []string
	for _, col := range columns {
		if !conflict[col] {
			sets = append(sets, col+" = EXCLUDED."+col)
		}
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s)",
		table, strings.Join(columns, ", "), strings.Join(placeholders, ", "),
		strings.Join(conflictColumns, ", "))
	if len(sets) == 0 {
		query += " DO NOTHING"
	} else {
		query += " DO UPDATE SET " + strings.Join(sets, ", ")
	}

	if idColumn != "" && s.dialect == DialectPostgres {
		query += " RETURNING " + idColumn
		var id string
		if err := s.db.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
			return "", &Error{Op: "upsert", Err: err}
		}
		return id, nil
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return "", &Error{Op: "upsert", Err: err}
	}
	if idColumn != "" {
		if v, ok := values[idColumn]; ok && v != nil {
			return fmt.Sprintf("%v", v), nil
		}
	}
	return "", nil
}

// buildWhere renders an AND-joined key predicate with placeholders starting
// at the given index. Key columns are sorted so statements are stable.
func (s *SQLStore) buildWhere(keys Row, start int) (string, []any) {
	columns := sortedColumns(keys)
	parts := make([]string, len(columns))
	args := make([]any, len(columns))
	for i, col := range columns {
		parts[i] = col + " = " + s.dialect.placeholder(start+i)
		args[i] = keys[col]
	}
	return strings.Join(parts, " AND "), args
}

func sortedColumns(values Row) []string {
	columns := make([]string, 0, len(values))
	for col := range values {
		columns = append(columns, col)
	}
	sort.Strings(columns)
	return columns
}

func scanRow(rows *sql.Rows) (Row, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	raw := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}

	row := make(Row, len(columns))
	for i, col := range columns {
		v := raw[i]
		// Text columns come back as []byte from most drivers.
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		row[col] = v
	}
	return row, nil
}
