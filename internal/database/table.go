package database

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/owntube/owntube/internal/metrics"
)

// Fields maps column names to the values to write
type Fields map[string]interface{}

// Condition restricts a List query to rows where Column Op Value holds
type Condition struct {
	Column string
	Op     string
	Value  interface{}
}

// ListOptions controls filtering, ordering and limiting of List
type ListOptions struct {
	Where      []Condition
	OrderBy    string
	Descending bool
	Limit      int
}

var allowedOps = map[string]bool{"=": true, "<": true, "<=": true, ">": true, ">=": true}

// Table is the persistence contract for one entity table. Every entity store
// holds a Table for its own rows and never writes SQL of its own.
type Table struct {
	exec    Executor
	name    string
	key     string
	columns []string
}

// NewTable creates a Table. columns lists the columns read by FetchByKey and
// List, in scan order.
func NewTable(exec Executor, name, key string, columns ...string) *Table {
	return &Table{exec: exec, name: name, key: key, columns: columns}
}

// Name returns the table name
func (t *Table) Name() string {
	return t.name
}

// Columns returns the selected columns in scan order
func (t *Table) Columns() []string {
	return t.columns
}

// FetchByKey loads the row whose key column equals key into dest.
// It returns ErrNotFound when no such row exists.
func (t *Table) FetchByKey(ctx context.Context, key interface{}, dest ...interface{}) error {
	start := time.Now()

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s",
		strings.Join(t.columns, ", "), t.name, t.key, t.exec.Dialect().Placeholder(1))

	err := t.exec.QueryRow(ctx, query, key).Scan(dest...)
	metrics.RecordDatabaseOperation("fetch", t.name, time.Since(start).Seconds(), err)

	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	return storageError("fetch", t.name, err)
}

// Upsert inserts fields as a new row or, when the key already exists,
// overwrites the supplied columns of the existing row. The conflict check and
// the write are a single statement.
func (t *Table) Upsert(ctx context.Context, fields Fields) error {
	if _, ok := fields[t.key]; !ok {
		return storageError("upsert", t.name, fmt.Errorf("missing key column %q", t.key))
	}

	start := time.Now()
	query, args := t.upsertStatement(fields)
	err := t.exec.Exec(ctx, query, args...)
	metrics.RecordDatabaseOperation("upsert", t.name, time.Since(start).Seconds(), err)

	return storageError("upsert", t.name, err)
}

func (t *Table) upsertStatement(fields Fields) (string, []interface{}) {
	columns := make([]string, 0, len(fields))
	for column := range fields {
		columns = append(columns, column)
	}
	sort.Strings(columns)

	dialect := t.exec.Dialect()
	placeholders := make([]string, len(columns))
	args := make([]interface{}, len(columns))
	var updates []string
	for i, column := range columns {
		placeholders[i] = dialect.Placeholder(i + 1)
		args[i] = fields[column]
		if column != t.key {
			updates = append(updates, fmt.Sprintf("%s = excluded.%s", column, column))
		}
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) ",
		t.name, strings.Join(columns, ", "), strings.Join(placeholders, ", "), t.key)
	if len(updates) == 0 {
		query += "DO NOTHING"
	} else {
		query += "DO UPDATE SET " + strings.Join(updates, ", ")
	}

	return query, args
}

// Exists reports whether a row with the given key is present
func (t *Table) Exists(ctx context.Context, key interface{}) (bool, error) {
	start := time.Now()

	query := fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE %s = %s)",
		t.name, t.key, t.exec.Dialect().Placeholder(1))

	var exists bool
	err := t.exec.QueryRow(ctx, query, key).Scan(&exists)
	metrics.RecordDatabaseOperation("exists", t.name, time.Since(start).Seconds(), err)

	if err != nil {
		return false, storageError("exists", t.name, err)
	}
	return exists, nil
}

// List runs a filtered select and calls scan once per row, in order
func (t *Table) List(ctx context.Context, opts ListOptions, scan func(Row) error) error {
	query, args, err := t.listStatement(opts)
	if err != nil {
		return storageError("list", t.name, err)
	}

	start := time.Now()
	rows, err := t.exec.Query(ctx, query, args...)
	if err != nil {
		metrics.RecordDatabaseOperation("list", t.name, time.Since(start).Seconds(), err)
		return storageError("list", t.name, err)
	}
	defer rows.Close()

	for rows.Next() {
		if err := scan(rows); err != nil {
			return storageError("list", t.name, err)
		}
	}
	err = rows.Err()
	metrics.RecordDatabaseOperation("list", t.name, time.Since(start).Seconds(), err)

	return storageError("list", t.name, err)
}

func (t *Table) listStatement(opts ListOptions) (string, []interface{}, error) {
	dialect := t.exec.Dialect()

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", strings.Join(t.columns, ", "), t.name)

	args := make([]interface{}, 0, len(opts.Where)+1)
	for i, cond := range opts.Where {
		if !allowedOps[cond.Op] {
			return "", nil, fmt.Errorf("unsupported operator %q", cond.Op)
		}
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		args = append(args, cond.Value)
		fmt.Fprintf(&b, "%s %s %s", cond.Column, cond.Op, dialect.Placeholder(len(args)))
	}

	if opts.OrderBy != "" {
		fmt.Fprintf(&b, " ORDER BY %s", opts.OrderBy)
		if opts.Descending {
			b.WriteString(" DESC")
		}
	}

	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		fmt.Fprintf(&b, " LIMIT %s", dialect.Placeholder(len(args)))
	}

	return b.String(), args, nil
}
