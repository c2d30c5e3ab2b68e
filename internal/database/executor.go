package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Dialect describes the SQL differences between supported drivers
type Dialect int

const (
	Postgres Dialect = iota
	SQLite
)

// Placeholder returns the bind parameter marker for the n-th argument (1-based)
func (d Dialect) Placeholder(n int) string {
	if d == Postgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

func (d Dialect) String() string {
	if d == Postgres {
		return "postgres"
	}
	return "sqlite"
}

// Row is a single result row
type Row interface {
	Scan(dest ...interface{}) error
}

// Rows is a result set iterated with Next
type Rows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
	Close()
}

// Executor is the minimal query surface the persistence contract needs.
// Implementations translate driver specific "no rows" errors into ErrNotFound.
type Executor interface {
	Exec(ctx context.Context, query string, args ...interface{}) error
	QueryRow(ctx context.Context, query string, args ...interface{}) Row
	Query(ctx context.Context, query string, args ...interface{}) (Rows, error)
	Dialect() Dialect
}

// pgxExecutor runs statements on a pgx connection pool
type pgxExecutor struct {
	pool *pgxpool.Pool
}

func (e *pgxExecutor) Exec(ctx context.Context, query string, args ...interface{}) error {
	_, err := e.pool.Exec(ctx, query, args...)
	return err
}

func (e *pgxExecutor) QueryRow(ctx context.Context, query string, args ...interface{}) Row {
	return pgxRow{row: e.pool.QueryRow(ctx, query, args...)}
}

func (e *pgxExecutor) Query(ctx context.Context, query string, args ...interface{}) (Rows, error) {
	rows, err := e.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (e *pgxExecutor) Dialect() Dialect {
	return Postgres
}

type pgxRow struct {
	row pgx.Row
}

func (r pgxRow) Scan(dest ...interface{}) error {
	err := r.row.Scan(dest...)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// sqlExecutor runs statements on a database/sql handle
type sqlExecutor struct {
	db      *sql.DB
	dialect Dialect
}

func (e *sqlExecutor) Exec(ctx context.Context, query string, args ...interface{}) error {
	_, err := e.db.ExecContext(ctx, query, args...)
	return err
}

func (e *sqlExecutor) QueryRow(ctx context.Context, query string, args ...interface{}) Row {
	return sqlRow{row: e.db.QueryRowContext(ctx, query, args...)}
}

func (e *sqlExecutor) Query(ctx context.Context, query string, args ...interface{}) (Rows, error) {
	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return sqlRows{rows: rows}, nil
}

func (e *sqlExecutor) Dialect() Dialect {
	return e.dialect
}

type sqlRow struct {
	row *sql.Row
}

func (r sqlRow) Scan(dest ...interface{}) error {
	err := r.row.Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

type sqlRows struct {
	rows *sql.Rows
}

func (r sqlRows) Next() bool                     { return r.rows.Next() }
func (r sqlRows) Scan(dest ...interface{}) error { return r.rows.Scan(dest...) }
func (r sqlRows) Err() error                     { return r.rows.Err() }
func (r sqlRows) Close()                         { _ = r.rows.Close() }

var (
	_ Executor = (*pgxExecutor)(nil)
	_ Executor = (*sqlExecutor)(nil)
	_ Rows     = pgx.Rows(nil)
)

func unsupportedDriver(name string) error {
	return fmt.Errorf("unsupported database driver %q", name)
}
