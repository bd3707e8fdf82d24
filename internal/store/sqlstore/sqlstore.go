// Package sqlstore is the database/sql alternative driver, using sqlx over
// lib/pq. It exists for deployments that route through a database/sql
// middleware stack and for tests that run on go-sqlmock.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/rickchristie/postgres-mcp-gateway/internal/marshal"
	"github.com/rickchristie/postgres-mcp-gateway/internal/store"
	"github.com/rickchristie/postgres-mcp-gateway/internal/timeout"
)

const listTablesSQL = `
SELECT table_name
FROM information_schema.tables
WHERE table_schema = $1
ORDER BY table_name
`

// Config holds connection pool settings.
type Config struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	Timeouts *timeout.Manager
}

// Store implements store.Driver on a *sqlx.DB.
type Store struct {
	db       *sqlx.DB
	timeouts *timeout.Manager
	logger   zerolog.Logger
}

var _ store.Driver = (*Store)(nil)

// Open opens a lib/pq backed pool for dsn.
func Open(dsn string, config Config, logger zerolog.Logger) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("sqlstore: connection string must be non-empty")
	}
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	}
	if config.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(config.ConnMaxIdleTime)
	}
	logger.Debug().Int("max_open_conns", config.MaxOpenConns).Msg("sql pool opened")
	return NewWithDB(db, config.Timeouts, logger), nil
}

// NewWithDB wraps an existing handle. The caller hands over ownership; Close
// closes db.
func NewWithDB(db *sqlx.DB, timeouts *timeout.Manager, logger zerolog.Logger) *Store {
	return &Store{db: db, timeouts: timeouts, logger: logger}
}

// Execute runs sql and collects all rows. database/sql reports no affected
// row count for queries, so RowsAffected is always zero.
func (s *Store) Execute(ctx context.Context, sql string) (*store.Result, error) {
	queryCtx, cancel := s.timeouts.Context(ctx, sql)
	defer cancel()

	rows, err := s.db.QueryxContext(queryCtx, sql)
	if err != nil {
		return nil, wrapError(err)
	}
	defer rows.Close()

	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, wrapError(err)
	}
	columns := make([]marshal.Column, len(colTypes))
	for i, ct := range colTypes {
		columns[i] = marshal.Column{Name: ct.Name(), Type: ct.DatabaseTypeName()}
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		values, err := rows.SliceScan()
		if err != nil {
			return nil, wrapError(err)
		}
		resultRows = append(resultRows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError(err)
	}
	return &store.Result{Columns: columns, Rows: resultRows}, nil
}

// ListTables returns the tables and views of schema ordered by name.
func (s *Store) ListTables(ctx context.Context, schema string) ([]string, error) {
	queryCtx, cancel := s.timeouts.Context(ctx, listTablesSQL)
	defer cancel()

	names := []string{}
	if err := s.db.SelectContext(queryCtx, &names, listTablesSQL, schema); err != nil {
		return nil, fmt.Errorf("list tables query failed: %w", wrapError(err))
	}
	return names, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return wrapError(s.db.PingContext(ctx))
}

// Close closes the pool.
func (s *Store) Close() {
	if err := s.db.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to close database")
	}
}

// wrapError exposes the SQLSTATE code of a lib/pq error.
func wrapError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return &store.StateError{Code: string(pqErr.Code), Err: err}
	}
	return err
}
