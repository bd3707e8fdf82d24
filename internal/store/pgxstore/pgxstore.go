// Package pgxstore is the default database driver, built on a pgx/v5
// connection pool.
package pgxstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/rickchristie/postgres-mcp-gateway/internal/marshal"
	"github.com/rickchristie/postgres-mcp-gateway/internal/store"
	"github.com/rickchristie/postgres-mcp-gateway/internal/timeout"
)

// timetzOID is not registered in pgx's default type map.
const timetzOID = 1266

var typeNames = map[uint32]string{
	pgtype.Int2OID:        "int2",
	pgtype.Int4OID:        "int4",
	pgtype.Int8OID:        "int8",
	pgtype.Float4OID:      "float4",
	pgtype.Float8OID:      "float8",
	pgtype.NumericOID:     "numeric",
	pgtype.TextOID:        "text",
	pgtype.VarcharOID:     "varchar",
	pgtype.BPCharOID:      "bpchar",
	pgtype.NameOID:        "name",
	pgtype.BoolOID:        "bool",
	pgtype.TimestampOID:   "timestamp",
	pgtype.TimestamptzOID: "timestamptz",
	pgtype.DateOID:        "date",
	pgtype.TimeOID:        "time",
	timetzOID:             "timetz",
	pgtype.UUIDOID:        "uuid",
	pgtype.JSONOID:        "json",
	pgtype.JSONBOID:       "jsonb",
}

const listTablesSQL = `
SELECT table_name
FROM information_schema.tables
WHERE table_schema = $1
ORDER BY table_name;
`

// Config holds pool settings.
type Config struct {
	MaxConns          int
	MinConns          int
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration

	// ReadOnly makes every pooled session default to read-only
	// transactions, backing up the lexical write classifier.
	ReadOnly bool
	Timezone string

	Timeouts *timeout.Manager
}

// Store implements store.Driver on a pgx pool.
type Store struct {
	pool     *pgxpool.Pool
	timeouts *timeout.Manager
	logger   zerolog.Logger
}

var _ store.Driver = (*Store)(nil)

// New creates the pool. It does not wait for a connection; call Ping.
func New(ctx context.Context, connString string, config Config, logger zerolog.Logger) (*Store, error) {
	if connString == "" {
		return nil, fmt.Errorf("pgxstore: connection string must be non-empty")
	}
	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = int32(config.MaxConns)
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = int32(config.MinConns)
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}
	if config.HealthCheckPeriod > 0 {
		poolConfig.HealthCheckPeriod = config.HealthCheckPeriod
	}
	// Extended protocol without a prepare step rejects multi-statement
	// batches server-side.
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeExec

	if config.ReadOnly || config.Timezone != "" {
		poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			if config.ReadOnly {
				if _, err := conn.Exec(ctx, "SET default_transaction_read_only = on"); err != nil {
					return fmt.Errorf("failed to SET default_transaction_read_only: %w", err)
				}
			}
			if config.Timezone != "" {
				escaped := strings.ReplaceAll(config.Timezone, "'", "''")
				if _, err := conn.Exec(ctx, fmt.Sprintf("SET timezone = '%s'", escaped)); err != nil {
					return fmt.Errorf("failed to SET timezone: %w", err)
				}
			}
			return nil
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	logger.Debug().
		Int32("max_conns", poolConfig.MaxConns).
		Bool("read_only", config.ReadOnly).
		Msg("pgx pool created")

	return &Store{pool: pool, timeouts: config.Timeouts, logger: logger}, nil
}

// Execute runs sql and collects all rows. Driver errors are returned
// unwrapped so their message reaches the client verbatim.
func (s *Store) Execute(ctx context.Context, sql string) (*store.Result, error) {
	queryCtx, cancel := s.timeouts.Context(ctx, sql)
	defer cancel()

	rows, err := s.pool.Query(queryCtx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	typeMap := rows.Conn().TypeMap()
	columns := make([]marshal.Column, len(fieldDescs))
	for i, fd := range fieldDescs {
		columns[i] = marshal.Column{Name: fd.Name, Type: typeName(typeMap, fd.DataTypeOID)}
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		raw := rows.RawValues()
		for i, fd := range fieldDescs {
			if raw[i] != nil && (fd.DataTypeOID == pgtype.JSONOID || fd.DataTypeOID == pgtype.JSONBOID) {
				values[i] = rawJSON(fd, raw[i])
			}
		}
		resultRows = append(resultRows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &store.Result{
		Columns:      columns,
		Rows:         resultRows,
		RowsAffected: rows.CommandTag().RowsAffected(),
	}, nil
}

// ListTables returns the tables and views of schema ordered by name.
func (s *Store) ListTables(ctx context.Context, schema string) ([]string, error) {
	queryCtx, cancel := s.timeouts.Context(ctx, listTablesSQL)
	defer cancel()

	rows, err := s.pool.Query(queryCtx, listTablesSQL, schema)
	if err != nil {
		return nil, fmt.Errorf("list tables query failed: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list tables scan failed: %w", err)
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

// Ping acquires a connection and checks it.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// typeName resolves a column OID to the name the marshaller understands.
func typeName(typeMap *pgtype.Map, oid uint32) string {
	if name, ok := typeNames[oid]; ok {
		return name
	}
	if typeMap != nil {
		if t, ok := typeMap.TypeForOID(oid); ok {
			return t.Name
		}
	}
	return fmt.Sprintf("oid:%d", oid)
}

// rawJSON returns the column's JSON text without decoding it. Binary jsonb
// carries a one byte version header in front of the text.
func rawJSON(fd pgconn.FieldDescription, raw []byte) json.RawMessage {
	if fd.Format == pgtype.BinaryFormatCode && fd.DataTypeOID == pgtype.JSONBOID && len(raw) > 0 && raw[0] == 1 {
		raw = raw[1:]
	}
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out
}
