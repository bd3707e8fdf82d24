// Package store defines the database capability the gateway is written
// against, so the dispatcher and tools can run on a test double as well as on
// the real drivers in pgxstore and sqlstore.
package store

import (
	"context"
	"errors"

	"github.com/rickchristie/postgres-mcp-gateway/internal/marshal"
)

// DefaultSchema is the schema whose tables are exposed as resources.
const DefaultSchema = "public"

// Result is what a driver returns for one statement: column metadata in
// projection order and the raw, driver-typed cell values.
type Result struct {
	Columns      []marshal.Column
	Rows         [][]any
	RowsAffected int64
}

// Driver executes statements against the backing store.
// Implementations must be safe for concurrent use.
type Driver interface {
	// Execute runs sql verbatim and collects every row.
	Execute(ctx context.Context, sql string) (*Result, error)
	// ListTables returns the table names of schema in ascending order.
	ListTables(ctx context.Context, schema string) ([]string, error)
	// Ping checks connectivity.
	Ping(ctx context.Context) error
	// Close releases the driver's connections.
	Close()
}

// StateError attaches a SQLSTATE code to a driver error that does not carry
// one in a form the gateway can read.
type StateError struct {
	Code string
	Err  error
}

func (e *StateError) Error() string { return e.Err.Error() }

func (e *StateError) Unwrap() error { return e.Err }

// SQLState returns the five character SQLSTATE code.
func (e *StateError) SQLState() string { return e.Code }

// SQLState extracts a SQLSTATE code from err, or returns "".
// Both *pgconn.PgError and *StateError satisfy the lookup.
func SQLState(err error) string {
	var stater interface{ SQLState() string }
	if errors.As(err, &stater) {
		return stater.SQLState()
	}
	return ""
}
