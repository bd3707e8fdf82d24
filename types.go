package pgmcp

import (
	"github.com/rickchristie/postgres-mcp-gateway/internal/marshal"
)

// QueryInput is the input for the query tool.
type QueryInput struct {
	SQL string `json:"sql"`
}

// QueryOutput is the output of the query tool and of a resource read.
// Rows encode as JSON objects whose keys follow Columns order.
type QueryOutput struct {
	Columns      []string      `json:"columns"`
	Rows         []marshal.Row `json:"rows"`
	RowsAffected int64         `json:"rows_affected"`
}

// Policy is the effective write policy of a session.
type Policy struct {
	AllowWrite bool
}

// TableURIScheme is the URI scheme of table resources.
const TableURIScheme = "postgres"

// ResourceRowLimit caps the rows returned by a resource read.
const ResourceRowLimit = 100
