package pgmcp

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rickchristie/postgres-mcp-gateway/internal/store"
)

// ListResources returns one resource per table in the public schema, sorted
// by table name. Nothing is cached; every call asks the driver again.
func (p *PostgresMcp) ListResources(ctx context.Context) ([]mcp.Resource, error) {
	startTime := time.Now()

	tables, err := p.driver.ListTables(ctx, store.DefaultSchema)
	if err != nil {
		p.logger.Error().Err(err).Msg("list tables failed")
		return nil, &Error{Kind: KindDatabase, Err: err}
	}
	sorted := append([]string(nil), tables...)
	sort.Strings(sorted)

	resources := make([]mcp.Resource, len(sorted))
	for i, table := range sorted {
		resources[i] = mcp.NewResource(
			TableURI(table),
			table,
			mcp.WithResourceDescription(fmt.Sprintf("PostgreSQL table: %s", table)),
			mcp.WithMIMEType("application/json"),
		)
	}

	p.logger.Info().
		Dur("duration", time.Since(startTime)).
		Int("table_count", len(resources)).
		Msg("resources listed")

	return resources, nil
}

// ReadResource returns up to ResourceRowLimit rows of the table named by uri.
// A malformed uri fails with KindInvalidURI without touching the driver.
func (p *PostgresMcp) ReadResource(ctx context.Context, uri string) (*QueryOutput, error) {
	table, err := ParseTableURI(uri)
	if err != nil {
		return nil, &Error{Kind: KindInvalidURI, Err: err}
	}
	sql := fmt.Sprintf("SELECT * FROM %s LIMIT %d", pgx.Identifier{table}.Sanitize(), ResourceRowLimit)
	return p.execute(ctx, sql)
}

// TableURI returns the resource URI of table.
func TableURI(table string) string {
	return TableURIScheme + ":///" + table
}

// ParseTableURI extracts the table name from a postgres:///<table> URI.
func ParseTableURI(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("invalid table URI %q: %w", uri, err)
	}
	if u.Scheme != TableURIScheme {
		return "", fmt.Errorf("invalid table URI %q: scheme must be %q", uri, TableURIScheme)
	}
	if u.Host != "" || u.User != nil {
		return "", fmt.Errorf("invalid table URI %q: host segment must be empty", uri)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return "", fmt.Errorf("invalid table URI %q: query and fragment are not allowed", uri)
	}
	table := strings.TrimPrefix(u.Path, "/")
	if table == "" || strings.Contains(table, "/") {
		return "", fmt.Errorf("invalid table URI %q: path must be a single table name", uri)
	}
	return table, nil
}
