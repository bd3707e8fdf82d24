package pgmcp

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/rickchristie/postgres-mcp-gateway/internal/classify"
	"github.com/rickchristie/postgres-mcp-gateway/internal/marshal"
)

// Query executes sql under policy. With writes disabled, a statement whose
// batch contains a WRITE fails with KindPolicyViolation before the driver is
// called. No row limit is applied.
func (p *PostgresMcp) Query(ctx context.Context, input QueryInput, policy Policy) (*QueryOutput, error) {
	if !policy.AllowWrite {
		if kind := classify.Batch(input.SQL); kind == classify.Write {
			p.logger.Warn().
				Str("sql", truncateForLog(input.SQL, 200)).
				Str("leading_keyword", classify.LeadingKeyword(input.SQL)).
				Msg("write statement rejected")
			return nil, &Error{Kind: KindPolicyViolation, Err: ErrWriteNotAllowed}
		}
	}
	return p.execute(ctx, input.SQL)
}

// execute is the read path shared with resource reads.
func (p *PostgresMcp) execute(ctx context.Context, sql string) (*QueryOutput, error) {
	startTime := time.Now()

	result, err := p.driver.Execute(ctx, sql)
	if err != nil {
		p.logError(err, sql)
		return nil, &Error{Kind: KindDatabase, Err: err}
	}

	rows, err := marshal.Rows(result.Columns, result.Rows)
	if err != nil {
		p.logError(err, sql)
		return nil, &Error{Kind: KindMarshal, Err: err}
	}
	if err := p.sanitizer.SanitizeRows(rows); err != nil {
		p.logError(err, sql)
		return nil, &Error{Kind: KindMarshal, Err: err}
	}

	columns := make([]string, len(result.Columns))
	for i, c := range result.Columns {
		columns[i] = c.Name
	}

	p.logger.Info().
		Str("sql", truncateForLog(sql, 200)).
		Dur("duration", time.Since(startTime)).
		Int("row_count", len(rows)).
		Int64("rows_affected", result.RowsAffected).
		Msg("query executed")

	return &QueryOutput{
		Columns:      columns,
		Rows:         rows,
		RowsAffected: result.RowsAffected,
	}, nil
}

// Hint returns the error prompt messages matching err, or "".
func (p *PostgresMcp) Hint(err error) string {
	if err == nil {
		return ""
	}
	return p.errPrompts.Match(err.Error())
}

func (p *PostgresMcp) logError(err error, sql string) {
	logEvent := p.logger.Error().Err(err).Str("sql", truncateForLog(sql, 200))
	if patterns := p.errPrompts.MatchedPatterns(err.Error()); len(patterns) > 0 {
		logEvent = logEvent.Strs("error_prompts", patterns)
	}
	logEvent.Msg("query error")
}

// truncateForLog truncates a string for log output to avoid oversized log entries.
func truncateForLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	truncateAt := maxLen
	for truncateAt > 0 && !utf8.RuneStart(s[truncateAt]) {
		truncateAt--
	}
	return s[:truncateAt] + "...[truncated]"
}
