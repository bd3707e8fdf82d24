// Package classify decides whether a SQL statement reads or mutates.
//
// Classification is lexical: the statement's leading keyword, after skipping
// whitespace and comments, is compared against a fixed set of mutating verbs.
// It cannot see a mutation hidden in a CTE, a function call or a procedure,
// so it is a best-effort policy check and not a security boundary.
package classify

import (
	"strings"
	"unicode"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// Kind is the verdict for a statement.
type Kind int

const (
	Read Kind = iota
	Write
)

func (k Kind) String() string {
	if k == Write {
		return "WRITE"
	}
	return "READ"
}

// WriteVerbs is the complete set of leading keywords classified as WRITE.
var WriteVerbs = []string{
	"INSERT", "UPDATE", "DELETE",
	"CREATE", "DROP", "ALTER", "TRUNCATE",
	"GRANT", "REVOKE",
}

var writeVerbs = func() map[string]struct{} {
	m := make(map[string]struct{}, len(WriteVerbs))
	for _, v := range WriteVerbs {
		m[v] = struct{}{}
	}
	return m
}()

// Classify returns Write when the statement's leading keyword is one of
// WriteVerbs and Read otherwise.
func Classify(sql string) Kind {
	if _, ok := writeVerbs[LeadingKeyword(sql)]; ok {
		return Write
	}
	return Read
}

// Batch classifies every statement of a semicolon-separated batch and returns
// Write if any of them is Write. Splitting uses the PostgreSQL scanner, so
// semicolons inside literals and comments do not split.
func Batch(sql string) Kind {
	stmts, err := pg_query.SplitWithScanner(sql, true)
	if err != nil || len(stmts) == 0 {
		return Classify(sql)
	}
	for _, stmt := range stmts {
		if Classify(stmt) == Write {
			return Write
		}
	}
	return Read
}

// LeadingKeyword returns the first token of sql, upper-cased, skipping
// whitespace and comments. It returns "" for empty or comment-only input.
func LeadingKeyword(sql string) string {
	result, err := pg_query.Scan(sql)
	if err != nil {
		return lexicalKeyword(sql)
	}
	for _, tok := range result.Tokens {
		switch tok.Token {
		case pg_query.Token_SQL_COMMENT, pg_query.Token_C_COMMENT:
			continue
		}
		if int(tok.End) > len(sql) || tok.Start >= tok.End {
			return lexicalKeyword(sql)
		}
		return strings.ToUpper(sql[tok.Start:tok.End])
	}
	return ""
}

// lexicalKeyword is the fallback for input the scanner rejects, such as an
// unterminated literal later in the statement.
func lexicalKeyword(sql string) string {
	s := stripLeadingComments(sql)
	end := strings.IndexFunc(s, func(r rune) bool {
		return !(unicode.IsLetter(r) || r == '_')
	})
	if end == -1 {
		end = len(s)
	}
	return strings.ToUpper(s[:end])
}

func stripLeadingComments(s string) string {
	for {
		s = strings.TrimLeftFunc(s, unicode.IsSpace)
		switch {
		case strings.HasPrefix(s, "--"):
			nl := strings.IndexByte(s, '\n')
			if nl == -1 {
				return ""
			}
			s = s[nl+1:]
		case strings.HasPrefix(s, "/*"):
			// Block comments nest in PostgreSQL.
			depth, i := 0, 0
			for i < len(s) {
				if strings.HasPrefix(s[i:], "/*") {
					depth++
					i += 2
					continue
				}
				if strings.HasPrefix(s[i:], "*/") {
					depth--
					i += 2
					if depth == 0 {
						break
					}
					continue
				}
				i++
			}
			if depth != 0 {
				return ""
			}
			s = s[i:]
		default:
			return s
		}
	}
}
