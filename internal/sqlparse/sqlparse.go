// Package sqlparse wraps the SQL parser the gateway consults. The
// gateway forwards most statements verbatim; the parser is used for
// validation hooks and for quote-aware multi-statement splitting.
package sqlparse

import (
	"strings"

	"github.com/xwb1989/sqlparser"
)

// Parse parses a single SQL statement into its AST.
func Parse(sql string) (sqlparser.Statement, error) {
	return sqlparser.Parse(sql)
}

// Validate reports whether the statement parses. Statements the parser
// does not cover (SHOW variants, SET, DDL dialects) are treated as valid
// since the backend is the final authority.
func Validate(sql string) bool {
	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		return false
	}
	if _, err := sqlparser.Parse(trimmed); err != nil {
		// The parser covers DML; everything else is passed through.
		return !isDML(trimmed)
	}
	return true
}

func isDML(sql string) bool {
	for _, kw := range []string{"SELECT", "INSERT", "UPDATE", "DELETE"} {
		if len(sql) > len(kw) && strings.EqualFold(sql[:len(kw)], kw) && sql[len(kw)] == ' ' {
			return true
		}
	}
	return false
}

// Split breaks semicolon-separated input into individual statements,
// honoring quotes and comments so literals containing ';' survive.
// Empty trailing pieces are dropped.
func Split(sql string) ([]string, error) {
	pieces, err := sqlparser.SplitStatementToPieces(sql)
	if err != nil {
		return nil, err
	}
	out := pieces[:0]
	for _, p := range pieces {
		if strings.TrimSpace(p) != "" {
			out = append(out, strings.TrimSpace(p))
		}
	}
	return out, nil
}
