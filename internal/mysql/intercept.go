package mysql

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/dbgateway/dbgateway/internal/backend"
	"github.com/dbgateway/dbgateway/internal/proxy"
)

// Introspection queries that GUI clients fire on connect. These are
// answered by the gateway when the backend cannot, so a session against
// a non-MySQL backend still looks like a healthy server.
var (
	showTablesRe    = regexp.MustCompile(`(?i)^SHOW\s+(?:FULL\s+)?TABLES(?:\s+(?:FROM|IN)\s+` + "`?" + `(\w+)` + "`?" + `)?`)
	showVariablesRe = regexp.MustCompile(`(?i)^SHOW\s+(?:GLOBAL\s+|SESSION\s+)?VARIABLES`)
	likePatternRe   = regexp.MustCompile(`(?i)\s+LIKE\s+['"]([^'"]*)['"]`)
)

// Canned table lists for the system schemas a client may browse even
// though the backend has no such catalogs.
var systemSchemaTables = map[string][]string{
	"information_schema": {
		"CHARACTER_SETS", "COLLATIONS", "COLUMNS", "ENGINES", "KEY_COLUMN_USAGE",
		"ROUTINES", "SCHEMATA", "STATISTICS", "TABLES", "TABLE_CONSTRAINTS", "VIEWS",
	},
	"mysql": {
		"columns_priv", "db", "func", "proc", "tables_priv", "user",
	},
	"performance_schema": {
		"accounts", "global_status", "global_variables", "session_status",
		"session_variables", "threads", "users",
	},
	"sys": {
		"host_summary", "processlist", "schema_table_statistics", "session",
		"sys_config", "version",
	},
}

// intercept answers introspection statements the gateway owns. It
// returns handled=false when the statement should go to the backend.
func (e *Engine) intercept(ctx context.Context, s *proxy.Session, stmt string) (bool, error) {
	upper := strings.ToUpper(stmt)

	switch {
	case upper == "SELECT DATABASE()":
		return true, e.writeSingleValue(s, "DATABASE()", s.Schema)
	case strings.HasPrefix(upper, "SHOW DATABASES"):
		return true, e.showDatabases(ctx, s)
	case showVariablesRe.MatchString(stmt):
		return true, e.showVariables(s, stmt)
	case showTablesRe.MatchString(stmt):
		return true, e.showTables(ctx, s, stmt)
	}
	return false, nil
}

func (e *Engine) writeSingleValue(s *proxy.Session, column, value string) error {
	return e.writeRows(s, &syntheticRows{
		cols: []backend.Column{textColumn(column)},
		rows: [][]backend.Value{{textValue(value)}},
	})
}

// showDatabases delegates to the backend and, when the backend cannot
// enumerate schemas, serves the standard system catalogs plus the
// current schema.
func (e *Engine) showDatabases(ctx context.Context, s *proxy.Session) error {
	if res, err := s.Backend.Execute(ctx, "SHOW DATABASES"); err == nil && res.HasRows() {
		defer res.Rows.Close()
		return e.writeRows(s, res.Rows)
	}

	names := []string{"information_schema", "mysql", "performance_schema", "sys"}
	if s.Schema != "" && !contains(names, s.Schema) {
		names = append(names, s.Schema)
	}
	rows := make([][]backend.Value, 0, len(names))
	for _, n := range names {
		rows = append(rows, []backend.Value{textValue(n)})
	}
	return e.writeRows(s, &syntheticRows{
		cols: []backend.Column{textColumn("Database")},
		rows: rows,
	})
}

// showTables delegates to the backend; on failure it synthesizes the
// Tables_in_<schema> shape, with canned contents for system schemas.
func (e *Engine) showTables(ctx context.Context, s *proxy.Session, stmt string) error {
	schema := s.Schema
	if m := showTablesRe.FindStringSubmatch(stmt); m != nil && m[1] != "" {
		schema = m[1]
	}

	if res, err := s.Backend.Execute(ctx, stmt); err == nil && res.HasRows() {
		defer res.Rows.Close()
		return e.writeRows(s, res.Rows)
	}

	names := systemSchemaTables[strings.ToLower(schema)]
	rows := make([][]backend.Value, 0, len(names))
	for _, n := range names {
		rows = append(rows, []backend.Value{textValue(n)})
	}
	return e.writeRows(s, &syntheticRows{
		cols: []backend.Column{textColumn("Tables_in_" + schema)},
		rows: rows,
	})
}

// showVariables answers from the gateway's variable table, honoring an
// optional LIKE pattern. Output is sorted by name.
func (e *Engine) showVariables(s *proxy.Session, stmt string) error {
	var match func(string) bool = func(string) bool { return true }
	if m := likePatternRe.FindStringSubmatch(stmt); m != nil {
		re := likeToRegexp(m[1])
		match = re.MatchString
	}

	e.mu.RLock()
	names := make([]string, 0, len(e.variables))
	for name := range e.variables {
		if match(name) {
			names = append(names, name)
		}
	}
	vars := make(map[string]string, len(names))
	for _, name := range names {
		vars[name] = e.variables[name]
	}
	e.mu.RUnlock()
	sort.Strings(names)

	rows := make([][]backend.Value, 0, len(names))
	for _, name := range names {
		rows = append(rows, []backend.Value{textValue(name), textValue(vars[name])})
	}
	return e.writeRows(s, &syntheticRows{
		cols: []backend.Column{textColumn("Variable_name"), textColumn("Value")},
		rows: rows,
	})
}

// likeToRegexp translates a SQL LIKE pattern to an anchored
// case-insensitive regexp: % matches any run, _ any single character.
func likeToRegexp(pattern string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString(`(?i)^`)
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(`.*`)
		case '_':
			b.WriteString(`.`)
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString(`$`)
	return regexp.MustCompile(b.String())
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
