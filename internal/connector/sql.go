package connector

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

var sqlCapabilities = []string{"query", "insert", "update", "delete", "execute"}

// sqlPrefixes restricts each action to matching statements. execute accepts
// anything.
var sqlPrefixes = map[string][]string{
	"query":  {"SELECT", "WITH", "PRAGMA"},
	"insert": {"INSERT"},
	"update": {"UPDATE"},
	"delete": {"DELETE"},
}

// SQL runs statements against a database/sql handle.
type SQL struct {
	db    *sql.DB
	owned bool
}

// OpenSQL opens an embedded SQLite database for the sql connector.
func OpenSQL(dsn string) (*SQL, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("connector: open sqlite: %w", err)
	}
	// SQLite serializes writers; a single connection also keeps in-memory
	// databases alive across calls.
	db.SetMaxOpenConns(1)
	return &SQL{db: db, owned: true}, nil
}

// NewSQL wraps an existing handle. The caller keeps ownership of db.
func NewSQL(db *sql.DB) *SQL {
	return &SQL{db: db}
}

func (c *SQL) Type() string { return "database" }

func (c *SQL) Capabilities() []string { return sqlCapabilities }

// Close closes the database if the connector opened it.
func (c *SQL) Close() error {
	if c.owned {
		return c.db.Close()
	}
	return nil
}

func (c *SQL) Run(ctx context.Context, action string, params Params) (Result, error) {
	stmt := strings.TrimSpace(params.First("sql", "query", "statement"))
	if stmt == "" {
		return Failure("sql is required"), nil
	}
	if prefixes, ok := sqlPrefixes[action]; ok && !hasKeywordPrefix(stmt, prefixes) {
		return Failure("Statement not allowed for %s: expected %s", action, strings.Join(prefixes, " or ")), nil
	}
	args := params.Slice("args")

	if action == "query" {
		return c.query(ctx, stmt, args), nil
	}
	return c.exec(ctx, action, stmt, args), nil
}

func hasKeywordPrefix(stmt string, keywords []string) bool {
	upper := strings.ToUpper(stmt)
	for _, kw := range keywords {
		if strings.HasPrefix(upper, kw) {
			return true
		}
	}
	return false
}

func (c *SQL) query(ctx context.Context, stmt string, args []any) Result {
	rows, err := c.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return Failure("Query failed: %v", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return Failure("Query failed: %v", err)
	}

	out := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return Failure("Query failed: %v", err)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return Failure("Query failed: %v", err)
	}
	return Success(map[string]any{
		"action":    "query",
		"columns":   columns,
		"rows":      out,
		"row_count": len(out),
	})
}

func (c *SQL) exec(ctx context.Context, action, stmt string, args []any) Result {
	res, err := c.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return Failure("%s failed: %v", action, err)
	}
	affected, _ := res.RowsAffected()
	lastID, _ := res.LastInsertId()
	return Success(map[string]any{
		"action":         action,
		"rows_affected":  affected,
		"last_insert_id": lastID,
	})
}
