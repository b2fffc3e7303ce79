// Package sqldb is the read side of the local relational database the SQL
// agent queries. Results are rendered as Python-style tuples because that is
// the textual shape the models are prompted with.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const (
	driverName = "sqlite"
	uriPrefix  = "sqlite:///"

	// maxStringLength bounds every rendered string value.
	maxStringLength = 300
)

// DB wraps a SQLite database.
type DB struct {
	db   *sql.DB
	path string
}

// Open opens the database at uri. Accepted forms are "sqlite:///<path>",
// "file:<path>" and a bare filesystem path.
func Open(ctx context.Context, uri string) (*DB, error) {
	path, err := PathFromURI(uri)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("sqldb: open %q: %w", path, err)
	}
	// A single connection keeps per-connection pragmas in effect.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqldb: enable foreign keys: %w", err)
	}
	return &DB{db: db, path: path}, nil
}

// PathFromURI converts a SQLAlchemy-style URI into a driver path.
func PathFromURI(uri string) (string, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return "", errors.New("sqldb: database uri must not be empty")
	}
	if strings.HasPrefix(uri, uriPrefix) {
		path := strings.TrimPrefix(uri, uriPrefix)
		if path == "" {
			return "", fmt.Errorf("sqldb: database uri %q has no path", uri)
		}
		return path, nil
	}
	if strings.Contains(uri, "://") {
		return "", fmt.Errorf("sqldb: unsupported database uri %q", uri)
	}
	return uri, nil
}

// Path returns the driver path the database was opened with.
func (d *DB) Path() string {
	return d.path
}

// Close releases the underlying connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// Exec runs a statement that returns no rows.
func (d *DB) Exec(ctx context.Context, stmt string, args ...any) (sql.Result, error) {
	res, err := d.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("sqldb: exec: %w", err)
	}
	return res, nil
}

// BeginTx starts a transaction.
func (d *DB) BeginTx(ctx context.Context) (*sql.Tx, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqldb: begin: %w", err)
	}
	return tx, nil
}

// Rows runs query and returns the raw values of every row.
func (d *DB) Rows(ctx context.Context, query string, args ...any) ([][]any, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqldb: query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("sqldb: columns: %w", err)
	}

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("sqldb: column types: %w", err)
	}
	dateCols := make([]bool, len(types))
	for i, ct := range types {
		dateCols[i] = strings.EqualFold(ct.DatabaseTypeName(), "DATE")
	}

	var out [][]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("sqldb: scan: %w", err)
		}
		for i, v := range vals {
			if t, ok := v.(time.Time); ok && dateCols[i] {
				vals[i] = Date{t}
			}
		}
		out = append(out, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqldb: rows: %w", err)
	}
	return out, nil
}

// Run executes query and renders the result as a list of tuples, e.g.
// "[(1, 'John'), (2, 'Jane')]". A query without rows renders as "".
func (d *DB) Run(ctx context.Context, query string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", errors.New("sqldb: query must not be empty")
	}
	rows, err := d.Rows(ctx, query)
	if err != nil {
		return "", err
	}
	return FormatRows(rows), nil
}

// TableNames lists the user tables in name order.
func (d *DB) TableNames(ctx context.Context) ([]string, error) {
	rows, err := d.Rows(ctx, "SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("sqldb: list tables: %w", err)
	}
	names := make([]string, 0, len(rows))
	for _, r := range rows {
		names = append(names, asString(r[0]))
	}
	return names, nil
}

// Column describes one column of a table.
type Column struct {
	Name string
	Type string
}

// Columns returns the columns of table in declaration order.
func (d *DB) Columns(ctx context.Context, table string) ([]Column, error) {
	exists, err := d.hasTable(ctx, table)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("sqldb: %w: %q", ErrUnknownTable, table)
	}

	rows, err := d.Rows(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(table)))
	if err != nil {
		return nil, fmt.Errorf("sqldb: table info %q: %w", table, err)
	}
	cols := make([]Column, 0, len(rows))
	for _, r := range rows {
		// cid, name, type, notnull, dflt_value, pk
		typ := strings.ToUpper(strings.TrimSpace(asString(r[2])))
		if typ == "" {
			typ = "NULL"
		}
		cols = append(cols, Column{Name: asString(r[1]), Type: typ})
	}
	return cols, nil
}

// ErrUnknownTable is returned when a requested table does not exist.
var ErrUnknownTable = errors.New("unknown table")

// TableSchema renders the schema block handed to the SQL agent's prompt.
func (d *DB) TableSchema(ctx context.Context, tables []string) (string, error) {
	var b strings.Builder
	for _, table := range tables {
		cols, err := d.Columns(ctx, table)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "Schema for table '%s':\n", table)
		for _, c := range cols {
			fmt.Fprintf(&b, "  - %s (%s)\n", c.Name, c.Type)
		}
		b.WriteString("\n")
	}
	return b.String(), nil
}

func (d *DB) hasTable(ctx context.Context, table string) (bool, error) {
	rows, err := d.Rows(ctx, "SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = ?", table)
	if err != nil {
		return false, fmt.Errorf("sqldb: lookup table %q: %w", table, err)
	}
	return len(rows) > 0, nil
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}
