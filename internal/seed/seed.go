// Package seed populates mock databases the chart pipeline can be pointed at.
package seed

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"sqlchart-agent/internal/sqldb"
)

//go:embed datasets/*.toml
var datasetFS embed.FS

// Dataset is a self-contained mock database: table definitions, rows and
// the join queries used to sanity check the load.
type Dataset struct {
	Name        string   `toml:"name"`
	Description string   `toml:"description"`
	DefaultDB   string   `toml:"default_db"`
	Tables      []Table  `toml:"tables"`
	Reports     []Report `toml:"reports"`
}

// Table is one table of a dataset. Rows are positional and follow Columns.
type Table struct {
	Name    string   `toml:"name"`
	DDL     string   `toml:"ddl"`
	Columns []string `toml:"columns"`
	Rows    [][]any  `toml:"rows"`
}

// Report is a named query run after seeding.
type Report struct {
	Title string `toml:"title"`
	Query string `toml:"query"`
}

// ReportResult is the outcome of one Report.
type ReportResult struct {
	Title string
	Rows  [][]any
}

// Result summarises a Seed call.
type Result struct {
	Dataset  string
	Inserted map[string]int
	Reports  []ReportResult
}

// Datasets lists the embedded dataset names in sorted order.
func Datasets() ([]string, error) {
	entries, err := datasetFS.ReadDir("datasets")
	if err != nil {
		return nil, fmt.Errorf("seed: read datasets: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), path.Ext(e.Name())))
	}
	sort.Strings(names)
	return names, nil
}

// Load decodes the named embedded dataset.
func Load(name string) (Dataset, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Dataset{}, errors.New("seed: dataset name must not be empty")
	}
	raw, err := datasetFS.ReadFile(path.Join("datasets", name+".toml"))
	if err != nil {
		return Dataset{}, fmt.Errorf("seed: unknown dataset %q", name)
	}
	var ds Dataset
	if _, err := toml.Decode(string(raw), &ds); err != nil {
		return Dataset{}, fmt.Errorf("seed: decode dataset %q: %w", name, err)
	}
	if err := ds.validate(); err != nil {
		return Dataset{}, err
	}
	return ds, nil
}

func (ds Dataset) validate() error {
	for _, t := range ds.Tables {
		if strings.TrimSpace(t.DDL) == "" {
			return fmt.Errorf("seed: %s.%s: ddl is required", ds.Name, t.Name)
		}
		for i, r := range t.Rows {
			if len(r) != len(t.Columns) {
				return fmt.Errorf("seed: %s.%s row %d: got %d values for %d columns", ds.Name, t.Name, i, len(r), len(t.Columns))
			}
		}
	}
	return nil
}

// Seed creates the dataset's tables in db and inserts its rows in a single
// transaction. Rows carry explicit primary keys and are inserted with
// INSERT OR IGNORE, so seeding twice leaves the data unchanged.
func Seed(ctx context.Context, db *sqldb.DB, ds Dataset) (Result, error) {
	if db == nil {
		return Result{}, errors.New("seed: db must not be nil")
	}

	tx, err := db.BeginTx(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("seed: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res := Result{Dataset: ds.Name, Inserted: make(map[string]int, len(ds.Tables))}
	for _, t := range ds.Tables {
		if _, err := tx.ExecContext(ctx, t.DDL); err != nil {
			return Result{}, fmt.Errorf("seed: create %s: %w", t.Name, err)
		}
		if len(t.Rows) == 0 {
			continue
		}
		stmt := insertStatement(t)
		for i, row := range t.Rows {
			out, err := tx.ExecContext(ctx, stmt, row...)
			if err != nil {
				return Result{}, fmt.Errorf("seed: insert %s row %d: %w", t.Name, i, err)
			}
			if n, err := out.RowsAffected(); err == nil {
				res.Inserted[t.Name] += int(n)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return Result{}, fmt.Errorf("seed: commit: %w", err)
	}

	for _, r := range ds.Reports {
		rows, err := db.Rows(ctx, r.Query)
		if err != nil {
			return Result{}, fmt.Errorf("seed: report %q: %w", r.Title, err)
		}
		res.Reports = append(res.Reports, ReportResult{Title: r.Title, Rows: rows})
	}
	return res, nil
}

func insertStatement(t Table) string {
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(t.Columns)), ", ")
	return fmt.Sprintf("INSERT OR IGNORE INTO %s (%s) VALUES (%s)", t.Name, strings.Join(t.Columns, ", "), marks)
}
