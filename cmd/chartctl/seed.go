package main

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"sqlchart-agent/internal/seed"
	"sqlchart-agent/internal/sqldb"
)

var (
	seedOut  string
	seedList bool
)

var seedCmd = &cobra.Command{
	Use:   "seed [dataset]",
	Short: "Create and populate a mock database",
	Long: `Create the tables of an embedded dataset and insert its rows. Seeding is
idempotent: rows carry fixed ids and existing rows are left alone.

The database is written to --out, or to the dataset's default file inside
work_dir (users_orders -> test.db).`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		w := cmd.OutOrStdout()
		if seedList {
			names, err := seed.Datasets()
			if err != nil {
				return err
			}
			for _, n := range names {
				ds, err := seed.Load(n)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\t%s\n", color.CyanString(n), ds.Description)
			}
			return nil
		}

		name := "users_orders"
		if len(args) == 1 {
			name = args[0]
		}
		ds, err := seed.Load(name)
		if err != nil {
			return err
		}

		cfg, err := loadConfig(viper.GetViper())
		if err != nil {
			return err
		}
		out := seedOut
		if out == "" {
			out = filepath.Join(cfg.WorkDir, ds.DefaultDB)
		}

		db, err := sqldb.Open(cmd.Context(), out)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		res, err := seed.Seed(cmd.Context(), db, ds)
		if err != nil {
			return err
		}

		fmt.Fprintf(w, "%s seeded %s into %s\n", color.GreenString("✓"), res.Dataset, out)
		tables := make([]string, 0, len(res.Inserted))
		for t := range res.Inserted {
			tables = append(tables, t)
		}
		sort.Strings(tables)
		for _, t := range tables {
			fmt.Fprintf(w, "  %s: %d new rows\n", t, res.Inserted[t])
		}
		for _, r := range res.Reports {
			fmt.Fprintf(w, "\n%s\n", color.CyanString(r.Title))
			for _, row := range r.Rows {
				fmt.Fprintf(w, "  %s\n", sqldb.FormatRows([][]any{row}))
			}
		}
		return nil
	},
}

func init() {
	seedCmd.Flags().StringVarP(&seedOut, "out", "o", "", "database file to write (default: the dataset's default file)")
	seedCmd.Flags().BoolVar(&seedList, "list", false, "list the embedded datasets")
	rootCmd.AddCommand(seedCmd)
}
