package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"sqlchart-agent/internal/sqldb"
)

var schemaTables []string

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the schema block given to the SQL researcher",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(viper.GetViper())
		if err != nil {
			return err
		}
		db, err := sqldb.Open(cmd.Context(), cfg.DB)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		tables := schemaTables
		if len(tables) == 0 {
			if tables, err = db.TableNames(cmd.Context()); err != nil {
				return err
			}
		}
		schema, err := db.TableSchema(cmd.Context(), tables)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), schema)
		return nil
	},
}

func init() {
	schemaCmd.Flags().StringSliceVarP(&schemaTables, "tables", "t", nil, "tables to describe (default: all)")
	rootCmd.AddCommand(schemaCmd)
}
